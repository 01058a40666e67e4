package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// GitLab API pacing
	GitLabAPIDelay      time.Duration // inter-call delay within a batch
	GitLabAPIMaxRetries int
	GitLabAPITimeout    time.Duration // per-call timeout passed to the client

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		StorageType:         getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:          getEnv("SQLITE_PATH", "./mirrors.db"),
		PostgresURL:         getEnv("POSTGRES_URL", ""),
		GitLabAPIDelay:      time.Duration(getEnvInt("GITLAB_API_DELAY_MS", 500)) * time.Millisecond,
		GitLabAPIMaxRetries: getEnvInt("GITLAB_API_MAX_RETRIES", 3),
		GitLabAPITimeout:    time.Duration(getEnvInt("GITLAB_API_TIMEOUT", 30)) * time.Second,
		APIPort:             getEnv("API_PORT", "8080"),
		APIHost:             getEnv("API_HOST", "localhost"),
		APIEndpoint:         getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.GitLabAPIDelay < 0 {
		return &ConfigError{Field: "GITLAB_API_DELAY_MS", Message: "must be non-negative"}
	}
	if c.GitLabAPIMaxRetries < 0 {
		return &ConfigError{Field: "GITLAB_API_MAX_RETRIES", Message: "must be non-negative"}
	}
	if c.GitLabAPITimeout <= 0 {
		return &ConfigError{Field: "GITLAB_API_TIMEOUT", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
