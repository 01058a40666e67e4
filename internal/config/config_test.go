package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StorageType)
	assert.Equal(t, "./mirrors.db", cfg.SQLitePath)
	assert.Equal(t, 500*time.Millisecond, cfg.GitLabAPIDelay)
	assert.Equal(t, 3, cfg.GitLabAPIMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.GitLabAPITimeout)
	assert.Equal(t, "8080", cfg.APIPort)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/mirrors")
	t.Setenv("GITLAB_API_DELAY_MS", "250")
	t.Setenv("GITLAB_API_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.StorageType)
	assert.Equal(t, "postgres://localhost/mirrors", cfg.PostgresURL)
	assert.Equal(t, 250*time.Millisecond, cfg.GitLabAPIDelay)
	assert.Equal(t, 5, cfg.GitLabAPIMaxRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("GITLAB_API_MAX_RETRIES", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GitLabAPIMaxRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.StorageType = "mysql" },
			wantErr: "STORAGE_TYPE",
		},
		{
			name:    "postgres requires url",
			mutate:  func(c *Config) { c.StorageType = "postgres"; c.PostgresURL = "" },
			wantErr: "POSTGRES_URL",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.GitLabAPIDelay = -time.Second },
			wantErr: "GITLAB_API_DELAY_MS",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.GitLabAPIMaxRetries = -1 },
			wantErr: "GITLAB_API_MAX_RETRIES",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.GitLabAPITimeout = 0 },
			wantErr: "GITLAB_API_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
