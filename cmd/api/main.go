package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/api"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/config"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/service"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage/postgres"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := log.WithField("component", "api")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			entry.WithError(err).Fatal("failed to initialize PostgreSQL storage")
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			entry.WithError(err).Fatal("failed to initialize SQLite storage")
		}
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		entry.WithError(err).Fatal("failed to run migrations")
	}

	// Initialize services
	instances := service.NewInstanceService(store, gitlab.NewClient, cfg, entry)
	mirrors := service.NewMirrorService(store, gitlab.NewClient, cfg, entry)

	// Initialize handler
	handler := api.NewHandler(instances, mirrors)

	// Setup routes
	router := api.SetupRoutes(handler, entry)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	entry.WithFields(logrus.Fields{
		"addr":    addr,
		"storage": cfg.StorageType,
	}).Info("starting API server")

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
