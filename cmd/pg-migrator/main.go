// Command pg-migrator applies the embedded asset schema migrations and exits.
// Run with "status" to print the applied version without migrating.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"thirdcoast.systems/reel/internal/application"
	"thirdcoast.systems/reel/internal/config"
	"thirdcoast.systems/reel/internal/db"
)

func main() {
	statusOnly := len(os.Args) > 1 && os.Args[1] == "status"
	slog.Info("Starting database migrator", "status_only", statusOnly)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	before, err := dbc.Version(ctx)
	if err != nil {
		slog.Error("failed to read schema version", "error", err)
		os.Exit(1)
	}
	if statusOnly {
		slog.Info("Schema version", "version", before)
		return
	}

	if err := dbc.Migrate(ctx); err != nil {
		slog.Error("failed to run PostgreSQL migrations", "error", err)
		os.Exit(1)
	}
	after, err := dbc.Version(ctx)
	if err != nil {
		slog.Error("failed to read schema version", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed", "from_version", before, "to_version", after)
}
