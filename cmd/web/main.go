package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"thirdcoast.systems/reel/cmd/web/internal/web"
	"thirdcoast.systems/reel/internal/application"
	"thirdcoast.systems/reel/internal/config"
	"thirdcoast.systems/reel/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}
	if err := os.MkdirAll(conf.SpoolDir, 0o755); err != nil {
		slog.Error("failed to create spool dir", "dir", conf.SpoolDir, "error", err)
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

	if conf.MigrateOnStart {
		if err := dbc.Migrate(ctx); err != nil {
			slog.Error("failed to run PostgreSQL migrations", "error", err)
			os.Exit(1)
		}
	}

	svc, err := buildServices(ctx, conf, dbc)
	if err != nil {
		slog.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	go svc.engine.RunPruner(ctx, time.Minute)

	e, err := web.NewWebserver(web.Deps{
		Engine:   svc.engine,
		Repo:     svc.repo,
		Store:    svc.store,
		SpoolDir: conf.SpoolDir,
	})
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Waiting for background work")
	svc.engine.Wait()
	svc.pipeline.Wait()
}
