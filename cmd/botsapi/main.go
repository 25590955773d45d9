// Bots API server — exposes the HTTP API, runs the harvest pipeline in
// background workers, and schedules periodic runs per tenant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohamed-ali0/main-bots-api/pkg/api"
	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/cleanup"
	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/database"
	"github.com/mohamed-ali0/main-bots-api/pkg/pipeline"
	"github.com/mohamed-ali0/main-bots-api/pkg/runner"
	"github.com/mohamed-ali0/main-bots-api/pkg/scheduler"
	"github.com/mohamed-ali0/main-bots-api/pkg/services"
	"github.com/mohamed-ali0/main-bots-api/pkg/session"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
	"github.com/mohamed-ali0/main-bots-api/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting bots API", "version", version.Full(), "http_port", httpPort)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Domain services
	tenantService := services.NewTenantService(dbClient.DB)
	jobService := services.NewJobService(dbClient.DB, nil)
	store := artifacts.NewStore(cfg.StorageRoot)
	slog.Info("Services initialized", "storage_root", cfg.StorageRoot)

	// 4. Upstream client, session manager, pipeline executor
	upstreamClient := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	sessionManager := session.NewManager(upstreamClient, tenantService, jobService, cfg.Session, nil)
	executor := pipeline.NewExecutor(upstreamClient, sessionManager, jobService, store, cfg.Pipeline, nil)
	slog.Info("Pipeline initialized", "upstream", cfg.Upstream.BaseURL)

	// 5. Runner, scheduler, retention
	jobRunner := runner.New(executor, jobService)
	sched := scheduler.New(tenantService, jobService, jobRunner, cfg.Scheduler, nil)
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	retention := cleanup.NewService(cfg.Retention, jobService, store, nil)
	retention.Start(ctx)

	// 6. HTTP server
	apiServer := api.NewServer(cfg, dbClient, tenantService, jobService, jobRunner, sched, store)
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop ticking, stop accepting requests, then
	// wait for running jobs to reach a terminal state.
	sched.Stop()
	retention.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := jobRunner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Runner shutdown timeout exceeded, jobs left in progress", "error", err)
	}

	slog.Info("Shutdown complete")
}
