package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-service/internal/api"
	"order-service/internal/cache"
	"order-service/internal/clients"
	"order-service/internal/config"
	"order-service/internal/database"
	"order-service/internal/logging"
	"order-service/internal/search"
	"order-service/internal/service"
	"order-service/internal/worker"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// ── Infrastructure ─────────────────────────────────────────────────────────

	store, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		slog.Error("schema setup failed", "error", err)
		os.Exit(1)
	}
	schemaCancel()

	redisClient, err := cache.New(cfg.RedisAddr)
	if err != nil {
		slog.Error("redis connect failed", "error", err)
		os.Exit(1)
	}

	searchClient, err := search.New(cfg.ElasticsearchURL)
	if err != nil {
		slog.Error("elasticsearch init failed", "error", err)
		os.Exit(1)
	}

	httpClient := clients.New(cfg.HTTPReadTimeout, cfg.HTTPMaxRetry, cfg.HTTPMaxDelay)
	catalog := clients.NewCatalog(httpClient, cfg.CatalogURL, cfg.AccessToken)

	svc := service.New(store, catalog, redisClient, searchClient)

	// ── Background cron ────────────────────────────────────────────────────────

	cronScheduler, err := worker.StartBacklogSampler(store, cfg.BacklogSchedule)
	if err != nil {
		slog.Error("invalid cron schedule", "schedule", cfg.BacklogSchedule, "error", err)
		os.Exit(1)
	}

	// ── HTTP server ────────────────────────────────────────────────────────────

	h := &api.Handler{
		Service: svc,
		Search:  searchClient,
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api started", "component", "api", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "component", "api", "error", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	//
	// Shutdown order matters:
	//  1. Stop accepting new HTTP requests (srv.Shutdown) — in-flight requests
	//     finish, so no create-order transaction is cut off halfway.
	//  2. Stop the cron scheduler — waits for a running backlog sample to
	//     complete before returning, so store.Close() does not yank the
	//     connection mid-query.
	//  3. Close infrastructure clients in reverse init order.

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received", "component", "api")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "component", "api", "error", err)
	}

	// cron.Stop() blocks until the currently-running job (if any) finishes.
	<-cronScheduler.Stop().Done()
	slog.Info("cron stopped", "component", "api")

	redisClient.Close()
	store.Close()

	slog.Info("shutdown complete", "component", "api")
}
