// Package main is the entrypoint for the roomscan API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"roomscan/internal/api"
	"roomscan/internal/api/handler"
	mw "roomscan/internal/api/middleware"
	"roomscan/internal/api/response"
	"roomscan/internal/blob"
	"roomscan/internal/cache"
	"roomscan/internal/config"
	"roomscan/internal/identity"
	"roomscan/internal/inference"
	"roomscan/internal/intake"
	"roomscan/internal/pipeline"
	"roomscan/internal/ratelimit"
	"roomscan/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "bucket", cfg.Storage.Bucket)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect blob storage
	blobs, err := blob.NewMinIOStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	slog.Info("blob storage connected", "bucket", blobs.Bucket())

	// 6. Build services
	pgStore := store.NewPostgresStore(pool)
	keySvc := identity.NewAPIKeyService(pgStore)
	invoker := inference.NewHTTPInvoker(cfg.Inference.URL, cfg.Inference.InvokeTimeout)
	limiter := ratelimit.NewLimiter(redisCache, cfg.Limits.DailyUploads)
	projector := pipeline.NewProjector(redisCache, cfg.Pipeline.ProjectionTTL)
	intakeSvc := intake.NewService(pgStore, blobs, limiter, projector,
		cfg.Limits.MaxUploadBytes, cfg.Storage.UploadExpiry)

	// 7. Start the event pipeline: one consumer per bucket namespace, plus
	// the reconciliation sweeper.
	dispatcher := pipeline.NewDispatcher(pgStore, invoker, projector, cfg.Inference.InvokeTimeout)
	ingestor := pipeline.NewIngestor(pgStore, blobs, projector)
	sweeper := pipeline.NewSweeper(pgStore, invoker,
		cfg.Pipeline.SweepInterval, cfg.Pipeline.StuckAfter, cfg.Inference.InvokeTimeout)

	go dispatcher.Run(ctx, blobs.Listen(ctx, pipeline.InputPrefix, ""))
	go ingestor.Run(ctx, blobs.Listen(ctx, pipeline.OutputPrefix, pipeline.OutputSuffix))
	go sweeper.Run(ctx)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth: mw.NewAuth(keySvc),

		HealthHandler: healthHandler(pgStore, redisCache, blobs),
		UploadHandler: handler.NewUploadHandler(intakeSvc),
		StatusHandler: handler.NewStatusHandler(pgStore),
		WatchHandler:  handler.NewWatchHandler(pgStore, redisCache, cfg.Pipeline.WatchPollInterval),

		CreateKeyHandler: handler.NewCreateKeyHandler(keySvc),
		ListKeysHandler:  handler.NewListKeysHandler(keySvc),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(keySvc),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is anything whose liveness the health endpoint reports.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and blob storage connectivity.
func healthHandler(db, cache, blobs pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"storage":  "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := blobs.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
		}

		for _, status := range checks {
			if status != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
