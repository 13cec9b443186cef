// Package main provides the worker entry point. The worker drains the Redis
// cleanup queue and enforces verdict retention in Postgres.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/cleanup"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/biodata-screener/internal/app"
	"github.com/fairyhunter13/biodata-screener/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv), slog.String("cleanup_backend", cfg.CleanupBackend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	jobs := 0

	if cfg.CleanupBackend == "redis" {
		rdb, err := app.NewRedisClient(cfg.RedisURL)
		if err != nil {
			slog.Error("redis client init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		sweeper := cleanup.NewSweeper(rdb, cleanup.DefaultKey, cfg.SweepInterval)
		jobs++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("cleanup sweeper stopped", slog.Any("error", err))
			}
		}()
		slog.Info("cleanup sweeper started", slog.Duration("interval", cfg.SweepInterval))
	}

	if cfg.DBURL != "" && cfg.VerdictRetentionDays > 0 {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("database connection failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.NewVerdictRepo(pool).EnsureSchema(ctx); err != nil {
			slog.Error("schema bootstrap failed", slog.Any("error", err))
			os.Exit(1)
		}
		retention := postgres.NewRetentionService(pool, cfg.VerdictRetentionDays)
		jobs++
		wg.Add(1)
		go func() {
			defer wg.Done()
			retention.RunPeriodic(ctx, cfg.CleanupInterval)
		}()
		slog.Info("retention cleanup started", slog.Int("retention_days", cfg.VerdictRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	if jobs == 0 {
		slog.Warn("nothing to do: set CLEANUP_BACKEND=redis or DB_URL")
	}

	<-ctx.Done()
	slog.Info("signal received, shutting down")
	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
}
