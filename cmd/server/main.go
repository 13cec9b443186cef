// Command server starts the biodata screening HTTP API.
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

	httpserver "github.com/fairyhunter13/biodata-screener/internal/adapter/httpserver"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/app"
	"github.com/fairyhunter13/biodata-screener/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// run serves until ctx is canceled or the listener fails, then drains
// in-flight batches within SERVER_SHUTDOWN_TIMEOUT.
func run(ctx context.Context, cfg config.Config) error {
	shutdownTracer, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		slog.Warn("tracing unavailable", slog.Any("error", err))
	}
	if shutdownTracer != nil {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return fmt.Errorf("work dir %s: %w", cfg.WorkDir, err)
	}

	comps, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}

	// Sweep batches whose deletion was lost to a restart or a failed schedule.
	go app.NewOrphanSweeper(cfg.WorkDir, cfg.CleanupDelay+time.Minute, cfg.RequestTimeout, time.Minute).Run(ctx)

	srv := httpserver.NewServer(cfg, comps.Screen, comps.Downloads, comps.Gateway, comps.Probes()...)
	hs := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening",
			slog.String("addr", hs.Addr),
			slog.String("default_model", cfg.DefaultModel),
			slog.String("work_dir", cfg.WorkDir))
		errCh <- hs.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown incomplete", slog.Any("error", err))
	}
	comps.Close(shutdownCtx)
	return serveErr
}
