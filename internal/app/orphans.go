package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/cleanup"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// OrphanSweeper removes batch directories under WORK_DIR that outlived their
// scheduled cleanup, e.g. when the process restarted with timers pending.
// Only directories named by a batch id are touched. A finished batch ages
// from its done marker; a directory without one is still being screened, or
// was left by a crash, and is only removed after maxAge plus inFlight.
type OrphanSweeper struct {
	workDir  string
	maxAge   time.Duration
	inFlight time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewOrphanSweeper returns nil when workDir is empty.
func NewOrphanSweeper(workDir string, maxAge, inFlight, interval time.Duration) *OrphanSweeper {
	if workDir == "" {
		return nil
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if inFlight <= 0 {
		inFlight = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &OrphanSweeper{workDir: workDir, maxAge: maxAge, inFlight: inFlight, interval: interval, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *OrphanSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("orphan sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes expired batch directories and returns how many went.
func (s *OrphanSweeper) SweepOnce(ctx context.Context) int {
	tracer := otel.Tracer("cleanup.orphans")
	ctx, span := tracer.Start(ctx, "OrphanSweeper.SweepOnce")
	defer span.End()

	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("orphan sweep: read work dir failed", slog.String("dir", s.workDir), slog.Any("error", err))
		}
		return 0
	}
	now := s.now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ulid.ParseStrict(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(s.workDir, e.Name())
		if !s.expired(dir, e, now) {
			continue
		}
		if cleanup.RemoveAll(ctx, dir) {
			removed++
		}
	}
	span.SetAttributes(attribute.Int("cleanup.orphans_removed", removed))
	if removed > 0 {
		slog.Info("orphan sweep removed batch directories", slog.Int("count", removed), slog.Duration("max_age", s.maxAge))
	}
	return removed
}

func (s *OrphanSweeper) expired(dir string, e os.DirEntry, now time.Time) bool {
	if fi, err := os.Stat(filepath.Join(dir, domain.BatchDoneMarker)); err == nil {
		return fi.ModTime().Before(now.Add(-s.maxAge))
	}
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(now.Add(-(s.maxAge + s.inFlight)))
}
