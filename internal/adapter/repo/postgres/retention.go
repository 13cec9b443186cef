package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultRetentionDays applies when a non-positive retention is configured.
const DefaultRetentionDays = 30

// RetentionService deletes batches, and through the cascade their verdict
// rows, once they are older than the retention window.
type RetentionService struct {
	Pool          PgxPool
	RetentionDays int
	now           func() time.Time
}

// NewRetentionService returns a service keeping retentionDays of history.
func NewRetentionService(pool PgxPool, retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &RetentionService{Pool: pool, RetentionDays: retentionDays, now: time.Now}
}

// Cutoff is the creation time before which batches are purged.
func (s *RetentionService) Cutoff() time.Time {
	return s.now().AddDate(0, 0, -s.RetentionDays)
}

// PurgeExpired deletes every batch created before Cutoff and returns how
// many were removed.
func (s *RetentionService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, span := otel.Tracer("repo.verdicts").Start(ctx, "verdicts.PurgeExpired")
	defer span.End()
	cutoff := s.Cutoff()
	tag, err := s.Pool.Exec(ctx, `DELETE FROM batches WHERE created_at < $1`, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("op=verdicts.PurgeExpired: %w", err)
	}
	n := tag.RowsAffected()
	span.SetAttributes(attribute.Int64("verdicts.purged_batches", n))
	if n > 0 {
		slog.Info("expired batches purged", slog.Int64("batches", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunPeriodic purges immediately and then on every tick until ctx is done.
// Failures are logged; the loop keeps going.
func (s *RetentionService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
			slog.Error("verdict retention failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
