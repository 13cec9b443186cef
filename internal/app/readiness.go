package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/biodata-screener/internal/usecase"
)

// Pinger is the minimal interface of a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessDeps lists the dependencies /readyz probes. Nil entries are not
// configured and are left out of the report.
type ReadinessDeps struct {
	Ollama Pinger
	Tika   Pinger
	DB     Pinger
	Redis  redis.Cmdable
}

// BuildReadinessProbes returns the probes in report order: ollama, tika,
// redis, db.
func BuildReadinessProbes(d ReadinessDeps) []usecase.Probe {
	probes := []usecase.Probe{
		{Name: "ollama", Check: pingCheck("ollama", d.Ollama)},
		{Name: "tika", Check: pingCheck("tika", d.Tika)},
		{Name: "redis"},
		{Name: "db", Check: pingCheck("db", d.DB)},
	}
	if d.Redis != nil {
		rdb := d.Redis
		probes[2].Check = func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		}
	}
	return probes
}

func pingCheck(name string, p Pinger) func(context.Context) error {
	if p == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}
