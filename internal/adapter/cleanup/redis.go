package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

// DefaultKey is the sorted set holding pending deletions.
const DefaultKey = "cleanup:pending"

// RedisScheduler enqueues paths in a Redis sorted set scored by their due
// time in unix milliseconds. A Sweeper drains it.
type RedisScheduler struct {
	rdb redis.Cmdable
	key string
	now func() time.Time
}

// NewRedisScheduler constructs a RedisScheduler; an empty key uses DefaultKey.
func NewRedisScheduler(rdb redis.Cmdable, key string) *RedisScheduler {
	if key == "" {
		key = DefaultKey
	}
	return &RedisScheduler{rdb: rdb, key: key, now: time.Now}
}

// Schedule adds every path with score now+delay. Re-scheduling a path
// moves its due time.
func (s *RedisScheduler) Schedule(ctx context.Context, paths []string, delay time.Duration) error {
	if len(paths) == 0 {
		return nil
	}
	due := float64(s.now().Add(delay).UnixMilli())
	members := make([]redis.Z, 0, len(paths))
	for _, p := range paths {
		members = append(members, redis.Z{Score: due, Member: p})
	}
	if err := s.rdb.ZAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("op=cleanup.RedisScheduler.Schedule: %w", err)
	}
	return nil
}

// claimScript pops up to ARGV[2] members due at or before ARGV[1] in one
// step so concurrent sweepers never claim the same path.
const claimScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
if #due > 0 then
  redis.call("ZREM", KEYS[1], unpack(due))
end
return due
`

// Sweeper removes due paths from the sorted set and deletes them.
type Sweeper struct {
	rdb      redis.Cmdable
	key      string
	interval time.Duration
	batch    int
	script   *redis.Script
	now      func() time.Time
}

// NewSweeper constructs a Sweeper polling every interval.
func NewSweeper(rdb redis.Cmdable, key string, interval time.Duration) *Sweeper {
	if key == "" {
		key = DefaultKey
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{
		rdb:      rdb,
		key:      key,
		interval: interval,
		batch:    500,
		script:   redis.NewScript(claimScript),
		now:      time.Now,
	}
}

// SweepOnce claims and deletes every due path, batch by batch.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := strconv.FormatInt(w.now().UnixMilli(), 10)
	total := 0
	for {
		res, err := w.script.Run(ctx, w.rdb, []string{w.key}, cutoff, w.batch).StringSlice()
		if err != nil {
			return total, fmt.Errorf("op=cleanup.Sweeper.SweepOnce: %w", err)
		}
		if len(res) == 0 {
			return total, nil
		}
		total += RemovePaths(ctx, res)
		if len(res) < w.batch {
			return total, nil
		}
	}
}

// Run sweeps until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	lg := obsctx.LoggerFromContext(ctx)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		n, err := w.SweepOnce(ctx)
		if err != nil {
			lg.Error("cleanup sweep failed", slog.Any("error", err))
		} else if n > 0 {
			lg.Info("cleanup sweep", slog.Int("removed", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
