package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

// TimerScheduler removes paths with in-process timers. Pending deletions
// are lost if the process exits without Close(true).
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[*time.Timer][]string
	closed  bool
	wg      sync.WaitGroup
}

// NewTimerScheduler constructs an empty TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[*time.Timer][]string)}
}

// Schedule arms one timer for the whole path set.
func (s *TimerScheduler) Schedule(ctx context.Context, paths []string, delay time.Duration) error {
	if len(paths) == 0 {
		return nil
	}
	cp := append([]string(nil), paths...)
	lg := obsctx.LoggerFromContext(ctx)
	bg := obsctx.ContextWithLogger(context.Background(), lg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			RemovePaths(bg, cp)
		}()
		return nil
	}
	var t *time.Timer
	s.wg.Add(1)
	t = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		_, ok := s.pending[t]
		delete(s.pending, t)
		s.mu.Unlock()
		if !ok {
			return
		}
		n := RemovePaths(bg, cp)
		lg.Debug("cleanup fired", slog.Int("paths", len(cp)), slog.Int("removed", n))
	})
	s.pending[t] = cp
	return nil
}

// Pending reports how many path sets are waiting.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops every pending timer. With flush set, their paths are removed
// immediately; otherwise they are left on disk.
func (s *TimerScheduler) Close(ctx context.Context, flush bool) {
	s.mu.Lock()
	s.closed = true
	var sets [][]string
	for t, paths := range s.pending {
		if t.Stop() {
			s.wg.Done()
		}
		sets = append(sets, paths)
		delete(s.pending, t)
	}
	s.mu.Unlock()
	if flush {
		for _, p := range sets {
			RemovePaths(ctx, p)
		}
	}
	s.wg.Wait()
}
