// Package memory keeps batch verdicts in process memory. It backs
// GET /api/batches when no database is configured.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// Store is a VerdictStore bounded by age.
type Store struct {
	mu        sync.RWMutex
	batches   map[string]domain.BatchResult
	retention time.Duration
	now       func() time.Time
}

// NewStore keeps batches for retention; retention <= 0 keeps them for 24h.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{batches: make(map[string]domain.BatchResult), retention: retention, now: time.Now}
}

// SaveBatch stores a copy of b and prunes expired batches.
func (s *Store) SaveBatch(_ domain.Context, b domain.BatchResult) error {
	if b.BatchID == "" {
		return fmt.Errorf("%w: empty batch id", domain.ErrInvalidArgument)
	}
	b.Verdicts = append([]domain.DocumentVerdict(nil), b.Verdicts...)
	b.Matches = append([]domain.Match{}, b.Matches...)
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.retention)
	for id, old := range s.batches {
		if old.CreatedAt.Before(cutoff) {
			delete(s.batches, id)
		}
	}
	s.batches[b.BatchID] = b
	return nil
}

// GetBatch returns the stored batch or domain.ErrNotFound.
func (s *Store) GetBatch(_ domain.Context, batchID string) (domain.BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok || b.CreatedAt.Before(s.now().Add(-s.retention)) {
		return domain.BatchResult{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return b, nil
}
