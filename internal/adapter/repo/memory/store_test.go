package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Hour)
	b := domain.BatchResult{
		BatchID:   "B1",
		CreatedAt: time.Now(),
		Verdicts:  []domain.DocumentVerdict{{Filename: "a.pdf", Verdict: domain.VerdictMatched}},
	}
	require.NoError(t, s.SaveBatch(ctx, b))
	b.Verdicts[0].Verdict = domain.VerdictRejectedCondition

	got, err := s.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictMatched, got.Verdicts[0].Verdict, "store keeps its own copy")

	_, err = s.GetBatch(ctx, "B2")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.SaveBatch(ctx, domain.BatchResult{}), domain.ErrInvalidArgument)
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewStore(time.Hour)
	s.now = func() time.Time { return now }
	require.NoError(t, s.SaveBatch(ctx, domain.BatchResult{BatchID: "old", CreatedAt: now.Add(-2 * time.Hour)}))
	_, err := s.GetBatch(ctx, "old")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveBatch(ctx, domain.BatchResult{BatchID: "new", CreatedAt: now}))
	assert.Len(t, s.batches, 1)
}
