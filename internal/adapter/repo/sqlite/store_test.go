package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "verdicts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := domain.BatchResult{
		BatchID:        "B1",
		Model:          "phi4",
		Matches:        []domain.Match{{Filename: "a.pdf", URL: "/api/download/B1/a.pdf/"}},
		ProcessedFiles: 3,
		MatchedFiles:   1,
		Verdicts: []domain.DocumentVerdict{
			{Filename: "a.pdf", Verdict: domain.VerdictMatched, Strategy: "layout", Duration: 2 * time.Second},
			{Filename: "b.pdf", Verdict: domain.VerdictExtractionFailed, Reason: "extract: no text"},
			{Filename: "c.pdf", Verdict: domain.VerdictRejectedCondition, Reason: "condition not met", Strategy: "basic"},
		},
		CreatedAt: created,
		ExpiresAt: created.Add(1000 * time.Second),
	}
	require.NoError(t, store.SaveBatch(ctx, want))
	// saving again replaces rather than duplicates
	require.NoError(t, store.SaveBatch(ctx, want))

	got, err := store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, want.Verdicts, got.Verdicts)
	assert.Equal(t, want.Matches, got.Matches)
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, 3, got.ProcessedFiles)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStore_NotFound(t *testing.T) {
	_, err := setupTestStore(t).GetBatch(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListBatches(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"B1", "B2", "B3"} {
		require.NoError(t, store.SaveBatch(ctx, domain.BatchResult{BatchID: id, Model: "m", CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	ids, err := store.ListBatches(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"B3", "B2"}, ids)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveBatch(ctx, domain.BatchResult{BatchID: "B1", Model: "m", CreatedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.GetBatch(ctx, "B1")
	require.NoError(t, err)
}
