package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

func sampleBatch() domain.BatchResult {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return domain.BatchResult{
		BatchID:        "01HBATCH",
		Model:          "mistral",
		Matches:        []domain.Match{{Filename: "a.pdf", URL: "/api/download/01HBATCH/a.pdf/"}},
		ProcessedFiles: 2,
		MatchedFiles:   1,
		Verdicts: []domain.DocumentVerdict{
			{Filename: "a.pdf", Verdict: domain.VerdictMatched, Strategy: "layout", Duration: time.Second},
			{Filename: "b.pdf", Verdict: domain.VerdictRejectedCriteria, Reason: "criterion not satisfied: department"},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(1000 * time.Second),
	}
}

func TestVerdictRepo_SaveBatch(t *testing.T) {
	tx := &txStub{}
	repo := postgres.NewVerdictRepo(&poolStub{tx: tx})
	require.NoError(t, repo.SaveBatch(context.Background(), sampleBatch()))
	require.Len(t, tx.execs, 3)
	assert.Contains(t, tx.execs[0], "INSERT INTO batches")
	assert.Contains(t, tx.execs[1], "INSERT INTO verdicts")
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestVerdictRepo_SaveBatch_Errors(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		repo := postgres.NewVerdictRepo(&poolStub{beginErr: assert.AnError})
		err := repo.SaveBatch(context.Background(), sampleBatch())
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "op=verdict.save")
	})
	t.Run("insert verdict rolls back", func(t *testing.T) {
		tx := &txStub{failOn: "INSERT INTO verdicts"}
		err := postgres.NewVerdictRepo(&poolStub{tx: tx}).SaveBatch(context.Background(), sampleBatch())
		require.Error(t, err)
		assert.True(t, tx.rolledBack)
		assert.False(t, tx.committed)
	})
	t.Run("commit", func(t *testing.T) {
		tx := &txStub{commitErr: assert.AnError}
		err := postgres.NewVerdictRepo(&poolStub{tx: tx}).SaveBatch(context.Background(), sampleBatch())
		require.ErrorIs(t, err, assert.AnError)
		assert.True(t, tx.rolledBack)
	})
}

func TestVerdictRepo_GetBatch(t *testing.T) {
	want := sampleBatch()
	pool := &poolStub{
		row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = want.Model
			*(dest[1].(*int)) = want.ProcessedFiles
			*(dest[2].(*int)) = want.MatchedFiles
			*(dest[3].(*time.Time)) = want.CreatedAt
			*(dest[4].(*time.Time)) = want.ExpiresAt
			return nil
		}},
		rows: &rowsStub{data: [][]any{
			{"a.pdf", "matched", "", "layout", int64(time.Second), "/api/download/01HBATCH/a.pdf/"},
			{"b.pdf", "rejected_criteria", "criterion not satisfied: department", "", int64(0), ""},
		}},
	}
	got, err := postgres.NewVerdictRepo(pool).GetBatch(context.Background(), want.BatchID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerdictRepo_GetBatch_NotFound(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(...any) error { return pgx.ErrNoRows }}}
	_, err := postgres.NewVerdictRepo(pool).GetBatch(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerdictRepo_GetBatch_QueryError(t *testing.T) {
	pool := &poolStub{
		row:      rowStub{scan: func(...any) error { return nil }},
		queryErr: assert.AnError,
	}
	_, err := postgres.NewVerdictRepo(pool).GetBatch(context.Background(), "x")
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "op=verdict.get")
}

func TestVerdictRepo_EnsureSchema(t *testing.T) {
	pool := &poolStub{}
	require.NoError(t, postgres.NewVerdictRepo(pool).EnsureSchema(context.Background()))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "CREATE TABLE IF NOT EXISTS verdicts")

	pool.execErr = assert.AnError
	require.Error(t, postgres.NewVerdictRepo(pool).EnsureSchema(context.Background()))
}
