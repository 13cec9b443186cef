package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

func TestOrphanSweeper_SweepOnce(t *testing.T) {
	dir := t.TempDir()
	past := time.Now().Add(-2 * time.Hour)
	mkBatch := func(name string, stamped bool) string {
		d := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(d, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(d, "a.pdf"), []byte("%PDF"), 0o600))
		if stamped {
			m := filepath.Join(d, domain.BatchDoneMarker)
			require.NoError(t, os.WriteFile(m, nil, 0o600))
			require.NoError(t, os.Chtimes(m, past, past))
		}
		require.NoError(t, os.Chtimes(d, past, past))
		return d
	}
	old := mkBatch(ulid.Make().String(), true)
	foreign := mkBatch("keep-me", true)
	fresh := filepath.Join(dir, ulid.Make().String())
	require.NoError(t, os.MkdirAll(fresh, 0o750))

	s := NewOrphanSweeper(dir, time.Hour, 6*time.Hour, time.Minute)
	assert.Equal(t, 1, s.SweepOnce(context.Background()))

	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, foreign)

	// idempotent
	assert.Equal(t, 0, s.SweepOnce(context.Background()))
}

func TestOrphanSweeper_AgesFromCompletion(t *testing.T) {
	dir := t.TempDir()
	past := time.Now().Add(-2 * time.Hour)

	// A long batch: created two hours ago, finished just now.
	finished := filepath.Join(dir, ulid.Make().String())
	require.NoError(t, os.MkdirAll(finished, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(finished, domain.BatchDoneMarker), nil, 0o600))
	require.NoError(t, os.Chtimes(finished, past, past))

	// Still screening: no marker yet.
	running := filepath.Join(dir, ulid.Make().String())
	require.NoError(t, os.MkdirAll(running, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(running, "a.pdf"), []byte("%PDF"), 0o600))
	require.NoError(t, os.Chtimes(running, past, past))

	s := NewOrphanSweeper(dir, time.Hour, 6*time.Hour, time.Minute)
	assert.Equal(t, 0, s.SweepOnce(context.Background()))
	assert.DirExists(t, finished)
	assert.FileExists(t, filepath.Join(running, "a.pdf"))

	// An unstamped directory older than the in-flight limit is a crash leftover.
	s = NewOrphanSweeper(dir, 3*time.Hour, time.Hour, time.Minute)
	s.now = func() time.Time { return time.Now().Add(150 * time.Minute) }
	assert.Equal(t, 1, s.SweepOnce(context.Background()))
	assert.NoDirExists(t, running)
	assert.DirExists(t, finished)
}

func TestOrphanSweeper_MissingDirAndNil(t *testing.T) {
	s := NewOrphanSweeper(filepath.Join(t.TempDir(), "absent"), 0, 0, 0)
	assert.Equal(t, 0, s.SweepOnce(context.Background()))
	assert.Nil(t, NewOrphanSweeper("", time.Hour, time.Hour, time.Minute))

	var nilSweeper *OrphanSweeper
	nilSweeper.Run(context.Background())
}

func TestOrphanSweeper_RunStopsOnCancel(t *testing.T) {
	s := NewOrphanSweeper(t.TempDir(), time.Hour, time.Hour, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
