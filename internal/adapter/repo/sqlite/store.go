// Package sqlite records batch verdicts in a local SQLite file for the
// screen CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/sqlite/migrations"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// Store is a VerdictStore backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ domain.VerdictStore = (*Store)(nil)

// NewStore opens or creates the database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; the CLI never needs more
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// SaveBatch replaces any earlier record of the batch.
func (s *Store) SaveBatch(ctx context.Context, b domain.BatchResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=sqlite.SaveBatch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, model, processed_files, matched_files, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			processed_files = excluded.processed_files,
			matched_files = excluded.matched_files,
			expires_at = excluded.expires_at
	`, b.BatchID, b.Model, b.ProcessedFiles, b.MatchedFiles, b.CreatedAt.UTC(), b.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("op=sqlite.SaveBatch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verdicts WHERE batch_id = ?`, b.BatchID); err != nil {
		return fmt.Errorf("op=sqlite.SaveBatch: %w", err)
	}
	urls := make(map[string]string, len(b.Matches))
	for _, m := range b.Matches {
		urls[m.Filename] = m.URL
	}
	for i, v := range b.Verdicts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verdicts (batch_id, position, filename, verdict, reason, strategy, duration_ns, url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, b.BatchID, i, v.Filename, string(v.Verdict), v.Reason, v.Strategy, int64(v.Duration), urls[v.Filename]); err != nil {
			return fmt.Errorf("op=sqlite.SaveBatch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=sqlite.SaveBatch: %w", err)
	}
	return nil
}

// GetBatch loads a batch with its verdicts in recorded order.
func (s *Store) GetBatch(ctx context.Context, batchID string) (domain.BatchResult, error) {
	b := domain.BatchResult{BatchID: batchID, Matches: []domain.Match{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT model, processed_files, matched_files, created_at, expires_at FROM batches WHERE id = ?
	`, batchID).Scan(&b.Model, &b.ProcessedFiles, &b.MatchedFiles, &b.CreatedAt, &b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchResult{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=sqlite.GetBatch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, verdict, reason, strategy, duration_ns, url
		FROM verdicts WHERE batch_id = ? ORDER BY position
	`, batchID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=sqlite.GetBatch: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v       domain.DocumentVerdict
			verdict string
			nanos   int64
			url     string
		)
		if err := rows.Scan(&v.Filename, &verdict, &v.Reason, &v.Strategy, &nanos, &url); err != nil {
			return domain.BatchResult{}, fmt.Errorf("op=sqlite.GetBatch: %w", err)
		}
		v.Verdict = domain.Verdict(verdict)
		v.Duration = time.Duration(nanos)
		b.Verdicts = append(b.Verdicts, v)
		if v.Verdict == domain.VerdictMatched {
			b.Matches = append(b.Matches, domain.Match{Filename: v.Filename, URL: url})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=sqlite.GetBatch: %w", err)
	}
	return b, nil
}

// ListBatches returns the ids of the most recent batches, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM batches ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.ListBatches: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=sqlite.ListBatches: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
