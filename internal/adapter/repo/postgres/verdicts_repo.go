package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// Schema creates the verdict tables. Verdict rows cascade with their batch.
const Schema = `
CREATE TABLE IF NOT EXISTS batches (
	id              TEXT PRIMARY KEY,
	model           TEXT NOT NULL,
	processed_files INTEGER NOT NULL,
	matched_files   INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS verdicts (
	id          UUID PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	filename    TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	duration_ns BIGINT NOT NULL DEFAULT 0,
	url         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS verdicts_batch_idx ON verdicts (batch_id, position);
CREATE INDEX IF NOT EXISTS batches_created_idx ON batches (created_at);
`

// VerdictRepo persists batch outcomes in PostgreSQL.
type VerdictRepo struct{ Pool PgxPool }

// NewVerdictRepo constructs a VerdictRepo with the given pool.
func NewVerdictRepo(p PgxPool) *VerdictRepo { return &VerdictRepo{Pool: p} }

// EnsureSchema applies Schema; it is safe to call on every start.
func (r *VerdictRepo) EnsureSchema(ctx domain.Context) error {
	if _, err := r.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("op=verdict.schema: %w", err)
	}
	return nil
}

// SaveBatch writes the batch row and one row per verdict in a transaction.
func (r *VerdictRepo) SaveBatch(ctx domain.Context, b domain.BatchResult) (err error) {
	tracer := otel.Tracer("repo.verdicts")
	ctx, span := tracer.Start(ctx, "verdicts.SaveBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "verdicts"),
		attribute.String("batch.id", b.BatchID),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=verdict.save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`INSERT INTO batches (id, model, processed_files, matched_files, created_at, expires_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		b.BatchID, b.Model, b.ProcessedFiles, b.MatchedFiles, b.CreatedAt, b.ExpiresAt,
	); err != nil {
		return fmt.Errorf("op=verdict.save: %w", err)
	}
	urls := make(map[string]string, len(b.Matches))
	for _, m := range b.Matches {
		urls[m.Filename] = m.URL
	}
	for i, v := range b.Verdicts {
		if _, err = tx.Exec(ctx,
			`INSERT INTO verdicts (id, batch_id, position, filename, verdict, reason, strategy, duration_ns, url) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			uuid.New(), b.BatchID, i, v.Filename, string(v.Verdict), v.Reason, v.Strategy, int64(v.Duration), urls[v.Filename],
		); err != nil {
			return fmt.Errorf("op=verdict.save: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=verdict.save: %w", err)
	}
	return nil
}

// GetBatch loads a batch and its verdicts in their recorded order.
func (r *VerdictRepo) GetBatch(ctx domain.Context, batchID string) (domain.BatchResult, error) {
	tracer := otel.Tracer("repo.verdicts")
	ctx, span := tracer.Start(ctx, "verdicts.GetBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batches"),
	)

	b := domain.BatchResult{BatchID: batchID, Matches: []domain.Match{}}
	row := r.Pool.QueryRow(ctx, `SELECT model, processed_files, matched_files, created_at, expires_at FROM batches WHERE id=$1`, batchID)
	if err := row.Scan(&b.Model, &b.ProcessedFiles, &b.MatchedFiles, &b.CreatedAt, &b.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BatchResult{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
		}
		return domain.BatchResult{}, fmt.Errorf("op=verdict.get: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT filename, verdict, reason, strategy, duration_ns, url FROM verdicts WHERE batch_id=$1 ORDER BY position`, batchID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=verdict.get: %w", err)
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
			return domain.BatchResult{}, fmt.Errorf("op=verdict.get: %w", err)
		}
		v.Verdict = domain.Verdict(verdict)
		v.Duration = time.Duration(nanos)
		b.Verdicts = append(b.Verdicts, v)
		if v.Verdict == domain.VerdictMatched {
			b.Matches = append(b.Matches, domain.Match{Filename: v.Filename, URL: url})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=verdict.get: %w", err)
	}
	return b, nil
}
