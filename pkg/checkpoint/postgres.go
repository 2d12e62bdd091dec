package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRegistry reads the oldest-revision-to-keep from a single
// checkpoints row, keyed by id, following the same PrepareContext/
// QueryContext idiom as pkg/store's Postgres implementation.
type PostgresRegistry struct {
	db *sql.DB
	id string
}

// NewPostgresRegistry wraps an already-opened *sql.DB, scoped to the
// checkpoint row identified by id (most deployments use a single row).
func NewPostgresRegistry(db *sql.DB, id string) *PostgresRegistry {
	return &PostgresRegistry{db: db, id: id}
}

const Schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id                        text PRIMARY KEY,
	oldest_revision           text NOT NULL,
	oldest_revision_ts_millis bigint NOT NULL
);
`

func (r *PostgresRegistry) OldestRevisionToKeep(ctx context.Context) (*Revision, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT oldest_revision, oldest_revision_ts_millis FROM checkpoints WHERE id = $1", r.id)

	var rev Revision
	err := row.Scan(&rev.Vector, &rev.TimestampMillis)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %q: %w", r.id, err)
	}
	return &rev, nil
}

// Set upserts the checkpoint row, used by the registry's writer side
// (outside the GC's own read-only view of this contract).
func (r *PostgresRegistry) Set(ctx context.Context, rev Revision) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, oldest_revision, oldest_revision_ts_millis)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			oldest_revision = EXCLUDED.oldest_revision,
			oldest_revision_ts_millis = EXCLUDED.oldest_revision_ts_millis
	`, r.id, rev.Vector, rev.TimestampMillis)
	if err != nil {
		return fmt.Errorf("set checkpoint %q: %w", r.id, err)
	}
	return nil
}
