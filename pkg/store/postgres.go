package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
)

// PostgresStore is a NodesStore backed by a Postgres database. Node bodies
// are stored as JSONB so the previous-ranges map can grow without schema
// migrations, following the same data-as-JSONB convention the rest of this
// codebase's storage layer uses for resource bodies.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. The caller owns the
// connection pool's lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is the DDL this store expects. Exposed as a constant so callers can
// run it via their own migration tooling; this package does not migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id           text PRIMARY KEY,
	modified     bigint NOT NULL,
	has_children boolean NOT NULL DEFAULT false,
	deleted      boolean NOT NULL DEFAULT false,
	prev_ranges  jsonb NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS nodes_deleted_modified_idx ON nodes (deleted, modified);

CREATE TABLE IF NOT EXISTS previous_docs (
	id       text PRIMARY KEY,
	main_id  text NOT NULL,
	revision text NOT NULL,
	height   int  NOT NULL
);
CREATE INDEX IF NOT EXISTS previous_docs_main_id_idx ON previous_docs (main_id);
`

type jsonRangeDescriptor struct {
	Revision string `json:"revision"`
	Height   int    `json:"height"`
}

func encodePrevRanges(ranges map[string]RangeDescriptor) ([]byte, error) {
	out := make(map[string]jsonRangeDescriptor, len(ranges))
	for rev, rd := range ranges {
		out[rev] = jsonRangeDescriptor{Revision: rd.Revision, Height: rd.Height}
	}
	return json.Marshal(out)
}

func decodePrevRanges(data []byte) (map[string]RangeDescriptor, error) {
	var raw map[string]jsonRangeDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode prev_ranges: %w", err)
	}
	out := make(map[string]RangeDescriptor, len(raw))
	for rev, rd := range raw {
		out[rev] = RangeDescriptor{Revision: rd.Revision, Height: rd.Height}
	}
	return out, nil
}

func scanNode(row interface {
	Scan(dest ...any) error
}) (*NodeDocument, error) {
	var (
		id          string
		modified    int64
		hasChildren bool
		deleted     bool
		rawRanges   []byte
	)
	if err := row.Scan(&id, &modified, &hasChildren, &deleted, &rawRanges); err != nil {
		return nil, err
	}
	ranges, err := decodePrevRanges(rawRanges)
	if err != nil {
		return nil, err
	}
	return &NodeDocument{
		ID:          id,
		Modified:    modified,
		HasChildren: hasChildren,
		Deleted:     deleted,
		PrevRanges:  ranges,
	}, nil
}

type pgCursor struct {
	rows *sql.Rows
}

func (c *pgCursor) Next(ctx context.Context) (*NodeDocument, bool, error) {
	if !c.rows.Next() {
		return nil, false, c.rows.Err()
	}
	doc, err := scanNode(c.rows)
	if err != nil {
		return nil, false, fmt.Errorf("scan node row: %w", err)
	}
	return doc, true, nil
}

func (c *pgCursor) Close() error { return c.rows.Close() }

// PossiblyDeletedDocs streams every node row flagged deleted and modified
// before the cutoff,
// mirroring the PrepareContext/QueryContext/row-scan idiom used for paged
// resource listing elsewhere in this storage layer, but without a page
// token since the garbage collector consumes this as a single forward pass.
func (s *PostgresStore) PossiblyDeletedDocs(ctx context.Context, cutoffTsMillis int64) (NodeDocumentCursor, error) {
	stmt, err := s.db.PrepareContext(ctx,
		"SELECT id, modified, has_children, deleted, prev_ranges FROM nodes WHERE deleted AND modified < $1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("prepare possibly-deleted query: %w", err)
	}
	rows, err := stmt.QueryContext(ctx, cutoffTsMillis)
	if err != nil {
		stmt.Close()
		return nil, fmt.Errorf("query possibly-deleted docs: %w", err)
	}
	return &pgCursor{rows: rows}, nil
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*NodeDocument, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, modified, has_children, deleted, prev_ranges FROM nodes WHERE id = $1", id)
	doc, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find node %q: %w", id, err)
	}
	return doc, true, nil
}

// ResolveAtRevision reports whether id has been recreated since it was
// flagged deleted. This store has no revision-vector history to
// time-travel against, so rev is accepted for interface conformance and
// ignored; the check instead reads the deleted flag, which a recreating
// writer clears, the
// one piece of state that distinguishes "recreated" from "still gone" in a
// store with no separate tombstone history. A row that no longer exists at
// all is treated as confirmed absent, not recreated.
func (s *PostgresStore) ResolveAtRevision(ctx context.Context, id string, _ string) (bool, error) {
	doc, ok, err := s.Find(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return !doc.Deleted, nil
}

// RemoveConditional deletes every id in expected inside one shared
// transaction, one DELETE per id with the modified timestamp as a
// precondition, analogous to the optimistic
// concurrency check atomicUpdateResource performs via an etag comparison
// before committing an update.
func (s *PostgresStore) RemoveConditional(ctx context.Context, expected map[string]int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin conditional remove tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // only meaningful before Commit

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM nodes WHERE id = $1 AND modified = $2")
	if err != nil {
		return 0, fmt.Errorf("prepare conditional remove: %w", err)
	}
	defer stmt.Close()

	var removed int
	for id, modified := range expected {
		res, err := stmt.ExecContext(ctx, id, modified)
		if err != nil {
			return removed, fmt.Errorf("conditional remove %q: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected for %q: %w", id, err)
		}
		removed += int(n)
	}
	if err := tx.Commit(); err != nil {
		return removed, fmt.Errorf("commit conditional remove tx: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) RemoveUnconditional(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin unconditional remove tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM previous_docs WHERE id = $1")
	if err != nil {
		return 0, fmt.Errorf("prepare unconditional remove: %w", err)
	}
	defer stmt.Close()

	var removed int
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("unconditional remove %q: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected for %q: %w", id, err)
		}
		removed += int(n)
	}
	if err := tx.Commit(); err != nil {
		return removed, fmt.Errorf("commit unconditional remove tx: %w", err)
	}
	return removed, nil
}

type pgPrevCursor struct {
	rows *sql.Rows
}

func (c *pgPrevCursor) Next(context.Context) (string, bool, error) {
	if !c.rows.Next() {
		return "", false, c.rows.Err()
	}
	var id string
	if err := c.rows.Scan(&id); err != nil {
		return "", false, fmt.Errorf("scan previous doc id: %w", err)
	}
	return id, true, nil
}

func (c *pgPrevCursor) Close() error { return c.rows.Close() }

func (s *PostgresStore) AllPreviousDocs(ctx context.Context, mainID string) (PreviousDocCursor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM previous_docs WHERE main_id = $1", mainID)
	if err != nil {
		return nil, fmt.Errorf("query previous docs for %q: %w", mainID, err)
	}
	return &pgPrevCursor{rows: rows}, nil
}

// DeleteSplitDocuments reclaims previous documents whose owning node no
// longer exists, in one transaction, grounded on PurgeResource's
// single-table DELETE + transaction-wrapper idiom.
func (s *PostgresStore) DeleteSplitDocuments(ctx context.Context, types []SplitDocType, oldestRevTsMillis int64) (leafCount, commitRootCount int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin split-doc cleanup tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range types {
		var height int
		switch t {
		case SplitDocDefaultLeaf:
			height = 0
		case SplitDocCommitRootOnly:
			height = 1
		default:
			continue
		}

		// oldestRevTsMillis isn't queried against directly: previous_docs
		// carries no timestamp of its own, and the owning node's absence is
		// already the sole eligibility signal (mirroring MemStore). The
		// parameter exists for interface parity with a store that does keep
		// per-split timestamps.
		res, execErr := tx.ExecContext(ctx, `
			DELETE FROM previous_docs p
			WHERE p.height = $1
			  AND NOT EXISTS (SELECT 1 FROM nodes n WHERE n.id = p.main_id)
		`, height)
		if execErr != nil {
			return leafCount, commitRootCount, fmt.Errorf("delete split docs (height=%d): %w", height, execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return leafCount, commitRootCount, fmt.Errorf("rows affected for split docs (height=%d): %w", height, raErr)
		}
		if height == 0 {
			leafCount += n
		} else {
			commitRootCount += n
		}
	}

	if err := tx.Commit(); err != nil {
		return leafCount, commitRootCount, fmt.Errorf("commit split-doc cleanup tx: %w", err)
	}
	return leafCount, commitRootCount, nil
}
