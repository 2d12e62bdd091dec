// Package splitdoc adapts the document store's split-document sweep into a
// logged, timed step the CLI and orchestrator can both drive independently
// of a full GC pass, mirroring how a resource garbage collector exposes
// orphan cleanup as a delegate distinct from its main delete workers.
package splitdoc

import (
	"context"
	"log/slog"
	"time"

	"go.datum.net/revisiongc/pkg/store"
)

// Delegate sweeps orphaned split (previous) documents: those whose owning
// node document no longer exists, for the requested split-document types.
type Delegate struct {
	store  store.NodesStore
	logger *slog.Logger
}

// New returns a Delegate over s, logging via logger (or slog.Default if
// nil).
func New(s store.NodesStore, logger *slog.Logger) *Delegate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegate{store: s, logger: logger}
}

// Result summarizes one sweep.
type Result struct {
	LeafCount       int64
	CommitRootCount int64
	Elapsed         time.Duration
}

// Sweep deletes orphaned split documents of the given types.
// oldestRevTsMillis is passed through to the store; the store
// implementations in this repository do not filter split documents by age.
func (d *Delegate) Sweep(ctx context.Context, types []store.SplitDocType, oldestRevTsMillis int64) (Result, error) {
	start := time.Now()
	d.logger.Info("splitdoc: sweep starting", "types", types, "oldest_revision_ts_millis", oldestRevTsMillis)

	leaf, root, err := d.store.DeleteSplitDocuments(ctx, types, oldestRevTsMillis)
	if err != nil {
		d.logger.Error("splitdoc: sweep failed", "error", err)
		return Result{}, err
	}

	res := Result{LeafCount: leaf, CommitRootCount: root, Elapsed: time.Since(start)}
	d.logger.Info("splitdoc: sweep complete", "leaf_count", leaf, "commit_root_count", root, "elapsed", res.Elapsed)
	return res, nil
}
