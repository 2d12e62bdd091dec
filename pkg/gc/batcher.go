package gc

import (
	"context"
	"log/slog"

	"go.datum.net/revisiongc/pkg/store"
)

// batchSize is the number of conditional deletes accumulated before a
// flush, matching a workqueue rate-limiter's batch sizing for bulk delete
// calls against the document store.
const batchSize = 450

// progressEvery controls how often PossiblyDeleted logs a progress line,
// matching the periodic sync-progress logging convention of a garbage
// collector's Sync loop.
const progressEvery = 10_000

// Batcher partitions GC candidates surfaced by the collecting phase into
// the three sets a run operates on: an in-memory leaf list (flushed
// eagerly), an external-memory non-leaf set, and an external-memory
// previous-document set, then drives their conditional/unconditional
// removal. A document with no children and no previous documents is a
// leaf; everything else is non-leaf and contributes its previous-doc ids
// to the previous set.
//
// Main-document batches (leaf, then non-leaf) are always processed to
// completion before any previous-document id is removed: a main document
// found to still be present when its batch's conditional remove under-counts
// has its previous-doc ids added to an exclude set, checked before the
// previous-document pass runs.
type Batcher struct {
	store    store.NodesStore
	resolver NodeResolver
	headRev  string
	logger   *slog.Logger
	timer    *phaseTimer

	nonLeaf *ExternalSort
	prev    *ExternalSort
	exclude map[string]struct{}

	leaf []CompositeID
	seen int64
}

// NewBatcher returns a Batcher that resolves liveness against headRev
// before classifying a candidate, and spills its non-leaf/previous id sets
// to scratchDir once more than overflowThreshold ids are buffered.
func NewBatcher(s store.NodesStore, resolver NodeResolver, headRev string, logger *slog.Logger, timer *phaseTimer, overflowThreshold int, scratchDir string) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		store:    s,
		resolver: resolver,
		headRev:  headRev,
		logger:   logger,
		timer:    timer,
		nonLeaf:  NewExternalSort(NodeDocumentIDComparator, overflowThreshold, scratchDir),
		prev:     NewExternalSort(NodeDocumentIDComparator, overflowThreshold, scratchDir),
		exclude:  make(map[string]struct{}),
		leaf:     make([]CompositeID, 0, batchSize),
	}
}

// Close releases the non-leaf and previous external sorts' scratch files.
func (b *Batcher) Close() error {
	_ = b.nonLeaf.Close()
	_ = b.prev.Close()
	return nil
}

// PossiblyDeleted evaluates one candidate surfaced during collecting. A
// candidate that resolves as still live at headRev is counted as
// recreated and dropped before any previous-doc id is ever enumerated for
// it. Otherwise it is classified leaf or non-leaf and queued accordingly,
// flushing the leaf list through its own conditional-remove pass (and back
// to the collecting phase) once batchSize is reached.
func (b *Batcher) PossiblyDeleted(ctx context.Context, doc *store.NodeDocument, stats *VersionGCStats) error {
	b.seen++
	if b.seen%progressEvery == 0 {
		b.logger.Info("gc: collecting progress", "candidates_seen", b.seen)
	}

	present, err := b.resolver.ResolveAtRevision(ctx, doc.ID, b.headRev)
	if err != nil {
		return &StoreIOError{Op: "resolve candidate liveness", Err: err}
	}
	if present {
		stats.RecreatedCount++
		return nil
	}

	cid := NewCompositeID(doc.ID, doc.Modified)

	prevIDs, err := b.previousDocIDs(ctx, doc)
	if err != nil {
		return err
	}

	if !doc.HasChildren && len(prevIDs) == 0 {
		b.leaf = append(b.leaf, cid)
		if len(b.leaf) >= batchSize {
			if err := b.flushLeaf(ctx, stats); err != nil {
				return err
			}
			b.timer.Start(PhaseCollecting)
		}
		return nil
	}

	if err := b.nonLeaf.Add(cid.String()); err != nil {
		return err
	}
	for _, pid := range prevIDs {
		if err := b.prev.Add(pid); err != nil {
			return err
		}
	}
	return nil
}

// previousDocIDs returns doc's previous-document ids, taking the
// pure-derivation fast path when every range is first-level and falling
// back to a store enumeration otherwise.
func (b *Batcher) previousDocIDs(ctx context.Context, doc *store.NodeDocument) ([]string, error) {
	if !doc.HasPrevRanges() {
		return nil, nil
	}
	if doc.AllFirstLevel() {
		ids := make([]string, 0, len(doc.PrevRanges))
		for rev, rd := range doc.PrevRanges {
			ids = append(ids, store.PreviousIDFor(doc.ID, rev, rd.Height))
		}
		return ids, nil
	}

	cursor, err := b.store.AllPreviousDocs(ctx, doc.ID)
	if err != nil {
		return nil, &StoreIOError{Op: "enumerate previous docs", Err: err}
	}
	defer cursor.Close()

	var ids []string
	for {
		id, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, &StoreIOError{Op: "enumerate previous docs", Err: err}
		}
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// flushLeaf conditionally removes the queued leaf batch. Callers are
// responsible for restoring whichever phase should run next.
func (b *Batcher) flushLeaf(ctx context.Context, stats *VersionGCStats) error {
	if len(b.leaf) == 0 {
		return nil
	}
	batch := b.leaf
	b.leaf = make([]CompositeID, 0, batchSize)

	b.timer.Start(PhaseDeleting)
	return b.conditionalRemoveBatch(ctx, batch, true, stats)
}

// conditionalRemoveBatch issues one conditional-remove call for batch. When
// the store reports fewer removals than requested, every id in the batch is
// re-fetched to tell a genuine recreation (still present) apart from a
// clean removal; a recreated document's previous-doc ids are added to the
// exclude set so the later previous-document pass skips them.
func (b *Batcher) conditionalRemoveBatch(ctx context.Context, batch []CompositeID, isLeaf bool, stats *VersionGCStats) error {
	if len(batch) == 0 {
		return nil
	}

	expected := make(map[string]int64, len(batch))
	for _, cid := range batch {
		expected[cid.DocID] = cid.Modified
	}

	removed, err := b.store.RemoveConditional(ctx, expected)
	if err != nil {
		return &StoreIOError{Op: "conditional remove", Err: err}
	}

	if removed < len(batch) {
		for _, cid := range batch {
			doc, ok, err := b.store.Find(ctx, cid.DocID)
			if err != nil {
				return &StoreIOError{Op: "resolve recreated candidate", Err: err}
			}
			if !ok {
				continue
			}
			stats.RecreatedCount++
			prevIDs, err := b.previousDocIDs(ctx, doc)
			if err != nil {
				return err
			}
			for _, pid := range prevIDs {
				b.exclude[pid] = struct{}{}
			}
		}
	}

	stats.DeletedDocGCCount += int64(removed)
	if isLeaf {
		stats.DeletedLeafDocGCCount += int64(removed)
	}
	return nil
}

// RemoveDocuments flushes the remaining leaf batch, then drains the
// non-leaf set through conditional removal, and finally drains the
// previous-document set (filtered through the exclude set built up while
// draining non-leaf) through unconditional removal. Callers invoke this
// once collecting has exhausted its input sequence.
func (b *Batcher) RemoveDocuments(ctx context.Context, stats *VersionGCStats) error {
	if err := b.flushLeaf(ctx, stats); err != nil {
		return err
	}

	b.timer.Start(PhaseSorting)
	if err := b.nonLeaf.Sort(); err != nil {
		return err
	}
	nonLeafIDs, err := b.nonLeaf.Ids()
	if err != nil {
		return err
	}
	defer nonLeafIDs.Close()
	b.timer.Start(PhaseDeleting)

	batch := make([]CompositeID, 0, batchSize)
	for {
		s, ok, err := nonLeafIDs.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		cid, err := ParseCompositeID(s)
		if err != nil {
			b.logger.Warn("gc: dropping malformed composite id", "id", s, "error", err)
			continue
		}
		batch = append(batch, cid)
		if len(batch) >= batchSize {
			if err := b.conditionalRemoveBatch(ctx, batch, false, stats); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := b.conditionalRemoveBatch(ctx, batch, false, stats); err != nil {
		return err
	}

	return b.removePreviousIDs(ctx, stats)
}

// removePreviousIDs drains the previous-document set, skipping any id that
// landed in the exclude set while non-leaf batches were processed.
func (b *Batcher) removePreviousIDs(ctx context.Context, stats *VersionGCStats) error {
	b.timer.Start(PhaseSorting)
	if err := b.prev.Sort(); err != nil {
		return err
	}
	prevIDs, err := b.prev.Ids()
	if err != nil {
		return err
	}
	defer prevIDs.Close()
	b.timer.Start(PhaseDeleting)

	batch := make([]string, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		kept := batch[:0:0]
		for _, id := range batch {
			if _, excluded := b.exclude[id]; excluded {
				continue
			}
			kept = append(kept, id)
		}
		batch = batch[:0]
		if len(kept) == 0 {
			return nil
		}
		removed, err := b.store.RemoveUnconditional(ctx, kept)
		if err != nil {
			return &StoreIOError{Op: "remove previous docs", Err: err}
		}
		stats.DeletedPrevDocGCCount += int64(removed)
		return nil
	}

	for {
		id, ok, err := prevIDs.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		batch = append(batch, id)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
