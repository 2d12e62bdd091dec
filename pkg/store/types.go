// Package store defines the document-store contract the revision garbage
// collector depends on, plus the node/previous-document types it operates on.
package store

import (
	"context"
	"fmt"
)

// RangeDescriptor describes the previous document holding a node's history
// for a given revision. Height 0 means the previous document is directly
// addressable from the main document's path without a read; a height above
// zero means the range is an intermediate aggregation that must be fetched.
type RangeDescriptor struct {
	Revision string
	Height   int
}

// NodeDocument is the authoritative record of a node at the current
// revision: its path-derived identifier, the modification timestamp
// observed the last time the document was written, whether it currently has
// children, and the map of previous-document ranges that hold its history.
type NodeDocument struct {
	ID          string
	Modified    int64 // milliseconds since epoch
	HasChildren bool
	// Deleted mirrors Oak's deletedOnce marker: a cheap flag set when a
	// delete is observed for this id and cleared by a writer that recreates
	// the node. It is not authoritative proof the node is gone — a row read
	// while flagged can be recreated before it is removed, which is exactly
	// the false positive the resolver must catch before removing anything.
	Deleted    bool
	PrevRanges map[string]RangeDescriptor // revision -> range descriptor
}

// HasPrevRanges reports whether the node has any associated previous
// documents at all.
func (d *NodeDocument) HasPrevRanges() bool {
	return len(d.PrevRanges) > 0
}

// AllFirstLevel reports whether every previous-document range is directly
// derivable (height 0), which lets the previous-doc enumerator skip reads
// entirely.
func (d *NodeDocument) AllFirstLevel() bool {
	for _, r := range d.PrevRanges {
		if r.Height != 0 {
			return false
		}
	}
	return true
}

// PreviousDoc is a historical slice of a node's revisions.
type PreviousDoc struct {
	ID       string
	MainID   string
	Revision string
	Height   int
}

// PreviousIDFor derives a first-level previous-document id deterministically
// from the owning node's path and revision, without any store read. Only
// valid for height 0 ranges.
func PreviousIDFor(mainID, revision string, height int) string {
	return fmt.Sprintf("%s/prev/%s/%d", mainID, revision, height)
}

// NodeDocumentCursor is a finite, forward-only, non-restartable sequence of
// candidate documents returned by PossiblyDeletedDocs. Callers must Close it
// once done, including on early exit (e.g. cancellation).
type NodeDocumentCursor interface {
	// Next advances the cursor. ok is false once the sequence is exhausted;
	// err is non-nil only on a store I/O failure.
	Next(ctx context.Context) (doc *NodeDocument, ok bool, err error)
	Close() error
}

// PreviousDocCursor streams previous-document ids belonging to a single main
// document, for the enumerator's non-derivable path.
type PreviousDocCursor interface {
	Next(ctx context.Context) (id string, ok bool, err error)
	Close() error
}

// SplitDocType classifies a previous document for the purposes of the
// split-doc cleanup delegate. The stores in this package select each type
// by height: SplitDocDefaultLeaf matches height-0 previous documents and
// SplitDocCommitRootOnly matches previous documents above height 0
// (MemStore: any height above 0; PostgresStore: height 1 only).
type SplitDocType int

const (
	// SplitDocDefaultLeaf is a first-level (height 0) previous document with
	// no further structure.
	SplitDocDefaultLeaf SplitDocType = iota
	// SplitDocCommitRootOnly is a previous document that exists solely to
	// carry a commit-root marker and holds no other revision data.
	SplitDocCommitRootOnly
)

// NodesStore is the document-store contract consumed by the garbage
// collector. Implementations must make RemoveConditional atomic per entry:
// each id's modified-timestamp check and delete happen as one operation,
// though the map as a whole is not transactional.
type NodesStore interface {
	// PossiblyDeletedDocs returns every main document marked Deleted whose
	// modified timestamp (milliseconds) lies below cutoffTsMillis. False
	// positives are expected — a returned document can be recreated (its
	// flag cleared) before it is processed — and must be re-verified by the
	// caller.
	PossiblyDeletedDocs(ctx context.Context, cutoffTsMillis int64) (NodeDocumentCursor, error)

	// Find returns the current document for id, or ok=false if absent.
	Find(ctx context.Context, id string) (doc *NodeDocument, ok bool, err error)

	// RemoveConditional deletes each id in expected iff its current modified
	// timestamp still matches. Returns the number of entries actually
	// removed.
	RemoveConditional(ctx context.Context, expected map[string]int64) (removed int, err error)

	// RemoveUnconditional deletes every id in ids regardless of state.
	// Returns the number of entries actually removed.
	RemoveUnconditional(ctx context.Context, ids []string) (removed int, err error)

	// AllPreviousDocs streams the ids of every previous document belonging
	// to the main document identified by mainID. Used only when the node's
	// previous-ranges include a height > 0 entry.
	AllPreviousDocs(ctx context.Context, mainID string) (PreviousDocCursor, error)

	// DeleteSplitDocuments reclaims previous documents of the given types
	// whose owning node document no longer exists. The implementations in
	// this package accept oldestRevTsMillis but do not use it as a filter:
	// they do not select split documents by age. Implementations should
	// respect ctx cancellation best-effort. leafCount and
	// commitRootCount report how many of each type were removed.
	DeleteSplitDocuments(ctx context.Context, types []SplitDocType, oldestRevTsMillis int64) (leafCount, commitRootCount int64, err error)
}
