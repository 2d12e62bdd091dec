// Package checkpoint defines the checkpoint-registry contract the garbage
// collector consults before collecting: a client-registered revision the
// store must retain, which blocks GC of anything newer than it when its
// timestamp is older than the GC cutoff.
package checkpoint

import (
	"context"
	"fmt"
)

// Revision identifies the oldest revision a checkpoint requires the store
// to keep.
type Revision struct {
	Vector          string
	TimestampMillis int64
}

// ReadableString renders the revision for log lines.
func (r *Revision) ReadableString() string {
	if r == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s@%dms", r.Vector, r.TimestampMillis)
}

// Registry is the checkpoint-registry contract consumed by the garbage
// collector. It is a read-only collaborator from the GC's perspective.
type Registry interface {
	// OldestRevisionToKeep returns the oldest revision that must be
	// retained, or nil if no checkpoint is registered.
	OldestRevisionToKeep(ctx context.Context) (*Revision, error)
}
