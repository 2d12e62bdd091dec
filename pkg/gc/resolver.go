package gc

import "context"

// HeadRevisionProvider is the revision/clock subsystem's external interface:
// it captures the revision vector in effect "now", at run start, so the
// batcher can later verify a candidate is truly absent at that fixed point
// rather than racing against revisions created after the run began.
type HeadRevisionProvider interface {
	HeadRevision(ctx context.Context) (string, error)
}

// NodeResolver is the node-state resolver's external interface: given a
// node id and a revision vector, it resolves whether the node is present at
// that revision. This is the one place true "is it still alive" knowledge
// lives, distinct from the cheap, false-positive-prone candidate index
// query.
type NodeResolver interface {
	// ResolveAtRevision reports whether id names a live node at rev.
	ResolveAtRevision(ctx context.Context, id string, rev string) (present bool, err error)
}
