package gc

import (
	"context"
	"strconv"

	"go.datum.net/revisiongc/pkg/clock"
)

// ClockHeadRevisions stands in for a true revision-vector service: it
// reports the run-start wall-clock timestamp as the "head revision"
// string. Paired with a NodeResolver that only checks a node's present
// state (the deleted flag read by the Postgres and in-memory stores here),
// this degrades to a plain liveness check; a store backed by genuine MVCC history would
// resolve ResolveAtRevision against this value instead.
type ClockHeadRevisions struct {
	Clock clock.Clock
}

// HeadRevision returns the current time in Unix milliseconds, rendered as
// a decimal string.
func (c ClockHeadRevisions) HeadRevision(_ context.Context) (string, error) {
	return strconv.FormatInt(c.Clock.Now().UnixMilli(), 10), nil
}
