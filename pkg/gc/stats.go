package gc

import "time"

// VersionGCStats summarizes the outcome of a single GC run. It is returned
// from GC regardless of whether the run completed, was canceled, or failed
// partway through, so a caller always has a count of whatever work did
// land.
type VersionGCStats struct {
	// IgnoredGCDueToCheckPoint is true when the run exited immediately
	// because a registered checkpoint's timestamp is older than the run's
	// cutoff (now minus the configured max age).
	IgnoredGCDueToCheckPoint bool
	// Canceled is true when the run stopped early via Cancel.
	Canceled bool

	// DeletedDocGCCount is the number of top-level node documents removed.
	DeletedDocGCCount int64
	// DeletedLeafDocGCCount is the subset of DeletedDocGCCount that were
	// classified as leaves while collecting: no children and no previous
	// documents.
	DeletedLeafDocGCCount int64
	// DeletedPrevDocGCCount is the number of previous-document revisions
	// removed alongside their owning node document.
	DeletedPrevDocGCCount int64

	// SplitDocGCCount is the number of split (previous) documents removed
	// by the dedicated split-document sweep, independent of
	// DeletedPrevDocGCCount.
	SplitDocGCCount int64
	// IntermediateSplitDocGCCount is the subset of SplitDocGCCount that
	// were intermediate (non-leaf) split documents.
	IntermediateSplitDocGCCount int64

	// RecreatedCount is the number of candidates that turned out to be
	// live again by the time their delete was attempted, and were
	// therefore skipped rather than removed.
	RecreatedCount int64

	// Timers holds cumulative time spent in each phase, keyed by Phase.
	Timers map[Phase]time.Duration
	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration
}

// NewVersionGCStats returns a zero-valued VersionGCStats with its Timers
// map initialized.
func NewVersionGCStats() *VersionGCStats {
	return &VersionGCStats{Timers: make(map[Phase]time.Duration)}
}
