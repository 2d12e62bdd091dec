// Package gc implements the version garbage collector: it sweeps a
// document store for node documents that haven't been touched recently,
// confirms each is truly gone rather than just cold, and removes it along
// with its previous-revision documents and any leftover split documents.
package gc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"go.datum.net/revisiongc/internal/splitdoc"
	"go.datum.net/revisiongc/pkg/checkpoint"
	"go.datum.net/revisiongc/pkg/clock"
	"go.datum.net/revisiongc/pkg/store"
)

// defaultOverflowThreshold is the in-memory candidate-id buffer size above
// which the collecting phase spills to disk, matching a typical default
// rate-limiter queue depth for a bulk-delete workqueue.
const defaultOverflowThreshold = 100_000

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the base logger; per-run fields (run id) are added
// on top of it.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches a Metrics recorder; GC is a no-op on metrics
// otherwise.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer used for the run's root span.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithScratchDir sets the directory ExternalSort spills run files into.
func WithScratchDir(dir string) Option {
	return func(o *Orchestrator) { o.scratchDir = dir }
}

// WithOverflowToDiskThreshold sets the initial in-memory candidate buffer
// size; see SetOverflowToDiskThreshold.
func WithOverflowToDiskThreshold(n int) Option {
	return func(o *Orchestrator) { o.overflowThreshold = n }
}

// runState tracks the single in-flight run, if any.
type runState struct {
	id       string
	canceled atomic.Bool
}

// Orchestrator drives a version GC run end to end: checkpoint check,
// collecting candidates, conditionally deleting them and their previous
// documents, and finally sweeping orphaned split documents. Exactly one
// run may be active per Orchestrator at a time.
type Orchestrator struct {
	store         store.NodesStore
	checkpoints   checkpoint.Registry
	clock         clock.Clock
	resolver      NodeResolver
	headRevisions HeadRevisionProvider

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	overflowThreshold int
	scratchDir        string

	running atomic.Pointer[runState]
}

// NewOrchestrator returns an Orchestrator wired to the given document
// store, checkpoint registry, clock, and node resolvers.
func NewOrchestrator(
	s store.NodesStore,
	checkpoints checkpoint.Registry,
	clk clock.Clock,
	resolver NodeResolver,
	headRevisions HeadRevisionProvider,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:             s,
		checkpoints:       checkpoints,
		clock:             clk,
		resolver:          resolver,
		headRevisions:     headRevisions,
		logger:            slog.Default(),
		tracer:            otel.Tracer("go.datum.net/revisiongc"),
		overflowThreshold: defaultOverflowThreshold,
		scratchDir:        "",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetOverflowToDiskThreshold changes how many candidate ids the collecting
// phase buffers in memory before spilling to scratchDir. Takes effect on
// the next run.
func (o *Orchestrator) SetOverflowToDiskThreshold(n int) {
	o.overflowThreshold = n
}

// Cancel requests that the in-flight run stop at its next cooperative
// checkpoint. A no-op if no run is active. Completed batches are not
// rolled back.
func (o *Orchestrator) Cancel() {
	if rs := o.running.Load(); rs != nil {
		rs.canceled.Store(true)
	}
}

// GC runs one version GC pass: documents untouched for at least maxAge
// are collected, confirmed absent at the current head revision, and
// conditionally removed along with their previous-revision documents;
// orphaned split documents (those whose owning node no longer exists) are
// swept last. The sweep is passed the same cutoff, but the store
// implementations in this repository do not filter split documents by age.
//
// GC returns a non-nil VersionGCStats on success, on cancellation and on
// any error after the run has started, reflecting whatever work completed
// before the run stopped. When another run is already active it returns
// nil stats together with ErrAlreadyRunning.
func (o *Orchestrator) GC(ctx context.Context, maxAge time.Duration) (*VersionGCStats, error) {
	rs := &runState{id: uuid.NewString()}
	if !o.running.CompareAndSwap(nil, rs) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(nil)

	ctx, span := o.tracer.Start(ctx, "gc.Run", trace.WithAttributes(
		attribute.String("gc.run_id", rs.id),
		attribute.String("gc.max_age", maxAge.String()),
	))
	defer span.End()

	logger := o.logger.With("run_id", rs.id)
	stats := NewVersionGCStats()
	timer := newPhaseTimer()
	start := o.clock.Now()
	defer func() {
		stats.Elapsed = o.clock.Now().Sub(start)
		stats.Timers = timer.Totals()
		if o.metrics != nil {
			o.metrics.Observe(stats)
		}
	}()

	if o.metrics != nil {
		o.metrics.RunStarted()
	}
	logger.Info("gc: run starting", "max_age", maxAge)

	oldest, err := o.checkpoints.OldestRevisionToKeep(ctx)
	if err != nil {
		return stats, fmt.Errorf("revisiongc: reading oldest checkpoint: %w", err)
	}

	cutoff := o.clock.Now().Add(-maxAge).UnixMilli()
	// A checkpoint older than the cutoff still needs revisions that this
	// run would otherwise reclaim, so the run skips entirely until that
	// checkpoint is removed or replaced by a newer one.
	if oldest != nil && oldest.TimestampMillis < cutoff {
		stats.IgnoredGCDueToCheckPoint = true
		logger.Info("gc: skipped, checkpoint older than cutoff", "checkpoint", oldest.ReadableString())
		return stats, nil
	}

	headRev, err := o.headRevisions.HeadRevision(ctx)
	if err != nil {
		return stats, fmt.Errorf("revisiongc: reading head revision: %w", err)
	}

	if err := o.collectAndDelete(ctx, rs, logger, timer, stats, cutoff, headRev); err != nil {
		return stats, err
	}
	if rs.canceled.Load() {
		stats.Canceled = true
		logger.Info("gc: run canceled", "stats", stats)
		return stats, nil
	}

	timer.Start(PhaseSplitsCleanup)
	sweep, err := splitdoc.New(o.store, logger).Sweep(ctx, []store.SplitDocType{store.SplitDocDefaultLeaf, store.SplitDocCommitRootOnly}, cutoff)
	timer.Stop()
	if err != nil {
		return stats, &StoreIOError{Op: "delete split documents", Err: err}
	}
	stats.SplitDocGCCount += sweep.LeafCount + sweep.CommitRootCount
	stats.IntermediateSplitDocGCCount += sweep.CommitRootCount

	logger.Info("gc: run complete", "stats", stats)
	return stats, nil
}

// collectAndDelete runs the collecting and deleting phases: every
// candidate surfaced by the store streams directly into the Batcher, which
// holds only composite-id strings (spilling to disk past the overflow
// threshold) rather than full documents, so memory use does not grow with
// the size of the collection being swept.
func (o *Orchestrator) collectAndDelete(
	ctx context.Context,
	rs *runState,
	logger *slog.Logger,
	timer *phaseTimer,
	stats *VersionGCStats,
	cutoff int64,
	headRev string,
) error {
	timer.Start(PhaseCollecting)
	cursor, err := o.store.PossiblyDeletedDocs(ctx, cutoff)
	if err != nil {
		timer.Stop()
		return &StoreIOError{Op: "list possibly deleted docs", Err: err}
	}
	defer cursor.Close()

	batcher := NewBatcher(o.store, o.resolver, headRev, logger, timer, o.overflowThreshold, o.scratchDir)
	defer batcher.Close()

	for {
		if rs.canceled.Load() {
			break
		}
		doc, ok, err := cursor.Next(ctx)
		if err != nil {
			timer.Stop()
			return &StoreIOError{Op: "iterate possibly deleted docs", Err: err}
		}
		if !ok {
			break
		}
		if err := batcher.PossiblyDeleted(ctx, doc, stats); err != nil {
			timer.Stop()
			return err
		}
	}
	timer.Stop()

	// A canceled run leaves whatever hasn't already been flushed (via the
	// leaf list's own batch threshold) untouched; already-issued batches are
	// not rolled back, but the remaining non-leaf/previous sets are not
	// drained either.
	if rs.canceled.Load() {
		return nil
	}

	return batcher.RemoveDocuments(ctx, stats)
}
