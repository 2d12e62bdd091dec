package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datum.net/revisiongc/pkg/checkpoint"
	"go.datum.net/revisiongc/pkg/clock"
	"go.datum.net/revisiongc/pkg/store"
)

func newTestOrchestrator(t *testing.T, mem *store.MemStore, clk clock.Clock, registry *checkpoint.MemRegistry) *Orchestrator {
	t.Helper()
	return NewOrchestrator(mem, registry, clk, mem, ClockHeadRevisions{Clock: clk}, WithScratchDir(t.TempDir()))
}

func TestGCRemovesStaleDeletedLeaf(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-1 * time.Hour).UnixMilli()})

	// No children and no previous docs: a true leaf.
	mem.PutNode(store.NodeDocument{
		ID:       "/content/stale",
		Modified: now.Add(-48 * time.Hour).UnixMilli(),
		Deleted:  true,
	})

	orch := newTestOrchestrator(t, mem, fake, registry)
	stats, err := orch.GC(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.False(t, stats.IgnoredGCDueToCheckPoint)
	assert.False(t, stats.Canceled)
	assert.EqualValues(t, 1, stats.DeletedDocGCCount)
	assert.EqualValues(t, 1, stats.DeletedLeafDocGCCount)
	assert.EqualValues(t, 0, stats.DeletedPrevDocGCCount)
	assert.False(t, mem.HasNode("/content/stale"))
}

// TestGCRemovesStaleDeletedNonLeafWithPreviousDocs covers a document with no
// children but at least one previous-document range: it is classified
// non-leaf under the leaf rule (no children AND no previous docs), and its
// previous docs are removed only after the main document's own conditional
// removal succeeds.
func TestGCRemovesStaleDeletedNonLeafWithPreviousDocs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-1 * time.Hour).UnixMilli()})

	mem.PutNode(store.NodeDocument{
		ID:       "/content/stale",
		Modified: now.Add(-48 * time.Hour).UnixMilli(),
		Deleted:  true,
		PrevRanges: map[string]store.RangeDescriptor{
			"r0": {Revision: "r0", Height: 0},
		},
	})
	mem.PutPrevDoc(store.PreviousDoc{ID: "/content/stale/prev/r0/0", MainID: "/content/stale", Revision: "r0", Height: 0})

	orch := newTestOrchestrator(t, mem, fake, registry)
	stats, err := orch.GC(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.False(t, stats.IgnoredGCDueToCheckPoint)
	assert.False(t, stats.Canceled)
	assert.EqualValues(t, 1, stats.DeletedDocGCCount)
	assert.EqualValues(t, 0, stats.DeletedLeafDocGCCount)
	assert.EqualValues(t, 1, stats.DeletedPrevDocGCCount)
	assert.False(t, mem.HasNode("/content/stale"))
	assert.False(t, mem.HasPrevDoc("/content/stale/prev/r0/0"))
}

func TestGCSkipsRecreatedNode(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-1 * time.Hour).UnixMilli()})

	// Stale and flagged deleted, so collecting surfaces it as a candidate.
	mem.PutNode(store.NodeDocument{
		ID:       "/content/recreated",
		Modified: now.Add(-48 * time.Hour).UnixMilli(),
		Deleted:  true,
	})

	live, err := mem.ResolveAtRevision(context.Background(), "/content/recreated", "")
	require.NoError(t, err)
	assert.False(t, live)

	// Recreated before the run starts: touched again and its Deleted flag
	// cleared, so the candidate query no longer surfaces it and the batcher
	// never sees it (nothing is counted as recreated).
	mem.PutNode(store.NodeDocument{
		ID:       "/content/recreated",
		Modified: now.Add(-1 * time.Hour).UnixMilli(),
		Deleted:  false,
	})

	orch := newTestOrchestrator(t, mem, fake, registry)
	stats, err := orch.GC(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.EqualValues(t, 0, stats.DeletedDocGCCount)
	assert.EqualValues(t, 0, stats.RecreatedCount)
	assert.True(t, mem.HasNode("/content/recreated"))
}

func TestGCIgnoredWhenCheckpointOlderThanCutoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-72 * time.Hour).UnixMilli()})

	mem.PutNode(store.NodeDocument{
		ID:       "/content/stale",
		Modified: now.Add(-48 * time.Hour).UnixMilli(),
		Deleted:  true,
	})

	orch := newTestOrchestrator(t, mem, fake, registry)
	stats, err := orch.GC(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.True(t, stats.IgnoredGCDueToCheckPoint)
	assert.True(t, mem.HasNode("/content/stale"))
}

func TestGCSecondConcurrentRunIsRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-72 * time.Hour).UnixMilli()})

	orch := newTestOrchestrator(t, mem, fake, registry)

	rs := &runState{id: "already-running"}
	require.True(t, orch.running.CompareAndSwap(nil, rs))
	defer orch.running.Store(nil)

	_, err := orch.GC(context.Background(), 24*time.Hour)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestGCCancelWithNoRunActiveIsNoop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	mem := store.NewMemStore()
	registry := checkpoint.NewMemRegistry()
	registry.Set(&checkpoint.Revision{Vector: "r1", TimestampMillis: now.Add(-1 * time.Hour).UnixMilli()})

	orch := newTestOrchestrator(t, mem, fake, registry)
	orch.Cancel() // no-op, nothing running yet

	for i := 0; i < 5; i++ {
		mem.PutNode(store.NodeDocument{
			ID:       "/content/" + string(rune('a'+i)),
			Modified: now.Add(-48 * time.Hour).UnixMilli(),
			Deleted:  true,
		})
	}

	stats, err := orch.GC(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, stats.Canceled)
	assert.EqualValues(t, 5, stats.DeletedDocGCCount)
}
