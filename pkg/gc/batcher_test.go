package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datum.net/revisiongc/pkg/store"
)

func newTestBatcher(t *testing.T, s store.NodesStore, resolver NodeResolver) *Batcher {
	t.Helper()
	b := NewBatcher(s, resolver, "head", nil, newPhaseTimer(), 1_000, t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBatcherHoldsLeavesBelowBatchSizeUntilRemoveDocuments(t *testing.T) {
	mem := store.NewMemStore()
	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		mem.PutNode(store.NodeDocument{ID: id, Modified: int64(i), Deleted: true})
		require.NoError(t, b.PossiblyDeleted(context.Background(), &store.NodeDocument{ID: id, Modified: int64(i), Deleted: true}, stats))
	}
	// Under batchSize, nothing flushed yet.
	assert.EqualValues(t, 0, stats.DeletedDocGCCount)

	require.NoError(t, b.RemoveDocuments(context.Background(), stats))
	assert.EqualValues(t, 3, stats.DeletedDocGCCount)
	assert.EqualValues(t, 3, stats.DeletedLeafDocGCCount)
}

func TestBatcherCountsRecreatedAndSkipsRemoval(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 100, Deleted: false}) // recreated
	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	require.NoError(t, b.PossiblyDeleted(context.Background(), &store.NodeDocument{ID: "/a", Modified: 50}, stats))
	require.NoError(t, b.RemoveDocuments(context.Background(), stats))

	assert.EqualValues(t, 1, stats.RecreatedCount)
	assert.EqualValues(t, 0, stats.DeletedDocGCCount)
	assert.True(t, mem.HasNode("/a"))
}

func TestBatcherRemovesPreviousDocsOfDeletedMain(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 10, Deleted: true, HasChildren: true})
	mem.PutPrevDoc(store.PreviousDoc{ID: "/a/prev/r0/0", MainID: "/a", Height: 0})
	mem.PutPrevDoc(store.PreviousDoc{ID: "/a/prev/r1/0", MainID: "/a", Height: 0})

	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	doc := &store.NodeDocument{
		ID: "/a", Modified: 10, HasChildren: true,
		PrevRanges: map[string]store.RangeDescriptor{
			"r0": {Revision: "r0", Height: 0},
			"r1": {Revision: "r1", Height: 0},
		},
	}

	require.NoError(t, b.PossiblyDeleted(context.Background(), doc, stats))
	require.NoError(t, b.RemoveDocuments(context.Background(), stats))

	assert.EqualValues(t, 1, stats.DeletedDocGCCount)
	assert.EqualValues(t, 0, stats.DeletedLeafDocGCCount) // HasChildren true, not a leaf
	assert.EqualValues(t, 2, stats.DeletedPrevDocGCCount)
	assert.False(t, mem.HasPrevDoc("/a/prev/r0/0"))
	assert.False(t, mem.HasPrevDoc("/a/prev/r1/0"))
}

// TestBatcherClassifiesChildlessNodeWithPreviousDocsAsNonLeaf guards the
// leaf-classification rule: a document with no children but at least one
// previous-document range must still go through the non-leaf/previous-id
// path, not the leaf list.
func TestBatcherClassifiesChildlessNodeWithPreviousDocsAsNonLeaf(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 10, Deleted: true, HasChildren: false})
	mem.PutPrevDoc(store.PreviousDoc{ID: "/a/prev/r0/0", MainID: "/a", Height: 0})

	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	doc := &store.NodeDocument{
		ID: "/a", Modified: 10, HasChildren: false,
		PrevRanges: map[string]store.RangeDescriptor{"r0": {Revision: "r0", Height: 0}},
	}
	require.NoError(t, b.PossiblyDeleted(context.Background(), doc, stats))
	require.NoError(t, b.RemoveDocuments(context.Background(), stats))

	assert.EqualValues(t, 1, stats.DeletedDocGCCount)
	assert.EqualValues(t, 0, stats.DeletedLeafDocGCCount)
	assert.EqualValues(t, 1, stats.DeletedPrevDocGCCount)
}

// TestBatcherDerivesFirstLevelPreviousIDsWithoutStoreEnumeration checks the
// AllFirstLevel fast path: previous-doc ids for a height-0-only range map are
// derived via store.PreviousIDFor rather than enumerated through
// AllPreviousDocs. The stored row's MainID deliberately does not name "/a",
// so enumeration by main id could not find it; only the derived id can.
func TestBatcherDerivesFirstLevelPreviousIDsWithoutStoreEnumeration(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 10, Deleted: true})
	derivedID := store.PreviousIDFor("/a", "r0", 0)
	mem.PutPrevDoc(store.PreviousDoc{ID: derivedID, MainID: "/not-a", Height: 0})

	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	doc := &store.NodeDocument{
		ID: "/a", Modified: 10,
		PrevRanges: map[string]store.RangeDescriptor{"r0": {Revision: "r0", Height: 0}},
	}
	require.NoError(t, b.PossiblyDeleted(context.Background(), doc, stats))
	require.NoError(t, b.RemoveDocuments(context.Background(), stats))

	assert.EqualValues(t, 1, stats.DeletedPrevDocGCCount)
	assert.False(t, mem.HasPrevDoc(derivedID))
}

// TestBatcherExcludesPreviousDocsOfRecreatedNonLeaf exercises the exact race
// the exclude set exists for: a non-leaf candidate is queued during
// collecting, then recreated before RemoveDocuments' conditional-remove pass
// runs. Its previous-doc ids must survive even though they were already
// queued into the previous-id set.
func TestBatcherExcludesPreviousDocsOfRecreatedNonLeaf(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 10, Deleted: true, HasChildren: true})
	prevID := store.PreviousIDFor("/a", "r0", 0)
	mem.PutPrevDoc(store.PreviousDoc{ID: prevID, MainID: "/a", Height: 0})

	b := newTestBatcher(t, mem, mem)
	stats := NewVersionGCStats()

	doc := &store.NodeDocument{
		ID: "/a", Modified: 10, HasChildren: true,
		PrevRanges: map[string]store.RangeDescriptor{"r0": {Revision: "r0", Height: 0}},
	}
	require.NoError(t, b.PossiblyDeleted(context.Background(), doc, stats))

	// Recreated concurrently: the main document is touched again with a new
	// modified timestamp, so the later conditional remove (keyed on the
	// stale timestamp captured above) will not match it.
	mem.PutNode(store.NodeDocument{ID: "/a", Modified: 99, Deleted: false, HasChildren: true,
		PrevRanges: map[string]store.RangeDescriptor{"r0": {Revision: "r0", Height: 0}}})

	require.NoError(t, b.RemoveDocuments(context.Background(), stats))

	assert.EqualValues(t, 0, stats.DeletedDocGCCount)
	assert.EqualValues(t, 0, stats.DeletedPrevDocGCCount)
	assert.EqualValues(t, 1, stats.RecreatedCount)
	assert.True(t, mem.HasNode("/a"))
	assert.True(t, mem.HasPrevDoc(prevID))
}
