package gc

import (
	"bufio"
	"container/heap"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Comparator orders two ids for the external sort. It must be deterministic
// and total; ties are permitted.
type Comparator func(a, b string) int

// NodeDocumentIDComparator orders ids the way the document store's
// path-depth encoding does: shallower paths sort before deeper ones, and
// ids at the same depth sort lexicographically. This keeps an ancestor's
// composite id ahead of its descendants' in the merged sequence.
func NodeDocumentIDComparator(a, b string) int {
	da, db := strings.Count(a, "/"), strings.Count(b, "/")
	if da != db {
		if da < db {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// ExternalSort appends identifier strings, transparently spilling to sorted
// runs on disk once the in-memory buffer exceeds the overflow threshold,
// and produces a single ascending sequence over everything appended.
//
// Not safe for concurrent use; the garbage collector drives it from a
// single goroutine per run.
type ExternalSort struct {
	cmp        Comparator
	threshold  int
	scratchDir string

	mu     sync.Mutex
	buf    []string
	runs   []string
	size   int
	sorted bool
	closed bool
}

// NewExternalSort returns a sort that spills to scratchDir once more than
// threshold elements are buffered in memory.
func NewExternalSort(cmp Comparator, threshold int, scratchDir string) *ExternalSort {
	return &ExternalSort{
		cmp:        cmp,
		threshold:  threshold,
		scratchDir: scratchDir,
	}
}

// Add appends id, spilling the current buffer to a sorted run file if the
// threshold is exceeded.
func (s *ExternalSort) Add(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sorted {
		return fmt.Errorf("revisiongc: Add called after Sort")
	}
	s.buf = append(s.buf, id)
	s.size++
	if len(s.buf) > s.threshold {
		return s.spillLocked()
	}
	return nil
}

// Size reports the total number of ids appended so far (including any
// already spilled to disk).
func (s *ExternalSort) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *ExternalSort) spillLocked() error {
	sort.Slice(s.buf, func(i, j int) bool { return s.cmp(s.buf[i], s.buf[j]) < 0 })

	f, err := os.CreateTemp(s.scratchDir, "revisiongc-run-*.txt")
	if err != nil {
		return &SortIOError{Op: "spill: create temp file", Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, id := range s.buf {
		if _, err := w.WriteString(id); err != nil {
			return &SortIOError{Op: "spill: write", Err: err}
		}
		if err := w.WriteByte('\n'); err != nil {
			return &SortIOError{Op: "spill: write", Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		return &SortIOError{Op: "spill: flush", Err: err}
	}

	s.runs = append(s.runs, f.Name())
	s.buf = s.buf[:0]
	return nil
}

// Sort finalizes the structure so Ids can be called. Idempotent.
func (s *ExternalSort) Sort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted {
		return nil
	}
	if len(s.runs) > 0 && len(s.buf) > 0 {
		// Flush the remainder as a final run so Ids only ever merges runs.
		if err := s.spillLocked(); err != nil {
			return err
		}
	} else {
		sort.Slice(s.buf, func(i, j int) bool { return s.cmp(s.buf[i], s.buf[j]) < 0 })
	}
	s.sorted = true
	return nil
}

// Close removes any spill files. Close-time errors are swallowed; callers
// that care should check the filesystem themselves.
func (s *ExternalSort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, path := range s.runs {
		_ = os.Remove(path)
	}
	return nil
}

// heapItem is one run's current head, tracked for the k-way merge.
type heapItem struct {
	id      string
	runIdx  int
	scanner *bufio.Scanner
}

type mergeHeap struct {
	items []*heapItem
	cmp   Comparator
}

func (h *mergeHeap) Len() int            { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool  { return h.cmp(h.items[i].id, h.items[j].id) < 0 }
func (h *mergeHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)          { h.items = append(h.items, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// idCursor is the lazy ascending sequence produced by Ids.
type idCursor struct {
	// in-memory path: used when nothing was ever spilled.
	mem   []string
	memI  int
	isMem bool

	// disk path: k-way merge across run files.
	files []*os.File
	h     *mergeHeap
}

// Next advances the cursor, returning the next id in ascending order.
func (c *idCursor) Next() (string, bool, error) {
	if c.isMem {
		if c.memI >= len(c.mem) {
			return "", false, nil
		}
		id := c.mem[c.memI]
		c.memI++
		return id, true, nil
	}

	if c.h.Len() == 0 {
		return "", false, nil
	}
	top := heap.Pop(c.h).(*heapItem)
	id := top.id
	if top.scanner.Scan() {
		top.id = top.scanner.Text()
		heap.Push(c.h, top)
	} else if err := top.scanner.Err(); err != nil {
		return "", false, &SortIOError{Op: "merge: scan run", Err: err}
	}
	return id, true, nil
}

// Close releases any open run files.
func (c *idCursor) Close() error {
	for _, f := range c.files {
		_ = f.Close()
	}
	return nil
}

// Ids returns a lazy, single-pass ascending sequence over every id ever
// appended. Sort must have been called first.
func (s *ExternalSort) Ids() (*idCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sorted {
		return nil, fmt.Errorf("revisiongc: Ids called before Sort")
	}

	if len(s.runs) == 0 {
		return &idCursor{mem: s.buf, isMem: true}, nil
	}

	h := &mergeHeap{cmp: s.cmp}
	var files []*os.File
	for i, path := range s.runs {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			return nil, &SortIOError{Op: "merge: open run", Err: err}
		}
		files = append(files, f)

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		if sc.Scan() {
			heap.Push(h, &heapItem{id: sc.Text(), runIdx: i, scanner: sc})
		} else if err := sc.Err(); err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			return nil, &SortIOError{Op: "merge: scan run", Err: err}
		}
	}

	return &idCursor{files: files, h: h}, nil
}
