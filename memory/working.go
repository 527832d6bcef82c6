package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
)

// DefaultWorkingCapacity is the working-memory window size.
const DefaultWorkingCapacity = 10

type workingEntry struct {
	id   string
	item core.MemoryItem
}

// WorkingMemory is a capacity-bounded recency buffer. It is a FIFO
// window, not an LRU cache: eviction is a pure function of age, no
// importance scoring happens in this tier. Importance-based retention
// is the orchestrator's job, done before the buffer evicts.
type WorkingMemory struct {
	capacity int
	items    []workingEntry
}

// NewWorking creates a working-memory buffer. capacity <= 0 selects
// DefaultWorkingCapacity.
func NewWorking(capacity int) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &WorkingMemory{capacity: capacity}
}

// Add appends an item. When the buffer exceeds capacity, Consolidate
// runs and evicts the oldest entries.
func (w *WorkingMemory) Add(ctx context.Context, item core.MemoryItem) (string, error) {
	id := uuid.New().String()
	w.items = append(w.items, workingEntry{id: id, item: item})
	if len(w.items) > w.capacity {
		w.Consolidate()
	}
	return id, nil
}

// Consolidate evicts roughly the oldest half of the buffer and returns
// the count removed.
func (w *WorkingMemory) Consolidate() int {
	if len(w.items) == 0 {
		return 0
	}
	n := len(w.items) / 2
	if n == 0 {
		n = 1
	}
	w.items = w.items[n:]
	return n
}

// Retrieve returns up to limit items whose content contains query
// (case-insensitive), most recently added first. An empty query matches
// everything.
func (w *WorkingMemory) Retrieve(ctx context.Context, query string, limit int) []core.MemoryItem {
	q := strings.ToLower(query)
	var out []core.MemoryItem
	for i := len(w.items) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if q == "" || strings.Contains(strings.ToLower(w.items[i].item.Content), q) {
			out = append(out, w.items[i].item)
		}
	}
	return out
}

// ContextWindow returns the full current buffer in insertion order.
func (w *WorkingMemory) ContextWindow() []core.MemoryItem {
	out := make([]core.MemoryItem, len(w.items))
	for i, e := range w.items {
		out[i] = e.item
	}
	return out
}

// Len returns the current buffer size.
func (w *WorkingMemory) Len() int {
	return len(w.items)
}

// Capacity returns the configured window size.
func (w *WorkingMemory) Capacity() int {
	return w.capacity
}
