// Package temporal provides bi-temporal validity bookkeeping for
// identified facts. An Index maps anchor ids to GroundingAnchors and
// keeps an append-only evolution log, so any past state of the index
// can be replayed.
package temporal

import (
	"sort"
	"time"

	"github.com/groundmem/groundmem/core"
)

// EventKind discriminates evolution log entries.
type EventKind string

const (
	EventAdded       EventKind = "added"
	EventInvalidated EventKind = "invalidated"
)

// Event is one entry of the evolution log.
type Event struct {
	Kind     EventKind `json:"kind"`
	AnchorID string    `json:"anchor_id"`
	At       time.Time `json:"at"`
}

// Index is the bi-temporal anchor registry. It is not safe for
// concurrent mutation; callers serialize access (one logical owner per
// engine instance).
type Index struct {
	anchors   map[string]*core.GroundingAnchor
	order     []string // insertion order, for deterministic queries
	evolution []Event
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{anchors: make(map[string]*core.GroundingAnchor)}
}

// Add registers an anchor under id. Zero timestamps and id collisions
// are rejected with a ValidationError and nothing is applied.
func (ix *Index) Add(id string, a *core.GroundingAnchor) error {
	if id == "" {
		return core.Validationf("id", "empty anchor id")
	}
	if _, exists := ix.anchors[id]; exists {
		return core.Validationf("id", "anchor %q already exists", id)
	}
	if a.EventTime.IsZero() {
		return core.Validationf("event_time", "zero timestamp")
	}
	if a.IngestionTime.IsZero() {
		return core.Validationf("ingestion_time", "zero timestamp")
	}
	a.ID = id
	ix.anchors[id] = a
	ix.order = append(ix.order, id)
	ix.evolution = append(ix.evolution, Event{Kind: EventAdded, AnchorID: id, At: a.IngestionTime})
	return nil
}

// Get returns the anchor for id.
func (ix *Index) Get(id string) (*core.GroundingAnchor, bool) {
	a, ok := ix.anchors[id]
	return a, ok
}

// Invalidate retires an anchor: sets the validity span's end and marks
// it invalid. The anchor itself is never deleted.
func (ix *Index) Invalidate(id string, end time.Time) error {
	a, ok := ix.anchors[id]
	if !ok {
		return core.Validationf("id", "unknown anchor %q", id)
	}
	if end.IsZero() {
		end = time.Now()
	}
	e := end
	a.Span.End = &e
	a.Span.Valid = false
	ix.evolution = append(ix.evolution, Event{Kind: EventInvalidated, AnchorID: id, At: end})
	return nil
}

// QueryAt returns the ids of all anchors known and valid at t: ingested
// by t, event happened by t, and validity span still open at t.
// Results are in insertion order.
func (ix *Index) QueryAt(t time.Time) []string {
	var ids []string
	for _, id := range ix.order {
		if ix.anchors[id].KnownAt(t) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Evolution returns the add/invalidate events whose timestamps fall in
// [start, end], in chronological order.
func (ix *Index) Evolution(start, end time.Time) []Event {
	var out []Event
	for _, ev := range ix.evolution {
		if ev.At.Before(start) || ev.At.After(end) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Len returns the number of registered anchors, retired ones included.
func (ix *Index) Len() int {
	return len(ix.anchors)
}

// IDs returns all anchor ids in insertion order.
func (ix *Index) IDs() []string {
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}
