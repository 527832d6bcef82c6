package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/temporal"
)

// EpisodicMemory is the append-only archive of what happened. Every
// episode is wrapped in a GroundingAnchor and indexed by event time.
// There is no eviction: this tier is intentionally unbounded.
type EpisodicMemory struct {
	index *temporal.Index
}

// NewEpisodic creates an empty episodic archive.
func NewEpisodic() *EpisodicMemory {
	return &EpisodicMemory{index: temporal.NewIndex()}
}

// Add archives an item attributed to the system user. Use AddGrounded
// to attribute episodes to a real relational context.
func (e *EpisodicMemory) Add(ctx context.Context, item core.MemoryItem) (string, error) {
	return e.AddGrounded(ctx, item, core.SystemRelation())
}

// AddGrounded archives an item with the caller's relational context.
// A zero relational context falls back to the system user.
func (e *EpisodicMemory) AddGrounded(ctx context.Context, item core.MemoryItem, rel core.RelationalContext) (string, error) {
	if rel.UserID == "" {
		rel = core.SystemRelation()
	}
	if item.EventTime.IsZero() {
		item.EventTime = time.Now()
	}
	if item.IngestionTime.IsZero() {
		item.IngestionTime = time.Now()
	}
	anchor := &core.GroundingAnchor{
		Item:          item,
		EventTime:     item.EventTime,
		IngestionTime: item.IngestionTime,
		Span:          core.ValiditySpan{Start: item.EventTime, Valid: true},
		Relational:    rel,
		Confidence:    item.Confidence,
	}
	id := uuid.New().String()
	if err := e.index.Add(id, anchor); err != nil {
		return "", err
	}
	return id, nil
}

// Retrieve returns up to limit episodes whose content contains query
// (case-insensitive), in insertion order.
func (e *EpisodicMemory) Retrieve(ctx context.Context, query string, limit int) []core.MemoryItem {
	q := strings.ToLower(query)
	var out []core.MemoryItem
	for _, id := range e.index.IDs() {
		if limit > 0 && len(out) >= limit {
			break
		}
		a, _ := e.index.Get(id)
		if q == "" || strings.Contains(strings.ToLower(a.Item.Content), q) {
			out = append(out, a.Item)
		}
	}
	return out
}

// EpisodesBetween returns episodes whose event time falls in
// [start, end], sorted ascending by event time.
func (e *EpisodicMemory) EpisodesBetween(start, end time.Time) []core.MemoryItem {
	var out []core.MemoryItem
	for _, id := range e.index.IDs() {
		a, _ := e.index.Get(id)
		if a.EventTime.Before(start) || a.EventTime.After(end) {
			continue
		}
		out = append(out, a.Item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out
}

// Len returns the number of archived episodes.
func (e *EpisodicMemory) Len() int {
	return e.index.Len()
}
