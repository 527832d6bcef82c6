// Package core defines the shared leaf types of the memory engine:
// memory items, grounding anchors, relational context, user profiles,
// and the error taxonomy. Every other package depends on core; core
// depends on nothing.
package core

import (
	"time"
)

// MemoryItem is the unit of content flowing through the memory tiers.
//
// EventTime is when the fact became true in the world; IngestionTime is
// when the system learned it. The two axes are never collapsed:
// backfilled knowledge (IngestionTime < EventTime is legal in either
// direction) is supported, and any "as known at time T" query must
// exclude items not yet ingested at T.
type MemoryItem struct {
	Content       string         `json:"content"`
	EventTime     time.Time      `json:"event_time"`
	IngestionTime time.Time      `json:"ingestion_time"`
	Confidence    float64        `json:"confidence"` // [0.0-1.0]
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ValiditySpan is the window during which a fact is considered current.
// End == nil means currently valid.
type ValiditySpan struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
	Valid bool       `json:"valid"`
}

// Contains reports whether t falls inside the span ([Start, End)).
func (s ValiditySpan) Contains(t time.Time) bool {
	if t.Before(s.Start) {
		return false
	}
	return s.End == nil || s.End.After(t)
}

// Overlaps reports whether two spans share any instant. Open-ended
// spans extend to infinity.
func (s ValiditySpan) Overlaps(other ValiditySpan) bool {
	if s.End != nil && !s.End.After(other.Start) {
		return false
	}
	if other.End != nil && !other.End.After(s.Start) {
		return false
	}
	return true
}

// RelationalContext attributes a memory to who said it and in what
// setting.
type RelationalContext struct {
	UserID       string `json:"user_id"`
	AgentID      string `json:"agent_id"`
	Relationship string `json:"relationship"`
	SessionID    string `json:"session_id"`
}

// SystemRelation is the default attribution for memories recorded
// without a caller-supplied relational context.
func SystemRelation() RelationalContext {
	return RelationalContext{
		UserID:       "system",
		AgentID:      "system",
		Relationship: "system",
	}
}

// GroundingAnchor wraps a MemoryItem with full temporal and relational
// grounding. Anchors are append-only: retiring one sets Span.End and
// Span.Valid=false, it is never deleted.
type GroundingAnchor struct {
	ID            string            `json:"id"`
	Item          MemoryItem        `json:"item"`
	EventTime     time.Time         `json:"event_time"`
	IngestionTime time.Time         `json:"ingestion_time"`
	Span          ValiditySpan      `json:"span"`
	Relational    RelationalContext `json:"relational"`
	Confidence    float64           `json:"confidence"`
}

// KnownAt reports whether the anchor is visible to a query evaluated at
// time t: ingested by t, its event has happened by t, and its validity
// span still covers t.
func (a *GroundingAnchor) KnownAt(t time.Time) bool {
	if a.IngestionTime.After(t) || a.EventTime.After(t) {
		return false
	}
	return a.Span.End == nil || a.Span.End.After(t)
}
