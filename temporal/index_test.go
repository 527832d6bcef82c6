package temporal_test

import (
	"testing"
	"time"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/temporal"
)

func anchorAt(event, ingested time.Time) *core.GroundingAnchor {
	return &core.GroundingAnchor{
		Item:          core.MemoryItem{Content: "fact", EventTime: event, IngestionTime: ingested},
		EventTime:     event,
		IngestionTime: ingested,
		Span:          core.ValiditySpan{Start: event, Valid: true},
		Relational:    core.SystemRelation(),
		Confidence:    0.5,
	}
}

func TestQueryAtExcludesFutureKnowledge(t *testing.T) {
	ix := temporal.NewIndex()

	event := time.Now().Add(-48 * time.Hour)
	ingested := time.Now().Add(-1 * time.Hour)
	if err := ix.Add("a1", anchorAt(event, ingested)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The event had happened, but the system had not learned it yet.
	between := time.Now().Add(-24 * time.Hour)
	if ids := ix.QueryAt(between); len(ids) != 0 {
		t.Errorf("expected no knowledge from the future, got %v", ids)
	}

	if ids := ix.QueryAt(time.Now()); len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("expected [a1] once ingested, got %v", ids)
	}
}

func TestQueryAtExcludesEventsNotYetHappened(t *testing.T) {
	ix := temporal.NewIndex()

	// Backfilled knowledge about a future event: ingested now, event
	// tomorrow.
	event := time.Now().Add(24 * time.Hour)
	if err := ix.Add("a1", anchorAt(event, time.Now())); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if ids := ix.QueryAt(time.Now()); len(ids) != 0 {
		t.Errorf("expected no facts before their event time, got %v", ids)
	}
}

func TestInvalidateRetiresWithoutDeleting(t *testing.T) {
	ix := temporal.NewIndex()

	event := time.Now().Add(-2 * time.Hour)
	if err := ix.Add("a1", anchorAt(event, event)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	end := time.Now().Add(-1 * time.Hour)
	if err := ix.Invalidate("a1", end); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if ids := ix.QueryAt(time.Now()); len(ids) != 0 {
		t.Errorf("retired anchor still visible: %v", ids)
	}
	// Still present in history.
	if _, ok := ix.Get("a1"); !ok {
		t.Error("retired anchor was deleted")
	}
	// And visible when querying before retirement.
	if ids := ix.QueryAt(end.Add(-time.Minute)); len(ids) != 1 {
		t.Errorf("anchor not visible during its validity window: %v", ids)
	}
}

func TestAddValidation(t *testing.T) {
	ix := temporal.NewIndex()
	now := time.Now()

	if err := ix.Add("", anchorAt(now, now)); !core.IsValidation(err) {
		t.Errorf("empty id: expected ValidationError, got %v", err)
	}
	if err := ix.Add("a1", anchorAt(time.Time{}, now)); !core.IsValidation(err) {
		t.Errorf("zero event time: expected ValidationError, got %v", err)
	}
	if err := ix.Add("a1", anchorAt(now, now)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ix.Add("a1", anchorAt(now, now)); !core.IsValidation(err) {
		t.Errorf("id collision: expected ValidationError, got %v", err)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 anchor after rejections, got %d", ix.Len())
	}
}

func TestEvolutionIsChronological(t *testing.T) {
	ix := temporal.NewIndex()

	t0 := time.Now().Add(-3 * time.Hour)
	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)

	ix.Add("a1", anchorAt(t0, t0))
	ix.Add("a2", anchorAt(t1, t1))
	ix.Invalidate("a1", t2)

	events := ix.Evolution(time.Now().Add(-4*time.Hour), time.Now())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []temporal.EventKind{temporal.EventAdded, temporal.EventAdded, temporal.EventInvalidated}
	for i, ev := range events {
		if ev.Kind != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Kind)
		}
		if i > 0 && ev.At.Before(events[i-1].At) {
			t.Errorf("event %d out of order", i)
		}
	}

	// Window filtering.
	if events := ix.Evolution(t1.Add(-time.Minute), t1.Add(time.Minute)); len(events) != 1 {
		t.Errorf("expected 1 event in narrow window, got %d", len(events))
	}
}
