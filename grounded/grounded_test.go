package grounded_test

import (
	"context"
	"strings"
	"testing"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/grounded"
	"github.com/groundmem/groundmem/persist"
)

func TestAddInteractionFeedsTiers(t *testing.T) {
	g := grounded.New(grounded.WithKnowledgeGraph())
	ctx := context.Background()
	g.SetCurrentUser("alice", "owner")

	if _, err := g.AddInteraction(ctx, "tell me about Go", "Go is a compiled language"); err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	if g.Working().Len() != 1 {
		t.Errorf("expected 1 working item, got %d", g.Working().Len())
	}
	if g.Episodic().Len() != 1 {
		t.Errorf("expected 1 episode, got %d", g.Episodic().Len())
	}
	p, ok := g.Profile("alice")
	if !ok || p.InteractionCount != 1 {
		t.Errorf("expected interaction count 1, got %+v", p)
	}
	// The agent output carried a copula fact for the graph.
	if g.Graph().EdgeCount() != 1 {
		t.Errorf("expected 1 extracted fact, got %d", g.Graph().EdgeCount())
	}
}

func TestSetCurrentUserKeepsRelationship(t *testing.T) {
	g := grounded.New()
	g.SetCurrentUser("alice", "owner")
	g.SetCurrentUser("alice", "stranger")

	p, _ := g.Profile("alice")
	if p.Relationship != "owner" {
		t.Errorf("relationship overwritten: %q", p.Relationship)
	}
}

func TestLearnAboutUserDebounce(t *testing.T) {
	g := grounded.New()
	g.SetCurrentUser("alice", "")

	for i := 0; i < grounded.DefaultCoreUpdateThreshold-1; i++ {
		g.LearnAboutUser("prefers dark mode", "alice")
	}
	if _, ok := g.Identity().Get("user_info"); ok {
		t.Fatal("identity edited below the debounce threshold")
	}
	// The profile itself learns immediately.
	p, _ := g.Profile("alice")
	if !p.Facts["prefers dark mode"] {
		t.Error("profile fact missing")
	}

	g.LearnAboutUser("prefers dark mode", "alice")
	b, ok := g.Identity().Get("user_info")
	if !ok {
		t.Fatal("identity not edited at the debounce threshold")
	}
	if !strings.Contains(b.Content, "alice: prefers dark mode") {
		t.Errorf("unexpected identity content: %q", b.Content)
	}

	// The counter cleared: repeating once more does not double-merge.
	g.LearnAboutUser("prefers dark mode", "alice")
	b, _ = g.Identity().Get("user_info")
	if strings.Count(b.Content, "prefers dark mode") != 1 {
		t.Errorf("duplicate merge after counter reset: %q", b.Content)
	}
}

func TestLearnAboutUserIsolatedPerUser(t *testing.T) {
	g := grounded.New(grounded.WithCoreUpdateThreshold(2))

	g.LearnAboutUser("likes jazz", "alice")
	g.LearnAboutUser("likes jazz", "bob")

	// One observation each: neither user crossed the threshold.
	if _, ok := g.Identity().Get("user_info"); ok {
		t.Fatal("debounce counters leaked across users")
	}

	g.LearnAboutUser("likes jazz", "alice")
	b, ok := g.Identity().Get("user_info")
	if !ok || !strings.Contains(b.Content, "alice: likes jazz") {
		t.Fatalf("expected alice's fact in identity, got %+v", b)
	}
	if strings.Contains(b.Content, "bob") {
		t.Errorf("bob's pending fact leaked into identity: %q", b.Content)
	}

	pa, _ := g.Profile("alice")
	pb, _ := g.Profile("bob")
	if !pa.Facts["likes jazz"] || !pb.Facts["likes jazz"] {
		t.Error("profile facts missing")
	}
}

func TestTrackFailurePattern(t *testing.T) {
	g := grounded.New()
	ctx := context.Background()

	g.TrackFailure(ctx, "rm -rf", "run without confirmation")
	g.TrackFailure(ctx, "rm -rf", "run without confirmation")
	if g.Semantic().FactCount() != 0 {
		t.Fatal("pattern derived below threshold")
	}

	g.TrackFailure(ctx, "rm -rf", "run without confirmation")
	got := g.Semantic().Retrieve(ctx, "tends to fail", 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 derived fact, got %d", len(got))
	}
	if !strings.Contains(got[0].Content, "rm -rf tends to fail when run without confirmation") {
		t.Errorf("unexpected derived fact: %q", got[0].Content)
	}
}

func TestTrackSuccessPattern(t *testing.T) {
	g := grounded.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.TrackSuccess(ctx, "incremental compile", "the cache is warm")
	}
	got := g.Semantic().Retrieve(ctx, "works well", 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 derived fact, got %d", len(got))
	}
}

func TestConsolidateMemories(t *testing.T) {
	g := grounded.New(grounded.WithValidationThreshold(1))
	ctx := context.Background()
	g.SetCurrentUser("alice", "")

	g.AddInteraction(ctx, "Go is a compiled language", "right")
	g.AddInteraction(ctx, "remember this", "ok")

	forwarded := g.ConsolidateMemories(ctx)
	if forwarded != 1 {
		t.Errorf("expected 1 forwarded item, got %d", forwarded)
	}
	// The copula statement landed in semantic memory.
	if got := g.Semantic().Retrieve(ctx, "compiled", 5); len(got) != 1 {
		t.Errorf("expected the copula fact in semantic memory, got %d", len(got))
	}
	// The concept index rebuilt as part of the sweep.
	if got := g.Semantic().ConceptNetwork("compiled"); len(got) != 1 {
		t.Errorf("expected concept index rebuilt, got %d", len(got))
	}
}

func TestConsolidateMemoriesIdempotentAcrossSweeps(t *testing.T) {
	g := grounded.New(grounded.WithValidationThreshold(1))
	ctx := context.Background()
	g.SetCurrentUser("alice", "")

	g.AddInteraction(ctx, "Go is a compiled language", "right")

	// The item stays in the working window, so every sweep re-forwards
	// it; the semantic tier must reinforce, not duplicate.
	for i := 0; i < 3; i++ {
		g.ConsolidateMemories(ctx)
	}
	if g.Semantic().FactCount() != 1 {
		t.Errorf("repeated sweeps duplicated the fact: %d copies", g.Semantic().FactCount())
	}
}

func TestUpdateCoreMemoryBypassesDebounce(t *testing.T) {
	g := grounded.New()
	if err := g.UpdateCoreMemory("persona", "terse and precise"); err != nil {
		t.Fatalf("UpdateCoreMemory failed: %v", err)
	}
	b, ok := g.Identity().Get("persona")
	if !ok || b.Content != "terse and precise" {
		t.Errorf("unexpected block: %+v", b)
	}
	if err := g.UpdateCoreMemory("", "anything"); !core.IsValidation(err) {
		t.Errorf("expected ValidationError for empty label, got %v", err)
	}
}

func TestFullContextSections(t *testing.T) {
	g := grounded.New(
		grounded.WithKnowledgeGraph(),
		grounded.WithValidationThreshold(1),
	)
	ctx := context.Background()
	g.SetCurrentUser("alice", "owner")

	g.UpdateCoreMemory("persona", "helpful assistant")
	g.AddInteraction(ctx, "what is Go", "Go is a compiled language")
	g.Semantic().Add(ctx, core.MemoryItem{Content: "Go is garbage collected", Confidence: 0.6})

	out := g.FullContext(ctx, "go", "alice", 5)
	for _, header := range []string{
		"=== USER ===", "=== IDENTITY ===", "=== KNOWN FACTS ===",
		"=== RECENT CONTEXT ===", "=== EPISODES ===", "=== RELATIONS ===",
	} {
		if !strings.Contains(out, header) {
			t.Errorf("missing section %s in:\n%s", header, out)
		}
	}
	// No persistence layer: the stored-interaction section is omitted.
	if strings.Contains(out, "=== PAST INTERACTIONS ===") {
		t.Errorf("unexpected stored section without persistence:\n%s", out)
	}
	if !strings.Contains(out, "User alice (owner, 1 interactions)") {
		t.Errorf("profile summary missing:\n%s", out)
	}
	// Fixed ordering: identity before facts, facts before recency.
	if strings.Index(out, "=== IDENTITY ===") > strings.Index(out, "=== KNOWN FACTS ===") {
		t.Error("sections out of order")
	}
}

func TestFullContextDefaultUser(t *testing.T) {
	g := grounded.New()
	ctx := context.Background()

	// No user was ever set: the exchange lands on the default profile
	// and an unscoped context read finds it.
	if _, err := g.AddInteraction(ctx, "hello there", "hi"); err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	out := g.FullContext(ctx, "hello", "", 5)
	if !strings.Contains(out, "=== USER ===") {
		t.Errorf("default profile missing from context:\n%s", out)
	}
	if !strings.Contains(out, "User default") {
		t.Errorf("expected the default user summary:\n%s", out)
	}
}

func TestFullContextNeverFailsEmpty(t *testing.T) {
	g := grounded.New()
	if out := g.FullContext(context.Background(), "anything", "ghost", 5); out != "" {
		t.Errorf("expected empty context for unknown user and empty tiers, got %q", out)
	}
}

func TestPersistedInteractionAndReflection(t *testing.T) {
	l, err := persist.New(t.TempDir())
	if err != nil {
		t.Fatalf("persist.New failed: %v", err)
	}
	g := grounded.New(grounded.WithPersistence(l))
	ctx := context.Background()
	g.SetCurrentUser("alice", "")

	// A learning marker fires the reflection policy.
	id, err := g.AddInteraction(ctx, "I'm a backend engineer", "good to know")
	if err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a persisted interaction id")
	}
	rec, err := l.GetInteraction(id)
	if err != nil {
		t.Fatalf("GetInteraction failed: %v", err)
	}
	if rec.UserInput != "I'm a backend engineer" {
		t.Errorf("record not verbatim: %q", rec.UserInput)
	}

	notes := l.NotesFor(id)
	if len(notes) != 1 {
		t.Fatalf("expected 1 linked note, got %d", len(notes))
	}
	note, err := l.GetNote(notes[0])
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if note.Trigger != "user-learning" {
		t.Errorf("expected user-learning trigger, got %q", note.Trigger)
	}
}

func TestStats(t *testing.T) {
	l, err := persist.New(t.TempDir())
	if err != nil {
		t.Fatalf("persist.New failed: %v", err)
	}
	g := grounded.New(
		grounded.WithKnowledgeGraph(),
		grounded.WithPersistence(l),
		grounded.WithWorkingCapacity(7),
	)
	ctx := context.Background()
	g.SetCurrentUser("alice", "")
	if _, err := g.AddInteraction(ctx, "hello", "Go is fun"); err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	st := g.Stats()
	if st.Users != 1 || st.WorkingItems != 1 || st.WorkingCapacity != 7 || st.Episodes != 1 {
		t.Errorf("unexpected tier counts: %+v", st)
	}
	if st.GraphEdges != 1 {
		t.Errorf("expected 1 graph edge, got %d", st.GraphEdges)
	}
	if st.Storage == nil || st.Storage.Interactions != 1 {
		t.Errorf("expected storage stats with 1 interaction, got %+v", st.Storage)
	}
}

func TestSnapshotsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := persist.New(dir)
	if err != nil {
		t.Fatalf("persist.New failed: %v", err)
	}
	ctx := context.Background()

	g := grounded.New(grounded.WithPersistence(l), grounded.WithValidationThreshold(1))
	g.SetCurrentUser("alice", "owner")
	g.UpdateCoreMemory("persona", "helpful assistant")
	g.Semantic().Add(ctx, core.MemoryItem{Content: "Go is compiled", Confidence: 0.6})
	g.LearnAboutUser("likes jazz", "alice")
	if err := g.SaveSnapshots(); err != nil {
		t.Fatalf("SaveSnapshots failed: %v", err)
	}

	reopened, err := persist.New(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	restored := grounded.New(grounded.WithPersistence(reopened))
	if err := restored.LoadSnapshots(); err != nil {
		t.Fatalf("LoadSnapshots failed: %v", err)
	}

	b, ok := restored.Identity().Get("persona")
	if !ok || b.Content != "helpful assistant" {
		t.Errorf("identity lost across snapshot: %+v", b)
	}
	if restored.Semantic().FactCount() != 1 {
		t.Errorf("semantic facts lost: %d", restored.Semantic().FactCount())
	}
	p, ok := restored.Profile("alice")
	if !ok || !p.Facts["likes jazz"] {
		t.Errorf("profile lost across snapshot: %+v", p)
	}
}
