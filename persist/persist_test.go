package persist_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/memory"
	"github.com/groundmem/groundmem/memory/embedder/mock"
	"github.com/groundmem/groundmem/persist"
)

// memoryMirror is a minimal in-process VectorStore for exercising the
// dual-write path without a real backend.
type memoryMirror struct {
	vectors  map[string][]float32
	payloads map[string]map[string]string
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{
		vectors:  make(map[string][]float32),
		payloads: make(map[string]map[string]string),
	}
}

func (m *memoryMirror) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	m.vectors[id] = vector
	m.payloads[id] = payload
	return nil
}

func (m *memoryMirror) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]memory.Hit, error) {
	var hits []memory.Hit
	for id, vec := range m.vectors {
		match := true
		for key, want := range filter {
			if m.payloads[id][key] != want {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		hits = append(hits, memory.Hit{ID: id, Score: memory.CosineSimilarity(vector, vec), Payload: m.payloads[id]})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memoryMirror) Close() error { return nil }

func newLayer(t *testing.T) *persist.Layer {
	t.Helper()
	l, err := persist.New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func TestSaveInteractionVerbatim(t *testing.T) {
	dir := t.TempDir()
	l, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	input := "I'm Alice and I  keep	odd   whitespace\n"
	response := "Nice to meet you, Alice."
	id, err := l.SaveInteraction(ctx, "alice", time.Now(), input, response, "introductions", nil)
	if err != nil {
		t.Fatalf("SaveInteraction failed: %v", err)
	}

	rec, err := l.GetInteraction(id)
	if err != nil {
		t.Fatalf("GetInteraction failed: %v", err)
	}
	// Byte-for-byte: no trimming, no normalization.
	if rec.UserInput != input || rec.AgentResponse != response {
		t.Errorf("record not verbatim:\n got %q / %q", rec.UserInput, rec.AgentResponse)
	}

	// The record on disk is human-readable JSON under the user/date tree.
	matches, _ := filepath.Glob(filepath.Join(dir, "interactions", "alice", "*", "*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 record file, found %d", len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var onDisk persist.VerbatimInteraction
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	if onDisk.UserInput != input {
		t.Errorf("on-disk record diverged: %q", onDisk.UserInput)
	}
}

func TestSaveInteractionRequiresUser(t *testing.T) {
	l := newLayer(t)
	if _, err := l.SaveInteraction(context.Background(), "", time.Now(), "hi", "hello", "", nil); !core.IsValidation(err) {
		t.Errorf("expected ValidationError for empty user, got %v", err)
	}
}

func TestLinkInteractionToNote(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()

	iid, err := l.SaveInteraction(ctx, "alice", time.Now(), "I always use vim", "noted", "tools", nil)
	if err != nil {
		t.Fatalf("SaveInteraction failed: %v", err)
	}
	nid, err := l.SaveNote(ctx, persist.ExperientialNote{
		UserID:        "alice",
		InteractionID: iid,
		Reflection:    "user has a strong editor preference",
		Trigger:       "user-learning",
	})
	if err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}

	if err := l.LinkInteractionToNote(iid, nid); err != nil {
		t.Fatalf("LinkInteractionToNote failed: %v", err)
	}
	notes := l.NotesFor(iid)
	if len(notes) != 1 || notes[0] != nid {
		t.Errorf("expected back-reference to %s, got %v", nid, notes)
	}

	if err := l.LinkInteractionToNote("missing", nid); !core.IsValidation(err) {
		t.Errorf("expected ValidationError for unknown interaction, got %v", err)
	}
	if err := l.LinkInteractionToNote(iid, "missing"); !core.IsValidation(err) {
		t.Errorf("expected ValidationError for unknown note, got %v", err)
	}
	// Linking a note id as the interaction side must fail too.
	if err := l.LinkInteractionToNote(nid, nid); !core.IsValidation(err) {
		t.Errorf("expected ValidationError for kind mismatch, got %v", err)
	}
}

func TestSearchInteractionsKeyword(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()

	l.SaveInteraction(ctx, "alice", time.Now().Add(-2*time.Minute), "tell me about goroutines", "they are cheap threads", "go", nil)
	l.SaveInteraction(ctx, "alice", time.Now().Add(-time.Minute), "what about channels", "typed conduits", "go", nil)
	l.SaveInteraction(ctx, "bob", time.Now(), "goroutines again", "sure", "go", nil)

	got, err := l.SearchInteractions(ctx, "goroutines", persist.SearchOptions{UserID: "alice"})
	if err != nil {
		t.Fatalf("SearchInteractions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 hit scoped to alice, got %d", len(got))
	}
	if got[0].UserID != "alice" {
		t.Errorf("user scope leaked: %+v", got[0])
	}

	// Topic matches count as hits as well.
	got, err = l.SearchInteractions(ctx, "go", persist.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchInteractions failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 topic hits, got %d", len(got))
	}
}

func TestSearchWithMirror(t *testing.T) {
	l, err := persist.New(t.TempDir(), persist.WithMirror(newMemoryMirror(), mock.New()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	l.SaveInteraction(ctx, "alice", time.Now(), "I love static typing", "me too", "types", nil)
	l.SaveInteraction(ctx, "alice", time.Now(), "dinner was great", "glad to hear", "food", nil)

	got, err := l.SearchInteractions(ctx, "I love static typing", persist.SearchOptions{UserID: "alice", Limit: 1})
	if err != nil {
		t.Fatalf("SearchInteractions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(got))
	}
	if !strings.Contains(got[0].UserInput, "static typing") {
		t.Errorf("expected the semantically matching record first, got %q", got[0].UserInput)
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	iid, _ := l.SaveInteraction(ctx, "alice", time.Now(), "hello", "hi", "greeting", nil)
	nid, _ := l.SaveNote(ctx, persist.ExperientialNote{UserID: "alice", Reflection: "greeted", Trigger: "periodic"})
	if err := l.LinkInteractionToNote(iid, nid); err != nil {
		t.Fatalf("LinkInteractionToNote failed: %v", err)
	}

	reopened, err := persist.New(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := reopened.GetInteraction(iid); err != nil {
		t.Errorf("interaction lost across reopen: %v", err)
	}
	if _, err := reopened.GetNote(nid); err != nil {
		t.Errorf("note lost across reopen: %v", err)
	}
	if notes := reopened.NotesFor(iid); len(notes) != 1 {
		t.Errorf("link lost across reopen: %v", notes)
	}
}

func TestRebuildIndexFromRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	iid, _ := l.SaveInteraction(ctx, "alice", time.Now(), "hello", "hi", "greeting", nil)
	nid, _ := l.SaveNote(ctx, persist.ExperientialNote{UserID: "alice", Reflection: "greeted", Trigger: "periodic"})
	l.LinkInteractionToNote(iid, nid)

	// Corrupt the index; reopening must rebuild it from the records.
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}
	reopened, err := persist.New(dir)
	if err != nil {
		t.Fatalf("reopen after corruption failed: %v", err)
	}
	if _, err := reopened.GetInteraction(iid); err != nil {
		t.Errorf("interaction missing after rebuild: %v", err)
	}
	if notes := reopened.NotesFor(iid); len(notes) != 1 || notes[0] != nid {
		t.Errorf("link back-reference missing after rebuild: %v", notes)
	}

	st := reopened.Stats()
	if st.Interactions != 1 || st.Notes != 1 || st.Links != 1 {
		t.Errorf("unexpected stats after rebuild: %+v", st)
	}
	if st.StorageBytes == 0 {
		t.Error("expected non-zero storage size")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newLayer(t)

	if data, err := l.LoadSnapshot("semantic"); err != nil || data != nil {
		t.Fatalf("missing snapshot should be (nil, nil), got %v / %v", data, err)
	}
	want := []byte(`{"facts":1}`)
	if err := l.SaveSnapshot("semantic", want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	got, err := l.LoadSnapshot("semantic")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("snapshot round-trip mismatch: %s", got)
	}
}
