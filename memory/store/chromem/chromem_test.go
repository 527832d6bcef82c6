package chromem_test

import (
	"context"
	"testing"

	"github.com/groundmem/groundmem/memory/embedder/mock"
	"github.com/groundmem/groundmem/memory/store/chromem"
)

func TestUpsertAndSearchPerUser(t *testing.T) {
	s, err := chromem.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	emb := mock.New()

	embed := func(text string) []float32 {
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		return vec
	}

	aliceDoc := "alice talked about goroutines"
	if err := s.Upsert(ctx, "i1", embed(aliceDoc), map[string]string{
		"user": "alice", "kind": "interaction", "content": aliceDoc,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, "i2", embed("bob talked about channels"), map[string]string{
		"user": "bob", "kind": "interaction", "content": "bob talked about channels",
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Searching alice's namespace never surfaces bob's vectors, even
	// when asking for more results than alice has.
	hits, err := s.Search(ctx, embed(aliceDoc), 5, map[string]string{
		"user": "alice", "kind": "interaction",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit in alice's namespace, got %d", len(hits))
	}
	if hits[0].ID != "i1" {
		t.Errorf("expected i1, got %s", hits[0].ID)
	}
	if hits[0].Payload["content"] != aliceDoc {
		t.Errorf("payload lost: %+v", hits[0].Payload)
	}
}

func TestUnscopedSearchSpansUsers(t *testing.T) {
	s, err := chromem.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	emb := mock.New()

	for _, doc := range []struct{ id, user, content string }{
		{"i1", "alice", "alice talked about goroutines"},
		{"i2", "bob", "bob talked about channels"},
	} {
		vec, _ := emb.Embed(ctx, doc.content)
		if err := s.Upsert(ctx, doc.id, vec, map[string]string{
			"user": doc.user, "kind": "interaction", "content": doc.content,
		}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	// No user in the filter: the search must cover every namespace.
	qvec, _ := emb.Embed(ctx, "talked about concurrency")
	hits, err := s.Search(ctx, qvec, 5, map[string]string{"kind": "interaction"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected hits from both users, got %d", len(hits))
	}
	seen := map[string]bool{}
	for _, h := range hits {
		seen[h.Payload["user"]] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("expected both users represented, got %v", seen)
	}
}

func TestSearchEmptyNamespace(t *testing.T) {
	s, err := chromem.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	emb := mock.New()
	vec, _ := emb.Embed(context.Background(), "anything")
	hits, err := s.Search(context.Background(), vec, 3, map[string]string{"user": "ghost"})
	if err != nil {
		t.Fatalf("Search on empty namespace failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}
