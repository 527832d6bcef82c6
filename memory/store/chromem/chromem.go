// Package chromem implements the VectorStore boundary on chromem-go,
// a pure Go embedded vector database. All data lives in process memory;
// use the sqvect backend when the mirror must survive restarts.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/groundmem/groundmem/memory"
)

// Store wraps a chromem-go collection per payload namespace.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ memory.VectorStore = (*Store)(nil)

// New creates an in-memory chromem store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collectionFor namespaces vectors by the payload's user field so one
// user's memories never rank against another's.
func (s *Store) collectionFor(user string) (*chromem.Collection, error) {
	name := "global"
	if user != "" {
		name = "user_" + user
	}

	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[name]; exists {
		return col, nil
	}
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert stores a vector with its payload as document metadata.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	col, err := s.collectionFor(payload["user"])
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        id,
		Content:   payload["content"],
		Embedding: vector,
		Metadata:  payload,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// searchTargets resolves the collections a query must visit: the one
// user namespace when the filter names a user, otherwise every
// collection, so an unscoped search spans all users.
func (s *Store) searchTargets(user string) ([]*chromem.Collection, error) {
	if user != "" {
		col, err := s.collectionFor(user)
		if err != nil {
			return nil, err
		}
		return []*chromem.Collection{col}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols := make([]*chromem.Collection, 0, len(s.collections))
	for _, col := range s.collections {
		cols = append(cols, col)
	}
	return cols, nil
}

// queryCollection runs one collection query. chromem requires
// nResults <= collection size; back off until the query fits or the
// collection proves empty.
func queryCollection(ctx context.Context, col *chromem.Collection, vector []float32, k int, filter map[string]string) ([]chromem.Result, error) {
	for limit := k; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, vector, limit, filter, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
	}
	return nil, nil
}

// Search returns the k nearest vectors whose payload matches filter. A
// filter without a user entry fans out across every collection and
// merges the per-collection results by similarity.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]memory.Hit, error) {
	cols, err := s.searchTargets(filter["user"])
	if err != nil {
		return nil, err
	}

	var hits []memory.Hit
	for _, col := range cols {
		results, err := queryCollection(ctx, col, vector, k, filter)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			hits = append(hits, memory.Hit{
				ID:      r.ID,
				Score:   float64(r.Similarity),
				Payload: r.Metadata,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	log.Printf("[CHROMEM] query returned %d hits", len(hits))
	return hits, nil
}

// Close is a no-op; chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
