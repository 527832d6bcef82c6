// Package sqvect implements the VectorStore boundary on sqvect v2, a
// SQLite-file vector database. Unlike the chromem backend, the index
// survives process restarts, which makes it the natural mirror for the
// persistence layer.
package sqvect

import (
	"context"
	"fmt"

	sqcore "github.com/liliang-cn/sqvect/v2/pkg/core"
	sqvect "github.com/liliang-cn/sqvect/v2/pkg/sqvect"

	"github.com/groundmem/groundmem/memory"
)

// Store wraps a sqvect database file.
type Store struct {
	db *sqvect.DB
}

var _ memory.VectorStore = (*Store)(nil)

// Open opens or creates a vector database at path. dimensions may be 0
// for auto-detection from the first vector.
func Open(path string, dimensions int) (*Store, error) {
	cfg := sqvect.DefaultConfig(path)
	cfg.Dimensions = dimensions
	db, err := sqvect.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqvect db: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert stores a vector with its payload as metadata.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	emb := &sqcore.Embedding{
		ID:       id,
		Vector:   vector,
		Content:  payload["content"],
		Metadata: payload,
	}
	if err := s.db.Vector().Upsert(ctx, emb); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Search returns the k nearest vectors whose metadata matches filter.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]memory.Hit, error) {
	opts := sqcore.SearchOptions{
		TopK:   k,
		Filter: filter,
	}
	results, err := s.db.Vector().Search(ctx, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("sqvect search: %w", err)
	}
	hits := make([]memory.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.Hit{
			ID:      r.ID,
			Score:   r.Score,
			Payload: r.Metadata,
		})
	}
	return hits, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
