// Package memory implements the tiered memory components: a bounded
// working-memory window, an occurrence-validated semantic store, an
// append-only episodic archive, and the bounded core identity store.
//
// The tiers share capability interfaces rather than a single fat
// abstraction: callers branch on interface presence, not attribute
// probing. Embedding and vector search are injected boundary
// interfaces; absence is a fully supported keyword-only configuration,
// not a degraded error state.
package memory

import (
	"context"
	"math"

	"github.com/groundmem/groundmem/core"
)

// Tier is the minimal capability every memory tier implements.
type Tier interface {
	// Add stores an item and returns its id. Tiers with admission
	// policies (SemanticMemory) return an empty id for items not yet
	// admitted.
	Add(ctx context.Context, item core.MemoryItem) (string, error)

	// Retrieve returns up to limit items matching query. Never errors:
	// retrieval degrades to keyword matching when embeddings are
	// unavailable.
	Retrieve(ctx context.Context, query string, limit int) []core.MemoryItem
}

// Consolidator is implemented by tiers with a consolidation pass
// (eviction, index building). Returns a tier-defined count: items
// evicted or concepts indexed.
type Consolidator interface {
	Consolidate() int
}

// Snapshotter is implemented by components whose state can be saved
// wholesale to the persistence layer and restored on startup.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Embedder converts text to vector embeddings. Implementations must be
// deterministic for identical input.
//
// Implementations: mock (hash-based, offline), cached (ristretto
// decorator), onnx (local all-MiniLM model, build tag "onnx").
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Hit is one vector search result.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// VectorStore is the nearest-neighbor index boundary. Implementations:
// chromem (in-process, pure Go), sqvect (SQLite file).
type VectorStore interface {
	// Upsert stores or replaces a vector with its payload.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error

	// Search returns the k nearest vectors, optionally restricted to
	// payloads matching every key/value in filter.
	Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error)

	// Close releases resources.
	Close() error
}

// CosineSimilarity computes the cosine of the angle between two
// vectors. Returns 0 for mismatched or zero-length input.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
