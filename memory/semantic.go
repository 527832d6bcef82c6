package memory

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
)

// DefaultValidationThreshold is the number of observations before a
// candidate fact is promoted into the validated set.
const DefaultValidationThreshold = 3

type semanticFact struct {
	Item        core.MemoryItem `json:"item"`
	Occurrences int             `json:"occurrences"`
	embedding   []float32
}

// SemanticMemory validates candidate facts through an occurrence
// counter keyed by normalized content. A fact is never stored with
// confidence from a single observation: below the validation threshold
// it stays pending and invisible to retrieval.
type SemanticMemory struct {
	threshold int
	embedder  Embedder // optional; nil means keyword-only

	pending  map[string]pendingFact
	facts    map[string]*semanticFact // fact id -> fact
	byKey    map[string]string        // normalized content -> fact id
	order    []string                 // fact ids in promotion order
	concepts map[string]map[string]bool
}

type pendingFact struct {
	Count int             `json:"count"`
	Item  core.MemoryItem `json:"item"`
}

// SemanticOption configures a SemanticMemory.
type SemanticOption func(*SemanticMemory)

// WithValidationThreshold overrides the promotion threshold.
func WithValidationThreshold(n int) SemanticOption {
	return func(s *SemanticMemory) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithSemanticEmbedder enables similarity-ranked retrieval. Facts are
// embedded once at promotion; embedding failures degrade that fact to
// keyword matching, never fail the add.
func WithSemanticEmbedder(e Embedder) SemanticOption {
	return func(s *SemanticMemory) {
		s.embedder = e
	}
}

// NewSemantic creates a semantic memory with the default threshold.
func NewSemantic(opts ...SemanticOption) *SemanticMemory {
	s := &SemanticMemory{
		threshold: DefaultValidationThreshold,
		pending:   make(map[string]pendingFact),
		facts:     make(map[string]*semanticFact),
		byKey:     make(map[string]string),
		concepts:  make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeFact(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

func confidenceFor(occurrences int) float64 {
	conf := float64(occurrences)*0.1 + 0.3
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// Add counts an observation of the item's normalized content. At the
// validation threshold the fact is promoted with
// confidence = min(1.0, occurrences*0.1 + 0.3), the pending entry is
// cleared, and the new fact id is returned. Below threshold the
// returned id is empty: a not-yet-valid signal, not an error.
// Observing an already validated fact reinforces it in place: the
// occurrence count and confidence rise and the existing id is returned,
// never a duplicate.
func (s *SemanticMemory) Add(ctx context.Context, item core.MemoryItem) (string, error) {
	key := normalizeFact(item.Content)
	if key == "" {
		return "", core.Validationf("content", "empty fact")
	}

	if id, ok := s.byKey[key]; ok {
		f := s.facts[id]
		f.Occurrences++
		f.Item.Confidence = confidenceFor(f.Occurrences)
		return id, nil
	}

	p := s.pending[key]
	p.Count++
	p.Item = item
	if p.Count < s.threshold {
		s.pending[key] = p
		return "", nil
	}
	delete(s.pending, key)

	item.Confidence = confidenceFor(p.Count)

	id := uuid.New().String()
	f := &semanticFact{Item: item, Occurrences: p.Count}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, item.Content)
		if err != nil {
			log.Printf("[SEMANTIC] embed failed for promoted fact, keyword-only: %v", err)
		} else {
			f.embedding = vec
		}
	}
	s.facts[id] = f
	s.byKey[key] = id
	s.order = append(s.order, id)
	return id, nil
}

// Retrieve returns up to limit validated facts matching query. With an
// embedder configured, facts are ranked by cosine similarity to the
// query embedding and the returned confidence is boosted by similarity;
// otherwise (or when embedding fails) it falls back to case-insensitive
// substring match ranked by confidence descending.
func (s *SemanticMemory) Retrieve(ctx context.Context, query string, limit int) []core.MemoryItem {
	if limit <= 0 {
		limit = len(s.order)
	}
	if s.embedder != nil {
		if out, ok := s.retrieveBySimilarity(ctx, query, limit); ok {
			return out
		}
	}
	return s.retrieveByKeyword(query, limit)
}

func (s *SemanticMemory) retrieveBySimilarity(ctx context.Context, query string, limit int) ([]core.MemoryItem, bool) {
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[SEMANTIC] query embed failed, falling back to keyword: %v", err)
		return nil, false
	}
	type scored struct {
		item core.MemoryItem
		sim  float64
	}
	var ranked []scored
	for _, id := range s.order {
		f := s.facts[id]
		if f.embedding == nil {
			continue
		}
		sim := CosineSimilarity(qvec, f.embedding)
		item := f.Item
		item.Confidence = f.Item.Confidence + 0.2*sim
		if item.Confidence > 1.0 {
			item.Confidence = 1.0
		}
		ranked = append(ranked, scored{item: item, sim: sim})
	}
	if ranked == nil {
		return nil, false
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]core.MemoryItem, len(ranked))
	for i, r := range ranked {
		out[i] = r.item
	}
	return out, true
}

func (s *SemanticMemory) retrieveByKeyword(query string, limit int) []core.MemoryItem {
	q := strings.ToLower(query)
	var out []core.MemoryItem
	for _, id := range s.order {
		f := s.facts[id]
		if q == "" || strings.Contains(strings.ToLower(f.Item.Content), q) {
			out = append(out, f.Item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Consolidate rebuilds the inverted concept index from words longer
// than 3 characters across all validated facts. Returns the number of
// concepts indexed.
func (s *SemanticMemory) Consolidate() int {
	s.concepts = make(map[string]map[string]bool)
	for _, id := range s.order {
		for _, word := range strings.Fields(strings.ToLower(s.facts[id].Item.Content)) {
			word = strings.Trim(word, ".,;:!?\"'()")
			if len(word) <= 3 {
				continue
			}
			if s.concepts[word] == nil {
				s.concepts[word] = make(map[string]bool)
			}
			s.concepts[word][id] = true
		}
	}
	return len(s.concepts)
}

// ConceptNetwork returns the facts indexed under concept. Requires a
// prior Consolidate; an unknown concept yields an empty result.
func (s *SemanticMemory) ConceptNetwork(concept string) []core.MemoryItem {
	ids := s.concepts[strings.ToLower(concept)]
	var out []core.MemoryItem
	for _, id := range s.order {
		if ids[id] {
			out = append(out, s.facts[id].Item)
		}
	}
	return out
}

// FactCount returns the number of validated facts.
func (s *SemanticMemory) FactCount() int {
	return len(s.facts)
}

// PendingCount returns the number of candidate facts below threshold.
func (s *SemanticMemory) PendingCount() int {
	return len(s.pending)
}

// Threshold returns the configured validation threshold.
func (s *SemanticMemory) Threshold() int {
	return s.threshold
}

type semanticSnapshot struct {
	Threshold int                     `json:"threshold"`
	Pending   map[string]pendingFact  `json:"pending"`
	Facts     map[string]semanticFact `json:"facts"`
	Order     []string                `json:"order"`
}

// Snapshot serializes validated and pending facts. Embeddings are not
// persisted; Restore re-embeds in one batch when an embedder is
// configured.
func (s *SemanticMemory) Snapshot() ([]byte, error) {
	snap := semanticSnapshot{
		Threshold: s.threshold,
		Pending:   s.pending,
		Facts:     make(map[string]semanticFact, len(s.facts)),
		Order:     s.order,
	}
	for id, f := range s.facts {
		snap.Facts[id] = *f
	}
	return json.Marshal(snap)
}

// Restore replaces state from a snapshot.
func (s *SemanticMemory) Restore(data []byte) error {
	var snap semanticSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Threshold > 0 {
		s.threshold = snap.Threshold
	}
	s.pending = snap.Pending
	if s.pending == nil {
		s.pending = make(map[string]pendingFact)
	}
	s.facts = make(map[string]*semanticFact, len(snap.Facts))
	s.byKey = make(map[string]string, len(snap.Facts))
	for id := range snap.Facts {
		f := snap.Facts[id]
		s.facts[id] = &f
		s.byKey[normalizeFact(f.Item.Content)] = id
	}
	s.order = snap.Order
	s.concepts = make(map[string]map[string]bool)

	if s.embedder != nil && len(s.order) > 0 {
		texts := make([]string, len(s.order))
		for i, id := range s.order {
			texts[i] = s.facts[id].Item.Content
		}
		vecs, err := s.embedder.EmbedBatch(context.Background(), texts)
		if err != nil || len(vecs) != len(s.order) {
			log.Printf("[SEMANTIC] batch re-embed after restore failed, keyword-only: %v", err)
			return nil
		}
		for i, id := range s.order {
			s.facts[id].embedding = vecs[i]
		}
	}
	return nil
}
