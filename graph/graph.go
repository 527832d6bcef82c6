// Package graph implements the knowledge graph: subject-predicate-object
// facts grounded by temporal anchors, with automatic contradiction
// resolution.
//
// Storage is an arena of nodes and edges addressed by integer handles;
// the GroundingAnchor for each edge lives in the temporal index by
// value, so there are no reference cycles.
//
// Entity identity is exact, case-sensitive value+type match: two
// subjects differing only in case are distinct nodes. This is an
// intentional simplification.
package graph

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/temporal"
)

// Fact is the query-result view of one edge.
type Fact struct {
	Subject       string    `json:"subject"`
	Predicate     string    `json:"predicate"`
	Object        string    `json:"object"`
	Confidence    float64   `json:"confidence"`
	EventTime     time.Time `json:"event_time"`
	IngestionTime time.Time `json:"ingestion_time"`
	AnchorID      string    `json:"anchor_id"`
	Valid         bool      `json:"valid"`
}

type nodeKey struct {
	value string
	typ   string
}

type node struct {
	value string
	typ   string
}

type edge struct {
	subject   int // node handle
	object    int // node handle
	predicate string
	anchorID  string
}

type subjPred struct {
	subject   int
	predicate string
}

// Graph is the knowledge graph. Not safe for concurrent mutation;
// callers serialize access.
type Graph struct {
	index *temporal.Index

	nodes      []node
	nodeByKey  map[nodeKey]int
	edges      []edge
	bySubjPred map[subjPred][]int // edge handles sharing (subject, predicate)
	byEntity   map[int][]int      // node handle -> edge handles touching it
}

// New creates an empty knowledge graph with its own temporal index.
func New() *Graph {
	return &Graph{
		index:      temporal.NewIndex(),
		nodeByKey:  make(map[nodeKey]int),
		bySubjPred: make(map[subjPred][]int),
		byEntity:   make(map[int][]int),
	}
}

// Index exposes the underlying temporal index (read-side: evolution
// queries, anchor lookups).
func (g *Graph) Index() *temporal.Index {
	return g.index
}

func (g *Graph) internNode(value, typ string) int {
	key := nodeKey{value: value, typ: typ}
	if h, ok := g.nodeByKey[key]; ok {
		return h
	}
	g.nodes = append(g.nodes, node{value: value, typ: typ})
	h := len(g.nodes) - 1
	g.nodeByKey[key] = h
	return h
}

// AddFact records a (subject, predicate, object) fact effective at
// eventTime. Any existing fact on the same (subject, predicate) whose
// validity window overlaps is resolved by the contradiction rule: the
// fact with the earlier event time is retired. Ingestion order is
// irrelevant — a late-arriving fact about the past can retire a
// currently active fact, and a backfilled old fact is retired on
// arrival.
//
// Returns the anchor id of the new fact.
func (g *Graph) AddFact(subject, predicate, object string, eventTime time.Time, rel core.RelationalContext, confidence float64) (string, error) {
	if subject == "" || predicate == "" || object == "" {
		return "", core.Validationf("fact", "subject, predicate, and object must be non-empty")
	}
	if eventTime.IsZero() {
		return "", core.Validationf("event_time", "zero timestamp")
	}
	now := time.Now()

	anchor := &core.GroundingAnchor{
		Item: core.MemoryItem{
			Content:       subject + " " + predicate + " " + object,
			EventTime:     eventTime,
			IngestionTime: now,
			Confidence:    confidence,
		},
		EventTime:     eventTime,
		IngestionTime: now,
		Span:          core.ValiditySpan{Start: eventTime, Valid: true},
		Relational:    rel,
		Confidence:    confidence,
	}

	id := uuid.New().String()
	if err := g.index.Add(id, anchor); err != nil {
		return "", err
	}

	subj := g.internNode(subject, "entity")
	obj := g.internNode(object, "entity")
	g.edges = append(g.edges, edge{subject: subj, object: obj, predicate: predicate, anchorID: id})
	eh := len(g.edges) - 1

	sp := subjPred{subject: subj, predicate: predicate}
	g.resolveContradictions(sp, eh, anchor)
	g.bySubjPred[sp] = append(g.bySubjPred[sp], eh)
	g.byEntity[subj] = append(g.byEntity[subj], eh)
	if obj != subj {
		g.byEntity[obj] = append(g.byEntity[obj], eh)
	}

	return id, nil
}

// resolveContradictions applies last-event-time-wins across all edges
// sharing (subject, predicate) with the new edge.
func (g *Graph) resolveContradictions(sp subjPred, newEdge int, newAnchor *core.GroundingAnchor) {
	for _, eh := range g.bySubjPred[sp] {
		existing, ok := g.index.Get(g.edges[eh].anchorID)
		if !ok || !existing.Span.Valid {
			continue
		}
		if !existing.Span.Overlaps(newAnchor.Span) {
			continue
		}
		if existing.EventTime.Before(newAnchor.EventTime) {
			// Existing fact is older: retire it at the moment the new
			// fact took effect.
			g.index.Invalidate(existing.ID, newAnchor.EventTime)
			log.Printf("[GRAPH] retired %s (event %s) superseded by event %s",
				existing.ID, existing.EventTime.Format(time.RFC3339), newAnchor.EventTime.Format(time.RFC3339))
		} else if newAnchor.Span.Valid {
			// New fact describes an older state: it arrives already
			// retired, ending where the surviving fact begins.
			g.index.Invalidate(newAnchor.ID, existing.EventTime)
			log.Printf("[GRAPH] backfilled %s (event %s) retired on arrival by event %s",
				newAnchor.ID, newAnchor.EventTime.Format(time.RFC3339), existing.EventTime.Format(time.RFC3339))
		}
	}
}

func (g *Graph) factForEdge(eh int) Fact {
	e := g.edges[eh]
	a, _ := g.index.Get(e.anchorID)
	return Fact{
		Subject:       g.nodes[e.subject].value,
		Predicate:     e.predicate,
		Object:        g.nodes[e.object].value,
		Confidence:    a.Confidence,
		EventTime:     a.EventTime,
		IngestionTime: a.IngestionTime,
		AnchorID:      a.ID,
		Valid:         a.Span.Valid,
	}
}

// QueryAtTime returns facts matching predicate that were known and
// valid at t. An unknown predicate yields an empty result, never an
// error. An empty predicate matches all facts.
func (g *Graph) QueryAtTime(predicate string, t time.Time) []Fact {
	var out []Fact
	for eh, e := range g.edges {
		if predicate != "" && e.predicate != predicate {
			continue
		}
		a, ok := g.index.Get(e.anchorID)
		if !ok || !a.KnownAt(t) {
			continue
		}
		out = append(out, g.factForEdge(eh))
	}
	return out
}

// FactsAbout returns facts touching entity (as subject or object) that
// were known and valid at t.
func (g *Graph) FactsAbout(entity string, t time.Time) []Fact {
	h, ok := g.nodeByKey[nodeKey{value: entity, typ: "entity"}]
	if !ok {
		return nil
	}
	var out []Fact
	for _, eh := range g.byEntity[h] {
		a, ok := g.index.Get(g.edges[eh].anchorID)
		if !ok || !a.KnownAt(t) {
			continue
		}
		out = append(out, g.factForEdge(eh))
	}
	return out
}

// EvolutionEntry pairs an evolution log event with the fact it touched.
type EvolutionEntry struct {
	Event temporal.Event `json:"event"`
	Fact  Fact           `json:"fact"`
}

// EntityEvolution returns the chronological add/invalidate history of
// facts touching entity within [start, end].
func (g *Graph) EntityEvolution(entity string, start, end time.Time) []EvolutionEntry {
	h, ok := g.nodeByKey[nodeKey{value: entity, typ: "entity"}]
	if !ok {
		return nil
	}
	touched := make(map[string]int) // anchor id -> edge handle
	for _, eh := range g.byEntity[h] {
		touched[g.edges[eh].anchorID] = eh
	}
	var out []EvolutionEntry
	for _, ev := range g.index.Evolution(start, end) {
		eh, ok := touched[ev.AnchorID]
		if !ok {
			continue
		}
		out = append(out, EvolutionEntry{Event: ev, Fact: g.factForEdge(eh)})
	}
	return out
}

// NodeCount returns the number of distinct entities.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of facts ever added, retired included.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}
