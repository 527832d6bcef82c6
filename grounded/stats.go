package grounded

import "github.com/groundmem/groundmem/persist"

// Stats is the read-only status summary consumed by external tooling.
type Stats struct {
	Users           int `json:"users"`
	WorkingItems    int `json:"working_items"`
	WorkingCapacity int `json:"working_capacity"`
	SemanticFacts   int `json:"semantic_facts"`
	SemanticPending int `json:"semantic_pending"`
	Episodes        int `json:"episodes"`
	IdentityBlocks  int `json:"identity_blocks"`
	GraphNodes      int `json:"graph_nodes,omitempty"`
	GraphEdges      int `json:"graph_edges,omitempty"`

	Storage *persist.Stats `json:"storage,omitempty"`
}

// Stats summarizes counts per tier, pending-vs-validated facts, and
// storage size.
func (g *GroundedMemory) Stats() Stats {
	st := Stats{
		Users:           len(g.profiles),
		WorkingItems:    g.working.Len(),
		WorkingCapacity: g.working.Capacity(),
		SemanticFacts:   g.semantic.FactCount(),
		SemanticPending: g.semantic.PendingCount(),
		Episodes:        g.episodic.Len(),
		IdentityBlocks:  g.identity.Len(),
	}
	if g.kg != nil {
		st.GraphNodes = g.kg.NodeCount()
		st.GraphEdges = g.kg.EdgeCount()
	}
	if g.store != nil {
		s := g.store.Stats()
		st.Storage = &s
	}
	return st
}
