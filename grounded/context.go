package grounded

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/persist"
)

// DefaultContextItems bounds each section of the assembled context.
const DefaultContextItems = 5

// FullContext merges every tier into one bounded, newline-joined
// context string for the reasoning loop, in fixed order: user profile,
// core identity, semantic facts, working memory, episodic matches,
// knowledge-graph facts, stored-interaction hits. Empty sections are
// omitted. Never errors: a degraded tier contributes nothing and
// partial context is preferred over failing the retrieval.
func (g *GroundedMemory) FullContext(ctx context.Context, query, userID string, maxItems int) string {
	if maxItems <= 0 {
		maxItems = DefaultContextItems
	}
	if userID == "" {
		userID = g.currentUser
	}
	userID = normalizeUser(userID)

	var sections []string
	add := func(header string, lines []string) {
		if len(lines) == 0 {
			return
		}
		sections = append(sections, header+"\n"+strings.Join(lines, "\n"))
	}

	if p, ok := g.profiles[userID]; ok {
		sections = append(sections, "=== USER ===\n"+p.Summary())
	}
	if identity := g.identity.Render(); identity != "" {
		sections = append(sections, "=== IDENTITY ===\n"+identity)
	}
	add("=== KNOWN FACTS ===", itemLines(g.semantic.Retrieve(ctx, query, maxItems), true))
	add("=== RECENT CONTEXT ===", itemLines(g.working.Retrieve(ctx, query, maxItems), false))
	add("=== EPISODES ===", itemLines(g.episodic.Retrieve(ctx, query, maxItems), false))
	add("=== RELATIONS ===", g.graphLines(query, maxItems))
	add("=== PAST INTERACTIONS ===", g.storedLines(ctx, query, userID, maxItems))

	return strings.Join(sections, "\n\n")
}

func itemLines(items []core.MemoryItem, withConfidence bool) []string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if withConfidence {
			lines = append(lines, fmt.Sprintf("- %s (%.2f)", it.Content, it.Confidence))
			continue
		}
		lines = append(lines, "- "+it.Content)
	}
	return lines
}

func (g *GroundedMemory) graphLines(query string, maxItems int) []string {
	if g.kg == nil {
		return nil
	}
	q := strings.ToLower(query)
	var lines []string
	for _, f := range g.kg.QueryAtTime("", time.Now()) {
		if len(lines) >= maxItems {
			break
		}
		rendered := f.Subject + " " + f.Predicate + " " + f.Object
		if q != "" && !strings.Contains(strings.ToLower(rendered), q) {
			continue
		}
		lines = append(lines, "- "+rendered)
	}
	return lines
}

func (g *GroundedMemory) storedLines(ctx context.Context, query, userID string, maxItems int) []string {
	if g.store == nil {
		return nil
	}
	recs, err := g.store.SearchInteractions(ctx, query, persist.SearchOptions{
		UserID: userID,
		Limit:  maxItems,
	})
	if err != nil {
		log.Printf("[GROUNDED] stored-interaction search degraded: %v", err)
		return nil
	}
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("- [%s] %s -> %s",
			r.Timestamp.Format("2006-01-02"), clip(r.UserInput, 80), clip(r.AgentResponse, 80)))
	}
	return lines
}

// clip truncates s to at most max bytes, backing off to a rune
// boundary so the result stays valid UTF-8.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
