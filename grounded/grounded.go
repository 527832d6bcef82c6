// Package grounded is the orchestrator of the memory engine. A
// GroundedMemory instance composes the working, semantic, and episodic
// tiers with an optional knowledge graph and persistence layer, grounds
// every memory in a per-user relational context, self-edits a bounded
// identity store behind a debounce, and assembles the bounded retrieval
// context handed to the reasoning loop.
//
// One logical owner per instance: no internal locking, no internal
// goroutines. Concurrent writers to the same instance must be
// serialized by the caller.
package grounded

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/graph"
	"github.com/groundmem/groundmem/memory"
	"github.com/groundmem/groundmem/persist"
)

const (
	// DefaultCoreUpdateThreshold is how many times a (user, fact) pair
	// must be observed before it edits the identity store.
	DefaultCoreUpdateThreshold = 5

	// patternThreshold is how many times an (action, context) pair must
	// fail or succeed before it becomes a derived semantic fact.
	patternThreshold = 3

	// DefaultAgentID attributes memories when no agent id is set.
	DefaultAgentID = "agent"
)

// GroundedMemory composes the memory tiers for one agent.
type GroundedMemory struct {
	working  *memory.WorkingMemory
	semantic *memory.SemanticMemory
	episodic *memory.EpisodicMemory
	identity *memory.CoreMemory

	kg    *graph.Graph   // nil when the knowledge graph is disabled
	store *persist.Layer // nil when persistence is disabled

	agentID       string
	currentUser   string
	coreThreshold int

	profiles   map[string]*core.UserProfile
	factCounts map[string]int // (user, fact) debounce counters
	failures   map[string]int
	successes  map[string]int
}

type config struct {
	workingCapacity     int
	validationThreshold int
	coreThreshold       int
	agentID             string
	embedder            memory.Embedder
	graphEnabled        bool
	store               *persist.Layer
}

// Option configures a GroundedMemory.
type Option func(*config)

// WithWorkingCapacity sets the working-memory window size.
func WithWorkingCapacity(n int) Option {
	return func(c *config) { c.workingCapacity = n }
}

// WithValidationThreshold sets the semantic promotion threshold.
func WithValidationThreshold(n int) Option {
	return func(c *config) { c.validationThreshold = n }
}

// WithCoreUpdateThreshold sets the identity-store debounce.
func WithCoreUpdateThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.coreThreshold = n
		}
	}
}

// WithAgentID sets the agent identity used in relational grounding.
func WithAgentID(id string) Option {
	return func(c *config) {
		if id != "" {
			c.agentID = id
		}
	}
}

// WithEmbedder enables similarity-ranked semantic retrieval.
func WithEmbedder(e memory.Embedder) Option {
	return func(c *config) { c.embedder = e }
}

// WithKnowledgeGraph enables fact extraction into a knowledge graph.
func WithKnowledgeGraph() Option {
	return func(c *config) { c.graphEnabled = true }
}

// WithPersistence enables dual-writing interactions and notes.
func WithPersistence(l *persist.Layer) Option {
	return func(c *config) { c.store = l }
}

// New creates a grounded memory engine.
func New(opts ...Option) *GroundedMemory {
	cfg := config{
		coreThreshold: DefaultCoreUpdateThreshold,
		agentID:       DefaultAgentID,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var semOpts []memory.SemanticOption
	if cfg.validationThreshold > 0 {
		semOpts = append(semOpts, memory.WithValidationThreshold(cfg.validationThreshold))
	}
	if cfg.embedder != nil {
		semOpts = append(semOpts, memory.WithSemanticEmbedder(cfg.embedder))
	}

	g := &GroundedMemory{
		working:       memory.NewWorking(cfg.workingCapacity),
		semantic:      memory.NewSemantic(semOpts...),
		episodic:      memory.NewEpisodic(),
		identity:      memory.NewCore(),
		agentID:       cfg.agentID,
		coreThreshold: cfg.coreThreshold,
		store:         cfg.store,
		profiles:      make(map[string]*core.UserProfile),
		factCounts:    make(map[string]int),
		failures:      make(map[string]int),
		successes:     make(map[string]int),
	}
	if cfg.graphEnabled {
		g.kg = graph.New()
	}
	return g
}

// SetCurrentUser switches the active user, creating a profile on first
// sight. For an existing user the relationship is not overwritten.
func (g *GroundedMemory) SetCurrentUser(userID, relationship string) {
	g.currentUser = userID
	g.ensureProfile(userID, relationship)
}

// normalizeUser maps an empty user id to the default profile. Write
// and read paths both go through it so a caller that never sets a user
// still sees its own history.
func normalizeUser(userID string) string {
	if userID == "" {
		return "default"
	}
	return userID
}

func (g *GroundedMemory) ensureProfile(userID, relationship string) *core.UserProfile {
	userID = normalizeUser(userID)
	p, ok := g.profiles[userID]
	if !ok {
		p = core.NewUserProfile(userID, relationship)
		g.profiles[userID] = p
		log.Printf("[GROUNDED] new user %s (%s)", userID, p.Relationship)
	}
	return p
}

func (g *GroundedMemory) relationFor(p *core.UserProfile) core.RelationalContext {
	return core.RelationalContext{
		UserID:       p.UserID,
		AgentID:      g.agentID,
		Relationship: p.Relationship,
		SessionID:    uuid.New().String(),
	}
}

// AddInteraction records one exchange for the current user. See
// AddInteractionFor.
func (g *GroundedMemory) AddInteraction(ctx context.Context, userInput, agentOutput string) (string, error) {
	return g.AddInteractionFor(ctx, userInput, agentOutput, g.currentUser)
}

// AddInteractionFor records one exchange: the user input enters working
// memory, the combined exchange enters the episodic archive, facts
// extracted from the agent output enter the knowledge graph, and the
// exchange is dual-written to the persistence layer with a conditional
// reflective note.
//
// Returns the persisted interaction id (empty when persistence is
// disabled). A persistence failure is reported as an error, but the
// in-memory tiers have already been updated consistently.
func (g *GroundedMemory) AddInteractionFor(ctx context.Context, userInput, agentOutput, userID string) (string, error) {
	p := g.ensureProfile(userID, "")
	p.InteractionCount++

	rel := g.relationFor(p)
	now := time.Now()

	g.working.Add(ctx, core.MemoryItem{
		Content:       userInput,
		EventTime:     now,
		IngestionTime: now,
		Confidence:    0.5,
		Metadata:      map[string]any{"speaker": "user", "user_id": p.UserID},
	})

	if _, err := g.episodic.AddGrounded(ctx, core.MemoryItem{
		Content:       "User: " + userInput + "\nAgent: " + agentOutput,
		EventTime:     now,
		IngestionTime: now,
		Confidence:    0.6,
	}, rel); err != nil {
		return "", fmt.Errorf("archive interaction: %w", err)
	}

	if g.kg != nil {
		for _, t := range ExtractTriples(agentOutput) {
			if _, err := g.kg.AddFact(t.Subject, t.Predicate, t.Object, now, rel, 0.7); err != nil {
				log.Printf("[GROUNDED] skipping fact %q %s %q: %v", t.Subject, t.Predicate, t.Object, err)
			}
		}
	}

	if g.store == nil {
		return "", nil
	}
	return g.persistInteraction(ctx, p, now, userInput, agentOutput)
}

func (g *GroundedMemory) persistInteraction(ctx context.Context, p *core.UserProfile, now time.Time, userInput, agentOutput string) (string, error) {
	id, err := g.store.SaveInteraction(ctx, p.UserID, now, userInput, agentOutput, "", nil)
	if err != nil {
		return "", fmt.Errorf("persist interaction: %w", err)
	}
	trigger, ok := g.store.ReflectionTrigger(userInput, agentOutput, p.InteractionCount)
	if !ok {
		return id, nil
	}
	rec := &persist.VerbatimInteraction{ID: id, UserID: p.UserID, UserInput: userInput, AgentResponse: agentOutput}
	noteID, err := g.store.SaveNote(ctx, persist.ExperientialNote{
		UserID:        p.UserID,
		Timestamp:     now,
		InteractionID: id,
		Reflection:    persist.ComposeNote(rec, trigger),
		Trigger:       trigger,
	})
	if err != nil {
		log.Printf("[GROUNDED] note write failed for %s: %v", id, err)
		return id, nil
	}
	if err := g.store.LinkInteractionToNote(id, noteID); err != nil {
		log.Printf("[GROUNDED] link failed %s -> %s: %v", id, noteID, err)
	}
	return id, nil
}

// LearnAboutUser appends a fact to the user's profile (idempotent) and
// counts the observation; at the core update threshold the fact merges
// into the user_info identity block and the counter clears. The
// debounce keeps one-off statements out of long-lived identity.
func (g *GroundedMemory) LearnAboutUser(fact, userID string) {
	p := g.ensureProfile(userID, "")
	p.AddFact(fact)

	key := p.UserID + "\x00" + fact
	g.factCounts[key]++
	if g.factCounts[key] < g.coreThreshold {
		return
	}
	delete(g.factCounts, key)
	if err := g.identity.Merge("user_info", p.UserID+": "+fact); err != nil {
		log.Printf("[GROUNDED] core merge rejected: %v", err)
	}
}

// TrackFailure counts a failed (action, context) pair; at the pattern
// threshold a derived "tends to fail" fact is injected straight into
// semantic memory by replaying it past the validation counter. This is
// an intentional shortcut: the pattern counter already did the
// occurrence counting.
func (g *GroundedMemory) TrackFailure(ctx context.Context, action, actionContext string) {
	g.trackPattern(ctx, g.failures, action, actionContext,
		fmt.Sprintf("%s tends to fail when %s", action, actionContext))
}

// TrackSuccess counts a successful (action, context) pair; at the
// pattern threshold a derived "works well" fact is injected into
// semantic memory.
func (g *GroundedMemory) TrackSuccess(ctx context.Context, action, actionContext string) {
	g.trackPattern(ctx, g.successes, action, actionContext,
		fmt.Sprintf("%s works well when %s", action, actionContext))
}

func (g *GroundedMemory) trackPattern(ctx context.Context, counters map[string]int, action, actionContext, derived string) {
	key := action + "\x00" + actionContext
	counters[key]++
	if counters[key] != patternThreshold {
		return
	}
	now := time.Now()
	item := core.MemoryItem{Content: derived, EventTime: now, IngestionTime: now, Confidence: 0.6}
	for i := 0; i < g.semantic.Threshold(); i++ {
		if _, err := g.semantic.Add(ctx, item); err != nil {
			log.Printf("[GROUNDED] pattern injection failed: %v", err)
			return
		}
	}
	log.Printf("[GROUNDED] learned pattern: %s", derived)
}

// UpdateCoreMemory edits an identity block directly, bypassing the
// debounce. Exposed for the imperative API surface.
func (g *GroundedMemory) UpdateCoreMemory(label, content string) error {
	return g.identity.Update(label, content)
}

// ConsolidateMemories sweeps the working-memory window: items whose
// content carries a copula-like token are forwarded to semantic memory,
// items with high confidence or an important flag are forwarded to the
// episodic archive, then the semantic concept index rebuilds. Returns
// the number of items forwarded.
func (g *GroundedMemory) ConsolidateMemories(ctx context.Context) int {
	forwarded := 0
	for _, item := range g.working.ContextWindow() {
		if hasCopula(item.Content) {
			g.semantic.Add(ctx, item)
			forwarded++
		}
		important, _ := item.Metadata["important"].(bool)
		if item.Confidence > 0.7 || important {
			if _, err := g.episodic.Add(ctx, item); err == nil {
				forwarded++
			}
		}
	}
	g.semantic.Consolidate()
	return forwarded
}

func hasCopula(content string) bool {
	c := strings.ToLower(content)
	for _, tok := range []string{" is ", " are ", " means ", " equals "} {
		if strings.Contains(c, tok) {
			return true
		}
	}
	return false
}

// Profile returns the profile for userID, if one exists.
func (g *GroundedMemory) Profile(userID string) (*core.UserProfile, bool) {
	p, ok := g.profiles[userID]
	return p, ok
}

// Graph returns the knowledge graph, or nil when disabled.
func (g *GroundedMemory) Graph() *graph.Graph {
	return g.kg
}

// Working, Semantic, Episodic, and Identity expose the tiers for
// direct inspection.
func (g *GroundedMemory) Working() *memory.WorkingMemory   { return g.working }
func (g *GroundedMemory) Semantic() *memory.SemanticMemory { return g.semantic }
func (g *GroundedMemory) Episodic() *memory.EpisodicMemory { return g.episodic }
func (g *GroundedMemory) Identity() *memory.CoreMemory     { return g.identity }

// Snapshot component names in the persistence layer.
const (
	snapCore     = "core"
	snapSemantic = "semantic"
	snapProfiles = "user_profiles"
	snapFailures = "failure_patterns"
	snapSuccess  = "success_patterns"
)

// SaveSnapshots overwrites the persisted snapshot of every component
// wholesale. No-op without a persistence layer.
func (g *GroundedMemory) SaveSnapshots() error {
	if g.store == nil {
		return nil
	}
	parts := []struct {
		name string
		data func() ([]byte, error)
	}{
		{snapCore, g.identity.Snapshot},
		{snapSemantic, g.semantic.Snapshot},
		{snapProfiles, func() ([]byte, error) { return json.Marshal(g.profiles) }},
		{snapFailures, func() ([]byte, error) { return json.Marshal(g.failures) }},
		{snapSuccess, func() ([]byte, error) { return json.Marshal(g.successes) }},
	}
	for _, part := range parts {
		data, err := part.data()
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", part.name, err)
		}
		if err := g.store.SaveSnapshot(part.name, data); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshots restores component state from persisted snapshots.
// Missing snapshots are skipped.
func (g *GroundedMemory) LoadSnapshots() error {
	if g.store == nil {
		return nil
	}
	restore := func(name string, fn func([]byte) error) error {
		data, err := g.store.LoadSnapshot(name)
		if err != nil || data == nil {
			return err
		}
		return fn(data)
	}
	if err := restore(snapCore, g.identity.Restore); err != nil {
		return fmt.Errorf("restore core: %w", err)
	}
	if err := restore(snapSemantic, g.semantic.Restore); err != nil {
		return fmt.Errorf("restore semantic: %w", err)
	}
	if err := restore(snapProfiles, func(d []byte) error { return json.Unmarshal(d, &g.profiles) }); err != nil {
		return fmt.Errorf("restore profiles: %w", err)
	}
	if err := restore(snapFailures, func(d []byte) error { return json.Unmarshal(d, &g.failures) }); err != nil {
		return fmt.Errorf("restore failure patterns: %w", err)
	}
	if err := restore(snapSuccess, func(d []byte) error { return json.Unmarshal(d, &g.successes) }); err != nil {
		return fmt.Errorf("restore success patterns: %w", err)
	}
	if g.profiles == nil {
		g.profiles = make(map[string]*core.UserProfile)
	}
	return nil
}
