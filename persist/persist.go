// Package persist is the durable dual-write layer: verbatim
// interactions and derived experiential notes land as human-readable
// JSON records in a partitioned directory tree, with an optional
// vector-search mirror fed by the same write path. The primary store is
// authoritative; a mirror failure degrades search to keyword-only and
// is never propagated.
//
// Layout under the root directory:
//
//	interactions/<user>/<yyyy-mm-dd>/<ulid>.json
//	notes/<user>/<yyyy-mm-dd>/<ulid>.json
//	links.jsonl
//	index.json
//	snapshots/<component>.json
//
// Every write is atomic from the caller's perspective (temp file then
// rename). The index is denormalized and rebuildable from the records.
package persist

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/groundmem/groundmem/core"
	"github.com/groundmem/groundmem/memory"
)

// Layer is the dual-write persistence layer. Not safe for concurrent
// writers; the owning orchestrator serializes access.
type Layer struct {
	root string

	entries map[string]*IndexEntry
	order   []string
	links   []Link

	mirror   memory.VectorStore
	embedder memory.Embedder
	reflect  ReflectionPolicy

	entropy *rand.Rand
}

// Option configures a Layer.
type Option func(*Layer)

// WithMirror attaches a vector-search mirror fed by the same write
// path. Requires an embedder; without one the mirror is ignored.
func WithMirror(store memory.VectorStore, embedder memory.Embedder) Option {
	return func(l *Layer) {
		l.mirror = store
		l.embedder = embedder
	}
}

// WithReflectionPolicy overrides the default note trigger policy.
func WithReflectionPolicy(p ReflectionPolicy) Option {
	return func(l *Layer) {
		if p != nil {
			l.reflect = p
		}
	}
}

// New opens (or initializes) a persistence layer rooted at dir. An
// existing index file is loaded; a missing one is rebuilt from the
// records on disk.
func New(dir string, opts ...Option) (*Layer, error) {
	l := &Layer{
		root:    dir,
		entries: make(map[string]*IndexEntry),
		reflect: DefaultReflectionPolicy,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, sub := range []string{"interactions", "notes", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", core.ErrStorageUnavailable, sub, err)
		}
	}
	if err := l.loadLinks(); err != nil {
		return nil, err
	}
	if err := l.loadIndex(); err != nil {
		log.Printf("[PERSIST] index unreadable, rebuilding: %v", err)
		if err := l.RebuildIndex(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Layer) newID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
}

// ReflectionTrigger runs the configured policy against one exchange.
func (l *Layer) ReflectionTrigger(userInput, agentOutput string, interactionCount int) (string, bool) {
	return l.reflect(userInput, agentOutput, interactionCount)
}

// SaveInteraction dual-writes a verbatim interaction. The primary
// record and index write must succeed; a mirror failure is logged and
// search degrades to keyword-only.
func (l *Layer) SaveInteraction(ctx context.Context, userID string, ts time.Time, userInput, agentResponse, topic string, meta map[string]string) (string, error) {
	if userID == "" {
		return "", core.Validationf("user_id", "empty user id")
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := &VerbatimInteraction{
		ID:            l.newID(ts),
		UserID:        userID,
		Timestamp:     ts,
		UserInput:     userInput,
		AgentResponse: agentResponse,
		Topic:         topic,
		Metadata:      meta,
	}
	rel := l.recordPath("interactions", userID, ts, rec.ID)
	if err := l.writeRecord(rel, rec); err != nil {
		return "", err
	}
	l.addEntry(&IndexEntry{
		ID: rec.ID, Kind: KindInteraction, User: userID,
		Topic: topic, Timestamp: ts, Path: rel,
	})
	if err := l.saveIndex(); err != nil {
		return "", err
	}
	l.mirrorWrite(ctx, rec.ID, userID, userInput+"\n"+agentResponse, string(KindInteraction))
	return rec.ID, nil
}

// SaveNote dual-writes an experiential note.
func (l *Layer) SaveNote(ctx context.Context, note ExperientialNote) (string, error) {
	if note.UserID == "" {
		return "", core.Validationf("user_id", "empty user id")
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}
	note.ID = l.newID(note.Timestamp)
	rel := l.recordPath("notes", note.UserID, note.Timestamp, note.ID)
	if err := l.writeRecord(rel, &note); err != nil {
		return "", err
	}
	l.addEntry(&IndexEntry{
		ID: note.ID, Kind: KindNote, User: note.UserID,
		Topic: note.Trigger, Timestamp: note.Timestamp, Path: rel,
	})
	if err := l.saveIndex(); err != nil {
		return "", err
	}
	l.mirrorWrite(ctx, note.ID, note.UserID, note.Reflection, string(KindNote))
	return note.ID, nil
}

// LinkInteractionToNote writes a Link record and back-references the
// note from the interaction's index entry. Links are many-to-many.
func (l *Layer) LinkInteractionToNote(interactionID, noteID string) error {
	ie, ok := l.entries[interactionID]
	if !ok || ie.Kind != KindInteraction {
		return core.Validationf("interaction_id", "unknown interaction %q", interactionID)
	}
	if ne, ok := l.entries[noteID]; !ok || ne.Kind != KindNote {
		return core.Validationf("note_id", "unknown note %q", noteID)
	}
	link := Link{InteractionID: interactionID, NoteID: noteID, CreatedAt: time.Now()}
	if err := l.appendLink(link); err != nil {
		return err
	}
	l.links = append(l.links, link)
	ie.NoteIDs = append(ie.NoteIDs, noteID)
	return l.saveIndex()
}

// GetInteraction loads one verbatim record by id.
func (l *Layer) GetInteraction(id string) (*VerbatimInteraction, error) {
	e, ok := l.entries[id]
	if !ok || e.Kind != KindInteraction {
		return nil, core.Validationf("id", "unknown interaction %q", id)
	}
	var rec VerbatimInteraction
	if err := l.readRecord(e.Path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetNote loads one experiential note by id.
func (l *Layer) GetNote(id string) (*ExperientialNote, error) {
	e, ok := l.entries[id]
	if !ok || e.Kind != KindNote {
		return nil, core.Validationf("id", "unknown note %q", id)
	}
	var note ExperientialNote
	if err := l.readRecord(e.Path, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// NotesFor returns the note ids linked to an interaction.
func (l *Layer) NotesFor(interactionID string) []string {
	if e, ok := l.entries[interactionID]; ok {
		return append([]string(nil), e.NoteIDs...)
	}
	return nil
}

// SearchOptions filter an interaction search.
type SearchOptions struct {
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

type scoredRecord struct {
	rec   *VerbatimInteraction
	score float64
}

// SearchInteractions finds interactions matching query. Keyword search
// over the primary store is always available; when a mirror and
// embedder are configured, vector hits are merged in, deduplicated by
// interaction id, and ranked by score.
func (l *Layer) SearchInteractions(ctx context.Context, query string, opts SearchOptions) ([]VerbatimInteraction, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	merged := make(map[string]scoredRecord)

	for _, rec := range l.keywordSearch(query, opts) {
		merged[rec.ID] = scoredRecord{rec: rec, score: 0.5}
	}
	for id, score := range l.vectorSearch(ctx, query, opts) {
		if prev, ok := merged[id]; ok {
			if score > prev.score {
				prev.score = score
				merged[id] = prev
			}
			continue
		}
		rec, err := l.GetInteraction(id)
		if err != nil {
			continue
		}
		merged[id] = scoredRecord{rec: rec, score: score}
	}

	ranked := make([]scoredRecord, 0, len(merged))
	for _, sr := range merged {
		ranked = append(ranked, sr)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.Timestamp.After(ranked[j].rec.Timestamp)
	})
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	out := make([]VerbatimInteraction, len(ranked))
	for i, sr := range ranked {
		out[i] = *sr.rec
	}
	return out, nil
}

func (l *Layer) entryInScope(e *IndexEntry, opts SearchOptions) bool {
	if e.Kind != KindInteraction {
		return false
	}
	if opts.UserID != "" && e.User != opts.UserID {
		return false
	}
	if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
		return false
	}
	if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
		return false
	}
	return true
}

func (l *Layer) keywordSearch(query string, opts SearchOptions) []*VerbatimInteraction {
	q := strings.ToLower(query)
	var out []*VerbatimInteraction
	for _, id := range l.order {
		e := l.entries[id]
		if !l.entryInScope(e, opts) {
			continue
		}
		var rec VerbatimInteraction
		if err := l.readRecord(e.Path, &rec); err != nil {
			log.Printf("[PERSIST] skipping unreadable record %s: %v", id, err)
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(rec.Topic), q) &&
			!strings.Contains(strings.ToLower(rec.UserInput), q) &&
			!strings.Contains(strings.ToLower(rec.AgentResponse), q) {
			continue
		}
		out = append(out, &rec)
	}
	return out
}

// vectorSearch returns interaction id -> similarity. Any failure
// degrades to an empty result.
func (l *Layer) vectorSearch(ctx context.Context, query string, opts SearchOptions) map[string]float64 {
	if l.mirror == nil || l.embedder == nil || query == "" {
		return nil
	}
	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[PERSIST] query embed failed, keyword-only: %v", err)
		return nil
	}
	filter := map[string]string{"kind": string(KindInteraction)}
	if opts.UserID != "" {
		filter["user"] = opts.UserID
	}
	hits, err := l.mirror.Search(ctx, vec, opts.Limit, filter)
	if err != nil {
		log.Printf("[PERSIST] mirror search failed, keyword-only: %v", err)
		return nil
	}
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		if e, ok := l.entries[h.ID]; ok && l.entryInScope(e, opts) {
			out[h.ID] = h.Score
		}
	}
	return out
}

// Stats summarizes the store for the status surface.
func (l *Layer) Stats() Stats {
	var st Stats
	for _, e := range l.entries {
		switch e.Kind {
		case KindInteraction:
			st.Interactions++
		case KindNote:
			st.Notes++
		}
	}
	st.Links = len(l.links)
	filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			st.StorageBytes += info.Size()
		}
		return nil
	})
	return st
}

// SaveSnapshot overwrites the named component snapshot wholesale.
func (l *Layer) SaveSnapshot(component string, data []byte) error {
	return l.writeAtomic(filepath.Join("snapshots", component+".json"), data)
}

// LoadSnapshot reads the named component snapshot. A missing snapshot
// returns (nil, nil).
func (l *Layer) LoadSnapshot(component string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.root, "snapshots", component+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot %s: %v", core.ErrStorageUnavailable, component, err)
	}
	return data, nil
}

// RebuildIndex reconstructs the index from the record files and link
// table on disk.
func (l *Layer) RebuildIndex() error {
	l.entries = make(map[string]*IndexEntry)
	l.order = nil

	walk := func(sub string, kind RecordKind) error {
		base := filepath.Join(l.root, sub)
		return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
				return nil
			}
			rel, _ := filepath.Rel(l.root, path)
			switch kind {
			case KindInteraction:
				var rec VerbatimInteraction
				if err := l.readRecord(rel, &rec); err != nil {
					log.Printf("[PERSIST] reindex: skipping %s: %v", rel, err)
					return nil
				}
				l.addEntry(&IndexEntry{ID: rec.ID, Kind: kind, User: rec.UserID, Topic: rec.Topic, Timestamp: rec.Timestamp, Path: rel})
			case KindNote:
				var note ExperientialNote
				if err := l.readRecord(rel, &note); err != nil {
					log.Printf("[PERSIST] reindex: skipping %s: %v", rel, err)
					return nil
				}
				l.addEntry(&IndexEntry{ID: note.ID, Kind: kind, User: note.UserID, Topic: note.Trigger, Timestamp: note.Timestamp, Path: rel})
			}
			return nil
		})
	}
	if err := walk("interactions", KindInteraction); err != nil {
		return fmt.Errorf("%w: reindex interactions: %v", core.ErrStorageUnavailable, err)
	}
	if err := walk("notes", KindNote); err != nil {
		return fmt.Errorf("%w: reindex notes: %v", core.ErrStorageUnavailable, err)
	}
	sort.SliceStable(l.order, func(i, j int) bool {
		return l.entries[l.order[i]].Timestamp.Before(l.entries[l.order[j]].Timestamp)
	})
	for _, link := range l.links {
		if e, ok := l.entries[link.InteractionID]; ok {
			e.NoteIDs = append(e.NoteIDs, link.NoteID)
		}
	}
	return l.saveIndex()
}

// Close closes the mirror if one is attached.
func (l *Layer) Close() error {
	if l.mirror != nil {
		return l.mirror.Close()
	}
	return nil
}

// internal plumbing

func (l *Layer) recordPath(sub, userID string, ts time.Time, id string) string {
	return filepath.Join(sub, sanitize(userID), ts.UTC().Format("2006-01-02"), id+".json")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (l *Layer) addEntry(e *IndexEntry) {
	if _, exists := l.entries[e.ID]; !exists {
		l.order = append(l.order, e.ID)
	}
	l.entries[e.ID] = e
}

func (l *Layer) writeRecord(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return l.writeAtomic(rel, data)
}

func (l *Layer) readRecord(rel string, v any) error {
	data, err := os.ReadFile(filepath.Join(l.root, rel))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", core.ErrStorageUnavailable, rel, err)
	}
	return json.Unmarshal(data, v)
}

// writeAtomic writes temp-then-rename so concurrent readers never see a
// partial record.
func (l *Layer) writeAtomic(rel string, data []byte) error {
	abs := filepath.Join(l.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", core.ErrStorageUnavailable, rel, err)
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", core.ErrStorageUnavailable, rel, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", core.ErrStorageUnavailable, rel, err)
	}
	return nil
}

type indexFile struct {
	Entries []*IndexEntry `json:"entries"`
}

func (l *Layer) saveIndex() error {
	f := indexFile{Entries: make([]*IndexEntry, 0, len(l.order))}
	for _, id := range l.order {
		f.Entries = append(f.Entries, l.entries[id])
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return l.writeAtomic("index.json", data)
}

func (l *Layer) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(l.root, "index.json"))
	if os.IsNotExist(err) {
		return l.RebuildIndex()
	}
	if err != nil {
		return err
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, e := range f.Entries {
		l.addEntry(e)
	}
	return nil
}

func (l *Layer) appendLink(link Link) error {
	abs := filepath.Join(l.root, "links.jsonl")
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open link table: %v", core.ErrStorageUnavailable, err)
	}
	defer f.Close()
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: append link: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (l *Layer) loadLinks() error {
	f, err := os.Open(filepath.Join(l.root, "links.jsonl"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open link table: %v", core.ErrStorageUnavailable, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var link Link
		if err := json.Unmarshal([]byte(line), &link); err != nil {
			log.Printf("[PERSIST] skipping malformed link: %v", err)
			continue
		}
		l.links = append(l.links, link)
	}
	return sc.Err()
}

// mirrorWrite feeds the vector mirror from the primary write path.
// Failures are logged, never propagated.
func (l *Layer) mirrorWrite(ctx context.Context, id, userID, text, kind string) {
	if l.mirror == nil || l.embedder == nil {
		return
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[PERSIST] mirror embed failed for %s: %v", id, err)
		return
	}
	payload := map[string]string{
		"user":    userID,
		"kind":    kind,
		"content": clip(text, 500),
	}
	if err := l.mirror.Upsert(ctx, id, vec, payload); err != nil {
		log.Printf("[PERSIST] mirror upsert failed for %s: %v", id, err)
	}
}
