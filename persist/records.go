package persist

import "time"

// RecordKind discriminates index entries.
type RecordKind string

const (
	KindInteraction RecordKind = "interaction"
	KindNote        RecordKind = "note"
)

// VerbatimInteraction is the exact, append-only record of one exchange:
// the user's input and the agent's output byte-for-byte.
type VerbatimInteraction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Timestamp     time.Time         `json:"timestamp"`
	UserInput     string            `json:"user_input"`
	AgentResponse string            `json:"agent_response"`
	Topic         string            `json:"topic,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ExperientialNote is a derived reflection on one interaction, distinct
// from the verbatim record it links to.
type ExperientialNote struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Reflection    string    `json:"reflection"`
	Trigger       string    `json:"trigger"`
}

// Link connects an interaction to a note. Links are many-to-many.
type Link struct {
	InteractionID string    `json:"interaction_id"`
	NoteID        string    `json:"note_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// IndexEntry is the denormalized view of one record, kept in the single
// index file so filtering never requires opening individual records.
type IndexEntry struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	User      string     `json:"user"`
	Topic     string     `json:"topic,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Path      string     `json:"path"`
	NoteIDs   []string   `json:"note_ids,omitempty"`
}

// Stats summarizes the primary store for the status surface.
type Stats struct {
	Interactions int   `json:"interactions"`
	Notes        int   `json:"notes"`
	Links        int   `json:"links"`
	StorageBytes int64 `json:"storage_bytes"`
}
