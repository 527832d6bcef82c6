package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UserProfile accumulates what the engine knows about one user.
// Profiles are append-only: facts are added, never removed, and the
// relationship set on first sight is not overwritten.
type UserProfile struct {
	UserID           string          `json:"user_id"`
	FirstSeen        time.Time       `json:"first_seen"`
	Relationship     string          `json:"relationship"`
	InteractionCount int             `json:"interaction_count"`
	Facts            map[string]bool `json:"facts"`
}

// NewUserProfile creates a profile for a user seen for the first time.
func NewUserProfile(userID, relationship string) *UserProfile {
	if relationship == "" {
		relationship = "user"
	}
	return &UserProfile{
		UserID:       userID,
		FirstSeen:    time.Now(),
		Relationship: relationship,
		Facts:        make(map[string]bool),
	}
}

// AddFact records a fact about the user. Idempotent: re-adding an
// existing fact is a no-op and returns false.
func (p *UserProfile) AddFact(fact string) bool {
	fact = strings.TrimSpace(fact)
	if fact == "" || p.Facts[fact] {
		return false
	}
	p.Facts[fact] = true
	return true
}

// Summary renders the profile as prompt-ready text.
func (p *UserProfile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %s (%s, %d interactions)", p.UserID, p.Relationship, p.InteractionCount)
	if len(p.Facts) > 0 {
		facts := make([]string, 0, len(p.Facts))
		for f := range p.Facts {
			facts = append(facts, f)
		}
		sort.Strings(facts)
		b.WriteString(": ")
		b.WriteString(strings.Join(facts, "; "))
	}
	return b.String()
}

// CoreMemoryBlock is one labeled slot of the self-editable identity
// store. The store holds at most MaxCoreBlocks blocks and each block's
// content is bounded by MaxCoreBlockLen bytes.
type CoreMemoryBlock struct {
	BlockID     string    `json:"block_id"`
	Label       string    `json:"label"`
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"last_updated"`
	EditCount   int       `json:"edit_count"`
}

const (
	// MaxCoreBlocks bounds the identity store.
	MaxCoreBlocks = 10

	// MaxCoreBlockLen bounds one block's content (roughly 200
	// tokens-equivalent).
	MaxCoreBlockLen = 800
)
