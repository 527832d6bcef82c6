package persist

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ReflectionPolicy decides whether an interaction deserves a derived
// note, returning the trigger name that fired. Policies are pure
// functions so they can be swapped without touching the persistence
// contract.
type ReflectionPolicy func(userInput, agentOutput string, interactionCount int) (trigger string, ok bool)

var learningMarkers = []string{
	"i am ", "i'm ", "i prefer", "i like", "i love", "i hate",
	"i work", "my name is", "call me", "i want", "i need",
}

var outcomeMarkers = []string{
	"failed", "error", "usually", "always", "never",
	"worked", "succeeded", "every time",
}

var topicShiftMarkers = []string{
	"by the way", "actually", "anyway", "speaking of",
	"on another note", "changing topics",
}

var certaintyWords = []string{
	"definitely", "always", "certainly", "absolutely", "clearly", "never",
}

var uncertaintyWords = []string{
	"maybe", "perhaps", "might", "possibly", "unsure", "probably",
}

// ConfidenceDelta is the heuristic certainty signal of a text: the
// count of certainty words minus uncertainty words, scaled by 0.1.
func ConfidenceDelta(text string) float64 {
	t := strings.ToLower(text)
	delta := 0
	for _, w := range certaintyWords {
		delta += strings.Count(t, w)
	}
	for _, w := range uncertaintyWords {
		delta -= strings.Count(t, w)
	}
	return float64(delta) * 0.1
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// DefaultReflectionPolicy generates a note when any independent trigger
// holds: first-person learning markers, outcome/pattern markers, a
// topic shift, a strong confidence delta, or the periodic every-10th
// interaction. An OR of triggers, not a weighted score.
func DefaultReflectionPolicy(userInput, agentOutput string, interactionCount int) (string, bool) {
	in := strings.ToLower(userInput)
	combined := in + " " + strings.ToLower(agentOutput)

	switch {
	case containsAny(in, learningMarkers):
		return "user-learning", true
	case containsAny(combined, outcomeMarkers):
		return "outcome-pattern", true
	case containsAny(in, topicShiftMarkers):
		return "topic-shift", true
	}
	if d := ConfidenceDelta(combined); d > 0.3 || d < -0.3 {
		return "confidence-delta", true
	}
	if interactionCount > 0 && interactionCount%10 == 0 {
		return "periodic", true
	}
	return "", false
}

// NeverReflect is the policy that generates no notes.
func NeverReflect(string, string, int) (string, bool) {
	return "", false
}

// ComposeNote synthesizes the reflection text for an interaction and
// the trigger that fired.
func ComposeNote(rec *VerbatimInteraction, trigger string) string {
	return fmt.Sprintf("[%s] user %s said %q; responded %q",
		trigger, rec.UserID, clip(rec.UserInput, 160), clip(rec.AgentResponse, 160))
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
