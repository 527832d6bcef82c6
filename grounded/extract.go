package grounded

import (
	"regexp"
	"strings"
)

// Triple is one extracted (subject, predicate, object) candidate.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// The extractor is deliberately lexical: the three copula patterns
// below, applied per sentence, first match wins. Free-text
// classification beyond this is an external concern.
var triplePatterns = []struct {
	predicate string
	re        *regexp.Regexp
}{
	{"is", regexp.MustCompile(`^(.{1,60}?)\s+is\s+(.{1,80}?)$`)},
	{"has", regexp.MustCompile(`^(.{1,60}?)\s+has\s+(.{1,80}?)$`)},
	{"can", regexp.MustCompile(`^(.{1,60}?)\s+can\s+(.{1,80}?)$`)},
}

var sentenceSplit = regexp.MustCompile(`[.!?;\n]+`)

// ExtractTriples pulls subject-predicate-object candidates out of text
// using the fixed "X is Y" / "X has Y" / "X can Y" patterns. Entities
// keep their original casing.
func ExtractTriples(text string) []Triple {
	var out []Triple
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for _, p := range triplePatterns {
			m := p.re.FindStringSubmatch(sentence)
			if m == nil {
				continue
			}
			subject := strings.TrimSpace(m[1])
			object := strings.TrimSpace(m[2])
			if subject == "" || object == "" || wordCount(subject) > 6 {
				continue
			}
			out = append(out, Triple{Subject: subject, Predicate: p.predicate, Object: object})
			break
		}
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
