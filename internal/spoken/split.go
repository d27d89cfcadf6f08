package spoken

import (
	"regexp"
	"strings"
)

// DefaultConjunction separates successive points inside one utterance.
const DefaultConjunction = "plus"

const plusSign = "+"

var disallowed = regexp.MustCompile(`[^\p{L}\p{N}\s+.,]`)

// Split is the outcome of cutting a dictation buffer on the conjunction.
type Split struct {
	// Finalized holds the phrases confirmed complete, in spoken order.
	Finalized []string
	// Pending is the trailing phrase that the next utterance may still
	// extend. Empty when the buffer ended on a conjunction.
	Pending string
}

// Splitter cuts dictation buffers into phrases.
type Splitter struct {
	Conjunction string
}

// NewSplitter returns a Splitter for conjunction, or for "plus" when empty.
func NewSplitter(conjunction string) Splitter {
	conjunction = strings.ToLower(strings.TrimSpace(conjunction))
	if conjunction == "" {
		conjunction = DefaultConjunction
	}
	return Splitter{Conjunction: conjunction}
}

// Split joins pending and segment and cuts the result on the conjunction word
// or '+'. Every phrase but the last is finalized; the last one always becomes
// the new pending phrase because the speaker may still be extending it.
func (s Splitter) Split(pending, segment string) Split {
	buffer := Sanitize(strings.TrimSpace(pending + " " + segment))
	if buffer == "" {
		return Split{}
	}

	conjunction := s.Conjunction
	if conjunction == "" {
		conjunction = DefaultConjunction
	}

	var (
		phrases []string
		current []string
	)
	for _, token := range strings.Fields(buffer) {
		if token == conjunction || token == plusSign {
			phrases = append(phrases, strings.Join(current, " "))
			current = current[:0]
			continue
		}
		current = append(current, token)
	}
	last := strings.Join(current, " ")

	var out Split
	for _, p := range phrases {
		if p != "" {
			out.Finalized = append(out.Finalized, p)
		}
	}
	out.Pending = last
	return out
}

// Sanitize lower-cases text, isolates '+' as its own token, drops everything
// but letters, digits, whitespace, '+' and decimal separators, and collapses
// whitespace.
func Sanitize(text string) string {
	s := strings.ToLower(text)
	s = strings.ReplaceAll(s, plusSign, " "+plusSign+" ")
	s = disallowed.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
