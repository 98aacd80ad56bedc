// Package textsim provides the lexical similarity primitives shared by the
// dedupe gate, the contradiction detector, and the novelty filter. All of it
// is plain token math; semantic similarity via embeddings layers on top when
// an embedding engine is configured.
package textsim

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases text and splits it on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// WordSet returns the distinct tokens of text with length > minLen.
// minLen 0 keeps everything.
func WordSet(text string, minLen int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if utf8.RuneCountInString(tok) > minLen {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Dice returns the Sørensen–Dice coefficient of two token sets.
// Two empty sets are treated as disjoint, not identical.
func Dice(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Jaccard returns the Jaccard index of two token sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// SubjectOverlap is the Dice coefficient over words longer than 3 runes,
// the overlap measure the contradiction detector uses.
func SubjectOverlap(a, b string) float64 {
	return Dice(WordSet(a, 3), WordSet(b, 3))
}

// Similarity scores two free-text fields in [0,1] via Jaccard over all
// tokens.
func Similarity(a, b string) float64 {
	return Jaccard(WordSet(a, 0), WordSet(b, 0))
}

// HasNegation reports whether the text contains a negation marker.
func HasNegation(text string) bool {
	for _, tok := range Tokenize(text) {
		switch tok {
		case "not", "no", "never", "false", "isn", "aren", "doesn", "don", "cannot":
			return true
		}
	}
	return false
}
