// Package tokencount estimates token counts for cache entry content.
//
// Counting is on the hot path of every add and re-score, so counters
// must be pure and cheap: no I/O, no locks, stable output for identical
// input. Accurate API-backed counting lives with the handoff layer,
// where a network round trip is already being paid.
package tokencount

import (
	"strings"
	"unicode"
)

// Counter converts content into a token-count estimate.
type Counter interface {
	// Count returns a non-negative token estimate for the content.
	// Deterministic and side-effect free.
	Count(content string) int
}

// defaultCharsPerToken matches the common ~4 chars/token approximation
// for English text under Claude-family tokenizers.
const defaultCharsPerToken = 4

// Heuristic is a character-ratio token estimator with a small
// adjustment for whitespace-dense content such as logs and code.
type Heuristic struct {
	// CharsPerToken is the assumed characters-per-token ratio.
	// Zero means the default of 4.
	CharsPerToken int
}

// Compile-time check that Heuristic implements Counter.
var _ Counter = Heuristic{}

// NewHeuristic returns a Heuristic with the default ratio.
func NewHeuristic() Heuristic {
	return Heuristic{CharsPerToken: defaultCharsPerToken}
}

// Count estimates tokens from character count. Content that is mostly
// short whitespace-separated fields (tables, logs) tokenizes closer to
// one token per field, so the word count acts as a floor.
func (h Heuristic) Count(content string) int {
	if len(content) == 0 {
		return 0
	}

	cpt := h.CharsPerToken
	if cpt <= 0 {
		cpt = defaultCharsPerToken
	}

	tokens := (len(content) + cpt - 1) / cpt
	if fields := countFields(content); fields > tokens {
		tokens = fields
	}
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// countFields counts whitespace-separated fields without allocating.
func countFields(s string) int {
	n := 0
	inField := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inField = false
		} else if !inField {
			inField = true
			n++
		}
	}
	return n
}

// IsNumericPayload reports whether content is predominantly numeric
// data (metrics, vectors, tables), which compresses by quantization
// rather than summarization.
func IsNumericPayload(content string) bool {
	fields := strings.Fields(content)
	if len(fields) < 4 {
		return false
	}
	numeric := 0
	for _, f := range fields {
		if isNumericField(f) {
			numeric++
		}
	}
	return numeric*2 > len(fields)
}

func isNumericField(s string) bool {
	s = strings.TrimRight(s, ",;")
	if s == "" {
		return false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case (r == '-' || r == '+') && i == 0:
		case r == '.' && !dot:
			dot = true
		case r == 'e' || r == 'E':
			// Exponent markers appear mid-number; cheap acceptance is
			// fine for a payload-shape heuristic.
		default:
			return false
		}
	}
	return true
}
