// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package dedupe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes a title or venue name for comparison:
// lower case, diacritics removed, punctuation replaced by spaces and runs
// of whitespace collapsed. NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}

	lowered := strings.ToLower(s)

	// transform.Transformer values carry state, so one chain per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, folded)

	return strings.Join(strings.Fields(mapped), " ")
}

// levenshtein returns the edit distance between a and b, counted in runes.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// StringSimilarity returns 1 - editDistance/len(longer) over the normalized
// forms of a and b. Two empty strings are identical and score 1.0.
func StringSimilarity(a, b string) float64 {
	return normalizedSimilarity(NormalizeText(a), NormalizeText(b))
}

func normalizedSimilarity(na, nb string) float64 {
	ra, rb := []rune(na), []rune(nb)
	longer := max(len(ra), len(rb))
	if longer == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longer)
}
