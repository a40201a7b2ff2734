// Package similarity provides the string-similarity primitives used to compare
// normalized names: edit similarity, character n-gram overlap, affix
// similarity, and their weighted hybrid. Every function returns a value in
// [0,1] and expects input already passed through tokenizer.Normalize.
package similarity

import (
	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// MaxLengthDelta is the largest length difference for which an edit distance is
// computed at all. Pairs further apart score 0 without running Levenshtein.
const MaxLengthDelta = 2

// EditSimilarity compares two strings by edit distance.
// Equal-length strings use Hamming similarity, which is adequate for the
// same-length confusions produced by transliteration. Strings whose lengths
// differ by more than MaxLengthDelta score 0. Everything else uses
// 1 - levenshtein/maxLen, clamped at 0.
func EditSimilarity(a, b string) float64 {
	lenA, lenB := len(a), len(b)

	if lenA == lenB {
		if lenA == 0 {
			return 1
		}
		distance, err := smetrics.Hamming(a, b)
		if err != nil {
			return 0
		}
		return float64(lenA-distance) / float64(lenA)
	}

	if absInt(lenA-lenB) > MaxLengthDelta {
		return 0
	}

	distance := levenshtein.ComputeDistance(a, b)
	similarity := 1 - float64(distance)/float64(max(lenA, lenB))
	if similarity < 0 {
		return 0
	}
	return similarity
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
