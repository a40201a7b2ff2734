package similarity

// NGramSimilarity returns the Jaccard index of the character bigram sets of a
// and b. Two empty strings are identical (1); exactly one empty string scores 0.
// A single-character string contributes itself as its only gram.
func NGramSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	gramsA := bigrams(a)
	gramsB := bigrams(b)

	intersection := 0
	for gram := range gramsA {
		if _, ok := gramsB[gram]; ok {
			intersection++
		}
	}
	union := len(gramsA) + len(gramsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func bigrams(s string) map[string]struct{} {
	if len(s) < 2 {
		return map[string]struct{}{s: {}}
	}
	grams := make(map[string]struct{}, len(s)-1)
	for i := 0; i+2 <= len(s); i++ {
		grams[s[i:i+2]] = struct{}{}
	}
	return grams
}
