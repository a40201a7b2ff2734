package similarity

// AffixSimilarity averages three signals, each normalized by the longer
// length: the common prefix, the common suffix, and 1 - the length difference.
func AffixSimilarity(a, b string) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1
	}

	prefix := commonPrefixLength(a, b)
	suffix := commonSuffixLength(a, b)
	lengthScore := 1 - float64(absInt(len(a)-len(b)))/float64(maxLen)

	return (float64(prefix)/float64(maxLen) + float64(suffix)/float64(maxLen) + lengthScore) / 3
}

func commonPrefixLength(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLength(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
