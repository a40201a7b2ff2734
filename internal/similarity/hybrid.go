package similarity

// Weights of the hybrid blend.
const (
	EditWeight  = 0.5
	NGramWeight = 0.3
	AffixWeight = 0.2
)

// Hybrid blends the three primitives: 0.5·edit + 0.3·ngram + 0.2·affix.
// It is symmetric: Hybrid(a, b) == Hybrid(b, a).
func Hybrid(a, b string) float64 {
	if a == b {
		return 1
	}
	return EditWeight*EditSimilarity(a, b) +
		NGramWeight*NGramSimilarity(a, b) +
		AffixWeight*AffixSimilarity(a, b)
}
