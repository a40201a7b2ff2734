package search

import (
	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/internal/scoring"
)

// Hit tiers.
const (
	TierExact = "exact"
	TierFuzzy = "fuzzy"
)

// candidateHit represents an entity candidate during search processing
type candidateHit struct {
	class         index.EntityClass
	candidate     scoring.Candidate
	tier          string
	matchedWords  []string
	numFuzzyWords int
}

// expansionKey identifies a cached fuzzy expansion of one query word.
type expansionKey struct {
	class     index.EntityClass
	word      string
	threshold float64
}
