// Package scoring ranks candidate entities against a query by word overlap,
// phrase containment and word adjacency.
package scoring

import (
	"sort"
	"strings"
)

// Score components.
const (
	MatchWeight       = 5.0
	CoverageWeight    = 100.0
	BrevityBase       = 50.0
	BrevityPerWord    = 2.0
	PhraseBonus       = 500.0
	AllWordsBonus     = 300.0
	FirstWordBonus    = 50.0
	AdjacentPairBonus = 30.0
)

// Breakdown records every component of a score.
type Breakdown struct {
	Matches       float64 `json:"matches"`
	Coverage      float64 `json:"coverage"`
	Brevity       float64 `json:"brevity"`
	Phrase        float64 `json:"phrase"`
	AllWords      float64 `json:"all_words"`
	FirstWord     float64 `json:"first_word"`
	AdjacentPairs float64 `json:"adjacent_pairs"`
}

// Total sums the components.
func (b Breakdown) Total() float64 {
	return b.Matches + b.Coverage + b.Brevity + b.Phrase + b.AllWords + b.FirstWord + b.AdjacentPairs
}

// Candidate is a scored entity.
type Candidate struct {
	EntityID         int64     `json:"entity_id"`
	Name             string    `json:"name"`
	Score            float64   `json:"score"`
	MatchedWordCount int       `json:"matched_word_count"`
	Breakdown        Breakdown `json:"breakdown"`
}

type wordPair struct{ first, second string }

// Score scores a normalized candidate name against query words.
// An empty query scores 0.
func Score(queryWords []string, candidateName string) Candidate {
	c := Candidate{Name: candidateName}
	if len(queryWords) == 0 {
		return c
	}
	candWords := strings.Fields(candidateName)

	present := make(map[string]struct{}, len(candWords))
	for _, w := range candWords {
		present[w] = struct{}{}
	}

	seen := make(map[string]struct{}, len(queryWords))
	matchCount := 0
	for _, w := range queryWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := present[w]; ok {
			matchCount++
		}
	}
	distinct := len(seen)

	var b Breakdown
	b.Matches = float64(matchCount) * MatchWeight
	b.Coverage = float64(matchCount) / float64(distinct) * CoverageWeight
	if brevity := BrevityBase - float64(len(candWords))*BrevityPerWord; brevity > 0 {
		b.Brevity = brevity
	}
	if strings.Contains(candidateName, strings.Join(queryWords, " ")) {
		b.Phrase = PhraseBonus
	}
	if matchCount == distinct {
		b.AllWords = AllWordsBonus
	}
	if strings.HasPrefix(candidateName, queryWords[0]) {
		b.FirstWord = FirstWordBonus
	}

	queryPairs := make(map[wordPair]struct{}, len(queryWords))
	for i := 0; i+1 < len(queryWords); i++ {
		queryPairs[wordPair{queryWords[i], queryWords[i+1]}] = struct{}{}
	}
	for i := 0; i+1 < len(candWords); i++ {
		if _, ok := queryPairs[wordPair{candWords[i], candWords[i+1]}]; ok {
			b.AdjacentPairs += AdjacentPairBonus
		}
	}

	c.MatchedWordCount = matchCount
	c.Breakdown = b
	c.Score = b.Total()
	return c
}

// Less reports whether a ranks before b: higher score, then more matched
// words, then shorter name, then lexicographically smaller name, then lower
// entity ID.
func Less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.MatchedWordCount != b.MatchedWordCount {
		return a.MatchedWordCount > b.MatchedWordCount
	}
	if len(a.Name) != len(b.Name) {
		return len(a.Name) < len(b.Name)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.EntityID < b.EntityID
}

// Rank sorts candidates in place, best first.
func Rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return Less(candidates[i], candidates[j]) })
}

// WordOverlap greedily pairs each reference word with the most similar
// unused candidate word scoring at least cutoff. It returns the matched
// fraction of reference words and the matched count. Ties go to the earlier
// candidate word.
func WordOverlap(refWords, candWords []string, sim func(a, b string) float64, cutoff float64) (float64, int) {
	if len(refWords) == 0 {
		return 0, 0
	}

	used := make([]bool, len(candWords))
	matched := 0
	for _, rw := range refWords {
		best := -1
		bestScore := 0.0
		for i, cw := range candWords {
			if used[i] {
				continue
			}
			score := sim(rw, cw)
			if score >= cutoff && (best < 0 || score > bestScore) {
				best = i
				bestScore = score
			}
		}
		if best >= 0 {
			used[best] = true
			matched++
		}
	}
	return float64(matched) / float64(len(refWords)), matched
}
