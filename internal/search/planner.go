package search

import (
	"context"
	"sort"
	"strings"

	"github.com/gcbaptista/go-track-reconciler/internal/indexing"
	"github.com/gcbaptista/go-track-reconciler/internal/similarity"
)

// DefaultEarlyStopWords is the combination length at which Stepwise settles
// for the first matching candidate.
const DefaultEarlyStopWords = 3

// Lookup returns entities containing at least one of words. indexing.Service
// Lookup bound to an entity class satisfies it.
type Lookup func(ctx context.Context, words []string) ([]indexing.Hit, error)

// PrefixTiers returns the query tiers in the order they are tried: the full
// phrase, every shorter prefix down to the first word, then each remaining
// single word. Duplicate tiers are removed.
func PrefixTiers(words []string) [][]string {
	tiers := make([][]string, 0, 2*len(words))
	seen := make(map[string]struct{}, 2*len(words))
	add := func(tier []string) {
		key := strings.Join(tier, " ")
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		tiers = append(tiers, tier)
	}

	for n := len(words); n >= 1; n-- {
		add(words[:n])
	}
	for i := 1; i < len(words); i++ {
		add(words[i : i+1])
	}
	return tiers
}

// Combinations returns every contiguous window of words, longest first and
// left to right within a length.
func Combinations(words []string) [][]string {
	combos := make([][]string, 0, len(words)*(len(words)+1)/2)
	for size := len(words); size >= 1; size-- {
		for start := 0; start+size <= len(words); start++ {
			combos = append(combos, words[start:start+size])
		}
	}
	return combos
}

// ContainsPhrase reports whether the normalized name contains phrase as a
// run of whole words.
func ContainsPhrase(name string, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	return strings.Contains(" "+name+" ", " "+strings.Join(phrase, " ")+" ")
}

func phraseHits(hits []indexing.Hit, phrase []string) []indexing.Hit {
	matched := make([]indexing.Hit, 0, len(hits))
	for _, h := range hits {
		if ContainsPhrase(h.Name, phrase) {
			matched = append(matched, h)
		}
	}
	return matched
}

// RankedHit is a hit with its similarity to the full query.
type RankedHit struct {
	indexing.Hit
	Similarity float64
}

// StepwiseResult is the outcome of a stepwise combination search.
type StepwiseResult struct {
	Combination  []string    // The combination that produced the candidates, nil if none did
	Candidates   []RankedHit // Best first
	EarlyStopped bool        // True when the search settled for the first matching candidate
}

// Planner issues progressively looser queries against the index.
type Planner struct {
	EarlyStopWords int
	Similarity     func(a, b string) float64 // Defaults to similarity.Hybrid
}

func (p Planner) similarity(a, b string) float64 {
	if p.Similarity == nil {
		return similarity.Hybrid(a, b)
	}
	return p.Similarity(a, b)
}

func (p Planner) earlyStopWords() int {
	if p.EarlyStopWords < 1 {
		return DefaultEarlyStopWords
	}
	return p.EarlyStopWords
}

// FirstTier issues the prefix tiers of words in order and returns the first
// tier for which some entity contains the tier phrase, with those entities.
func (p Planner) FirstTier(ctx context.Context, words []string, lookup Lookup) ([]string, []indexing.Hit, error) {
	for _, tier := range PrefixTiers(words) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		hits, err := lookup(ctx, tier)
		if err != nil {
			return nil, nil, err
		}
		if matched := phraseHits(hits, tier); len(matched) > 0 {
			return tier, matched, nil
		}
	}
	return nil, []indexing.Hit{}, nil
}

// Stepwise tries the combinations of words longest first. A candidate matches
// a combination when its name contains the combination phrase. When the
// combination spans the whole query or has at least EarlyStopWords words the
// first matching candidate (lowest entity ID) is returned at once. Shorter
// combinations return every matching candidate ranked by similarity to the
// full query. The first combination with a match wins.
func (p Planner) Stepwise(ctx context.Context, words []string, lookup Lookup) (StepwiseResult, error) {
	full := strings.Join(words, " ")

	for _, combo := range Combinations(words) {
		if err := ctx.Err(); err != nil {
			return StepwiseResult{}, err
		}
		hits, err := lookup(ctx, combo)
		if err != nil {
			return StepwiseResult{}, err
		}
		matched := phraseHits(hits, combo)
		if len(matched) == 0 {
			continue
		}
		sort.Slice(matched, func(i, j int) bool { return matched[i].EntityID < matched[j].EntityID })

		if len(combo) == len(words) || len(combo) >= p.earlyStopWords() {
			first := matched[0]
			return StepwiseResult{
				Combination:  combo,
				Candidates:   []RankedHit{{Hit: first, Similarity: p.similarity(full, first.Name)}},
				EarlyStopped: true,
			}, nil
		}

		ranked := make([]RankedHit, len(matched))
		for i, h := range matched {
			ranked[i] = RankedHit{Hit: h, Similarity: p.similarity(full, h.Name)}
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })
		return StepwiseResult{Combination: combo, Candidates: ranked}, nil
	}
	return StepwiseResult{}, nil
}
