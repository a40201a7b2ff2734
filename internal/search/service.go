// Package search implements live search over the word index and the
// progressive query planner shared with the matching pipeline.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gcbaptista/go-track-reconciler/config"
	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/internal/indexing"
	"github.com/gcbaptista/go-track-reconciler/internal/scoring"
	"github.com/gcbaptista/go-track-reconciler/internal/similarity"
	"github.com/gcbaptista/go-track-reconciler/internal/tokenizer"
	"github.com/gcbaptista/go-track-reconciler/services"
	"github.com/gcbaptista/go-track-reconciler/store"
)

const expansionCacheSize = 10_000

// Service implements live search. It fulfills the services.Searcher interface.
//
// The word lists, fuzzy expansions and pair scores it caches belong to one
// index generation and are dropped on every index change.
type Service struct {
	store    store.Store
	indexer  *indexing.Service
	settings config.SearchSettings
	planner  Planner

	mu         sync.RWMutex
	generation uint64
	pairs      *similarity.PairCache
	expansions *lru.Cache[expansionKey, []string]
	words      map[index.EntityClass][]string
}

// NewService creates a new search Service and subscribes it to index changes.
func NewService(st store.Store, indexer *indexing.Service, settings config.SearchSettings) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer cannot be nil")
	}

	pairs, err := similarity.NewPairCache(settings.PairCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}
	expansions, err := lru.New[expansionKey, []string](expansionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion cache: %w", err)
	}

	s := &Service{
		store:      st,
		indexer:    indexer,
		settings:   settings,
		planner:    Planner{Similarity: pairs.Hybrid},
		generation: indexer.Generation(),
		pairs:      pairs,
		expansions: expansions,
		words:      make(map[index.EntityClass][]string),
	}
	indexer.Subscribe(func(class index.EntityClass, generation uint64) {
		s.Invalidate()
	})
	return s, nil
}

// Invalidate drops every cached word list, expansion and pair score.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation = s.indexer.Generation()
	s.words = make(map[index.EntityClass][]string)
	s.expansions.Purge()
	s.pairs.Invalidate()
}

// Search runs query against the classes selected by opts.Scope. A query that
// normalizes to nothing returns an empty result.
func (s *Service) Search(ctx context.Context, query string, opts services.SearchOptions) (services.SearchResult, error) {
	startTime := time.Now()

	limit := opts.Limit
	if limit <= 0 {
		limit = s.settings.DefaultLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	threshold := opts.FuzzyThreshold
	if threshold == 0 {
		threshold = s.settings.FuzzyThreshold
	}
	if threshold < 0 || threshold > 1 {
		return services.SearchResult{}, internalErrors.NewValidationError("fuzzy_threshold", fmt.Sprintf("must be in (0, 1], got %v", threshold))
	}
	scope, err := services.ParseScope(string(opts.Scope))
	if err != nil {
		return services.SearchResult{}, internalErrors.NewValidationError("scope", err.Error())
	}

	result := services.SearchResult{
		Hits:    []services.HitResult{},
		Limit:   limit,
		Offset:  offset,
		QueryId: uuid.New().String(),
	}

	words := s.indexer.Words(tokenizer.Normalize(query))
	if len(words) == 0 {
		result.Took = time.Since(startTime).Milliseconds()
		return result, nil
	}

	// Each class is ranked in full before it is cut to the buffer.
	buffer := s.settings.ResultBufferSize(offset, limit)
	if buffer < offset+limit {
		buffer = offset + limit
	}
	var candidates []candidateHit
	for _, class := range scope.Classes() {
		classCandidates, err := s.searchClass(ctx, class, words, threshold)
		if err != nil {
			return services.SearchResult{}, err
		}
		result.Total += len(classCandidates)
		rankCandidates(classCandidates)
		if len(classCandidates) > buffer {
			classCandidates = classCandidates[:buffer]
		}
		candidates = append(candidates, classCandidates...)
	}
	rankCandidates(candidates)

	if offset >= len(candidates) {
		result.Took = time.Since(startTime).Milliseconds()
		return result, nil
	}
	end := offset + limit
	if end > len(candidates) {
		end = len(candidates)
	}

	for _, c := range candidates[offset:end] {
		hit, err := s.buildHit(ctx, c)
		if err != nil {
			return services.SearchResult{}, err
		}
		result.Hits = append(result.Hits, hit)
	}

	result.Took = time.Since(startTime).Milliseconds()
	return result, nil
}

// searchClass collects scored candidates of one class: the first exact tier
// if any tier matches, otherwise fuzzy word expansion.
func (s *Service) searchClass(ctx context.Context, class index.EntityClass, words []string, threshold float64) ([]candidateHit, error) {
	lookup := func(ctx context.Context, tierWords []string) ([]indexing.Hit, error) {
		return s.indexer.Lookup(ctx, class, tierWords)
	}

	_, hits, err := s.planner.FirstTier(ctx, words, lookup)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		candidates := make([]candidateHit, 0, len(hits))
		for _, h := range hits {
			c := scoring.Score(words, h.Name)
			c.EntityID = h.EntityID
			candidates = append(candidates, candidateHit{class: class, candidate: c, tier: TierExact, matchedWords: h.MatchedWords})
		}
		return candidates, nil
	}

	return s.fuzzySearch(ctx, class, words, threshold)
}

// fuzzySearch expands every query word to the indexed words at least
// threshold similar to it and scores candidates against the query with each
// word replaced by its best expansion present in the candidate.
func (s *Service) fuzzySearch(ctx context.Context, class index.EntityClass, words []string, threshold float64) ([]candidateHit, error) {
	expansions := make(map[string][]string, len(words))
	var lookupWords []string
	for _, w := range words {
		expanded, err := s.expand(ctx, class, w, threshold)
		if err != nil {
			return nil, err
		}
		expansions[w] = expanded
		lookupWords = append(lookupWords, expanded...)
	}
	if len(lookupWords) == 0 {
		return nil, nil
	}

	hits, err := s.indexer.Lookup(ctx, class, lookupWords)
	if err != nil {
		return nil, err
	}
	candidates := make([]candidateHit, 0, len(hits))
	for _, h := range hits {
		present := make(map[string]struct{}, len(h.MatchedWords))
		for _, w := range h.MatchedWords {
			present[w] = struct{}{}
		}

		corrected := make([]string, len(words))
		fuzzyWords := 0
		for i, w := range words {
			corrected[i] = w
			if _, ok := present[w]; ok {
				continue
			}
			best, bestScore := "", -1.0
			for _, e := range expansions[w] {
				if _, ok := present[e]; !ok {
					continue
				}
				if score := s.pairs.Hybrid(w, e); score > bestScore {
					best, bestScore = e, score
				}
			}
			if best != "" {
				corrected[i] = best
				fuzzyWords++
			}
		}

		c := scoring.Score(corrected, h.Name)
		c.EntityID = h.EntityID
		candidates = append(candidates, candidateHit{class: class, candidate: c, tier: TierFuzzy, matchedWords: h.MatchedWords, numFuzzyWords: fuzzyWords})
	}
	return candidates, nil
}

// rankCandidates sorts candidates best first. Candidates scoring the same in
// different classes keep library before reference.
func rankCandidates(candidates []candidateHit) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if scoring.Less(a.candidate, b.candidate) {
			return true
		}
		if scoring.Less(b.candidate, a.candidate) {
			return false
		}
		return a.class < b.class
	})
}

// expand returns the indexed words of class at least threshold similar to word.
func (s *Service) expand(ctx context.Context, class index.EntityClass, word string, threshold float64) ([]string, error) {
	key := expansionKey{class: class, word: word, threshold: threshold}
	if cached, ok := s.expansions.Get(key); ok {
		return cached, nil
	}

	generation := s.currentGeneration()
	vocabulary, err := s.wordList(ctx, class)
	if err != nil {
		return nil, err
	}

	expanded := make([]string, 0)
	for _, candidate := range vocabulary {
		if s.pairs.Hybrid(word, candidate) >= threshold {
			expanded = append(expanded, candidate)
		}
	}

	s.mu.RLock()
	if s.generation == generation {
		s.expansions.Add(key, expanded)
	}
	s.mu.RUnlock()
	return expanded, nil
}

func (s *Service) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// wordList returns the cached distinct words of class, loading them on first use.
func (s *Service) wordList(ctx context.Context, class index.EntityClass) ([]string, error) {
	s.mu.RLock()
	words, ok := s.words[class]
	generation := s.generation
	s.mu.RUnlock()
	if ok {
		return words, nil
	}

	words, err := s.indexer.DistinctWords(ctx, class)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation == generation {
		s.words[class] = words
	}
	s.mu.Unlock()
	return words, nil
}

func (s *Service) buildHit(ctx context.Context, c candidateHit) (services.HitResult, error) {
	hit := services.HitResult{
		Class:          c.class,
		EntityID:       c.candidate.EntityID,
		NormalizedName: c.candidate.Name,
		Score:          c.candidate.Score,
		Info: services.HitInfo{
			Tier:          c.tier,
			MatchedWords:  c.matchedWords,
			NumFuzzyWords: c.numFuzzyWords,
			Breakdown:     c.candidate.Breakdown,
		},
	}

	switch c.class {
	case index.ClassLibrary:
		f, err := s.store.GetLibraryFile(ctx, c.candidate.EntityID)
		if err != nil {
			return services.HitResult{}, fmt.Errorf("failed to load library file %d: %w", c.candidate.EntityID, err)
		}
		hit.Path, hit.FileName = f.Path, f.FileName
	case index.ClassReference:
		r, err := s.store.GetReference(ctx, c.candidate.EntityID)
		if err != nil {
			return services.HitResult{}, fmt.Errorf("failed to load reference %d: %w", c.candidate.EntityID, err)
		}
		hit.Path, hit.FileName = r.Path, r.FileName
	}
	return hit, nil
}
