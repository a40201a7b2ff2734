// Package indexing maintains the word index of library files and track
// references on top of a store.Store.
package indexing

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gcbaptista/go-track-reconciler/config"
	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/internal/tokenizer"
	"github.com/gcbaptista/go-track-reconciler/store"
)

// Hit is one entity returned by Lookup, with the query words it contains.
type Hit struct {
	EntityID     int64
	Name         string   // Normalized name of the entity
	MatchCount   int      // Distinct query words found in the entity
	MatchedWords []string // In query order
	Positions    []int    // Ascending
}

// ChangeFunc is called after every committed index mutation.
type ChangeFunc func(class index.EntityClass, generation uint64)

// Service implements the word index. It fulfills the services.Indexer interface.
//
// Writes are serialized by the service; reads go straight to the store.
type Service struct {
	store    store.Store
	settings config.IndexSettings

	writeMu    sync.Mutex
	generation atomic.Uint64

	subsMu      sync.RWMutex
	subscribers []ChangeFunc
}

// NewService creates a new indexing Service.
func NewService(st store.Store, settings config.IndexSettings) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if settings.MinWordLength < 1 {
		settings.MinWordLength = 1
	}
	if settings.BatchSize < 1 {
		settings.BatchSize = 500
	}
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	return &Service{store: st, settings: settings}, nil
}

// Words splits normalized text with the service's word filter. Query paths
// must use it so index and query filtering agree.
func (s *Service) Words(normalized string) []string {
	return tokenizer.Words(normalized, s.settings.MinWordLength)
}

// Generation returns a counter that increases on every index mutation.
func (s *Service) Generation() uint64 {
	return s.generation.Load()
}

// Subscribe registers fn to be called after every index mutation.
func (s *Service) Subscribe(fn ChangeFunc) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Service) notify(class index.EntityClass) {
	gen := s.generation.Add(1)
	s.subsMu.RLock()
	subs := append([]ChangeFunc(nil), s.subscribers...)
	s.subsMu.RUnlock()
	for _, fn := range subs {
		fn(class, gen)
	}
}

// IndexEntity replaces every posting of an entity with one posting per word
// of normalizedName. The replacement is atomic.
func (s *Service) IndexEntity(ctx context.Context, class index.EntityClass, entityID int64, normalizedName string) error {
	if !class.Valid() {
		return internalErrors.NewValidationError("class", fmt.Sprintf("unknown entity class '%s'", class))
	}
	postings := index.BuildPostings(entityID, s.Words(normalizedName))

	s.writeMu.Lock()
	err := s.store.ReplacePostings(ctx, class, map[int64]index.PostingList{entityID: postings})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to index %s entity %d: %w", class, entityID, err)
	}

	s.notify(class)
	return nil
}

// RemoveEntity deletes every posting of an entity.
func (s *Service) RemoveEntity(ctx context.Context, class index.EntityClass, entityID int64) error {
	s.writeMu.Lock()
	err := s.store.DeletePostings(ctx, class, []int64{entityID})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to remove postings of %s entity %d: %w", class, entityID, err)
	}
	s.notify(class)
	return nil
}

// EntityRemoved tells the service that the store deleted an entity together
// with its postings, so subscribers can drop cached state.
func (s *Service) EntityRemoved(class index.EntityClass) {
	s.notify(class)
}

// Lookup returns every entity of class containing at least one of words,
// ordered by match count descending, then entity ID ascending.
//
// Postings whose entity no longer exists are dropped from the index and
// never returned.
func (s *Service) Lookup(ctx context.Context, class index.EntityClass, words []string) ([]Hit, error) {
	queryWords := make([]string, 0, len(words))
	wordOrder := make(map[string]int, len(words))
	for _, w := range words {
		if len(w) < s.settings.MinWordLength {
			continue
		}
		if _, dup := wordOrder[w]; dup {
			continue
		}
		wordOrder[w] = len(queryWords)
		queryWords = append(queryWords, w)
	}
	if len(queryWords) == 0 {
		return []Hit{}, nil
	}

	postings, err := s.store.LookupPostings(ctx, class, queryWords)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s postings: %w", class, err)
	}

	type accumulator struct {
		words     map[string]struct{}
		positions []int
	}
	byEntity := make(map[int64]*accumulator)
	for _, p := range postings {
		acc, ok := byEntity[p.EntityID]
		if !ok {
			acc = &accumulator{words: make(map[string]struct{})}
			byEntity[p.EntityID] = acc
		}
		acc.words[p.Word] = struct{}{}
		acc.positions = append(acc.positions, p.Position)
	}
	if len(byEntity) == 0 {
		return []Hit{}, nil
	}

	ids := make([]int64, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names, err := s.store.EntityNames(ctx, class, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s entities: %w", class, err)
	}

	hits := make([]Hit, 0, len(ids))
	var orphans []int64
	for _, id := range ids {
		name, live := names[id]
		if !live {
			orphans = append(orphans, id)
			continue
		}
		acc := byEntity[id]
		matched := make([]string, 0, len(acc.words))
		for w := range acc.words {
			matched = append(matched, w)
		}
		sort.Slice(matched, func(i, j int) bool { return wordOrder[matched[i]] < wordOrder[matched[j]] })
		sort.Ints(acc.positions)
		hits = append(hits, Hit{
			EntityID:     id,
			Name:         name,
			MatchCount:   len(matched),
			MatchedWords: matched,
			Positions:    acc.positions,
		})
	}

	if len(orphans) > 0 {
		s.dropOrphans(ctx, class, orphans)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].MatchCount != hits[j].MatchCount {
			return hits[i].MatchCount > hits[j].MatchCount
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	return hits, nil
}

// dropOrphans removes postings of entities that no longer exist. Failure to
// repair is logged; the orphans are excluded from results either way.
func (s *Service) dropOrphans(ctx context.Context, class index.EntityClass, orphans []int64) {
	log.Printf("Warning: %v; dropping them", internalErrors.NewOrphanPostingError(string(class), orphans))

	s.writeMu.Lock()
	err := s.store.DeletePostings(ctx, class, orphans)
	s.writeMu.Unlock()
	if err != nil {
		log.Printf("Warning: failed to drop orphan postings in %s index: %v", class, err)
		return
	}
	s.notify(class)
}

// RepairOrphans sweeps the whole class for postings whose entity no longer
// exists and deletes them. It returns the number of orphan entities removed.
func (s *Service) RepairOrphans(ctx context.Context, class index.EntityClass) (int, error) {
	ids, err := s.store.PostingEntityIDs(ctx, class)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s posting owners: %w", class, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	names, err := s.store.EntityNames(ctx, class, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s entities: %w", class, err)
	}

	var orphans []int64
	for _, id := range ids {
		if _, live := names[id]; !live {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	err = s.store.DeletePostings(ctx, class, orphans)
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan postings: %w", err)
	}

	log.Printf("Info: Removed postings of %d orphan entities from %s index", len(orphans), class)
	s.notify(class)
	return len(orphans), nil
}

// DistinctWords returns every indexed word of class, sorted.
func (s *Service) DistinctWords(ctx context.Context, class index.EntityClass) ([]string, error) {
	words, err := s.store.DistinctWords(ctx, class)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s words: %w", class, err)
	}
	return words, nil
}
