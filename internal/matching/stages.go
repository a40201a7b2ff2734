package matching

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/internal/indexing"
	"github.com/gcbaptista/go-track-reconciler/internal/scoring"
	"github.com/gcbaptista/go-track-reconciler/internal/search"
	"github.com/gcbaptista/go-track-reconciler/internal/tokenizer"
	"github.com/gcbaptista/go-track-reconciler/model"
)

// librarySnapshot is a read-only view of the library shared by every worker of
// a run. Every key maps to the lowest library ID carrying it.
type librarySnapshot struct {
	files      []model.LibraryFile // Ordered by ID, non-empty normalized names only
	byPath     map[string]int64
	byFileName map[string]int64
	byStem     map[string]int64
}

func (p *Pipeline) library(ctx context.Context, rc *runContext) (*librarySnapshot, error) {
	if rc.library != nil {
		return rc.library, nil
	}
	files, err := p.store.ListLibraryFiles(ctx)
	if err != nil {
		return nil, err
	}

	snap := &librarySnapshot{
		files:      make([]model.LibraryFile, 0, len(files)),
		byPath:     make(map[string]int64, len(files)),
		byFileName: make(map[string]int64, len(files)),
		byStem:     make(map[string]int64, len(files)),
	}
	addFirst := func(m map[string]int64, key string, id int64) {
		if key == "" {
			return
		}
		if _, exists := m[key]; !exists {
			m[key] = id
		}
	}
	for _, f := range files {
		addFirst(snap.byPath, f.Path, f.ID)
		addFirst(snap.byFileName, f.FileName, f.ID)
		addFirst(snap.byStem, tokenizer.Stem(f.FileName), f.ID)
		if f.NormalizedName != "" {
			snap.files = append(snap.files, f)
		}
	}
	rc.library = snap
	return snap, nil
}

// matchByKey matches every reference whose key is present in m.
func matchByKey(refs []model.Reference, m map[string]int64, key func(model.Reference) string) []model.MatchResult {
	results := make([]model.MatchResult, 0)
	for _, ref := range refs {
		k := key(ref)
		if k == "" {
			continue
		}
		if id, ok := m[k]; ok {
			results = append(results, model.MatchResult{ReferenceID: ref.ID, MatchedEntityID: id, Score: 1})
		}
	}
	return results
}

func (p *Pipeline) matchExactPath(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error) {
	lib, err := p.library(ctx, rc)
	if err != nil {
		return nil, err
	}
	return matchByKey(refs, lib.byPath, func(r model.Reference) string { return r.Path }), nil
}

func (p *Pipeline) matchExactFileName(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error) {
	lib, err := p.library(ctx, rc)
	if err != nil {
		return nil, err
	}
	return matchByKey(refs, lib.byFileName, func(r model.Reference) string { return r.FileName }), nil
}

func (p *Pipeline) matchFileNameStem(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error) {
	lib, err := p.library(ctx, rc)
	if err != nil {
		return nil, err
	}
	return matchByKey(refs, lib.byStem, func(r model.Reference) string { return tokenizer.Stem(r.FileName) }), nil
}

// matchFunc decides a single reference. ok is false when nothing qualified.
type matchFunc func(ctx context.Context, ref model.Reference) (result model.MatchResult, ok bool, err error)

// parallelMatch partitions refs across the configured workers. Each worker
// writes into its own slots, so the results keep reference order.
func (p *Pipeline) parallelMatch(ctx context.Context, refs []model.Reference, match matchFunc) ([]model.MatchResult, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	workers := min(p.settings.Workers, len(refs))
	slots := make([]*model.MatchResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(refs) + workers - 1) / workers
	for start := 0; start < len(refs); start += chunk {
		end := min(start+chunk, len(refs))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				result, ok, err := match(gctx, refs[i])
				if err != nil {
					return err
				}
				if ok {
					slots[i] = &result
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]model.MatchResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// matchFuzzy compares every reference with every library file and keeps the
// best one scoring at least the run threshold. Ties go to the lower ID.
func (p *Pipeline) matchFuzzy(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error) {
	lib, err := p.library(ctx, rc)
	if err != nil {
		return nil, err
	}
	if len(lib.files) == 0 {
		return nil, nil
	}

	return p.parallelMatch(ctx, refs, func(ctx context.Context, ref model.Reference) (model.MatchResult, bool, error) {
		if ref.NormalizedName == "" {
			return model.MatchResult{}, false, nil
		}
		bestID := int64(0)
		bestScore := -1.0
		for _, f := range lib.files {
			score := rc.pairs.Hybrid(ref.NormalizedName, f.NormalizedName)
			if score > bestScore {
				bestID, bestScore = f.ID, score
			}
		}
		if bestScore < rc.threshold {
			return model.MatchResult{}, false, nil
		}
		return model.MatchResult{ReferenceID: ref.ID, MatchedEntityID: bestID, Score: bestScore}, true, nil
	})
}

// matchWordCombination uses the stepwise planner to find library candidates
// sharing a phrase with the reference, then accepts the candidate with the
// best word overlap.
//
// A candidate qualifies when its overlap ratio reaches the word threshold, or
// when it has at least MinWords words and every one of them appears in the
// reference.
func (p *Pipeline) matchWordCombination(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error) {
	planner := search.Planner{EarlyStopWords: p.settings.EarlyStopWords, Similarity: rc.pairs.Hybrid}
	lookup := func(ctx context.Context, words []string) ([]indexing.Hit, error) {
		return p.indexer.Lookup(ctx, index.ClassLibrary, words)
	}

	return p.parallelMatch(ctx, refs, func(ctx context.Context, ref model.Reference) (model.MatchResult, bool, error) {
		words := p.indexer.Words(ref.NormalizedName)
		if len(words) < p.settings.MinWords || len(ref.NormalizedName) <= p.settings.MinNameLength {
			return model.MatchResult{}, false, nil
		}

		step, err := planner.Stepwise(ctx, words, lookup)
		if err != nil {
			return model.MatchResult{}, false, err
		}

		found := false
		best := model.MatchResult{ReferenceID: ref.ID}
		for _, cand := range step.Candidates {
			score, ok := p.acceptWords(rc, words, strings.Fields(cand.Name))
			if ok && (!found || score > best.Score) {
				found = true
				best.MatchedEntityID = cand.EntityID
				best.Score = score
			}
		}
		return best, found, nil
	})
}

// acceptWords returns the overlap ratio of a candidate and whether it qualifies.
func (p *Pipeline) acceptWords(rc *runContext, refWords, candWords []string) (float64, bool) {
	ratio, _ := scoring.WordOverlap(refWords, candWords, rc.pairs.Hybrid, p.settings.WordCutoff)
	if ratio >= p.settings.WordThreshold {
		return ratio, true
	}
	if len(candWords) >= p.settings.MinWords {
		contained, _ := scoring.WordOverlap(candWords, refWords, rc.pairs.Hybrid, p.settings.WordCutoff)
		if contained == 1 {
			return ratio, true
		}
	}
	return ratio, false
}
