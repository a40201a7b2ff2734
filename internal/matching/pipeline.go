// Package matching resolves track references to library files by running
// a fixed sequence of increasingly permissive stages. Each stage only sees
// references that are still unmatched, and its matches are committed before
// the next stage starts.
package matching

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gcbaptista/go-track-reconciler/config"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/internal/indexing"
	"github.com/gcbaptista/go-track-reconciler/internal/search"
	"github.com/gcbaptista/go-track-reconciler/internal/similarity"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
	"github.com/gcbaptista/go-track-reconciler/store"
)

// Pipeline runs the matching stages. It fulfills the services.Matcher interface.
type Pipeline struct {
	store    store.Store
	indexer  *indexing.Service
	settings config.MatchingSettings
}

// NewPipeline creates a Pipeline over st, using indexer for word lookups.
func NewPipeline(st store.Store, indexer *indexing.Service, settings config.MatchingSettings) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer cannot be nil")
	}
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.EarlyStopWords < 1 {
		settings.EarlyStopWords = search.DefaultEarlyStopWords
	}
	return &Pipeline{store: st, indexer: indexer, settings: settings}, nil
}

// runContext holds the state of one run. The pair cache lives only as long as
// the run and is dropped whenever the index generation moves.
type runContext struct {
	id         string
	threshold  float64
	limit      int
	pairs      *similarity.PairCache
	generation uint64
	library    *librarySnapshot
}

// refresh invalidates the run caches if the index changed since the last stage.
func (p *Pipeline) refresh(rc *runContext) {
	if gen := p.indexer.Generation(); gen != rc.generation {
		rc.pairs.Invalidate()
		rc.library = nil
		rc.generation = gen
	}
}

// stageFunc returns the matches a stage found among refs.
type stageFunc func(ctx context.Context, rc *runContext, refs []model.Reference) ([]model.MatchResult, error)

func (p *Pipeline) stages() []struct {
	stage model.Stage
	run   stageFunc
} {
	return []struct {
		stage model.Stage
		run   stageFunc
	}{
		{model.StageExactPath, p.matchExactPath},
		{model.StageExactFileName, p.matchExactFileName},
		{model.StageFileNameStem, p.matchFileNameStem},
		{model.StageFuzzySimilarity, p.matchFuzzy},
		{model.StageWordCombination, p.matchWordCombination},
	}
}

// Run executes every stage in order over the unmatched references.
func (p *Pipeline) Run(ctx context.Context, opts services.MatchOptions) (model.PipelineReport, error) {
	start := time.Now()

	threshold := opts.FuzzyThreshold
	if threshold == 0 {
		threshold = p.settings.FuzzyThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return model.PipelineReport{}, internalErrors.NewValidationError("fuzzy_threshold", fmt.Sprintf("must be in (0, 1], got %v", threshold))
	}
	if opts.Limit < 0 {
		return model.PipelineReport{}, internalErrors.NewValidationError("limit", "must not be negative")
	}

	pairs, err := similarity.NewPairCache(p.settings.PairCacheSize)
	if err != nil {
		return model.PipelineReport{}, fmt.Errorf("failed to create pair cache: %w", err)
	}
	rc := &runContext{
		id:         uuid.New().String(),
		threshold:  threshold,
		limit:      opts.Limit,
		pairs:      pairs,
		generation: p.indexer.Generation(),
	}

	stages := p.stages()
	report := model.PipelineReport{RunID: rc.id, Stages: make([]model.StageReport, 0, len(stages))}
	for i, s := range stages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if opts.Progress != nil {
			opts.Progress(i, len(stages), fmt.Sprintf("Running stage %s", s.stage))
		}

		stageReport, err := p.runStage(ctx, rc, s.stage, s.run)
		if err != nil {
			return report, fmt.Errorf("stage %s failed: %w", s.stage, err)
		}
		report.Stages = append(report.Stages, stageReport)
	}
	if opts.Progress != nil {
		opts.Progress(len(stages), len(stages), "Matching complete")
	}

	stats, err := p.store.MatchStatistics(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read match statistics: %w", err)
	}
	report.Statistics = stats
	report.TookMs = time.Since(start).Milliseconds()

	hits, misses := rc.pairs.Stats()
	log.Printf("Info: matching run %s finished: %d/%d references matched (%.1f%%), pair cache %d hits / %d misses",
		rc.id, stats.Matched, stats.Total, stats.MatchRate, hits, misses)
	return report, nil
}

// runStage loads the unmatched references, runs one stage over them and
// commits its matches.
func (p *Pipeline) runStage(ctx context.Context, rc *runContext, stage model.Stage, run stageFunc) (model.StageReport, error) {
	start := time.Now()
	p.refresh(rc)

	refs, err := p.store.ListReferences(ctx, store.ReferenceFilter{UnmatchedOnly: true, Limit: rc.limit})
	if err != nil {
		return model.StageReport{}, err
	}
	report := model.StageReport{Stage: stage, Considered: len(refs)}
	if len(refs) == 0 {
		return report, nil
	}

	results, err := run(ctx, rc, refs)
	if err != nil {
		return report, err
	}
	for i := range results {
		results[i].Matched = true
		results[i].Stage = stage
	}

	matched, err := p.store.SaveMatches(ctx, results)
	if err != nil {
		return report, err
	}
	report.Matched = matched
	report.TookMs = time.Since(start).Milliseconds()
	log.Printf("Stage %s matched %d/%d references in %dms", stage, matched, len(refs), report.TookMs)
	return report, nil
}

var _ services.Matcher = (*Pipeline)(nil)
