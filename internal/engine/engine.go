// Package engine wires the store, the word index, live search, the matching
// pipeline and the job manager into the single reconciler the adapters use.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gcbaptista/go-track-reconciler/config"
	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/internal/indexing"
	"github.com/gcbaptista/go-track-reconciler/internal/jobs"
	"github.com/gcbaptista/go-track-reconciler/internal/matching"
	"github.com/gcbaptista/go-track-reconciler/internal/search"
	"github.com/gcbaptista/go-track-reconciler/internal/tokenizer"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
	"github.com/gcbaptista/go-track-reconciler/store"
)

const defaultJobWorkers = 2

// Engine is the reconciler. It implements the services.Reconciler interface.
type Engine struct {
	settings   config.Settings
	store      store.Store
	indexer    *indexing.Service
	searcher   *search.Service
	pipeline   *matching.Pipeline
	jobManager *jobs.Manager

	// matchMu allows one matching run at a time; concurrent runs would only
	// race for the same unmatched references.
	matchMu   sync.Mutex
	closeOnce sync.Once
}

// NewEngine creates an engine over an already opened store.
func NewEngine(settings *config.Settings, st store.Store) (*Engine, error) {
	if settings == nil {
		settings = config.Default()
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	indexer, err := indexing.NewService(st, settings.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer service: %w", err)
	}
	searcher, err := search.NewService(st, indexer, settings.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to create search service: %w", err)
	}
	pipeline, err := matching.NewPipeline(st, indexer, settings.Matching)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching pipeline: %w", err)
	}

	jobManager := jobs.NewManager(defaultJobWorkers)
	jobManager.Start()

	return &Engine{
		settings:   *settings,
		store:      st,
		indexer:    indexer,
		searcher:   searcher,
		pipeline:   pipeline,
		jobManager: jobManager,
	}, nil
}

// Settings returns a copy of the engine settings.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// Search runs a live search over the index.
func (e *Engine) Search(ctx context.Context, query string, opts services.SearchOptions) (services.SearchResult, error) {
	return e.searcher.Search(ctx, query, opts)
}

// MultiSearch runs several named searches in parallel.
func (e *Engine) MultiSearch(ctx context.Context, multiQuery services.MultiSearchQuery) (*services.MultiSearchResult, error) {
	return e.searcher.MultiSearch(ctx, multiQuery)
}

// AddLibraryFiles normalizes, stores and indexes library files. A file
// without a FileName takes the last element of its Path.
func (e *Engine) AddLibraryFiles(ctx context.Context, files []model.LibraryFile) ([]model.LibraryFile, error) {
	prepared := make([]model.LibraryFile, len(files))
	for i, f := range files {
		if f.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("files[%d].path", i), "path is required")
		}
		if f.FileName == "" {
			f.FileName = tokenizer.BaseName(f.Path)
		}
		f.NormalizedName = tokenizer.NormalizeFileName(f.FileName)
		prepared[i] = f
	}

	stored, err := e.store.UpsertLibraryFiles(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to store library files: %w", err)
	}

	named := make([]store.NamedEntity, len(stored))
	for i, f := range stored {
		named[i] = store.NamedEntity{ID: f.ID, Name: f.NormalizedName}
	}
	if _, err := e.indexer.IndexBatch(ctx, index.ClassLibrary, named, nil); err != nil {
		log.Printf("Warning: %d library files stored but not fully indexed: %v. Run a resumable reindex to finish.", len(stored), err)
		return stored, fmt.Errorf("failed to index library files: %w", err)
	}

	e.persist()
	return stored, nil
}

// AddReferences normalizes, stores and indexes references. Match state of
// references already known is kept.
func (e *Engine) AddReferences(ctx context.Context, refs []model.Reference) ([]model.Reference, error) {
	prepared := make([]model.Reference, len(refs))
	for i, r := range refs {
		if r.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].path", i), "path is required")
		}
		if !r.SourceKind.Valid() {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].source_kind", i),
				fmt.Sprintf("unknown source kind '%s' (must be '%s' or '%s')", r.SourceKind, model.SourcePlaylist, model.SourceHistory))
		}
		if r.FileName == "" {
			r.FileName = tokenizer.BaseName(r.Path)
		}
		r.NormalizedName = tokenizer.NormalizeFileName(r.FileName)
		prepared[i] = r
	}

	stored, err := e.store.UpsertReferences(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to store references: %w", err)
	}

	named := make([]store.NamedEntity, len(stored))
	for i, r := range stored {
		named[i] = store.NamedEntity{ID: r.ID, Name: r.NormalizedName}
	}
	if _, err := e.indexer.IndexBatch(ctx, index.ClassReference, named, nil); err != nil {
		log.Printf("Warning: %d references stored but not fully indexed: %v. Run a resumable reindex to finish.", len(stored), err)
		return stored, fmt.Errorf("failed to index references: %w", err)
	}

	e.persist()
	return stored, nil
}

// IndexEntity reindexes one stored entity from its current normalized name.
func (e *Engine) IndexEntity(ctx context.Context, class index.EntityClass, id int64) error {
	names, err := e.store.EntityNames(ctx, class, []int64{id})
	if err != nil {
		return err
	}
	name, ok := names[id]
	if !ok {
		return internalErrors.NewEntityNotFoundError(string(class), id)
	}
	return e.indexer.IndexEntity(ctx, class, id, name)
}

// RemoveLibraryFile deletes a library file and its postings. References
// already matched to it keep their match.
func (e *Engine) RemoveLibraryFile(ctx context.Context, id int64) error {
	if err := e.store.DeleteLibraryFile(ctx, id); err != nil {
		return err
	}
	e.indexer.EntityRemoved(index.ClassLibrary)
	e.persist()
	return nil
}

// RemoveReference deletes a reference and its postings.
func (e *Engine) RemoveReference(ctx context.Context, id int64) error {
	if err := e.store.DeleteReference(ctx, id); err != nil {
		return err
	}
	e.indexer.EntityRemoved(index.ClassReference)
	e.persist()
	return nil
}

// GetLibraryFile returns a stored library file.
func (e *Engine) GetLibraryFile(ctx context.Context, id int64) (model.LibraryFile, error) {
	return e.store.GetLibraryFile(ctx, id)
}

// GetReference returns a stored reference with its match state.
func (e *Engine) GetReference(ctx context.Context, id int64) (model.Reference, error) {
	return e.store.GetReference(ctx, id)
}

// FindByName lists the entities of class whose normalized name contains the
// normalized fragment, ordered by ID. A limit of 0 means no limit.
func (e *Engine) FindByName(ctx context.Context, class index.EntityClass, fragment string, limit int) ([]store.NamedEntity, error) {
	if !class.Valid() {
		return nil, internalErrors.NewValidationError("class", fmt.Sprintf("unknown entity class '%s'", class))
	}
	normalized := tokenizer.Normalize(fragment)
	if normalized == "" {
		return nil, internalErrors.NewValidationError("contains", "must contain at least one letter or digit")
	}
	if limit < 0 {
		return nil, internalErrors.NewValidationError("limit", "must not be negative")
	}
	return e.store.SearchNames(ctx, class, normalized, limit)
}

// ListReferences lists references, optionally only the unmatched ones.
func (e *Engine) ListReferences(ctx context.Context, filter store.ReferenceFilter) ([]model.Reference, error) {
	return e.store.ListReferences(ctx, filter)
}

// ReindexAll rebuilds the postings of every entity of both classes. With
// resume set, entities that already own postings are skipped.
func (e *Engine) ReindexAll(ctx context.Context, resume bool) ([]indexing.RebuildReport, error) {
	return e.reindexAll(ctx, resume, nil)
}

func (e *Engine) reindexAll(ctx context.Context, resume bool, progress indexing.ProgressFunc) ([]indexing.RebuildReport, error) {
	reports := make([]indexing.RebuildReport, 0, len(index.Classes))
	for _, class := range index.Classes {
		report, err := e.indexer.RebuildAll(ctx, class, resume, progress)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("failed to rebuild %s index: %w", class, err)
		}
	}
	e.persist()
	return reports, nil
}

// RepairIndex removes postings whose entity no longer exists and returns how
// many entities were affected per class.
func (e *Engine) RepairIndex(ctx context.Context) (map[index.EntityClass]int, error) {
	repaired := make(map[index.EntityClass]int, len(index.Classes))
	for _, class := range index.Classes {
		n, err := e.indexer.RepairOrphans(ctx, class)
		if err != nil {
			return repaired, fmt.Errorf("failed to repair %s index: %w", class, err)
		}
		repaired[class] = n
	}
	e.persist()
	return repaired, nil
}

// RunMatchingPipeline runs every matching stage over the unmatched
// references. A threshold of 0 uses the configured fuzzy threshold; a limit of
// 0 processes every reference.
func (e *Engine) RunMatchingPipeline(ctx context.Context, threshold float64, limit int) (model.PipelineReport, error) {
	return e.runMatching(ctx, services.MatchOptions{FuzzyThreshold: threshold, Limit: limit})
}

func (e *Engine) runMatching(ctx context.Context, opts services.MatchOptions) (model.PipelineReport, error) {
	e.matchMu.Lock()
	defer e.matchMu.Unlock()

	report, err := e.pipeline.Run(ctx, opts)
	// Stages already committed stay committed, so persist either way.
	e.persist()
	return report, err
}

// GetMatchStatistics summarizes the match state of every reference.
func (e *Engine) GetMatchStatistics(ctx context.Context) (model.MatchStatistics, error) {
	return e.store.MatchStatistics(ctx)
}

// Close stops the job manager and closes the store.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.jobManager.Stop()
		err = e.store.Close()
	})
	return err
}

var _ services.Reconciler = (*Engine)(nil)
