package services

import (
	"context"
	"fmt"

	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/internal/scoring"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/store"
)

// Scope selects which entity classes a search covers.
type Scope string

const (
	ScopeLibrary    Scope = "library"
	ScopeReferences Scope = "references"
	ScopeAll        Scope = "all"
)

// ParseScope converts a string into a Scope. The empty string means ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeLibrary, ScopeReferences:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown search scope '%s' (must be 'library', 'references' or 'all')", s)
}

// Classes returns the entity classes covered by the scope.
func (s Scope) Classes() []index.EntityClass {
	switch s {
	case ScopeLibrary:
		return []index.EntityClass{index.ClassLibrary}
	case ScopeReferences:
		return []index.EntityClass{index.ClassReference}
	}
	return index.Classes
}

// HitInfo contains metadata about a search hit: how it was found and which
// query words it matched.
type HitInfo struct {
	Tier          string            `json:"tier"`            // "exact" or "fuzzy"
	MatchedWords  []string          `json:"matched_words"`   // Indexed words of the entity that matched
	NumFuzzyWords int               `json:"num_fuzzy_words"` // Query words that only matched through a similar word
	Breakdown     scoring.Breakdown `json:"breakdown"`
}

// HitResult represents a single entity in the search results.
type HitResult struct {
	Class          index.EntityClass `json:"class"`
	EntityID       int64             `json:"entity_id"`
	Path           string            `json:"path"`
	FileName       string            `json:"file_name"`
	NormalizedName string            `json:"normalized_name"`
	Score          float64           `json:"score"`
	Info           HitInfo           `json:"hit_info"`
}

type SearchResult struct {
	Hits    []HitResult `json:"hits"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Took    int64       `json:"took"`     // milliseconds
	QueryId string      `json:"query_id"` // unique UUID for this search query
}

// SearchOptions controls paging, fuzziness and scope of a search.
// Zero values fall back to the configured defaults.
type SearchOptions struct {
	Limit          int     `json:"limit,omitempty"`
	Offset         int     `json:"offset,omitempty"`
	FuzzyThreshold float64 `json:"fuzzy_threshold,omitempty"`
	Scope          Scope   `json:"scope,omitempty"`
}

// MultiSearchQuery represents a request to execute multiple named search queries
type MultiSearchQuery struct {
	Queries []NamedSearchQuery `json:"queries"`
}

// NamedSearchQuery represents a single named search query within a multi-search request
type NamedSearchQuery struct {
	Name    string        `json:"name"`
	Query   string        `json:"query"`
	Options SearchOptions `json:"options"`
}

// MultiSearchResult represents the response from a multi-search operation
type MultiSearchResult struct {
	Results          map[string]SearchResult `json:"results"`
	TotalQueries     int                     `json:"total_queries"`
	ProcessingTimeMs float64                 `json:"processing_time_ms"`
}

// Indexer defines operations that maintain the word index
type Indexer interface {
	IndexEntity(ctx context.Context, class index.EntityClass, entityID int64, normalizedName string) error
	RemoveEntity(ctx context.Context, class index.EntityClass, entityID int64) error
	RepairOrphans(ctx context.Context, class index.EntityClass) (int, error)
}

// Searcher defines operations for querying the index
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)
}

// MultiSearcher defines operations for performing multiple queries in a single request
type MultiSearcher interface {
	MultiSearch(ctx context.Context, multiQuery MultiSearchQuery) (*MultiSearchResult, error)
}

// Matcher runs the matching pipeline
type Matcher interface {
	Run(ctx context.Context, opts MatchOptions) (model.PipelineReport, error)
}

// MatchOptions overrides pipeline settings for one run.
type MatchOptions struct {
	FuzzyThreshold float64 // 0 uses the configured threshold
	Limit          int     // Maximum references per stage, 0 for all
	Progress       func(current, total int, message string)
}

// JobManager defines operations for managing background jobs
type JobManager interface {
	GetJob(jobID string) (*model.Job, error)
	ListJobs(scope string, status *model.JobStatus) []*model.Job
}

// Reconciler is the engine surface served by the HTTP and CLI adapters.
type Reconciler interface {
	Searcher
	MultiSearcher
	JobManager

	AddLibraryFiles(ctx context.Context, files []model.LibraryFile) ([]model.LibraryFile, error)
	AddReferences(ctx context.Context, refs []model.Reference) ([]model.Reference, error)
	RemoveLibraryFile(ctx context.Context, id int64) error
	RemoveReference(ctx context.Context, id int64) error
	GetLibraryFile(ctx context.Context, id int64) (model.LibraryFile, error)
	GetReference(ctx context.Context, id int64) (model.Reference, error)
	FindByName(ctx context.Context, class index.EntityClass, fragment string, limit int) ([]store.NamedEntity, error)

	ReindexAllAsync(resume bool) (string, error)                           // Returns job ID
	RepairIndexAsync() (string, error)                                     // Returns job ID
	RunMatchingPipelineAsync(threshold float64, limit int) (string, error) // Returns job ID
	CancelJob(jobID string) error
	GetMatchStatistics(ctx context.Context) (model.MatchStatistics, error)
}
