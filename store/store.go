// Package store defines the persistence collaborator of the reconciler and
// ships two implementations: an in-memory store with gob snapshots and a
// SQLite store. Both give every batch write all-or-nothing semantics.
package store

import (
	"context"

	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/model"
)

// NamedEntity is an entity ID with its normalized name.
type NamedEntity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ReferenceFilter narrows ListReferences.
type ReferenceFilter struct {
	UnmatchedOnly bool
	SourceKind    model.SourceKind // Empty means every source
	Limit         int              // 0 means no limit
}

// Store is the persistence collaborator. Implementations must be safe for
// concurrent use. Every method taking a slice or map applies it atomically:
// the whole batch commits or none of it does.
type Store interface {
	// UpsertLibraryFiles inserts or updates files keyed by Path and returns them
	// with their IDs set. IDs are stable for a path.
	UpsertLibraryFiles(ctx context.Context, files []model.LibraryFile) ([]model.LibraryFile, error)
	// UpsertReferences inserts or updates references keyed by (SourceKind, Path).
	// Match state of an existing reference is preserved.
	UpsertReferences(ctx context.Context, refs []model.Reference) ([]model.Reference, error)
	// DeleteLibraryFile removes a file and all of its postings.
	DeleteLibraryFile(ctx context.Context, id int64) error
	// DeleteReference removes a reference and all of its postings.
	DeleteReference(ctx context.Context, id int64) error

	GetLibraryFile(ctx context.Context, id int64) (model.LibraryFile, error)
	GetReference(ctx context.Context, id int64) (model.Reference, error)
	LibraryFileByPath(ctx context.Context, path string) (model.LibraryFile, error)
	// ListLibraryFiles returns every library file ordered by ID.
	ListLibraryFiles(ctx context.Context) ([]model.LibraryFile, error)
	// ListReferences returns references ordered by ID.
	ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error)

	// EntityNames returns the normalized names of the given entities. IDs with
	// no live entity are absent from the result.
	EntityNames(ctx context.Context, class index.EntityClass, ids []int64) (map[int64]string, error)
	// ListEntityNames returns every entity of a class ordered by ID.
	ListEntityNames(ctx context.Context, class index.EntityClass) ([]NamedEntity, error)
	// SearchNames scans normalized names for a substring, ordered by ID.
	// A limit of 0 means no limit.
	SearchNames(ctx context.Context, class index.EntityClass, substring string, limit int) ([]NamedEntity, error)

	// ReplacePostings deletes every posting of each entity in batch and inserts
	// the given postings instead. Every entity must exist.
	ReplacePostings(ctx context.Context, class index.EntityClass, batch map[int64]index.PostingList) error
	DeletePostings(ctx context.Context, class index.EntityClass, ids []int64) error
	ClearPostings(ctx context.Context, class index.EntityClass) error
	// LookupPostings returns every posting whose word is one of words.
	LookupPostings(ctx context.Context, class index.EntityClass, words []string) (index.PostingList, error)
	// PostingEntityIDs returns the IDs owning at least one posting, ascending.
	PostingEntityIDs(ctx context.Context, class index.EntityClass) ([]int64, error)
	// DistinctWords returns every indexed word of a class, sorted.
	DistinctWords(ctx context.Context, class index.EntityClass) ([]string, error)

	// SaveMatches records match results. Only references that are still
	// unmatched change; the number of references that changed is returned.
	SaveMatches(ctx context.Context, results []model.MatchResult) (int, error)
	MatchStatistics(ctx context.Context) (model.MatchStatistics, error)

	Close() error
}
