package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/model"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "reconciler.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f.open(t))
		})
	}
}

func seedLibrary(t *testing.T, s Store, files ...model.LibraryFile) []model.LibraryFile {
	t.Helper()
	stored, err := s.UpsertLibraryFiles(context.Background(), files)
	require.NoError(t, err)
	return stored
}

func seedReferences(t *testing.T, s Store, refs ...model.Reference) []model.Reference {
	t.Helper()
	stored, err := s.UpsertReferences(context.Background(), refs)
	require.NoError(t, err)
	return stored
}

func TestUpsertLibraryFiles_StableIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		modified := time.Unix(1700000000, 0).UTC()

		first := seedLibrary(t, s,
			model.LibraryFile{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a", Size: 10, ModifiedTime: modified},
			model.LibraryFile{Path: "/music/b.mp3", FileName: "b.mp3", NormalizedName: "b"},
		)
		require.Len(t, first, 2)
		assert.NotZero(t, first[0].ID)
		assert.NotEqual(t, first[0].ID, first[1].ID)

		again := seedLibrary(t, s, model.LibraryFile{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a renamed", Size: 11})
		assert.Equal(t, first[0].ID, again[0].ID)

		got, err := s.GetLibraryFile(ctx, first[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "a renamed", got.NormalizedName)
		assert.Equal(t, int64(11), got.Size)

		byPath, err := s.LibraryFileByPath(ctx, "/music/b.mp3")
		require.NoError(t, err)
		assert.Equal(t, first[1].ID, byPath.ID)

		withTime, err := s.GetLibraryFile(ctx, first[0].ID)
		require.NoError(t, err)
		assert.True(t, withTime.ModifiedTime.IsZero())

		files, err := s.ListLibraryFiles(ctx)
		require.NoError(t, err)
		assert.Len(t, files, 2)
		assert.Less(t, files[0].ID, files[1].ID)
	})
}

func TestUpsertLibraryFiles_ModifiedTimeRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		modified := time.Unix(1700000000, 0).UTC()
		stored := seedLibrary(t, s, model.LibraryFile{Path: "/m/x.mp3", FileName: "x.mp3", ModifiedTime: modified})

		got, err := s.GetLibraryFile(context.Background(), stored[0].ID)
		require.NoError(t, err)
		assert.True(t, modified.Equal(got.ModifiedTime))
	})
}

func TestUpsertLibraryFiles_RejectsEmptyPath(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.UpsertLibraryFiles(context.Background(), []model.LibraryFile{
			{Path: "/ok.mp3", FileName: "ok.mp3"},
			{Path: "", FileName: "bad.mp3"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, internalErrors.ErrInvalidInput))

		files, err := s.ListLibraryFiles(context.Background())
		require.NoError(t, err)
		assert.Empty(t, files, "rejected batch must not be partially applied")
	})
}

func TestUpsertReferences_PreservesMatchState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a"})
		refs := seedReferences(t, s,
			model.Reference{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a", SourceKind: model.SourcePlaylist},
			model.Reference{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a", SourceKind: model.SourceHistory},
		)
		require.Len(t, refs, 2)
		assert.NotEqual(t, refs[0].ID, refs[1].ID, "same path from different sources are distinct references")

		applied, err := s.SaveMatches(ctx, []model.MatchResult{
			{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageExactPath, Score: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, applied)

		again := seedReferences(t, s, model.Reference{Path: "/music/a.mp3", FileName: "a.mp3", NormalizedName: "a", SourceKind: model.SourcePlaylist, SourceFile: "mix.m3u"})
		assert.Equal(t, refs[0].ID, again[0].ID)
		assert.True(t, again[0].Matched)
		assert.Equal(t, lib[0].ID, again[0].MatchedEntityID)
		assert.Equal(t, model.StageExactPath, again[0].MatchStage)

		got, err := s.GetReference(ctx, refs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "mix.m3u", got.SourceFile)
		assert.True(t, got.Matched)
	})
}

func TestUpsertReferences_RejectsUnknownSource(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.UpsertReferences(context.Background(), []model.Reference{{Path: "/x.mp3", SourceKind: "radio"}})
		assert.True(t, errors.Is(err, internalErrors.ErrInvalidInput))
	})
}

func TestListReferences_Filter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/l.mp3", FileName: "l.mp3"})
		refs := seedReferences(t, s,
			model.Reference{Path: "/1.mp3", SourceKind: model.SourcePlaylist},
			model.Reference{Path: "/2.mp3", SourceKind: model.SourceHistory},
			model.Reference{Path: "/3.mp3", SourceKind: model.SourcePlaylist},
		)
		_, err := s.SaveMatches(ctx, []model.MatchResult{{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageExactPath, Score: 1}})
		require.NoError(t, err)

		unmatched, err := s.ListReferences(ctx, ReferenceFilter{UnmatchedOnly: true})
		require.NoError(t, err)
		require.Len(t, unmatched, 2)
		assert.Equal(t, refs[1].ID, unmatched[0].ID)
		assert.Equal(t, refs[2].ID, unmatched[1].ID)

		playlist, err := s.ListReferences(ctx, ReferenceFilter{SourceKind: model.SourcePlaylist})
		require.NoError(t, err)
		assert.Len(t, playlist, 2)

		limited, err := s.ListReferences(ctx, ReferenceFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, refs[0].ID, limited[0].ID)
	})
}

func TestDeleteEntity_RemovesPostings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s,
			model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3", NormalizedName: "tarkan dudu"},
			model.LibraryFile{Path: "/b.mp3", FileName: "b.mp3", NormalizedName: "tarkan simarik"},
		)
		require.NoError(t, s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{
			lib[0].ID: index.BuildPostings(lib[0].ID, []string{"tarkan", "dudu"}),
			lib[1].ID: index.BuildPostings(lib[1].ID, []string{"tarkan", "simarik"}),
		}))

		require.NoError(t, s.DeleteLibraryFile(ctx, lib[0].ID))

		postings, err := s.LookupPostings(ctx, index.ClassLibrary, []string{"tarkan", "dudu"})
		require.NoError(t, err)
		require.Len(t, postings, 1)
		assert.Equal(t, lib[1].ID, postings[0].EntityID)

		ids, err := s.PostingEntityIDs(ctx, index.ClassLibrary)
		require.NoError(t, err)
		assert.Equal(t, []int64{lib[1].ID}, ids)

		err = s.DeleteLibraryFile(ctx, lib[0].ID)
		assert.True(t, errors.Is(err, internalErrors.ErrEntityNotFound))

		_, err = s.LibraryFileByPath(ctx, "/a.mp3")
		assert.True(t, errors.Is(err, internalErrors.ErrEntityNotFound))
	})
}

func TestReplacePostings_FullReplacement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"})
		id := lib[0].ID

		require.NoError(t, s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{
			id: index.BuildPostings(id, []string{"old", "words"}),
		}))
		require.NoError(t, s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{
			id: index.BuildPostings(id, []string{"new"}),
		}))

		old, err := s.LookupPostings(ctx, index.ClassLibrary, []string{"old", "words"})
		require.NoError(t, err)
		assert.Empty(t, old)

		fresh, err := s.LookupPostings(ctx, index.ClassLibrary, []string{"new"})
		require.NoError(t, err)
		require.Len(t, fresh, 1)
		assert.Equal(t, index.Posting{EntityID: id, Word: "new", WordLength: 3, Position: 0}, fresh[0])

		words, err := s.DistinctWords(ctx, index.ClassLibrary)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, words)
	})
}

func TestReplacePostings_AtomicOnUnknownEntity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"})
		id := lib[0].ID

		err := s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{
			id:   index.BuildPostings(id, []string{"kept", "out"}),
			9999: index.BuildPostings(9999, []string{"ghost"}),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, internalErrors.ErrStorage))

		ids, err := s.PostingEntityIDs(ctx, index.ClassLibrary)
		require.NoError(t, err)
		assert.Empty(t, ids, "failed batch must roll back")
	})
}

func TestPostings_ClassesAreSeparate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"})
		refs := seedReferences(t, s, model.Reference{Path: "/r.mp3", SourceKind: model.SourceHistory})

		require.NoError(t, s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{lib[0].ID: index.BuildPostings(lib[0].ID, []string{"shared"})}))
		require.NoError(t, s.ReplacePostings(ctx, index.ClassReference, map[int64]index.PostingList{refs[0].ID: index.BuildPostings(refs[0].ID, []string{"shared", "extra"})}))

		libHits, err := s.LookupPostings(ctx, index.ClassLibrary, []string{"shared", "extra"})
		require.NoError(t, err)
		assert.Len(t, libHits, 1)

		require.NoError(t, s.ClearPostings(ctx, index.ClassReference))
		refHits, err := s.LookupPostings(ctx, index.ClassReference, []string{"shared"})
		require.NoError(t, err)
		assert.Empty(t, refHits)

		libHits, err = s.LookupPostings(ctx, index.ClassLibrary, []string{"shared"})
		require.NoError(t, err)
		assert.Len(t, libHits, 1)
	})
}

func TestSearchNamesAndEntityNames(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s,
			model.LibraryFile{Path: "/1.mp3", FileName: "1.mp3", NormalizedName: "deadmau5 strobe"},
			model.LibraryFile{Path: "/2.mp3", FileName: "2.mp3", NormalizedName: "deadmau5 ghosts n stuff"},
			model.LibraryFile{Path: "/3.mp3", FileName: "3.mp3", NormalizedName: "strobe light"},
		)

		hits, err := s.SearchNames(ctx, index.ClassLibrary, "strobe", 0)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, lib[0].ID, hits[0].ID)
		assert.Equal(t, lib[2].ID, hits[1].ID)

		limited, err := s.SearchNames(ctx, index.ClassLibrary, "deadmau5", 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, lib[0].ID, limited[0].ID)

		all, err := s.ListEntityNames(ctx, index.ClassLibrary)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		names, err := s.EntityNames(ctx, index.ClassLibrary, []int64{lib[1].ID, 4242})
		require.NoError(t, err)
		assert.Equal(t, map[int64]string{lib[1].ID: "deadmau5 ghosts n stuff"}, names)
	})
}

func TestSaveMatches_Monotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s,
			model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"},
			model.LibraryFile{Path: "/b.mp3", FileName: "b.mp3"},
		)
		refs := seedReferences(t, s, model.Reference{Path: "/x.mp3", SourceKind: model.SourcePlaylist})

		applied, err := s.SaveMatches(ctx, []model.MatchResult{{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageFuzzySimilarity, Score: 0.5}})
		require.NoError(t, err)
		assert.Equal(t, 1, applied)

		applied, err = s.SaveMatches(ctx, []model.MatchResult{
			{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[1].ID, Stage: model.StageExactPath, Score: 1},
			{ReferenceID: refs[0].ID, Matched: false},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, applied)

		got, err := s.GetReference(ctx, refs[0].ID)
		require.NoError(t, err)
		assert.True(t, got.Matched)
		assert.Equal(t, lib[0].ID, got.MatchedEntityID)
		assert.Equal(t, model.StageFuzzySimilarity, got.MatchStage)
		assert.InDelta(t, 0.5, got.MatchScore, 1e-9)
	})
}

func TestSaveMatches_AtomicOnUnknownEntity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"})
		refs := seedReferences(t, s,
			model.Reference{Path: "/x.mp3", SourceKind: model.SourcePlaylist},
			model.Reference{Path: "/y.mp3", SourceKind: model.SourcePlaylist},
		)

		_, err := s.SaveMatches(ctx, []model.MatchResult{
			{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageExactPath, Score: 1},
			{ReferenceID: refs[1].ID, Matched: true, MatchedEntityID: 777, Stage: model.StageExactPath, Score: 1},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, internalErrors.ErrStorage))

		got, err := s.GetReference(ctx, refs[0].ID)
		require.NoError(t, err)
		assert.False(t, got.Matched, "batch must roll back as a whole")
	})
}

func TestMatchStatistics(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		empty, err := s.MatchStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, empty.Total)
		assert.Equal(t, 0.0, empty.MatchRate)

		lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3"})
		refs := seedReferences(t, s,
			model.Reference{Path: "/1.mp3", SourceKind: model.SourcePlaylist},
			model.Reference{Path: "/2.mp3", SourceKind: model.SourcePlaylist},
			model.Reference{Path: "/3.mp3", SourceKind: model.SourceHistory},
			model.Reference{Path: "/4.mp3", SourceKind: model.SourceHistory},
		)
		_, err = s.SaveMatches(ctx, []model.MatchResult{
			{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageExactPath, Score: 1},
			{ReferenceID: refs[2].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageFuzzySimilarity, Score: 0.8},
			{ReferenceID: refs[3].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageFuzzySimilarity, Score: 0.7},
		})
		require.NoError(t, err)

		stats, err := s.MatchStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, 3, stats.Matched)
		assert.Equal(t, 1, stats.Unmatched)
		assert.InDelta(t, 75.0, stats.MatchRate, 1e-9)
		assert.Equal(t, 1, stats.ByStage[model.StageExactPath])
		assert.Equal(t, 2, stats.ByStage[model.StageFuzzySimilarity])
		assert.Equal(t, 1, stats.BySource[model.SourcePlaylist])
		assert.Equal(t, 2, stats.BySource[model.SourceHistory])
	})
}

func TestInvalidClass(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.LookupPostings(context.Background(), index.EntityClass("album"), []string{"x"})
		assert.True(t, errors.Is(err, internalErrors.ErrInvalidInput))
	})
}

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots", "store.gob")

	s, err := OpenMemoryStore(path)
	require.NoError(t, err)

	lib := seedLibrary(t, s, model.LibraryFile{Path: "/a.mp3", FileName: "a.mp3", NormalizedName: "tarkan dudu", ModifiedTime: time.Unix(1700000000, 0).UTC()})
	refs := seedReferences(t, s, model.Reference{Path: "/a.mp3", FileName: "a.mp3", NormalizedName: "tarkan dudu", SourceKind: model.SourcePlaylist})
	require.NoError(t, s.ReplacePostings(ctx, index.ClassLibrary, map[int64]index.PostingList{
		lib[0].ID: index.BuildPostings(lib[0].ID, []string{"tarkan", "dudu"}),
	}))
	_, err = s.SaveMatches(ctx, []model.MatchResult{{ReferenceID: refs[0].ID, Matched: true, MatchedEntityID: lib[0].ID, Stage: model.StageExactPath, Score: 1}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenMemoryStore(path)
	require.NoError(t, err)

	got, err := reopened.LibraryFileByPath(ctx, "/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, lib[0].ID, got.ID)

	postings, err := reopened.LookupPostings(ctx, index.ClassLibrary, []string{"dudu"})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, 1, postings[0].Position)

	ref, err := reopened.GetReference(ctx, refs[0].ID)
	require.NoError(t, err)
	assert.True(t, ref.Matched)

	next := seedLibrary(t, reopened, model.LibraryFile{Path: "/b.mp3", FileName: "b.mp3"})
	assert.Greater(t, next[0].ID, lib[0].ID, "ID counter survives a snapshot")
}

func TestOpenMemoryStore_MissingSnapshot(t *testing.T) {
	s, err := OpenMemoryStore(filepath.Join(t.TempDir(), "none.gob"))
	require.NoError(t, err)
	files, err := s.ListLibraryFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}
