package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/internal/persistence"
	"github.com/gcbaptista/go-track-reconciler/model"
)

// MemoryStore keeps every entity and posting in maps guarded by a single
// mutex. Batch writes validate before mutating, so a rejected batch leaves
// the store untouched. With a snapshot path the store is persisted as gob on
// Snapshot and Close.
type MemoryStore struct {
	Mu              sync.RWMutex
	Libraries       map[int64]model.LibraryFile
	LibraryPaths    map[string]int64
	References      map[int64]model.Reference
	ReferenceKeys   map[string]int64
	Postings        map[index.EntityClass]*index.InvertedIndex
	NextLibraryID   int64
	NextReferenceID int64

	snapshotPath string
}

// NewMemoryStore creates an empty, non-persistent store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

// OpenMemoryStore creates a store persisted at snapshotPath, loading the
// existing snapshot if there is one.
func OpenMemoryStore(snapshotPath string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.snapshotPath = snapshotPath

	if err := persistence.LoadGob(snapshotPath, s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Info: No snapshot at %s, starting with an empty store", snapshotPath)
			return s, nil
		}
		return nil, internalErrors.NewStorageError("load snapshot", err)
	}
	log.Printf("Info: Loaded snapshot %s (%d library files, %d references)", snapshotPath, len(s.Libraries), len(s.References))
	return s, nil
}

func (s *MemoryStore) reset() {
	s.Libraries = make(map[int64]model.LibraryFile)
	s.LibraryPaths = make(map[string]int64)
	s.References = make(map[int64]model.Reference)
	s.ReferenceKeys = make(map[string]int64)
	s.Postings = map[index.EntityClass]*index.InvertedIndex{
		index.ClassLibrary:   index.NewInvertedIndex(index.ClassLibrary),
		index.ClassReference: index.NewInvertedIndex(index.ClassReference),
	}
	s.NextLibraryID = 1
	s.NextReferenceID = 1
}

// Snapshot writes the store to its snapshot path. It is a no-op without one.
func (s *MemoryStore) Snapshot() error {
	if s.snapshotPath == "" {
		return nil
	}
	if err := persistence.SaveGob(s.snapshotPath, s); err != nil {
		return internalErrors.NewStorageError("save snapshot", err)
	}
	return nil
}

// Close snapshots the store if it is persistent.
func (s *MemoryStore) Close() error {
	return s.Snapshot()
}

func (s *MemoryStore) UpsertLibraryFiles(ctx context.Context, files []model.LibraryFile) ([]model.LibraryFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, f := range files {
		if f.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("files[%d].path", i), "path is required")
		}
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	stored := make([]model.LibraryFile, 0, len(files))
	for _, f := range files {
		if id, ok := s.LibraryPaths[f.Path]; ok {
			f.ID = id
		} else {
			f.ID = s.NextLibraryID
			s.NextLibraryID++
			s.LibraryPaths[f.Path] = f.ID
		}
		s.Libraries[f.ID] = f
		stored = append(stored, f)
	}
	return stored, nil
}

func (s *MemoryStore) UpsertReferences(ctx context.Context, refs []model.Reference) ([]model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, r := range refs {
		if r.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].path", i), "path is required")
		}
		if !r.SourceKind.Valid() {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].source_kind", i), fmt.Sprintf("unknown source kind '%s'", r.SourceKind))
		}
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	stored := make([]model.Reference, 0, len(refs))
	for _, r := range refs {
		key := r.Key()
		if id, ok := s.ReferenceKeys[key]; ok {
			existing := s.References[id]
			r.ID = id
			r.Matched = existing.Matched
			r.MatchedEntityID = existing.MatchedEntityID
			r.MatchStage = existing.MatchStage
			r.MatchScore = existing.MatchScore
		} else {
			r.ID = s.NextReferenceID
			s.NextReferenceID++
			s.ReferenceKeys[key] = r.ID
			r.Matched = false
			r.MatchedEntityID = 0
			r.MatchStage = ""
			r.MatchScore = 0
		}
		s.References[r.ID] = r
		stored = append(stored, r)
	}
	return stored, nil
}

func (s *MemoryStore) DeleteLibraryFile(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()

	f, ok := s.Libraries[id]
	if !ok {
		return internalErrors.NewEntityNotFoundError(string(index.ClassLibrary), id)
	}
	delete(s.Libraries, id)
	delete(s.LibraryPaths, f.Path)
	s.Postings[index.ClassLibrary].Remove(id)
	return nil
}

func (s *MemoryStore) DeleteReference(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()

	r, ok := s.References[id]
	if !ok {
		return internalErrors.NewEntityNotFoundError(string(index.ClassReference), id)
	}
	delete(s.References, id)
	delete(s.ReferenceKeys, r.Key())
	s.Postings[index.ClassReference].Remove(id)
	return nil
}

func (s *MemoryStore) GetLibraryFile(ctx context.Context, id int64) (model.LibraryFile, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	f, ok := s.Libraries[id]
	if !ok {
		return model.LibraryFile{}, internalErrors.NewEntityNotFoundError(string(index.ClassLibrary), id)
	}
	return f, nil
}

func (s *MemoryStore) GetReference(ctx context.Context, id int64) (model.Reference, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	r, ok := s.References[id]
	if !ok {
		return model.Reference{}, internalErrors.NewEntityNotFoundError(string(index.ClassReference), id)
	}
	return r, nil
}

func (s *MemoryStore) LibraryFileByPath(ctx context.Context, path string) (model.LibraryFile, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	id, ok := s.LibraryPaths[path]
	if !ok {
		return model.LibraryFile{}, internalErrors.NewEntityKeyNotFoundError(string(index.ClassLibrary), path)
	}
	return s.Libraries[id], nil
}

func (s *MemoryStore) ListLibraryFiles(ctx context.Context) ([]model.LibraryFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	files := make([]model.LibraryFile, 0, len(s.Libraries))
	for _, f := range s.Libraries {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (s *MemoryStore) ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	refs := make([]model.Reference, 0, len(s.References))
	for _, r := range s.References {
		if filter.UnmatchedOnly && r.Matched {
			continue
		}
		if filter.SourceKind != "" && r.SourceKind != filter.SourceKind {
			continue
		}
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	if filter.Limit > 0 && len(refs) > filter.Limit {
		refs = refs[:filter.Limit]
	}
	return refs, nil
}

// nameLocked returns the normalized name of an entity. Caller holds the lock.
func (s *MemoryStore) nameLocked(class index.EntityClass, id int64) (string, bool) {
	switch class {
	case index.ClassLibrary:
		f, ok := s.Libraries[id]
		return f.NormalizedName, ok
	case index.ClassReference:
		r, ok := s.References[id]
		return r.NormalizedName, ok
	}
	return "", false
}

func (s *MemoryStore) EntityNames(ctx context.Context, class index.EntityClass, ids []int64) (map[int64]string, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		if name, ok := s.nameLocked(class, id); ok {
			names[id] = name
		}
	}
	return names, nil
}

func (s *MemoryStore) ListEntityNames(ctx context.Context, class index.EntityClass) ([]NamedEntity, error) {
	return s.SearchNames(ctx, class, "", 0)
}

func (s *MemoryStore) SearchNames(ctx context.Context, class index.EntityClass, substring string, limit int) ([]NamedEntity, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	var named []NamedEntity
	collect := func(id int64, name string) {
		if substring == "" || strings.Contains(name, substring) {
			named = append(named, NamedEntity{ID: id, Name: name})
		}
	}
	if class == index.ClassLibrary {
		for id, f := range s.Libraries {
			collect(id, f.NormalizedName)
		}
	} else {
		for id, r := range s.References {
			collect(id, r.NormalizedName)
		}
	}

	sort.Slice(named, func(i, j int) bool { return named[i].ID < named[j].ID })
	if limit > 0 && len(named) > limit {
		named = named[:limit]
	}
	if named == nil {
		named = []NamedEntity{}
	}
	return named, nil
}

func (s *MemoryStore) ReplacePostings(ctx context.Context, class index.EntityClass, batch map[int64]index.PostingList) error {
	if err := checkClass(class); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()

	// Validate the whole batch before touching the index.
	for id := range batch {
		if _, ok := s.nameLocked(class, id); !ok {
			return internalErrors.NewStorageError("replace postings", internalErrors.NewEntityNotFoundError(string(class), id))
		}
	}

	ids := make([]int64, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ii := s.Postings[class]
	for _, id := range ids {
		ii.Replace(id, batch[id])
	}
	return nil
}

func (s *MemoryStore) DeletePostings(ctx context.Context, class index.EntityClass, ids []int64) error {
	if err := checkClass(class); err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()

	ii := s.Postings[class]
	for _, id := range ids {
		ii.Remove(id)
	}
	return nil
}

func (s *MemoryStore) ClearPostings(ctx context.Context, class index.EntityClass) error {
	if err := checkClass(class); err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Postings[class].Clear()
	return nil
}

func (s *MemoryStore) LookupPostings(ctx context.Context, class index.EntityClass, words []string) (index.PostingList, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.Postings[class].Lookup(words), nil
}

func (s *MemoryStore) PostingEntityIDs(ctx context.Context, class index.EntityClass) ([]int64, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.Postings[class].EntityIDs(), nil
}

func (s *MemoryStore) DistinctWords(ctx context.Context, class index.EntityClass) ([]string, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	ii := s.Postings[class]
	words := make([]string, 0, len(ii.Index))
	for w := range ii.Index {
		words = append(words, w)
	}
	sort.Strings(words)
	return words, nil
}

func (s *MemoryStore) SaveMatches(ctx context.Context, results []model.MatchResult) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()

	for _, res := range results {
		if _, ok := s.References[res.ReferenceID]; !ok {
			return 0, internalErrors.NewStorageError("save matches", internalErrors.NewEntityNotFoundError(string(index.ClassReference), res.ReferenceID))
		}
		if !res.Matched {
			continue
		}
		if _, ok := s.Libraries[res.MatchedEntityID]; !ok {
			return 0, internalErrors.NewStorageError("save matches", internalErrors.NewEntityNotFoundError(string(index.ClassLibrary), res.MatchedEntityID))
		}
	}

	applied := 0
	for _, res := range results {
		r := s.References[res.ReferenceID]
		if r.Matched || !res.Matched {
			continue
		}
		r.Matched = true
		r.MatchedEntityID = res.MatchedEntityID
		r.MatchStage = res.Stage
		r.MatchScore = res.Score
		s.References[r.ID] = r
		applied++
	}
	return applied, nil
}

func (s *MemoryStore) MatchStatistics(ctx context.Context) (model.MatchStatistics, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	stats := newMatchStatistics()
	for _, r := range s.References {
		stats.Total++
		if !r.Matched {
			continue
		}
		stats.Matched++
		stats.ByStage[r.MatchStage]++
		stats.BySource[r.SourceKind]++
	}
	stats.ComputeRate()
	return stats, nil
}

func newMatchStatistics() model.MatchStatistics {
	return model.MatchStatistics{
		ByStage:  make(map[model.Stage]int),
		BySource: make(map[model.SourceKind]int),
	}
}

func checkClass(class index.EntityClass) error {
	if !class.Valid() {
		return internalErrors.NewValidationError("class", fmt.Sprintf("unknown entity class '%s'", class))
	}
	return nil
}

// gobMemoryStoreData is a helper struct for Gob encoding/decoding MemoryStore data.
// It excludes the mutex.
type gobMemoryStoreData struct {
	Libraries       map[int64]model.LibraryFile
	References      map[int64]model.Reference
	Postings        map[index.EntityClass]*index.InvertedIndex
	NextLibraryID   int64
	NextReferenceID int64
}

// GobEncode implements the gob.GobEncoder interface for MemoryStore.
func (s *MemoryStore) GobEncode() ([]byte, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	dataToEncode := gobMemoryStoreData{
		Libraries:       s.Libraries,
		References:      s.References,
		Postings:        s.Postings,
		NextLibraryID:   s.NextLibraryID,
		NextReferenceID: s.NextReferenceID,
	}

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(dataToEncode); err != nil {
		return nil, fmt.Errorf("failed to gob encode memory store data: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface for MemoryStore.
// The path and key maps are rebuilt from the entities.
func (s *MemoryStore) GobDecode(data []byte) error {
	decodedData := gobMemoryStoreData{}

	buf := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buf)
	if err := decoder.Decode(&decodedData); err != nil {
		return fmt.Errorf("failed to gob decode memory store data: %w", err)
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	s.reset()
	if decodedData.Libraries != nil {
		s.Libraries = decodedData.Libraries
	}
	if decodedData.References != nil {
		s.References = decodedData.References
	}
	for class, ii := range decodedData.Postings {
		if ii != nil && class.Valid() {
			s.Postings[class] = ii
		}
	}
	if decodedData.NextLibraryID > 0 {
		s.NextLibraryID = decodedData.NextLibraryID
	}
	if decodedData.NextReferenceID > 0 {
		s.NextReferenceID = decodedData.NextReferenceID
	}

	for id, f := range s.Libraries {
		s.LibraryPaths[f.Path] = id
	}
	for id, r := range s.References {
		s.ReferenceKeys[r.Key()] = id
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
