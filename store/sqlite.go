package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/model"
)

//go:embed schema.sql
var schemaSQL string

// maxParamsPerStatement bounds the size of generated IN (...) lists.
const maxParamsPerStatement = 500

// SQLiteStore persists entities and postings in a SQLite database through the
// pure-Go modernc driver. Every batch runs in one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the database at path and applies
// the schema. ":memory:" opens a private in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, internalErrors.NewStorageError("open", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// on one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, internalErrors.NewStorageError("configure", fmt.Errorf("%s: %w", pragma, err))
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, internalErrors.NewStorageError("apply schema", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func entityTable(class index.EntityClass) string {
	if class == index.ClassLibrary {
		return "library_files"
	}
	return "track_references"
}

func postingTable(class index.EntityClass) string {
	if class == index.ClassLibrary {
		return "library_words"
	}
	return "reference_words"
}

// withTx runs fn in a transaction, rolling back on any error. Errors that
// already carry a taxonomy type pass through; anything else is wrapped as a
// StorageError.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internalErrors.NewStorageError(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return internalErrors.NewStorageError(op, fmt.Errorf("%v (rollback: %w)", err, rbErr))
		}
		return wrapStorage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return internalErrors.NewStorageError(op, err)
	}
	return nil
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, internalErrors.ErrStorage) ||
		errors.Is(err, internalErrors.ErrEntityNotFound) ||
		errors.Is(err, internalErrors.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return internalErrors.NewStorageError(op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > 0 {
		n := len(ids)
		if n > maxParamsPerStatement {
			n = maxParamsPerStatement
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *SQLiteStore) UpsertLibraryFiles(ctx context.Context, files []model.LibraryFile) ([]model.LibraryFile, error) {
	for i, f := range files {
		if f.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("files[%d].path", i), "path is required")
		}
	}

	stored := make([]model.LibraryFile, 0, len(files))
	err := s.withTx(ctx, "upsert library files", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO library_files (path, file_name, normalized_name, size, modified_time)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				file_name = excluded.file_name,
				normalized_name = excluded.normalized_name,
				size = excluded.size,
				modified_time = excluded.modified_time
			RETURNING id`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range files {
			if err := stmt.QueryRowContext(ctx, f.Path, f.FileName, f.NormalizedName, f.Size, toUnixNano(f.ModifiedTime)).Scan(&f.ID); err != nil {
				return fmt.Errorf("upsert %s: %w", f.Path, err)
			}
			stored = append(stored, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLiteStore) UpsertReferences(ctx context.Context, refs []model.Reference) ([]model.Reference, error) {
	for i, r := range refs {
		if r.Path == "" {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].path", i), "path is required")
		}
		if !r.SourceKind.Valid() {
			return nil, internalErrors.NewValidationError(fmt.Sprintf("references[%d].source_kind", i), fmt.Sprintf("unknown source kind '%s'", r.SourceKind))
		}
	}

	stored := make([]model.Reference, 0, len(refs))
	err := s.withTx(ctx, "upsert references", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO track_references (source_kind, path, file_name, normalized_name, source_file)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source_kind, path) DO UPDATE SET
				file_name = excluded.file_name,
				normalized_name = excluded.normalized_name,
				source_file = excluded.source_file
			RETURNING id, matched, matched_entity_id, match_stage, match_score`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range refs {
			var stage string
			row := stmt.QueryRowContext(ctx, string(r.SourceKind), r.Path, r.FileName, r.NormalizedName, r.SourceFile)
			if err := row.Scan(&r.ID, &r.Matched, &r.MatchedEntityID, &stage, &r.MatchScore); err != nil {
				return fmt.Errorf("upsert %s: %w", r.Path, err)
			}
			r.MatchStage = model.Stage(stage)
			stored = append(stored, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLiteStore) deleteEntity(ctx context.Context, class index.EntityClass, id int64) error {
	return s.withTx(ctx, "delete "+string(class), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", entityTable(class)), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return internalErrors.NewEntityNotFoundError(string(class), id)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE entity_id = ?", postingTable(class)), id)
		return err
	})
}

func (s *SQLiteStore) DeleteLibraryFile(ctx context.Context, id int64) error {
	return s.deleteEntity(ctx, index.ClassLibrary, id)
}

func (s *SQLiteStore) DeleteReference(ctx context.Context, id int64) error {
	return s.deleteEntity(ctx, index.ClassReference, id)
}

const libraryColumns = "id, path, file_name, normalized_name, size, modified_time"

func scanLibraryFile(scan func(dest ...interface{}) error) (model.LibraryFile, error) {
	var f model.LibraryFile
	var modified int64
	if err := scan(&f.ID, &f.Path, &f.FileName, &f.NormalizedName, &f.Size, &modified); err != nil {
		return model.LibraryFile{}, err
	}
	f.ModifiedTime = fromUnixNano(modified)
	return f, nil
}

const referenceColumns = "id, path, file_name, normalized_name, source_kind, source_file, matched, matched_entity_id, match_stage, match_score"

func scanReference(scan func(dest ...interface{}) error) (model.Reference, error) {
	var r model.Reference
	var kind, stage string
	if err := scan(&r.ID, &r.Path, &r.FileName, &r.NormalizedName, &kind, &r.SourceFile, &r.Matched, &r.MatchedEntityID, &stage, &r.MatchScore); err != nil {
		return model.Reference{}, err
	}
	r.SourceKind = model.SourceKind(kind)
	r.MatchStage = model.Stage(stage)
	return r, nil
}

func (s *SQLiteStore) GetLibraryFile(ctx context.Context, id int64) (model.LibraryFile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+libraryColumns+" FROM library_files WHERE id = ?", id)
	f, err := scanLibraryFile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LibraryFile{}, internalErrors.NewEntityNotFoundError(string(index.ClassLibrary), id)
	}
	if err != nil {
		return model.LibraryFile{}, internalErrors.NewStorageError("get library file", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetReference(ctx context.Context, id int64) (model.Reference, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+referenceColumns+" FROM track_references WHERE id = ?", id)
	r, err := scanReference(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reference{}, internalErrors.NewEntityNotFoundError(string(index.ClassReference), id)
	}
	if err != nil {
		return model.Reference{}, internalErrors.NewStorageError("get reference", err)
	}
	return r, nil
}

func (s *SQLiteStore) LibraryFileByPath(ctx context.Context, path string) (model.LibraryFile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+libraryColumns+" FROM library_files WHERE path = ?", path)
	f, err := scanLibraryFile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LibraryFile{}, internalErrors.NewEntityKeyNotFoundError(string(index.ClassLibrary), path)
	}
	if err != nil {
		return model.LibraryFile{}, internalErrors.NewStorageError("get library file by path", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListLibraryFiles(ctx context.Context) ([]model.LibraryFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+libraryColumns+" FROM library_files ORDER BY id")
	if err != nil {
		return nil, internalErrors.NewStorageError("list library files", err)
	}
	defer rows.Close()

	files := make([]model.LibraryFile, 0)
	for rows.Next() {
		f, err := scanLibraryFile(rows.Scan)
		if err != nil {
			return nil, internalErrors.NewStorageError("list library files", err)
		}
		files = append(files, f)
	}
	return files, internalErrors.NewStorageError("list library files", rows.Err())
}

func (s *SQLiteStore) ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error) {
	query := "SELECT " + referenceColumns + " FROM track_references"
	var conditions []string
	var args []interface{}
	if filter.UnmatchedOnly {
		conditions = append(conditions, "matched = 0")
	}
	if filter.SourceKind != "" {
		conditions = append(conditions, "source_kind = ?")
		args = append(args, string(filter.SourceKind))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErrors.NewStorageError("list references", err)
	}
	defer rows.Close()

	refs := make([]model.Reference, 0)
	for rows.Next() {
		r, err := scanReference(rows.Scan)
		if err != nil {
			return nil, internalErrors.NewStorageError("list references", err)
		}
		refs = append(refs, r)
	}
	return refs, internalErrors.NewStorageError("list references", rows.Err())
}

func (s *SQLiteStore) EntityNames(ctx context.Context, class index.EntityClass, ids []int64) (map[int64]string, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(ids))
	for _, chunk := range chunkIDs(ids) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("SELECT id, normalized_name FROM %s WHERE id IN (%s)", entityTable(class), placeholders(len(chunk)))
		if err := s.collectNames(ctx, query, args, func(e NamedEntity) { names[e.ID] = e.Name }); err != nil {
			return nil, internalErrors.NewStorageError("entity names", err)
		}
	}
	return names, nil
}

func (s *SQLiteStore) collectNames(ctx context.Context, query string, args []interface{}, fn func(NamedEntity)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e NamedEntity
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return err
		}
		fn(e)
	}
	return rows.Err()
}

func (s *SQLiteStore) ListEntityNames(ctx context.Context, class index.EntityClass) ([]NamedEntity, error) {
	return s.SearchNames(ctx, class, "", 0)
}

func (s *SQLiteStore) SearchNames(ctx context.Context, class index.EntityClass, substring string, limit int) ([]NamedEntity, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := fmt.Sprintf("SELECT id, normalized_name FROM %s WHERE instr(normalized_name, ?) > 0 ORDER BY id LIMIT ?", entityTable(class))
	if substring == "" {
		query = fmt.Sprintf("SELECT id, normalized_name FROM %s WHERE ? = '' ORDER BY id LIMIT ?", entityTable(class))
	}

	named := make([]NamedEntity, 0)
	if err := s.collectNames(ctx, query, []interface{}{substring, limit}, func(e NamedEntity) { named = append(named, e) }); err != nil {
		return nil, internalErrors.NewStorageError("search names", err)
	}
	return named, nil
}

func (s *SQLiteStore) ReplacePostings(ctx context.Context, class index.EntityClass, batch map[int64]index.PostingList) error {
	if err := checkClass(class); err != nil {
		return err
	}
	return s.withTx(ctx, "replace postings", func(tx *sql.Tx) error {
		exists, err := tx.PrepareContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", entityTable(class)))
		if err != nil {
			return err
		}
		defer exists.Close()
		del, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE entity_id = ?", postingTable(class)))
		if err != nil {
			return err
		}
		defer del.Close()
		ins, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (entity_id, word, word_length, position) VALUES (?, ?, ?, ?)", postingTable(class)))
		if err != nil {
			return err
		}
		defer ins.Close()

		for id, postings := range batch {
			var one int
			if err := exists.QueryRowContext(ctx, id).Scan(&one); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return internalErrors.NewStorageError("replace postings", internalErrors.NewEntityNotFoundError(string(class), id))
				}
				return err
			}
			if _, err := del.ExecContext(ctx, id); err != nil {
				return err
			}
			for _, p := range postings {
				if _, err := ins.ExecContext(ctx, id, p.Word, p.WordLength, p.Position); err != nil {
					return fmt.Errorf("insert posting %d/%s: %w", id, p.Word, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeletePostings(ctx context.Context, class index.EntityClass, ids []int64) error {
	if err := checkClass(class); err != nil {
		return err
	}
	return s.withTx(ctx, "delete postings", func(tx *sql.Tx) error {
		for _, chunk := range chunkIDs(ids) {
			args := make([]interface{}, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			query := fmt.Sprintf("DELETE FROM %s WHERE entity_id IN (%s)", postingTable(class), placeholders(len(chunk)))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ClearPostings(ctx context.Context, class index.EntityClass) error {
	if err := checkClass(class); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+postingTable(class))
	return internalErrors.NewStorageError("clear postings", err)
}

func (s *SQLiteStore) LookupPostings(ctx context.Context, class index.EntityClass, words []string) (index.PostingList, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	result := make(index.PostingList, 0)
	if len(words) == 0 {
		return result, nil
	}

	seen := make(map[string]struct{}, len(words))
	args := make([]interface{}, 0, len(words))
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		args = append(args, w)
	}

	for start := 0; start < len(args); start += maxParamsPerStatement {
		end := start + maxParamsPerStatement
		if end > len(args) {
			end = len(args)
		}
		query := fmt.Sprintf("SELECT entity_id, word, word_length, position FROM %s WHERE word IN (%s) ORDER BY entity_id, position",
			postingTable(class), placeholders(end-start))
		rows, err := s.db.QueryContext(ctx, query, args[start:end]...)
		if err != nil {
			return nil, internalErrors.NewStorageError("lookup postings", err)
		}
		for rows.Next() {
			var p index.Posting
			if err := rows.Scan(&p.EntityID, &p.Word, &p.WordLength, &p.Position); err != nil {
				rows.Close()
				return nil, internalErrors.NewStorageError("lookup postings", err)
			}
			result = append(result, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, internalErrors.NewStorageError("lookup postings", err)
		}
	}
	return result, nil
}

func (s *SQLiteStore) PostingEntityIDs(ctx context.Context, class index.EntityClass) ([]int64, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT entity_id FROM %s ORDER BY entity_id", postingTable(class)))
	if err != nil {
		return nil, internalErrors.NewStorageError("posting entity ids", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, internalErrors.NewStorageError("posting entity ids", err)
		}
		ids = append(ids, id)
	}
	return ids, internalErrors.NewStorageError("posting entity ids", rows.Err())
}

func (s *SQLiteStore) DistinctWords(ctx context.Context, class index.EntityClass) ([]string, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT word FROM %s ORDER BY word", postingTable(class)))
	if err != nil {
		return nil, internalErrors.NewStorageError("distinct words", err)
	}
	defer rows.Close()

	words := make([]string, 0)
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, internalErrors.NewStorageError("distinct words", err)
		}
		words = append(words, w)
	}
	return words, internalErrors.NewStorageError("distinct words", rows.Err())
}

func (s *SQLiteStore) SaveMatches(ctx context.Context, results []model.MatchResult) (int, error) {
	applied := 0
	err := s.withTx(ctx, "save matches", func(tx *sql.Tx) error {
		refExists, err := tx.PrepareContext(ctx, "SELECT 1 FROM track_references WHERE id = ?")
		if err != nil {
			return err
		}
		defer refExists.Close()
		libExists, err := tx.PrepareContext(ctx, "SELECT 1 FROM library_files WHERE id = ?")
		if err != nil {
			return err
		}
		defer libExists.Close()
		update, err := tx.PrepareContext(ctx, `
			UPDATE track_references
			SET matched = 1, matched_entity_id = ?, match_stage = ?, match_score = ?
			WHERE id = ? AND matched = 0`)
		if err != nil {
			return err
		}
		defer update.Close()

		for _, res := range results {
			var one int
			if err := refExists.QueryRowContext(ctx, res.ReferenceID).Scan(&one); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return internalErrors.NewStorageError("save matches", internalErrors.NewEntityNotFoundError(string(index.ClassReference), res.ReferenceID))
				}
				return err
			}
			if !res.Matched {
				continue
			}
			if err := libExists.QueryRowContext(ctx, res.MatchedEntityID).Scan(&one); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return internalErrors.NewStorageError("save matches", internalErrors.NewEntityNotFoundError(string(index.ClassLibrary), res.MatchedEntityID))
				}
				return err
			}
			r, err := update.ExecContext(ctx, res.MatchedEntityID, string(res.Stage), res.Score, res.ReferenceID)
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return err
			}
			applied += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *SQLiteStore) MatchStatistics(ctx context.Context) (model.MatchStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_kind, match_stage, matched, COUNT(*)
		FROM track_references
		GROUP BY source_kind, match_stage, matched`)
	if err != nil {
		return model.MatchStatistics{}, internalErrors.NewStorageError("match statistics", err)
	}
	defer rows.Close()

	stats := newMatchStatistics()
	for rows.Next() {
		var kind, stage string
		var matched bool
		var count int
		if err := rows.Scan(&kind, &stage, &matched, &count); err != nil {
			return model.MatchStatistics{}, internalErrors.NewStorageError("match statistics", err)
		}
		stats.Total += count
		if !matched {
			continue
		}
		stats.Matched += count
		stats.ByStage[model.Stage(stage)] += count
		stats.BySource[model.SourceKind(kind)] += count
	}
	if err := rows.Err(); err != nil {
		return model.MatchStatistics{}, internalErrors.NewStorageError("match statistics", err)
	}
	stats.ComputeRate()
	return stats, nil
}

var _ Store = (*SQLiteStore)(nil)
