package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/retoolsx/codebox/internal/chunk"
)

const (
	chunksDBName    = "chunks.db"
	ftsDirName      = "fts.bleve"
	vectorFileName  = "vectors.hnsw"
	writerLockName  = "writer.lock"
	overfetchFactor = 4
)

// Store is the per-project chunk store. One logical writer at a time is
// enforced with an in-process mutex plus a cross-process flock acquired on
// the first mutating operation.
type Store struct {
	path  string
	dims  int
	model string

	db     *sql.DB
	fts    *ftsIndex
	vector *vectorIndex

	writeMu  sync.Mutex
	fileLock *flock.Flock
	locked   bool
}

// Open opens or creates the store under dataDir for the given embedding
// dimension. An existing store whose schema version or dimension differs is
// dropped and recreated.
func Open(dataDir string, dims int, model string) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dims)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		path:     dataDir,
		dims:     dims,
		model:    model,
		fileLock: flock.New(filepath.Join(dataDir, writerLockName)),
	}

	if err := s.openSQL(); err != nil {
		return nil, err
	}

	compatible, err := s.schemaCompatible()
	if err != nil {
		s.closeQuietly()
		return nil, err
	}
	if !compatible {
		slog.Info("store schema changed, recreating",
			slog.String("path", dataDir),
			slog.Int("dims", dims))
		if err := s.recreate(); err != nil {
			s.closeQuietly()
			return nil, err
		}
	}

	if err := s.initSchema(); err != nil {
		s.closeQuietly()
		return nil, err
	}

	s.fts, err = newFTSIndex(filepath.Join(dataDir, ftsDirName))
	if err != nil {
		s.closeQuietly()
		return nil, err
	}

	s.vector, err = loadVectorIndex(filepath.Join(dataDir, vectorFileName), dims)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("vector index unreadable, rebuilding from rows",
				slog.String("error", err.Error()))
		}
		s.vector = newVectorIndex(dims)
		if err := s.rebuildVectors(); err != nil {
			s.closeQuietly()
			return nil, err
		}
	}

	return s, nil
}

// Close releases the writer lock and all underlying handles.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var firstErr error
	if s.locked {
		if err := s.fileLock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.locked = false
	}
	if s.fts != nil {
		if err := s.fts.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.fts = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.db = nil
	}
	return firstErr
}

// AddChunks appends a batch of chunks with their vectors. The vector batch
// must match the chunk batch in length and the declared dimension exactly;
// any mismatch aborts the write before touching the table. With updateFTS
// false the FTS commit is deferred until the next flushing write.
func (s *Store) AddChunks(chunks []chunk.CodeChunk, vectors [][]float32, updateFTS bool) error {
	if len(chunks) == 0 {
		if updateFTS {
			return s.withWriter(func() error { return s.fts.flush() })
		}
		return nil
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(v)}
		}
	}

	return s.withWriter(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin add batch: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO code_chunks
			(id, content, file_path, start_line, end_line, language, chunk_type,
			 node_name, signature, parameters, return_type, docstring, decorators,
			 imports, parent_scope, full_path, scope_depth, size_bytes, modified_at,
			 calls, vector)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		ids := make([]string, len(chunks))
		for i := range chunks {
			c := &chunks[i]
			ids[i] = c.ID()
			if _, err := stmt.Exec(
				ids[i], c.Content, c.FilePath, c.StartLine, c.EndLine, c.Language,
				c.ChunkType, c.NodeName, c.Signature, c.Parameters, c.ReturnType,
				c.Docstring, c.Decorators, c.Imports, c.ParentScope, c.FullPath,
				c.ScopeDepth, c.SizeBytes, c.ModifiedAt, c.Calls,
				encodeVector(vectors[i]),
			); err != nil {
				return fmt.Errorf("insert chunk %s: %w", ids[i], err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit add batch: %w", err)
		}

		s.vector.add(ids, vectors)

		for i := range chunks {
			c := &chunks[i]
			s.fts.queue(ids[i], ftsDocument{
				Content:   c.Content,
				Language:  c.Language,
				ChunkType: c.ChunkType,
				FilePath:  c.FilePath,
				NodeName:  c.NodeName,
			})
		}
		if updateFTS {
			if err := s.fts.flush(); err != nil {
				return err
			}
			if err := s.vector.save(filepath.Join(s.path, vectorFileName)); err != nil {
				slog.Warn("vector index save failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// DeleteByFile removes every chunk of a relative file path and refreshes
// the FTS index unconditionally.
func (s *Store) DeleteByFile(relPath string) error {
	return s.withWriter(func() error {
		rows, err := s.db.Query(`SELECT id FROM code_chunks WHERE file_path = ?`, relPath)
		if err != nil {
			return fmt.Errorf("select chunks for delete: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		if _, err := s.db.Exec(`DELETE FROM code_chunks WHERE file_path = ?`, relPath); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		s.vector.delete(ids)

		if err := s.fts.deleteIDs(ids); err != nil {
			return err
		}
		if err := s.vector.save(filepath.Join(s.path, vectorFileName)); err != nil {
			slog.Warn("vector index save failed", slog.String("error", err.Error()))
		}
		return nil
	})
}

// VectorSearch returns the top-limit rows by cosine similarity, after
// applying equality filters.
func (s *Store) VectorSearch(queryVec []float32, limit int, filters Filters) ([]Row, error) {
	if len(queryVec) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(queryVec)}
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Row{}, nil
	}

	fetch := limit
	if len(filters) > 0 {
		fetch = limit * overfetchFactor
	}

	hits := s.vector.search(queryVec, fetch)
	if len(hits) == 0 {
		return []Row{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rowsByID, err := s.fetchRows(ids, filters)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, limit)
	for _, h := range hits {
		row, ok := rowsByID[h.ID]
		if !ok {
			continue
		}
		row.Distance = h.Distance
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// KeywordSearch returns the top-limit rows by FTS relevance, after applying
// equality filters.
func (s *Store) KeywordSearch(query string, limit int, filters Filters) ([]Row, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []Row{}, nil
	}

	hits, err := s.fts.search(query, limit, filters)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Row{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rowsByID, err := s.fetchRows(ids, filters)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(hits))
	for _, h := range hits {
		row, ok := rowsByID[h.ID]
		if !ok {
			continue
		}
		row.Score = h.Score
		out = append(out, row)
	}
	return out, nil
}

// Stats returns the table summary.
func (s *Store) Stats() (Stats, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM code_chunks`).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	return Stats{TotalChunks: count, TableName: TableName, Path: s.path}, nil
}

// LanguageBreakdown returns chunk counts per language.
func (s *Store) LanguageBreakdown() (map[string]int, error) {
	return s.breakdown("language")
}

// ChunkTypeBreakdown returns chunk counts per chunk type.
func (s *Store) ChunkTypeBreakdown() (map[string]int, error) {
	return s.breakdown("chunk_type")
}

// SizeMB returns the total on-disk size of the store directory.
func (s *Store) SizeMB() float64 {
	var total int64
	_ = filepath.WalkDir(s.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}

// Dimensions returns the vector dimension declared at creation.
func (s *Store) Dimensions() int { return s.dims }

func (s *Store) breakdown(column string) (map[string]int, error) {
	// column is one of two compile-time constants, never user input.
	rows, err := s.db.Query(`SELECT ` + column + `, COUNT(*) FROM code_chunks GROUP BY ` + column)
	if err != nil {
		return nil, fmt.Errorf("breakdown by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

// withWriter serializes mutations and lazily acquires the cross-process
// writer lock, held until Close.
func (s *Store) withWriter(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.locked {
		if err := s.fileLock.Lock(); err != nil {
			return fmt.Errorf("acquire writer lock: %w", err)
		}
		s.locked = true
	}
	return fn()
}

// fetchRows loads rows for the given ids with filters applied, keyed by id.
// All values reach SQL through placeholders.
func (s *Store) fetchRows(ids []string, filters Filters) (map[string]Row, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+len(filters))
	for _, id := range ids {
		args = append(args, id)
	}

	q := `SELECT id, content, file_path, start_line, end_line, language, chunk_type,
		node_name, signature, parameters, return_type, docstring, decorators,
		imports, parent_scope, full_path, scope_depth, size_bytes, modified_at, calls
		FROM code_chunks WHERE id IN (` + placeholders + `)`
	for field, value := range filters {
		q += ` AND ` + field + ` = ?`
		args = append(args, value)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Row, len(ids))
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.ID, &r.Content, &r.FilePath, &r.StartLine, &r.EndLine, &r.Language,
			&r.ChunkType, &r.NodeName, &r.Signature, &r.Parameters, &r.ReturnType,
			&r.Docstring, &r.Decorators, &r.Imports, &r.ParentScope, &r.FullPath,
			&r.ScopeDepth, &r.SizeBytes, &r.ModifiedAt, &r.Calls,
		); err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (s *Store) openSQL() error {
	db, err := sql.Open("sqlite", filepath.Join(s.path, chunksDBName))
	if err != nil {
		return fmt.Errorf("open chunks db: %w", err)
	}
	// WAL lets readers proceed while the single writer commits. The
	// journal_mode pragma returns a row, so it goes through QueryRow.
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return fmt.Errorf("configure chunks db: %w", err)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode = WAL`).Scan(&mode); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable wal mode: %w", err)
	}
	s.db = db
	return nil
}

// schemaCompatible reports whether an existing store matches the expected
// schema version and embedding dimension. A fresh store is compatible.
func (s *Store) schemaCompatible() (bool, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='store_meta'`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inspect store meta: %w", err)
	}
	if exists == 0 {
		return true, nil
	}

	meta := make(map[string]string)
	rows, err := s.db.Query(`SELECT key, value FROM store_meta`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return false, err
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	return meta["schema_version"] == fmt.Sprint(schemaVersion) &&
		meta["embedding_dim"] == fmt.Sprint(s.dims), nil
}

// recreate drops the row table and all sidecar indexes.
func (s *Store) recreate() error {
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS code_chunks; DROP TABLE IF EXISTS store_meta;`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.path, ftsDirName)); err != nil {
		return fmt.Errorf("remove fts index: %w", err)
	}
	_ = os.Remove(filepath.Join(s.path, vectorFileName))
	_ = os.Remove(filepath.Join(s.path, vectorFileName+".meta"))
	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS code_chunks (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			chunk_type TEXT NOT NULL DEFAULT '',
			node_name TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			parameters TEXT NOT NULL DEFAULT '',
			return_type TEXT NOT NULL DEFAULT '',
			docstring TEXT NOT NULL DEFAULT '',
			decorators TEXT NOT NULL DEFAULT '',
			imports TEXT NOT NULL DEFAULT '',
			parent_scope TEXT NOT NULL DEFAULT '',
			full_path TEXT NOT NULL DEFAULT '',
			scope_depth INTEGER NOT NULL DEFAULT 0,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			modified_at TEXT NOT NULL DEFAULT '',
			calls TEXT NOT NULL DEFAULT '',
			vector BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON code_chunks(file_path);
		CREATE INDEX IF NOT EXISTS idx_chunks_language ON code_chunks(language);
		CREATE INDEX IF NOT EXISTS idx_chunks_chunk_type ON code_chunks(chunk_type);
		CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	for k, v := range map[string]string{
		"schema_version":  fmt.Sprint(schemaVersion),
		"embedding_dim":   fmt.Sprint(s.dims),
		"embedding_model": s.model,
	} {
		if _, err := s.db.Exec(
			`INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)`, k, v,
		); err != nil {
			return fmt.Errorf("write store meta: %w", err)
		}
	}
	return nil
}

// rebuildVectors reconstructs the HNSW graph from the persisted row blobs.
func (s *Store) rebuildVectors() error {
	rows, err := s.db.Query(`SELECT id, vector FROM code_chunks`)
	if err != nil {
		return fmt.Errorf("read vectors for rebuild: %w", err)
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob, s.dims)
		if err != nil {
			slog.Warn("skipping undecodable vector", slog.String("id", id))
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(ids) > 0 {
		s.vector.add(ids, vectors)
	}
	return nil
}

func (s *Store) closeQuietly() {
	if s.fts != nil {
		_ = s.fts.close()
		s.fts = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func encodeVector(vec []float32) []byte {
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func decodeVector(data []byte, dims int) ([]float32, error) {
	if len(data) != dims*4 {
		return nil, fmt.Errorf("vector blob length %d does not match dimension %d", len(data), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
