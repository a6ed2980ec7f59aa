// Package store persists chunks in a typed table with a dense vector index
// and a full-text index over content.
//
// The on-disk layout under a project's data directory:
//
//	chunks.db      sqlite table, one row per chunk (vectors as blobs)
//	fts.bleve/     bleve full-text index over content
//	vectors.hnsw   HNSW graph (+ .meta gob sidecar with the id maps)
//	writer.lock    cross-process writer lock
//
// Writes are serialized by an in-process mutex plus a flock on writer.lock;
// reads take whatever snapshot they find and never block each other.
package store

import (
	"fmt"

	"github.com/retoolsx/codebox/internal/chunk"
)

// TableName is the logical chunk table name reported by Stats.
const TableName = "code_chunks"

// schemaVersion is bumped when the row schema changes; a mismatch on open
// drops and recreates the store.
const schemaVersion = 2

// FilterKeys are the string columns filters may reference. Anything else
// is rejected before reaching a query.
var FilterKeys = map[string]bool{
	"language":   true,
	"chunk_type": true,
	"file_path":  true,
	"node_name":  true,
}

// Filters are equality predicates over indexed string columns.
type Filters map[string]string

// Validate rejects unknown filter keys.
func (f Filters) Validate() error {
	for key := range f {
		if !FilterKeys[key] {
			return fmt.Errorf("unsupported filter column %q", key)
		}
	}
	return nil
}

// Row is one chunk as returned by a search, without its vector.
type Row struct {
	ID string `json:"id"`
	chunk.CodeChunk

	// Distance is the cosine distance for vector search results (0..2).
	Distance float32 `json:"_distance,omitempty"`

	// Score is the FTS score for keyword search results.
	Score float64 `json:"_score,omitempty"`
}

// Stats summarizes the table.
type Stats struct {
	TotalChunks int    `json:"total_chunks"`
	TableName   string `json:"table_name"`
	Path        string `json:"path"`
}

// ErrDimensionMismatch indicates an incoming batch whose vectors do not
// match the dimension declared at table creation. It is a caller bug and
// aborts the write.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
