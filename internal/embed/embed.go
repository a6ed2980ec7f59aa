// Package embed generates dense vectors for chunk text and queries.
//
// A Generator wraps a backend (Ollama by default) with lazy loading, L2
// normalization, an in-memory query cache, an opportunistic on-disk cache,
// and a deterministic degraded mode that keeps vector shapes consistent
// when no backend is reachable.
package embed

import (
	"context"
	"math"

	"github.com/viterin/vek/vek32"
)

// Task selects the embedding convention for models that distinguish
// passages from queries.
type Task string

const (
	// TaskPassage embeds indexed chunk text.
	TaskPassage Task = "passage"
	// TaskQuery embeds search queries.
	TaskQuery Task = "query"
)

// DefaultBatchSize is a default batch size for callers that split their
// input. Generator.Embed does not split: it sends all texts in one call.
const DefaultBatchSize = 32

// Backend produces raw embeddings for batches of text.
type Backend interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string, task Task) ([][]float32, error)

	// Available reports whether the backend can serve requests.
	Available(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}

// normalize scales v to unit length in place and returns it.
// A zero vector is given a deterministic unit direction instead.
func normalize(v []float32) []float32 {
	norm := float32(math.Sqrt(float64(vek32.Dot(v, v))))
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := 1 / norm
	for i := range v {
		v[i] *= inv
	}
	return v
}
