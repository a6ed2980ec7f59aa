package embed

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/retoolsx/codebox/internal/config"
)

// queryCacheSize bounds the in-memory cache of query embeddings.
const queryCacheSize = 1000

// Generator is the embedder used by the indexer and retriever. The backend
// is materialized on the first call; when it cannot be loaded, or a batch
// fails, deterministic fallback vectors keep the output shape intact.
type Generator struct {
	modelID string
	model   config.ModelInfo

	mu       sync.Mutex
	backend  Backend
	loaded   bool
	degraded bool

	fallback   *Deterministic
	queryCache *lru.Cache[string, []float32]
	diskCache  *diskCache

	warnOnce sync.Once
}

// NewGenerator creates a generator for the configured model. backend may be
// nil to force degraded mode (used by tests and offline indexing).
func NewGenerator(modelID string, model config.ModelInfo, backend Backend) *Generator {
	cache, _ := lru.New[string, []float32](queryCacheSize)
	return &Generator{
		modelID:    modelID,
		model:      model,
		backend:    backend,
		fallback:   NewDeterministic(model.Dim, model.FullName),
		queryCache: cache,
		diskCache:  newDiskCache(model.FullName),
	}
}

// Dimensions returns the embedding dimension of the configured model.
func (g *Generator) Dimensions() int { return g.model.Dim }

// ModelName returns the full model identifier.
func (g *Generator) ModelName() string { return g.model.FullName }

// ModelID returns the short catalog key.
func (g *Generator) ModelID() string { return g.modelID }

// Degraded reports whether the backend was found unavailable at load, so
// every batch gets deterministic vectors. A single failed batch also gets
// fallback vectors but does not set this flag. Only meaningful after the
// first Embed call.
func (g *Generator) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}

// Close releases the backend.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backend != nil {
		return g.backend.Close()
	}
	return nil
}

// Embed returns one L2-normalized vector of length Dimensions() per text,
// in input order. Query embeddings are served from cache when possible.
func (g *Generator) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))

	if task == TaskQuery {
		for i, text := range texts {
			if vec, ok := g.cachedQuery(text); ok {
				out[i] = vec
			} else {
				missing = append(missing, i)
			}
		}
	} else {
		for i := range texts {
			missing = append(missing, i)
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for i, idx := range missing {
		batch[i] = texts[idx]
	}

	vectors := g.embedBatch(ctx, batch, task)
	for i, idx := range missing {
		out[idx] = vectors[i]
		if task == TaskQuery {
			g.storeQuery(texts[idx], vectors[i])
		}
	}
	return out, nil
}

// embedBatch runs one backend call, falling back deterministically on any
// failure so downstream dimensions stay consistent.
func (g *Generator) embedBatch(ctx context.Context, texts []string, task Task) [][]float32 {
	backend := g.ensureLoaded(ctx)

	if backend != nil {
		vectors, err := backend.EmbedBatch(ctx, texts, task)
		if err == nil && g.validShape(vectors, len(texts)) {
			for i := range vectors {
				vectors[i] = normalize(vectors[i])
			}
			return vectors
		}
		if err != nil {
			slog.Warn("embedding batch failed, using deterministic fallback",
				slog.String("model", g.model.FullName),
				slog.String("error", err.Error()))
		} else {
			slog.Warn("embedding backend returned wrong shape, using deterministic fallback",
				slog.String("model", g.model.FullName))
		}
	}

	vectors, _ := g.fallback.EmbedBatch(ctx, texts, task)
	return vectors
}

// ensureLoaded lazily materializes the backend, switching to degraded mode
// when it is unreachable.
func (g *Generator) ensureLoaded(ctx context.Context) Backend {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loaded {
		g.loaded = true
		if g.backend == nil || !g.backend.Available(ctx) {
			g.degraded = true
			g.backend = nil
			g.warnOnce.Do(func() {
				slog.Warn("embedding backend unavailable, running in degraded mode",
					slog.String("model", g.model.FullName))
			})
		}
	}
	return g.backend
}

func (g *Generator) validShape(vectors [][]float32, want int) bool {
	if len(vectors) != want {
		return false
	}
	for _, v := range vectors {
		if len(v) != g.model.Dim {
			return false
		}
	}
	return true
}

func (g *Generator) cachedQuery(text string) ([]float32, bool) {
	if vec, ok := g.queryCache.Get(text); ok {
		return vec, true
	}
	if vec, ok := g.diskCache.get(text, g.model.Dim); ok {
		g.queryCache.Add(text, vec)
		return vec, true
	}
	return nil, false
}

func (g *Generator) storeQuery(text string, vec []float32) {
	g.queryCache.Add(text, vec)
	g.diskCache.put(text, vec)
}
