// Package engine exposes the public surface consumed by shells: index,
// search, stats, auto-sync, and project listing.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/retoolsx/codebox/internal/autosync"
	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/embed"
	cberrors "github.com/retoolsx/codebox/internal/errors"
	"github.com/retoolsx/codebox/internal/index"
	"github.com/retoolsx/codebox/internal/project"
	"github.com/retoolsx/codebox/internal/search"
	"github.com/retoolsx/codebox/internal/store"
)

// Engine ties the pipeline components together for one configuration.
type Engine struct {
	cfg      config.Config
	embedder *embed.Generator
	reranker search.Reranker
}

// Option customizes engine construction.
type Option func(*Engine)

// WithEmbedderBackend overrides the embedding backend (tests use nil to
// force the deterministic fallback).
func WithEmbedderBackend(backend embed.Backend) Option {
	return func(e *Engine) {
		info, _ := e.cfg.ResolveModel()
		e.embedder = embed.NewGenerator(e.cfg.EmbeddingModel, info, backend)
	}
}

// WithReranker overrides the cross-encoder backend.
func WithReranker(r search.Reranker) Option {
	return func(e *Engine) {
		e.reranker = r
	}
}

// New creates an engine. The configuration must already be validated.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	info, err := cfg.ResolveModel()
	if err != nil {
		return nil, cberrors.Wrap("engine", cberrors.KindInput, err)
	}

	e := &Engine{
		cfg: cfg,
		embedder: embed.NewGenerator(cfg.EmbeddingModel, info,
			embed.NewOllamaBackend(embed.OllamaConfig{Model: cfg.EmbeddingModel})),
	}
	if cfg.RerankEnabled {
		e.reranker = search.NewHTTPReranker(search.HTTPRerankerConfig{Model: cfg.RerankModel})
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases backend resources.
func (e *Engine) Close() error {
	if e.reranker != nil {
		_ = e.reranker.Close()
	}
	return e.embedder.Close()
}

// Index builds the project index from scratch.
func (e *Engine) Index(ctx context.Context, projectPath string, cb index.Callbacks) (*index.IndexingResult, error) {
	ix := index.NewIndexer(e.cfg, e.embedder)
	return ix.Index(ctx, projectPath, cb)
}

// Search runs a query against an indexed project.
func (e *Engine) Search(ctx context.Context, projectPath, query string, mode search.Mode, limit int, filters store.Filters) ([]search.Result, error) {
	layout, err := e.indexedLayout(projectPath, "search")
	if err != nil {
		return nil, err
	}

	st, err := store.Open(layout.DataDir(), e.embedder.Dimensions(), e.embedder.ModelName())
	if err != nil {
		return nil, cberrors.Wrap("search", cberrors.KindStore, err)
	}
	defer st.Close()

	retriever := search.NewRetriever(st, e.embedder, e.reranker, e.cfg)
	return retriever.Search(ctx, query, mode, limit, filters)
}

// DatabaseStats describes the store of one project.
type DatabaseStats struct {
	store.Stats
	Languages  map[string]int `json:"languages"`
	ChunkTypes map[string]int `json:"chunk_types"`
	SizeMB     float64        `json:"size_mb"`
}

// ModelStats describes the embedding model configuration.
type ModelStats struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Dim      int    `json:"dim"`
}

// StatsReport is the full stats answer for one project.
type StatsReport struct {
	Project  project.Metadata `json:"project"`
	Database DatabaseStats    `json:"database"`
	Model    ModelStats       `json:"model"`
}

// Stats reports project, database, and model information.
func (e *Engine) Stats(projectPath string) (*StatsReport, error) {
	layout, err := e.indexedLayout(projectPath, "stats")
	if err != nil {
		return nil, err
	}

	st, err := store.Open(layout.DataDir(), e.embedder.Dimensions(), e.embedder.ModelName())
	if err != nil {
		return nil, cberrors.Wrap("stats", cberrors.KindStore, err)
	}
	defer st.Close()

	tableStats, err := st.Stats()
	if err != nil {
		return nil, cberrors.Wrap("stats", cberrors.KindStore, err)
	}
	languages, err := st.LanguageBreakdown()
	if err != nil {
		return nil, cberrors.Wrap("stats", cberrors.KindStore, err)
	}
	chunkTypes, err := st.ChunkTypeBreakdown()
	if err != nil {
		return nil, cberrors.Wrap("stats", cberrors.KindStore, err)
	}

	return &StatsReport{
		Project: layout.LoadMetadata(),
		Database: DatabaseStats{
			Stats:      tableStats,
			Languages:  languages,
			ChunkTypes: chunkTypes,
			SizeMB:     st.SizeMB(),
		},
		Model: ModelStats{
			ID:       e.embedder.ModelID(),
			FullName: e.embedder.ModelName(),
			Dim:      e.embedder.Dimensions(),
		},
	}, nil
}

// AutoSyncStart launches the auto-sync worker for a project. The returned
// worker is stopped with its Stop method.
func (e *Engine) AutoSyncStart(ctx context.Context, projectPath string, cb autosync.Callbacks) (*autosync.Worker, error) {
	layout, err := e.indexedLayout(projectPath, "auto_sync")
	if err != nil {
		return nil, err
	}

	worker := autosync.NewWorker(layout, e.cfg, e.embedder, cb)
	if err := worker.Start(ctx); err != nil {
		return nil, cberrors.Wrap("auto_sync", cberrors.KindStore, err)
	}
	return worker, nil
}

// ListProjects returns the metadata of every project under the engine home.
func (e *Engine) ListProjects() []project.Metadata {
	byHash := project.ListProjects()
	out := make([]project.Metadata, 0, len(byHash))
	for _, meta := range byHash {
		out = append(out, meta)
	}
	return out
}

// indexedLayout resolves a project path and verifies it has been indexed.
func (e *Engine) indexedLayout(projectPath, op string) (*project.Layout, error) {
	layout, err := project.Resolve(projectPath)
	if err != nil {
		return nil, cberrors.Wrap(op, cberrors.KindInput, err)
	}
	if info, err := os.Stat(layout.Root); err != nil || !info.IsDir() {
		return nil, cberrors.Input(op, fmt.Sprintf("project path is not a directory: %s", projectPath))
	}
	if _, err := os.Stat(layout.DataDir()); err != nil {
		return nil, cberrors.Input(op, fmt.Sprintf("project is not indexed: %s", projectPath))
	}
	return layout, nil
}
