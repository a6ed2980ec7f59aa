package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/embed"
	cberrors "github.com/retoolsx/codebox/internal/errors"
	"github.com/retoolsx/codebox/internal/store"
)

// hybridFetchFactor over-requests each leg of a hybrid search so fusion has
// candidates beyond the requested limit.
const hybridFetchFactor = 1.5

// Retriever executes searches against one project's store.
type Retriever struct {
	store    *store.Store
	embedder *embed.Generator
	reranker Reranker
	cfg      config.Config

	warnedReranker bool
}

// NewRetriever creates a retriever. reranker may be nil; re-ranking is then
// bypassed regardless of configuration.
func NewRetriever(st *store.Store, embedder *embed.Generator, reranker Reranker, cfg config.Config) *Retriever {
	return &Retriever{
		store:    st,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Search runs a query in the given mode. A zero limit uses the configured
// default.
func (r *Retriever) Search(ctx context.Context, query string, mode Mode, limit int, filters store.Filters) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, cberrors.Input("search", "query must not be empty")
	}
	if !ValidMode(mode) {
		return nil, cberrors.Input("search", "mode must be vector, keyword, or hybrid")
	}
	if limit < 0 {
		return nil, cberrors.Input("search", "limit must be non-negative")
	}
	if limit == 0 {
		limit = r.cfg.SearchLimit
	}
	if err := filters.Validate(); err != nil {
		return nil, cberrors.Wrap("search", cberrors.KindInput, err)
	}

	switch mode {
	case ModeVector:
		return r.vectorSearch(ctx, query, limit, filters)
	case ModeKeyword:
		return r.keywordSearch(ctx, query, limit, filters)
	default:
		return r.hybridSearch(ctx, query, limit, filters)
	}
}

func (r *Retriever) vectorSearch(ctx context.Context, query string, limit int, filters store.Filters) ([]Result, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query}, embed.TaskQuery)
	if err != nil {
		return nil, cberrors.Wrap("search", cberrors.KindBackend, err)
	}

	rows, err := r.store.VectorSearch(vecs[0], limit, filters)
	if err != nil {
		return nil, cberrors.Wrap("search", cberrors.KindStore, err)
	}

	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{Row: row, SearchMode: ModeVector}
	}
	return results, nil
}

func (r *Retriever) keywordSearch(ctx context.Context, query string, limit int, filters store.Filters) ([]Result, error) {
	rows, err := r.store.KeywordSearch(query, limit, filters)
	if err != nil {
		return nil, cberrors.Wrap("search", cberrors.KindStore, err)
	}

	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{Row: row, SearchMode: ModeKeyword}
	}
	return results, nil
}

func (r *Retriever) hybridSearch(ctx context.Context, query string, limit int, filters store.Filters) ([]Result, error) {
	fetch := int(math.Ceil(float64(limit) * hybridFetchFactor))

	var vectorResults, keywordResults []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = r.vectorSearch(gctx, query, fetch, filters)
		return err
	})
	g.Go(func() error {
		var err error
		keywordResults, err = r.keywordSearch(gctx, query, fetch, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := fuse(query, vectorResults, keywordResults, limit, r.cfg.RRFK)
	results = r.maybeRerank(ctx, query, results)

	for i := range results {
		results[i].SearchMode = ModeHybrid
	}
	return results, nil
}

// maybeRerank reorders the top slice of fused results by cross-encoder
// score. The slice ordering replaces the fused ordering there; rrf_score
// and symbol_boost stay on the rows for display. An unavailable backend
// leaves the fused results untouched.
func (r *Retriever) maybeRerank(ctx context.Context, query string, results []Result) []Result {
	if !r.cfg.RerankEnabled || r.reranker == nil || len(results) == 0 {
		return results
	}
	if !r.reranker.Available(ctx) {
		if !r.warnedReranker {
			r.warnedReranker = true
			slog.Warn("cross-encoder backend unavailable, skipping re-rank",
				slog.String("model", r.cfg.RerankModel))
		}
		return results
	}

	topK := r.cfg.RerankTopK
	if topK > len(results) {
		topK = len(results)
	}
	if topK == 0 {
		return results
	}

	docs := make([]string, topK)
	for i := 0; i < topK; i++ {
		docs[i] = results[i].Content
	}

	start := time.Now()
	scores, err := r.reranker.Score(ctx, query, docs)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		slog.Warn("re-rank failed, returning fused order", slog.String("error", err.Error()))
		return results
	}

	top := make([]Result, topK)
	copy(top, results[:topK])
	for i := range top {
		score := scores[i]
		top[i].CrossEncoderScore = &score
	}
	sort.SliceStable(top, func(i, j int) bool {
		return *top[i].CrossEncoderScore > *top[j].CrossEncoderScore
	})

	out := append(top, results[topK:]...)
	for i := range out {
		out[i].RerankTimeMS = elapsed
	}
	return out
}
