// Package search executes vector, keyword, and hybrid retrieval over the
// chunk store. Hybrid results are fused with Reciprocal Rank Fusion using a
// query-adaptive K, boosted by symbol metadata, and optionally re-ranked by
// a cross-encoder.
package search

import (
	"github.com/retoolsx/codebox/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeVector searches by dense-vector similarity only.
	ModeVector Mode = "vector"
	// ModeKeyword searches the full-text index only.
	ModeKeyword Mode = "keyword"
	// ModeHybrid fuses vector and keyword results.
	ModeHybrid Mode = "hybrid"
)

// ValidMode reports whether m names a supported mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeVector, ModeKeyword, ModeHybrid:
		return true
	}
	return false
}

// Result is one retrieval result: a store row plus scoring metadata for the
// mode that produced it.
type Result struct {
	store.Row

	// SearchMode tags which strategy produced the result.
	SearchMode Mode `json:"search_mode"`

	// Hybrid-mode scoring. RRFScore includes the symbol boost.
	RRFScore    float64 `json:"rrf_score,omitempty"`
	SymbolBoost float64 `json:"symbol_boost,omitempty"`
	AdaptiveK   int     `json:"adaptive_k,omitempty"`

	// CrossEncoderScore is set when the result went through re-ranking.
	CrossEncoderScore *float64 `json:"cross_encoder_score,omitempty"`

	// RerankTimeMS is the re-rank latency, recorded on every hybrid result
	// when re-ranking was applied.
	RerankTimeMS float64 `json:"rerank_time_ms,omitempty"`
}
