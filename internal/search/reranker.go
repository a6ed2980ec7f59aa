package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reranker scores query/document pairs with a cross-encoder. Cross-encoders
// jointly encode the pair, which is slower but more accurate than the
// bi-encoder used for retrieval.
type Reranker interface {
	// Score returns one relevance score per document, in input order.
	Score(ctx context.Context, query string, documents []string) ([]float64, error)

	// Available reports whether the backend can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// HTTP reranker defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	rerankerProbeTimeout    = 3 * time.Second
	rerankerRequestTimeout  = 30 * time.Second
)

// HTTPRerankerConfig configures the HTTP cross-encoder backend.
type HTTPRerankerConfig struct {
	// Endpoint is the reranker service URL.
	Endpoint string

	// Model is the cross-encoder model identifier.
	Model string

	// Timeout overrides the per-request timeout.
	Timeout time.Duration
}

// HTTPReranker calls a local cross-encoder service's /rerank endpoint.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPReranker creates the backend. No connection is made until use.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = rerankerRequestTimeout
	}
	return &HTTPReranker{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Available probes the service health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, rerankerProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Score implements Reranker.
func (r *HTTPReranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(documents) {
		return nil, fmt.Errorf("rerank: got %d scores for %d documents", len(parsed.Scores), len(documents))
	}
	return parsed.Scores, nil
}

// Close implements Reranker.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
