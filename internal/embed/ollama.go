package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama API defaults.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// ollamaConnectTimeout bounds the availability probe.
	ollamaConnectTimeout = 5 * time.Second

	// ollamaRequestTimeout bounds one embed call.
	ollamaRequestTimeout = 120 * time.Second
)

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model identifier passed to the API.
	Model string

	// QueryPrefix and PassagePrefix are prepended per task for models with
	// asymmetric query/passage conventions. Empty prefixes disable the
	// distinction.
	QueryPrefix   string
	PassagePrefix string

	// Timeout overrides the per-request timeout.
	Timeout time.Duration
}

// OllamaBackend generates embeddings via Ollama's /api/embed endpoint.
type OllamaBackend struct {
	client *http.Client
	config OllamaConfig
}

var _ Backend = (*OllamaBackend)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaBackend creates an Ollama backend. No connection is made until
// the first call.
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ollamaRequestTimeout
	}
	return &OllamaBackend{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Available probes the Ollama API.
func (o *OllamaBackend) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, o.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// EmbedBatch implements Backend. Input order is preserved.
func (o *OllamaBackend) EmbedBatch(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	input := texts
	prefix := o.config.PassagePrefix
	if task == TaskQuery {
		prefix = o.config.QueryPrefix
	}
	if prefix != "" {
		input = make([]string, len(texts))
		for i, t := range texts {
			input[i] = prefix + t
		}
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, row := range parsed.Embeddings {
		vec := make([]float32, len(row))
		for j, v := range row {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Close implements Backend.
func (o *OllamaBackend) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
