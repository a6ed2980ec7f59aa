package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// Deterministic is the degraded-mode embedder: hash-based vectors that are
// stable across runs and machines. It preserves the embedding contract
// (shape, unit norm, determinism) without model weights, at the cost of
// retrieval quality.
type Deterministic struct {
	dims int
	seed string
}

// Token and n-gram contribution weights.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// programmingStopWords are language keywords filtered before hashing.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewDeterministic creates a fallback embedder producing dims-length
// vectors. The seed (normally the model identifier) keeps different model
// configurations in distinct vector spaces.
func NewDeterministic(dims int, seed string) *Deterministic {
	return &Deterministic{dims: dims, seed: seed}
}

// EmbedBatch implements Backend.
func (d *Deterministic) EmbedBatch(_ context.Context, texts []string, _ Task) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = d.embedOne(text)
	}
	return out, nil
}

// Available implements Backend; the fallback is always ready.
func (d *Deterministic) Available(context.Context) bool { return true }

// Close implements Backend.
func (d *Deterministic) Close() error { return nil }

func (d *Deterministic) embedOne(text string) []float32 {
	vector := make([]float32, d.dims)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		vector[0] = 1
		return vector
	}

	for _, token := range d.tokens(trimmed) {
		vector[d.hashToIndex(token)] += tokenWeight
	}
	for _, ngram := range d.ngrams(trimmed) {
		vector[d.hashToIndex(ngram)] += ngramWeight
	}

	return normalize(vector)
}

// tokens splits text code-aware: camelCase and snake_case identifiers also
// contribute their parts.
func (d *Deterministic) tokens(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if programmingStopWords[lower] || len(lower) < 2 {
			continue
		}
		tokens = append(tokens, lower)
		for _, part := range splitIdentifier(word) {
			if part != lower && len(part) >= 2 && !programmingStopWords[part] {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func (d *Deterministic) ngrams(text string) []string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(normalized) < ngramSize {
		return nil
	}
	grams := make([]string, 0, len(normalized)-ngramSize+1)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		grams = append(grams, normalized[i:i+ngramSize])
	}
	return grams
}

func (d *Deterministic) hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(d.seed))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(d.dims))
}

// splitIdentifier breaks camelCase and snake_case words into lowercase parts.
func splitIdentifier(word string) []string {
	var parts []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for i, r := range word {
		switch {
		case r == '_':
			flush()
		case r >= 'A' && r <= 'Z' && i > 0:
			prev := rune(word[i-1])
			if prev >= 'a' && prev <= 'z' {
				flush()
			}
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return parts
}
