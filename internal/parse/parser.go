// Package parse turns source files into semantic nodes with rich metadata.
//
// Language detection runs through the chroma lexer registry; parsing through
// tree-sitter grammars. Extraction of signatures, parameters, docstrings,
// decorators, and call sites is best-effort per language: a missing concept
// or an unexpected AST shape leaves the field empty and never fails the
// parse.
package parse

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	cberrors "github.com/retoolsx/codebox/internal/errors"
)

// Node is one semantic unit extracted from a file.
// Line numbers are 0-based and inclusive.
type Node struct {
	Type        string
	Name        string
	StartLine   int
	EndLine     int
	StartByte   uint32
	EndByte     uint32
	Signature   string
	Parameters  string // JSON [{"name":..,"type":..}]
	ReturnType  string
	Docstring   string
	Decorators  string // JSON ["@dec", ...]
	ParentScope string
	FullPath    string
	ScopeDepth  int
	Calls       string // JSON [{"caller":..,"callee":..,"line":..}]
}

// Result is the outcome of parsing one file.
type Result struct {
	Language string
	Nodes    []Node
	Imports  []string
}

// Parser wraps tree-sitter with the shipped grammar registry.
// Safe for concurrent use; parses are serialized internally.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser()}
}

// Close releases parser resources.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
}

// ParseFile detects the language of path and extracts semantic nodes from
// source. A file whose language is not supported returns (nil, nil): the
// caller skips it. A parse that produces no tree returns an error wrapping
// errors.ErrParse.
func (p *Parser) ParseFile(ctx context.Context, path string, source []byte) (*Result, error) {
	key, ok := DetectGrammar(path)
	if !ok {
		return nil, nil
	}
	cfg := languages[key]

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser == nil {
		return nil, fmt.Errorf("parser is closed")
	}

	p.parser.SetLanguage(cfg.language)
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cberrors.ErrParse, path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: %s: nil tree", cberrors.ErrParse, path)
	}
	defer tree.Close()

	ex := &extractor{cfg: cfg, source: source}
	ex.walk(tree.RootNode(), nil)

	return &Result{
		Language: cfg.Tag,
		Nodes:    ex.nodes,
		Imports:  ex.imports(tree.RootNode()),
	}, nil
}

// SupportedLanguages returns the normalized tags of all shipped grammars.
func SupportedLanguages() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, cfg := range languages {
		if !seen[cfg.Tag] {
			seen[cfg.Tag] = true
			tags = append(tags, cfg.Tag)
		}
	}
	return tags
}
