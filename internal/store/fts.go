package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	regexpTokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeAnalyzerName  = "code_analyzer"
)

// ftsDocument is the shape indexed per chunk. The doc id is the chunk id.
type ftsDocument struct {
	Content   string `json:"content"`
	Language  string `json:"language"`
	ChunkType string `json:"chunk_type"`
	FilePath  string `json:"file_path"`
	NodeName  string `json:"node_name"`
}

// ftsIndex wraps bleve with a code-aware analyzer and deferred indexing:
// documents queue in pending until flush, so bulk loads pay the index cost
// once at the final commit.
type ftsIndex struct {
	index   bleve.Index
	pending []ftsDocument
	ids     []string
}

// newFTSIndex opens or creates the bleve index at path. An empty path
// creates an in-memory index for tests.
func newFTSIndex(path string) (*ftsIndex, error) {
	im, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("open fts index: %w", err)
	}
	return &ftsIndex{index: idx}, nil
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenizer(codeTokenizerName, map[string]any{
		"type":   regexpTokenizer.Name,
		"regexp": `[A-Za-z0-9_]+`,
	}); err != nil {
		return nil, fmt.Errorf("register code tokenizer: %w", err)
	}
	if err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("register code analyzer: %w", err)
	}

	content := bleve.NewTextFieldMapping()
	content.Analyzer = codeAnalyzerName
	content.Store = false

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	kw.Store = false
	kw.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("language", kw)
	doc.AddFieldMappingsAt("chunk_type", kw)
	doc.AddFieldMappingsAt("file_path", kw)
	doc.AddFieldMappingsAt("node_name", kw)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = codeAnalyzerName
	return im, nil
}

// queue defers a document until the next flush.
func (f *ftsIndex) queue(id string, doc ftsDocument) {
	f.pending = append(f.pending, doc)
	f.ids = append(f.ids, id)
}

// flush commits all pending documents in one batch.
func (f *ftsIndex) flush() error {
	if len(f.pending) == 0 {
		return nil
	}
	batch := f.index.NewBatch()
	for i, doc := range f.pending {
		if err := batch.Index(f.ids[i], doc); err != nil {
			return fmt.Errorf("batch fts document: %w", err)
		}
	}
	if err := f.index.Batch(batch); err != nil {
		return fmt.Errorf("commit fts batch: %w", err)
	}
	f.pending = nil
	f.ids = nil
	return nil
}

// deleteIDs removes documents, flushing pending docs first so a deferred
// add cannot resurrect a deleted chunk.
func (f *ftsIndex) deleteIDs(ids []string) error {
	if err := f.flush(); err != nil {
		return err
	}
	batch := f.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return f.index.Batch(batch)
}

// ftsHit is one keyword search result in rank order.
type ftsHit struct {
	ID    string
	Score float64
}

// search runs a match query over content, restricted by equality filters on
// the keyword fields. Filter values are handled as structured term queries,
// so no query-syntax injection is possible.
func (f *ftsIndex) search(text string, limit int, filters Filters) ([]ftsHit, error) {
	match := bleve.NewMatchQuery(text)
	match.SetField("content")
	match.Analyzer = codeAnalyzerName

	var q query.Query = match
	if len(filters) > 0 {
		conj := bleve.NewConjunctionQuery(match)
		for field, value := range filters {
			term := bleve.NewTermQuery(value)
			term.SetField(field)
			conj.AddQuery(term)
		}
		q = conj
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	hits := make([]ftsHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, ftsHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

func (f *ftsIndex) close() error {
	return f.index.Close()
}
