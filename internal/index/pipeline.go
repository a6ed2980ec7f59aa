package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/retoolsx/codebox/internal/chunk"
	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/embed"
	cberrors "github.com/retoolsx/codebox/internal/errors"
	"github.com/retoolsx/codebox/internal/parse"
	"github.com/retoolsx/codebox/internal/project"
	"github.com/retoolsx/codebox/internal/scanner"
	"github.com/retoolsx/codebox/internal/store"
)

// Indexer builds a project index from scratch.
type Indexer struct {
	cfg      config.Config
	embedder *embed.Generator
}

// NewIndexer creates an indexer using the given embedder.
func NewIndexer(cfg config.Config, embedder *embed.Generator) *Indexer {
	return &Indexer{cfg: cfg, embedder: embedder}
}

// Index rebuilds the index for projectPath. The existing per-project
// directory is removed first, so the resulting store always matches the
// current model and configuration. Per-file errors never abort the run;
// the result is populated in every outcome.
func (ix *Indexer) Index(ctx context.Context, projectPath string, cb Callbacks) (*IndexingResult, error) {
	result := &IndexingResult{}
	started := time.Now()
	defer func() {
		result.ProcessingTimeMS = time.Since(started).Milliseconds()
	}()

	layout, err := project.Resolve(projectPath)
	if err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindInput, err)
	}
	info, err := os.Stat(layout.Root)
	if err != nil || !info.IsDir() {
		result.Error = fmt.Sprintf("project path is not a directory: %s", projectPath)
		return result, cberrors.Input("index", result.Error)
	}

	// Full reset: the store schema is guaranteed to match the current
	// model and configuration.
	if err := layout.Remove(); err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindStore, err)
	}
	if err := layout.EnsureDirs(); err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindStore, err)
	}

	parser := parse.NewParser()
	defer parser.Close()

	sc := scanner.New(scanner.Options{
		ExtensionBlacklist:  ix.cfg.ExtensionBlacklist,
		PathBlacklist:       ix.cfg.PathBlacklist,
		SupportedExtensions: parse.AllSupportedExtensions(),
	})
	files, err := sc.FindFiles(layout.Root)
	if err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindInput, err)
	}

	cfg := ix.cfg.WithProfile(len(files))
	chunker := chunk.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)

	st, err := store.Open(layout.DataDir(), ix.embedder.Dimensions(), ix.embedder.ModelName())
	if err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindStore, err)
	}
	defer st.Close()

	result.TotalFiles = len(files)
	cb.progress(0, len(files), "")
	cb.log(fmt.Sprintf("indexing %d files with profile %s", len(files), cfg.Profile))

	var buffer []chunk.CodeChunk
	cancelled := false

	flush := func(updateFTS bool) error {
		if len(buffer) == 0 {
			if updateFTS {
				return st.AddChunks(nil, nil, true)
			}
			return nil
		}
		texts := make([]string, len(buffer))
		for i := range buffer {
			texts[i] = buffer[i].Content
		}

		embedStart := time.Now()
		vectors, err := ix.embedder.Embed(ctx, texts, embed.TaskPassage)
		result.EmbeddingTimeMS += time.Since(embedStart).Milliseconds()
		if err != nil {
			return err
		}

		if err := st.AddChunks(buffer, vectors, updateFTS); err != nil {
			return err
		}
		buffer = buffer[:0]
		return nil
	}

	for i, rel := range files {
		if ctx.Err() != nil || cb.cancelled() {
			cancelled = true
			break
		}

		cb.progress(i+1, len(files), rel)

		chunks, status, ferr := ix.processFile(ctx, layout.Root, rel, parser, chunker, cfg.MaxFileSize)
		switch status {
		case StatusSkipped:
			result.recordSkipped(rel)
			cb.fileProcessed(rel, StatusSkipped, 0)
			continue
		case StatusFailed:
			result.recordFailed(rel, cberrors.ClassifyFileError(ferr), ferr.Error())
			cb.fileProcessed(rel, StatusFailed, 0)
			continue
		}

		language := ""
		if len(chunks) > 0 {
			language = chunks[0].Language
		}
		result.recordIndexed(rel, len(chunks), language)
		cb.fileProcessed(rel, StatusIndexed, len(chunks))

		buffer = append(buffer, chunks...)
		if len(buffer) >= cfg.EmbeddingBatchSize {
			if err := flush(false); err != nil {
				result.Error = err.Error()
				return result, cberrors.Wrap("index", cberrors.KindStore, err)
			}
		}
	}

	if cancelled {
		// Keep already-committed batches search-consistent; the unembedded
		// buffer is dropped.
		if err := st.AddChunks(nil, nil, true); err != nil {
			slog.Warn("fts flush on cancel failed", slog.String("error", err.Error()))
		}
		result.Error = CancelledError
		cb.log("indexing cancelled")
		return result, nil
	}

	if err := flush(true); err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindStore, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	meta := project.Metadata{
		Path:           layout.Root,
		Name:           filepath.Base(layout.Root),
		IndexedAt:      &now,
		EmbeddingModel: ix.embedder.ModelName(),
		EmbeddingDim:   ix.embedder.Dimensions(),
		TotalFiles:     result.IndexedFilesCount,
		TotalChunks:    result.TotalChunks,
	}
	if err := layout.SaveMetadata(meta); err != nil {
		result.Error = err.Error()
		return result, cberrors.Wrap("index", cberrors.KindStore, err)
	}

	result.Success = true
	cb.log(fmt.Sprintf("indexed %d chunks from %d files", result.TotalChunks, result.IndexedFilesCount))
	return result, nil
}

// processFile runs the read, parse, chunk steps for one file. Any panic in
// a grammar binding is converted to a failed status.
func (ix *Indexer) processFile(
	ctx context.Context,
	root, rel string,
	parser *parse.Parser,
	chunker *chunk.Chunker,
	maxFileSize int64,
) (chunks []chunk.CodeChunk, status FileStatus, ferr error) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusFailed
			ferr = fmt.Errorf("panic processing %s: %v", rel, r)
		}
	}()

	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, StatusFailed, err
	}
	if info.Size() > maxFileSize {
		return nil, StatusSkipped, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsPermission(err) {
			return nil, StatusFailed, err
		}
		return nil, StatusFailed, fmt.Errorf("%w: %v", cberrors.ErrEncoding, err)
	}
	content := strings.ToValidUTF8(string(data), "�")

	parsed, err := parser.ParseFile(ctx, rel, []byte(content))
	if err != nil {
		return nil, StatusFailed, err
	}
	if parsed == nil {
		return nil, StatusSkipped, nil
	}

	chunks = chunker.ChunkCode(content, rel, parsed.Language, parsed.Nodes)
	if len(chunks) == 0 {
		return nil, StatusSkipped, nil
	}

	imports := strings.Join(parsed.Imports, ",")
	modified := info.ModTime().UTC().Format(time.RFC3339)
	for i := range chunks {
		chunks[i].SizeBytes = info.Size()
		chunks[i].ModifiedAt = modified
		chunks[i].Imports = imports
	}
	return chunks, StatusIndexed, nil
}
