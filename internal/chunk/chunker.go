package chunk

import (
	"strings"

	"github.com/retoolsx/codebox/internal/parse"
)

// contextPadding is the number of context lines included around a semantic
// node's span.
const contextPadding = 3

// Chunker turns parse results and raw text into CodeChunks.
type Chunker struct {
	chunkSize int // target chunk length in characters
	overlap   int // sliding-window overlap in characters
}

// NewChunker creates a chunker with the given size targets.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1536
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// ChunkCode splits content into chunks. With semantic nodes present each
// important node becomes one chunk (or several, split at blank-line
// boundaries when oversized). Without nodes, or when semantic chunking
// yields nothing, a sliding line window is used.
func (c *Chunker) ChunkCode(content, relPath, language string, nodes []parse.Node) []CodeChunk {
	if content == "" {
		return nil
	}

	if len(nodes) > 0 {
		chunks := c.semanticChunks(content, relPath, language, nodes)
		if len(chunks) > 0 {
			return chunks
		}
	}
	return c.slidingWindow(content, relPath, language, 0)
}

func (c *Chunker) semanticChunks(content, relPath, language string, nodes []parse.Node) []CodeChunk {
	lines := strings.Split(content, "\n")
	last := len(lines) - 1

	var chunks []CodeChunk
	for i := range nodes {
		node := &nodes[i]
		if node.StartLine > last || node.EndLine > last || node.StartLine > node.EndLine {
			continue
		}

		start := node.StartLine - contextPadding
		if start < 0 {
			start = 0
		}
		end := node.EndLine + contextPadding
		if end > last {
			end = last
		}

		text := strings.Join(lines[start:end+1], "\n")
		if len(text) <= 2*c.chunkSize {
			chunks = append(chunks, c.nodeChunk(text, relPath, language, node, start, end))
			continue
		}
		chunks = append(chunks, c.splitAtBoundaries(lines, relPath, language, node, start, end)...)
	}
	return chunks
}

// nodeChunk builds one chunk carrying the full node metadata.
func (c *Chunker) nodeChunk(text, relPath, language string, node *parse.Node, start, end int) CodeChunk {
	return CodeChunk{
		Content:     text,
		FilePath:    relPath,
		StartLine:   start,
		EndLine:     end,
		Language:    language,
		ChunkType:   node.Type,
		NodeName:    node.Name,
		Signature:   node.Signature,
		Parameters:  node.Parameters,
		ReturnType:  node.ReturnType,
		Docstring:   node.Docstring,
		Decorators:  node.Decorators,
		ParentScope: node.ParentScope,
		FullPath:    node.FullPath,
		ScopeDepth:  node.ScopeDepth,
		Calls:       node.Calls,
	}
}

// splitAtBoundaries cuts an oversized node span at runs of consecutive
// blank lines, keeping every piece except the last at or above the target
// chunk size and preserving line numbers. The split pieces inherit the node's identity
// fields but not its docstring or call list.
func (c *Chunker) splitAtBoundaries(lines []string, relPath, language string, node *parse.Node, start, end int) []CodeChunk {
	var chunks []CodeChunk

	pieceStart := start
	pieceLen := 0
	emit := func(pieceEnd int) {
		if pieceEnd < pieceStart {
			return
		}
		text := strings.Join(lines[pieceStart:pieceEnd+1], "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		piece := CodeChunk{
			Content:     text,
			FilePath:    relPath,
			StartLine:   pieceStart,
			EndLine:     pieceEnd,
			Language:    language,
			ChunkType:   node.Type,
			NodeName:    node.Name,
			Signature:   node.Signature,
			ParentScope: node.ParentScope,
			FullPath:    node.FullPath,
			ScopeDepth:  node.ScopeDepth,
		}
		chunks = append(chunks, piece)
	}

	for i := start; i <= end; i++ {
		pieceLen += len(lines[i]) + 1

		atBoundary := i > start &&
			strings.TrimSpace(lines[i]) == "" &&
			strings.TrimSpace(lines[i-1]) == ""

		if atBoundary && pieceLen >= c.chunkSize {
			emit(i)
			pieceStart = i + 1
			pieceLen = 0
		}
	}
	if pieceStart <= end {
		emit(end)
	}
	return chunks
}

// slidingWindow is the fallback for files without semantic nodes. Window
// and stride are derived from the file's average line length.
func (c *Chunker) slidingWindow(content, relPath, language string, lineOffset int) []CodeChunk {
	lines := strings.Split(content, "\n")
	total := len(lines)
	if total == 0 {
		return nil
	}

	var totalLen int
	for _, line := range lines {
		totalLen += len(line)
	}
	avgLineLen := float64(totalLen) / float64(total)
	if avgLineLen < 1 {
		avgLineLen = 1
	}

	linesPerChunk := int(float64(c.chunkSize) / avgLineLen)
	if linesPerChunk < 1 {
		linesPerChunk = 1
	}
	overlapLines := int(float64(c.overlap) / avgLineLen)
	if overlapLines < 0 {
		overlapLines = 0
	}

	var chunks []CodeChunk
	prevStart := -1
	for i := 0; i < total; {
		// Guard against a non-advancing window.
		if i <= prevStart {
			break
		}
		prevStart = i

		end := i + linesPerChunk
		if end > total {
			end = total
		}
		text := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, CodeChunk{
				Content:   text,
				FilePath:  relPath,
				StartLine: i + lineOffset,
				EndLine:   end - 1 + lineOffset,
				Language:  language,
				ChunkType: "code",
			})
		}

		i += linesPerChunk - overlapLines
	}
	return chunks
}
