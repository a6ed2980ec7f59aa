package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoolsx/codebox/internal/parse"
)

func TestSemanticChunkCarriesMetadata(t *testing.T) {
	content := "def foo():\n    return 1\n"
	nodes := []parse.Node{{
		Type:       "function_definition",
		Name:       "foo",
		StartLine:  0,
		EndLine:    1,
		Signature:  "def foo()",
		Docstring:  "does foo things",
		FullPath:   "foo",
		ScopeDepth: 0,
	}}

	chunks := NewChunker(1536, 200).ChunkCode(content, "a.py", "python", nodes)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "function_definition", c.ChunkType)
	assert.Equal(t, "foo", c.NodeName)
	assert.Equal(t, "def foo()", c.Signature)
	assert.Equal(t, "does foo things", c.Docstring)
	assert.Equal(t, "a.py", c.FilePath)
	assert.Equal(t, "python", c.Language)
	assert.Equal(t, "a.py:0", c.ID())
	assert.Contains(t, c.Content, "def foo()")
}

func TestSemanticChunkContextPadding(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	content := strings.Join(lines, "\n")

	nodes := []parse.Node{{Type: "function_definition", Name: "f", StartLine: 10, EndLine: 12}}
	chunks := NewChunker(1536, 200).ChunkCode(content, "f.py", "python", nodes)
	require.Len(t, chunks, 1)

	assert.Equal(t, 7, chunks[0].StartLine)
	assert.Equal(t, 15, chunks[0].EndLine)
	assert.Contains(t, chunks[0].Content, "line 7")
	assert.Contains(t, chunks[0].Content, "line 15")
}

func TestChunkBoundsInvariant(t *testing.T) {
	content := strings.Repeat("some line of source text\n", 50)
	lineCount := len(strings.Split(content, "\n"))

	nodes := []parse.Node{
		{Type: "function_definition", Name: "a", StartLine: 0, EndLine: 5},
		{Type: "function_definition", Name: "b", StartLine: 40, EndLine: 49},
	}

	for _, chunks := range [][]CodeChunk{
		NewChunker(100, 20).ChunkCode(content, "x.py", "python", nodes),
		NewChunker(100, 20).ChunkCode(content, "x.py", "python", nil),
	} {
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.GreaterOrEqual(t, c.StartLine, 0)
			assert.LessOrEqual(t, c.StartLine, c.EndLine)
			assert.Less(t, c.EndLine, lineCount)
		}
	}
}

func TestOversizedNodeSplitsAtBlankLines(t *testing.T) {
	// Build a node body far over 2x the chunk size with double-blank-line
	// boundaries between sections.
	var sb strings.Builder
	for section := 0; section < 6; section++ {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&sb, "    statement_%d_%d = compute(%d)\n", section, i, i)
		}
		sb.WriteString("\n\n")
	}
	content := sb.String()
	lineCount := len(strings.Split(content, "\n"))

	nodes := []parse.Node{{
		Type:       "function_definition",
		Name:       "big",
		StartLine:  0,
		EndLine:    lineCount - 2,
		Signature:  "def big()",
		FullPath:   "big",
		ScopeDepth: 0,
	}}

	chunker := NewChunker(200, 50)
	chunks := chunker.ChunkCode(content, "big.py", "python", nodes)
	require.Greater(t, len(chunks), 1, "oversized node must split")

	for i, c := range chunks {
		assert.Equal(t, "function_definition", c.ChunkType)
		assert.Equal(t, "big", c.NodeName)
		assert.Equal(t, "def big()", c.Signature)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		if i > 0 {
			assert.Greater(t, c.StartLine, chunks[i-1].StartLine, "line numbers preserved in order")
		}
	}
}

func TestSlidingWindowFallback(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("const value%02d = %d;", i, i))
	}
	content := strings.Join(lines, "\n")

	chunks := NewChunker(200, 40).ChunkCode(content, "data.js", "javascript", nil)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.Equal(t, "code", c.ChunkType)
		assert.Empty(t, c.NodeName)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
	}

	// Consecutive windows overlap or at least advance.
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine)
	}
}

func TestSlidingWindowNonProgressGuard(t *testing.T) {
	content := strings.Repeat("x\n", 10)

	// Overlap equal to the chunk size would make the stride non-positive;
	// the guard must stop the walk instead of looping.
	chunks := NewChunker(2, 2).ChunkCode(content, "x.txt", "text", nil)
	assert.NotEmpty(t, chunks)
	assert.Less(t, len(chunks), 100)
}

func TestEmptyContent(t *testing.T) {
	assert.Empty(t, NewChunker(100, 10).ChunkCode("", "e.py", "python", nil))
}

func TestNodeBeyondFileIsIgnored(t *testing.T) {
	content := "line one\nline two\n"
	nodes := []parse.Node{{Type: "function_definition", Name: "ghost", StartLine: 10, EndLine: 20}}

	// The out-of-range node contributes nothing; fallback takes over.
	chunks := NewChunker(100, 10).ChunkCode(content, "s.py", "python", nodes)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "code", chunks[0].ChunkType)
}
