package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoolsx/codebox/internal/chunk"
)

const testDims = 8

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	st, err := Open(dir, testDims, "test/model")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func unitVec(seed int) []float32 {
	v := make([]float32, testDims)
	v[seed%testDims] = 1
	return v
}

func testChunk(file string, startLine int, content string) chunk.CodeChunk {
	return chunk.CodeChunk{
		Content:   content,
		FilePath:  file,
		StartLine: startLine,
		EndLine:   startLine + 1,
		Language:  "python",
		ChunkType: "function_definition",
		NodeName:  "fn",
	}
}

func TestAddAndKeywordSearch(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	chunks := []chunk.CodeChunk{
		testChunk("a.py", 0, "def alpha_handler(): return database_connection()"),
		testChunk("b.py", 0, "def beta_worker(): return queue_consumer()"),
	}
	require.NoError(t, st.AddChunks(chunks, [][]float32{unitVec(0), unitVec(1)}, true))

	rows, err := st.KeywordSearch("alpha_handler", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "a.py", rows[0].FilePath)
	assert.Equal(t, "a.py:0", rows[0].ID)
	assert.Greater(t, rows[0].Score, 0.0)
}

func TestDimensionMismatchIsHardError(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	bad := make([]float32, testDims+1)
	err := st.AddChunks([]chunk.CodeChunk{testChunk("a.py", 0, "x")}, [][]float32{bad}, true)
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, testDims, dimErr.Expected)

	// Nothing was written.
	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)
}

func TestLengthMismatchIsHardError(t *testing.T) {
	st := openTestStore(t, t.TempDir())
	err := st.AddChunks([]chunk.CodeChunk{testChunk("a.py", 0, "x")}, nil, true)
	assert.Error(t, err)
}

func TestDeferredFTSVisibleAfterFinalFlush(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	first := []chunk.CodeChunk{testChunk("a.py", 0, "def deferred_target(): pass")}
	require.NoError(t, st.AddChunks(first, [][]float32{unitVec(0)}, false))

	// Deferred: the batch is not yet search-visible in FTS.
	rows, err := st.KeywordSearch("deferred_target", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	second := []chunk.CodeChunk{testChunk("b.py", 0, "def final_batch(): pass")}
	require.NoError(t, st.AddChunks(second, [][]float32{unitVec(1)}, true))

	// The final commit flushes everything.
	rows, err = st.KeywordSearch("deferred_target", 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a.py", rows[0].FilePath)
}

func TestDeleteByFileReplaceSemantics(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	oldChunks := []chunk.CodeChunk{
		testChunk("a.py", 0, "def foo(): return 1"),
		testChunk("a.py", 5, "def foo_helper(): return 2"),
	}
	require.NoError(t, st.AddChunks(oldChunks, [][]float32{unitVec(0), unitVec(1)}, true))

	require.NoError(t, st.DeleteByFile("a.py"))

	newChunks := []chunk.CodeChunk{testChunk("a.py", 0, "def bar(): return 3")}
	require.NoError(t, st.AddChunks(newChunks, [][]float32{unitVec(2)}, true))

	// The prior revision is fully gone from FTS ...
	rows, err := st.KeywordSearch("foo", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = st.KeywordSearch("bar", 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// ... from the row table ...
	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunks)

	// ... and from the vector index.
	hits, err := st.VectorSearch(unitVec(0), 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "a.py:0", h.ID)
	}
}

func TestVectorSearchOrdersByDistance(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	chunks := []chunk.CodeChunk{
		testChunk("near.py", 0, "near"),
		testChunk("far.py", 0, "far"),
	}
	near := []float32{1, 0.1, 0, 0, 0, 0, 0, 0}
	far := []float32{0, 0, 0, 0, 0, 0, 0.1, 1}
	require.NoError(t, st.AddChunks(chunks, [][]float32{near, far}, true))

	rows, err := st.VectorSearch(unitVec(0), 2, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "near.py", rows[0].FilePath)
	assert.Less(t, rows[0].Distance, rows[1].Distance)
	assert.GreaterOrEqual(t, rows[0].Distance, float32(0))
	assert.LessOrEqual(t, rows[1].Distance, float32(2))
}

func TestFilterSoundness(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	py := testChunk("a.py", 0, "def shared_name(): pass")
	goChunk := testChunk("b.go", 0, "func shared_name() {}")
	goChunk.Language = "go"
	require.NoError(t, st.AddChunks([]chunk.CodeChunk{py, goChunk}, [][]float32{unitVec(0), unitVec(0)}, true))

	for _, mode := range []string{"vector", "keyword"} {
		var rows []Row
		var err error
		if mode == "vector" {
			rows, err = st.VectorSearch(unitVec(0), 10, Filters{"language": "go"})
		} else {
			rows, err = st.KeywordSearch("shared_name", 10, Filters{"language": "go"})
		}
		require.NoError(t, err, mode)
		require.NotEmpty(t, rows, mode)
		for _, r := range rows {
			assert.Equal(t, "go", r.Language, mode)
		}
	}
}

func TestFilterInjectionIsInert(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	require.NoError(t, st.AddChunks(
		[]chunk.CodeChunk{testChunk("a.py", 0, "def safe(): pass")},
		[][]float32{unitVec(0)}, true))

	// A value carrying quote and predicate syntax matches nothing and
	// breaks nothing.
	rows, err := st.KeywordSearch("safe", 10, Filters{"language": `python' OR '1'='1`})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = st.VectorSearch(unitVec(0), 10, Filters{"language": `"; DROP TABLE code_chunks; --`})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Table intact.
	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunks)
}

func TestUnknownFilterKeyRejected(t *testing.T) {
	st := openTestStore(t, t.TempDir())
	_, err := st.KeywordSearch("x", 10, Filters{"vector": "boom"})
	assert.Error(t, err)
}

func TestBreakdownsAndStats(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	a := testChunk("a.py", 0, "python one")
	b := testChunk("b.py", 0, "python two")
	c := testChunk("c.go", 0, "go one")
	c.Language = "go"
	c.ChunkType = "code"
	require.NoError(t, st.AddChunks([]chunk.CodeChunk{a, b, c},
		[][]float32{unitVec(0), unitVec(1), unitVec(2)}, true))

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, TableName, stats.TableName)

	langs, err := st.LanguageBreakdown()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"python": 2, "go": 1}, langs)

	types, err := st.ChunkTypeBreakdown()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"function_definition": 2, "code": 1}, types)

	assert.Greater(t, st.SizeMB(), 0.0)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir, testDims, "test/model")
	require.NoError(t, err)
	require.NoError(t, st.AddChunks(
		[]chunk.CodeChunk{testChunk("a.py", 0, "def persistent(): pass")},
		[][]float32{unitVec(0)}, true))
	require.NoError(t, st.Close())

	st2 := openTestStore(t, dir)
	rows, err := st2.KeywordSearch("persistent", 10, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	hits, err := st2.VectorSearch(unitVec(0), 1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDimensionChangeRecreatesStore(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir, testDims, "test/model")
	require.NoError(t, err)
	require.NoError(t, st.AddChunks(
		[]chunk.CodeChunk{testChunk("a.py", 0, "def old_dim(): pass")},
		[][]float32{unitVec(0)}, true))
	require.NoError(t, st.Close())

	st2, err := Open(dir, testDims*2, "test/other")
	require.NoError(t, err)
	defer st2.Close()

	stats, err := st2.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)

	rows, err := st2.KeywordSearch("old_dim", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	st := openTestStore(t, t.TempDir())

	require.NoError(t, st.AddChunks(
		[]chunk.CodeChunk{testChunk("seed.py", 0, "def seed(): pass")},
		[][]float32{unitVec(0)}, true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			c := testChunk(fmt.Sprintf("w%d.py", i), 0, fmt.Sprintf("def writer_%d(): pass", i))
			_ = st.AddChunks([]chunk.CodeChunk{c}, [][]float32{unitVec(i)}, true)
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := st.KeywordSearch("seed", 5, nil)
		assert.NoError(t, err)
		_, err = st.VectorSearch(unitVec(0), 5, nil)
		assert.NoError(t, err)
	}
	<-done
}
