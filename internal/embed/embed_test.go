package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoolsx/codebox/internal/config"
)

const epsilon = 1e-5

func testModel() config.ModelInfo {
	return config.ModelInfo{FullName: "test/model", Dim: 64}
}

func rowNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestDegradedModeShapeAndNorms(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), nil)
	texts := []string{
		"func main() { fmt.Println() }",
		"def handle_request(req): pass",
		"",
		"a completely different sentence about databases",
	}

	vectors, err := gen.Embed(context.Background(), texts, TaskPassage)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, v := range vectors {
		assert.Len(t, v, 64, "row %d", i)
		assert.InDelta(t, 1.0, rowNorm(v), epsilon, "row %d norm", i)
	}
	assert.True(t, gen.Degraded())
}

func TestDeterministicVectorsAreStable(t *testing.T) {
	d := NewDeterministic(32, "seed")

	a, err := d.EmbedBatch(context.Background(), []string{"getUserId implementation"}, TaskPassage)
	require.NoError(t, err)
	b, err := d.EmbedBatch(context.Background(), []string{"getUserId implementation"}, TaskPassage)
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])

	// A different seed produces a different space.
	other := NewDeterministic(32, "other-seed")
	c, err := other.EmbedBatch(context.Background(), []string{"getUserId implementation"}, TaskPassage)
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}

func TestSimilarTextsScoreCloser(t *testing.T) {
	d := NewDeterministic(256, "seed")
	vecs, err := d.EmbedBatch(context.Background(), []string{
		"func getUserId(ctx context.Context) string",
		"func getUserId(ctx context.Context) (string, error)",
		"completely unrelated prose about gardening tulips",
	}, TaskPassage)
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	}

	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestEmptyBatch(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), nil)
	vectors, err := gen.Embed(context.Background(), nil, TaskPassage)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

// failingBackend fails every call after claiming availability.
type failingBackend struct{}

func (f *failingBackend) EmbedBatch(context.Context, []string, Task) ([][]float32, error) {
	return nil, errors.New("backend exploded")
}
func (f *failingBackend) Available(context.Context) bool { return true }
func (f *failingBackend) Close() error                   { return nil }

func TestBatchFailureFallsBack(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), &failingBackend{})
	vectors, err := gen.Embed(context.Background(), []string{"one", "two"}, TaskPassage)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Len(t, v, 64)
		assert.InDelta(t, 1.0, rowNorm(v), epsilon)
	}
}

// wrongShapeBackend returns vectors of the wrong dimension.
type wrongShapeBackend struct{}

func (w *wrongShapeBackend) EmbedBatch(_ context.Context, texts []string, _ Task) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 3)
	}
	return out, nil
}
func (w *wrongShapeBackend) Available(context.Context) bool { return true }
func (w *wrongShapeBackend) Close() error                   { return nil }

func TestWrongShapeFallsBack(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), &wrongShapeBackend{})
	vectors, err := gen.Embed(context.Background(), []string{"text"}, TaskPassage)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Len(t, vectors[0], 64)
}

func TestQueryCacheRoundtrip(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), nil)
	first, err := gen.Embed(context.Background(), []string{"cached query"}, TaskQuery)
	require.NoError(t, err)
	second, err := gen.Embed(context.Background(), []string{"cached query"}, TaskQuery)
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0])

	// A fresh generator for the same model reads the disk cache.
	gen2 := NewGenerator("test", testModel(), nil)
	third, err := gen2.Embed(context.Background(), []string{"cached query"}, TaskQuery)
	require.NoError(t, err)
	assert.Equal(t, first[0], third[0])
}

func TestOrderPreserved(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	gen := NewGenerator("test", testModel(), nil)
	texts := []string{"alpha", "beta", "gamma"}

	batch, err := gen.Embed(context.Background(), texts, TaskPassage)
	require.NoError(t, err)

	for i, text := range texts {
		single, err := gen.Embed(context.Background(), []string{text}, TaskPassage)
		require.NoError(t, err)
		assert.Equal(t, single[0], batch[i], "row %d out of order", i)
	}
}
