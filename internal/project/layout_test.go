package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPathStable(t *testing.T) {
	h1 := HashPath("/home/user/project")
	h2 := HashPath("/home/user/project")
	h3 := HashPath("/home/user/other")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", h1)
}

func TestResolveLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CODEBOX_HOME", home)
	projectDir := t.TempDir()

	layout, err := Resolve(projectDir)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(layout.Root))
	assert.Equal(t, filepath.Join(home, "projects", layout.Hash), layout.Dir())
	assert.Equal(t, filepath.Join(layout.Dir(), DataDirName), layout.DataDir())
	assert.Equal(t, filepath.Join(layout.Dir(), MetadataFileName), layout.MetadataPath())
}

func TestMetadataRoundtrip(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	layout, err := Resolve(t.TempDir())
	require.NoError(t, err)

	// Absent metadata is an empty record, not an error.
	assert.Equal(t, Metadata{}, layout.LoadMetadata())

	indexed := "2025-06-01T12:00:00Z"
	meta := Metadata{
		Path:           layout.Root,
		Name:           "myproject",
		IndexedAt:      &indexed,
		EmbeddingModel: "Salesforce/SFR-Embedding-Code-2B_R",
		EmbeddingDim:   768,
		TotalFiles:     3,
		TotalChunks:    42,
	}
	require.NoError(t, layout.SaveMetadata(meta))

	got := layout.LoadMetadata()
	assert.Equal(t, meta, got)

	// No temp files left behind by the atomic write.
	entries, err := os.ReadDir(layout.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestCorruptMetadataIsIsolated(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	good, err := Resolve(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, good.SaveMetadata(Metadata{Path: good.Root, Name: "good"}))

	bad, err := Resolve(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(bad.Dir(), 0o755))
	require.NoError(t, os.WriteFile(bad.MetadataPath(), []byte("{not json"), 0o644))

	// The corrupt project loads as empty and does not affect the other.
	assert.Equal(t, Metadata{}, bad.LoadMetadata())
	assert.Equal(t, "good", good.LoadMetadata().Name)

	projects := ListProjects()
	assert.Contains(t, projects, good.Hash)
	assert.NotContains(t, projects, bad.Hash)
}

func TestEnsureDirsAndRemove(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())

	layout, err := Resolve(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, layout.EnsureDirs())
	info, err := os.Stat(layout.DataDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, layout.Remove())
	_, err = os.Stat(layout.Dir())
	assert.True(t, os.IsNotExist(err))
}
