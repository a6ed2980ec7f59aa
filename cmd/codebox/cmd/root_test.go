package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRegistersSubcommands(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := NewRootCmd()

	want := []string{"index", "search", "stats", "projects", "watch"}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, names[name], "missing subcommand %q", name)
	}
}

func TestRootCmdHelp(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := NewRootCmd()
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 100))
	long := "word " + "lengthy content that keeps going and going beyond the limit for sure"
	got := preview(long, 30)
	assert.LessOrEqual(t, len(got), 34)
	assert.Contains(t, got, "…")
	assert.Equal(t, "unbounded", preview("unbounded", 0))
}
