package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		ExtensionBlacklist:  []string{".log", ".zip"},
		PathBlacklist:       []string{"node_modules", "vendor"},
		SupportedExtensions: []string{".go", ".py", ".js"},
	}
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content\n"), 0o644))
}

func TestFindFilesAppliesPolicy(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "main.go")
	writeFile(t, root, "lib/util.py")
	writeFile(t, root, "web/app.js")
	writeFile(t, root, "readme.txt")             // unsupported extension
	writeFile(t, root, "x.bin")                  // unsupported extension
	writeFile(t, root, "debug.log")              // blacklisted extension
	writeFile(t, root, "node_modules/dep.js")    // blacklisted path segment
	writeFile(t, root, "pkg/vendor/v.go")        // blacklisted path segment, nested
	writeFile(t, root, ".hidden/secret.go")      // hidden dir
	writeFile(t, root, "src/.cache.py")          // hidden file
	writeFile(t, root, "deep/nested/ok.go")

	files, err := New(testOptions()).FindFiles(root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"deep/nested/ok.go",
		"lib/util.py",
		"main.go",
		"web/app.js",
	}, files)
}

func TestFindFilesSortedAndStable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go")
	writeFile(t, root, "a.go")
	writeFile(t, root, "c/d.go")

	sc := New(testOptions())
	first, err := sc.FindFiles(root)
	require.NoError(t, err)
	second, err := sc.FindFiles(root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a.go", "b.go", "c/d.go"}, first)
}

func TestExtensionBlacklistCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "trace.LOG")

	sc := New(Options{
		ExtensionBlacklist:  []string{".log"},
		SupportedExtensions: []string{".log"},
	})
	files, err := sc.FindFiles(root)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAccepts(t *testing.T) {
	sc := New(testOptions())

	tests := []struct {
		rel  string
		want bool
	}{
		{"main.go", true},
		{"a/b/c.py", true},
		{"a/node_modules/x.go", false},
		{"debug.log", false},
		{"readme.txt", false},
		{".git/config.go", false},
		{"src/.hidden.go", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sc.Accepts(tt.rel), "path %q", tt.rel)
	}
}

func TestFindFilesSkipsNonRegular(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.go")
	// A dangling symlink must not be returned.
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.go"), filepath.Join(root, "link.go")))

	files, err := New(testOptions()).FindFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.go"}, files)
}
