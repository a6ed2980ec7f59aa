package parse

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// DetectGrammar maps a filename to the grammar key for its language using
// the chroma lexer registry. Returns ("", false) when the file's lexer does
// not correspond to a shipped grammar.
func DetectGrammar(path string) (string, bool) {
	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		return "", false
	}
	key, ok := lexerToGrammar[lexer.Config().Name]
	if !ok {
		return "", false
	}
	return key, true
}

// DetectLanguage returns the normalized language tag for a filename.
func DetectLanguage(path string) (string, bool) {
	key, ok := DetectGrammar(path)
	if !ok {
		return "", false
	}
	return languages[key].Tag, true
}

// AllSupportedExtensions returns the lowercase file extensions handled by
// the adapter: the chroma filename globs of every mapped lexer, intersected
// with the grammars actually shipped. Simple "*.ext" globs only.
func AllSupportedExtensions() []string {
	seen := make(map[string]bool)

	for _, lexer := range lexers.GlobalLexerRegistry.Lexers {
		cfg := lexer.Config()
		if _, ok := lexerToGrammar[cfg.Name]; !ok {
			continue
		}
		for _, glob := range cfg.Filenames {
			if !strings.HasPrefix(glob, "*.") {
				continue
			}
			ext := strings.ToLower(glob[1:])
			if strings.ContainsAny(ext, "*?[") {
				continue
			}
			seen[ext] = true
		}
	}

	exts := make([]string, 0, len(seen))
	for ext := range seen {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
