// Package scanner enumerates the indexable files of a project tree.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options configures a scan.
type Options struct {
	// ExtensionBlacklist is matched case-insensitively against file suffixes.
	ExtensionBlacklist []string

	// PathBlacklist segments exclude any path containing them.
	PathBlacklist []string

	// SupportedExtensions is the allow-list derived from the parser
	// adapter; only files with these suffixes are kept.
	SupportedExtensions []string
}

// Scanner walks project trees applying the exclusion policy.
type Scanner struct {
	extBlacklist  map[string]bool
	pathBlacklist []string
	supported     map[string]bool
}

// New creates a scanner for the given options.
func New(opts Options) *Scanner {
	s := &Scanner{
		extBlacklist:  make(map[string]bool, len(opts.ExtensionBlacklist)),
		pathBlacklist: append([]string(nil), opts.PathBlacklist...),
		supported:     make(map[string]bool, len(opts.SupportedExtensions)),
	}
	for _, ext := range opts.ExtensionBlacklist {
		s.extBlacklist[strings.ToLower(ext)] = true
	}
	for _, ext := range opts.SupportedExtensions {
		s.supported[strings.ToLower(ext)] = true
	}
	return s
}

// FindFiles returns the relative (forward-slash) paths of all indexable
// regular files under root, sorted for stable progress counting. Unreadable
// subtrees are skipped, not fatal.
func (s *Scanner) FindFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if isHidden(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.isPathBlacklisted(path) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !s.Accepts(rel) {
			return nil
		}

		// Skip non-regular files (sockets, pipes, dangling symlinks).
		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Accepts applies the allow/deny rules to a single relative path. The
// auto-sync worker uses the same predicate for incoming file events.
func (s *Scanner) Accepts(rel string) bool {
	if rel == "" {
		return false
	}

	for _, part := range strings.Split(rel, "/") {
		if isHidden(part) {
			return false
		}
	}
	if s.isPathBlacklisted(rel) {
		return false
	}

	ext := strings.ToLower(filepath.Ext(rel))
	if s.extBlacklist[ext] {
		return false
	}
	return s.supported[ext]
}

func (s *Scanner) isPathBlacklisted(path string) bool {
	norm := filepath.ToSlash(path)
	for _, segment := range s.pathBlacklist {
		if segment != "" && strings.Contains(norm, segment) {
			return true
		}
	}
	return false
}

// isHidden reports dotfile/hidden-dir names: a leading dot and length > 1.
func isHidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}
