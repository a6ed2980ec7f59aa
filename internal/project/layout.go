// Package project manages the stable per-project on-disk layout.
//
// Each indexed project lives under <home>/projects/<hash>/ where <hash> is
// the first 16 hex characters of sha256 over the absolute project path. The
// directory holds the columnar store (.lancedb/) and a metadata.json written
// atomically. Corruption of one project's state never affects another.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/retoolsx/codebox/internal/config"
)

// DataDirName is the store directory name inside a project dir. The name is
// kept for on-disk compatibility with earlier releases.
const DataDirName = ".lancedb"

// MetadataFileName is the per-project metadata file.
const MetadataFileName = "metadata.json"

// Metadata describes an indexed project.
type Metadata struct {
	Path           string  `json:"path"`
	Name           string  `json:"name"`
	IndexedAt      *string `json:"indexed_at"` // RFC 3339, nil before first index
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	EmbeddingDim   int     `json:"embedding_dim,omitempty"`
	TotalFiles     int     `json:"total_files,omitempty"`
	TotalChunks    int     `json:"total_chunks,omitempty"`
}

// Layout resolves the on-disk locations for one project.
type Layout struct {
	Root string // absolute project path
	Hash string // 16 hex chars
	home string
}

// Resolve builds the layout for a project path; it is resolved to an
// absolute path (symlinks evaluated when the path exists) before hashing.
// It does not check that the path exists or is a directory.
func Resolve(projectPath string) (*Layout, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Layout{Root: abs, Hash: HashPath(abs), home: config.Home()}, nil
}

// HashPath derives the stable 16-hex project identifier.
func HashPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Dir returns the per-project directory (not created).
func (l *Layout) Dir() string {
	return filepath.Join(l.home, "projects", l.Hash)
}

// DataDir returns the columnar store directory (not created).
func (l *Layout) DataDir() string {
	return filepath.Join(l.Dir(), DataDirName)
}

// MetadataPath returns the metadata.json path.
func (l *Layout) MetadataPath() string {
	return filepath.Join(l.Dir(), MetadataFileName)
}

// EnsureDirs lazily creates the project and store directories.
func (l *Layout) EnsureDirs() error {
	if err := os.MkdirAll(l.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create project dirs: %w", err)
	}
	return nil
}

// Remove deletes the entire project directory. Used by the indexer's
// full-reset step.
func (l *Layout) Remove() error {
	return os.RemoveAll(l.Dir())
}

// LoadMetadata reads metadata.json. Absent or corrupt files yield a zero
// Metadata and no error; other projects must stay operable regardless.
func (l *Layout) LoadMetadata() Metadata {
	return loadMetadataFile(l.MetadataPath())
}

// SaveMetadata writes metadata.json atomically (write temp, then rename).
func (l *Layout) SaveMetadata(meta Metadata) error {
	if err := os.MkdirAll(l.Dir(), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(l.Dir(), "metadata-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Rename(tmpName, l.MetadataPath()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// ListProjects scans the projects directory and returns hash → metadata for
// every project with readable metadata. Unreadable entries are skipped.
func ListProjects() map[string]Metadata {
	projects := make(map[string]Metadata)

	root := config.ProjectsDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return projects
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta := loadMetadataFile(filepath.Join(root, entry.Name(), MetadataFileName))
		if meta.Path == "" {
			continue
		}
		projects[entry.Name()] = meta
	}
	return projects
}

func loadMetadataFile(path string) Metadata {
	var meta Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}
	}
	return meta
}
