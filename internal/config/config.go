// Package config holds the profile-driven engine configuration.
//
// A Config is an immutable value resolved once (defaults, then the optional
// YAML file under the engine home, then an explicit profile) and passed into
// the indexer, retriever, and auto-sync worker. There is no process-wide
// mutable configuration state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile names.
const (
	ProfileAuto   = "auto"
	ProfileMedium = "medium"
	ProfileLarge  = "large"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "sfr-embedding-code-2b"

// ConfigFileName is the YAML file looked up under the engine home.
const ConfigFileName = "config.yaml"

// ModelInfo describes one entry of the supported-model catalog.
type ModelInfo struct {
	FullName    string `yaml:"full_name"`
	Dim         int    `yaml:"dim"`
	Description string `yaml:"description"`
}

// Config is the complete engine configuration.
type Config struct {
	// Chunking
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Indexing
	MaxFileSize        int64 `yaml:"max_file_size"`
	EmbeddingBatchSize int   `yaml:"embedding_batch_size"`

	// Search
	SearchLimit   int `yaml:"search_limit"`
	RRFK          int `yaml:"rrf_k"`
	PreviewLength int `yaml:"preview_length"`

	// Embedding
	EmbeddingModel  string               `yaml:"embedding_model"`
	SupportedModels map[string]ModelInfo `yaml:"supported_models"`

	// Cross-encoder re-ranking
	RerankEnabled bool   `yaml:"rerank_enabled"`
	RerankTopK    int    `yaml:"rerank_top_k"`
	RerankModel   string `yaml:"rerank_model"`

	// Auto-sync
	DebounceSeconds float64 `yaml:"debounce_seconds"`
	SyncBatchSize   int     `yaml:"sync_batch_size"`

	// Walker exclusions
	ExtensionBlacklist []string `yaml:"extension_blacklist"`
	PathBlacklist      []string `yaml:"path_blacklist"`

	// Profile selection: auto, medium, large.
	Profile        string `yaml:"profile"`
	MediumMaxFiles int    `yaml:"medium_max_files"`
}

// DefaultExtensionBlacklist lists suffixes that are never indexed.
var DefaultExtensionBlacklist = []string{
	".zip", ".tar", ".gz", ".rar", ".7z",
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".webp",
	".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv",
	".mp3", ".wav", ".flac", ".aac", ".ogg",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".exe", ".dll", ".so", ".dylib", ".bin",
	".lock", ".log", ".tmp", ".cache", ".swp",
}

// DefaultPathBlacklist lists path segments that are never indexed.
var DefaultPathBlacklist = []string{
	"node_modules",
	"__pycache__",
	"venv",
	"env",
	"dist",
	"build",
	"migrations",
	"test_data",
	"vendor",
	"coverage",
	"htmlcov",
}

// DefaultSupportedModels returns the built-in embedding model catalog.
func DefaultSupportedModels() map[string]ModelInfo {
	return map[string]ModelInfo{
		"sfr-embedding-code-2b": {
			FullName:    "Salesforce/SFR-Embedding-Code-2B_R",
			Dim:         768,
			Description: "Code retrieval, 2B parameters",
		},
		"jina-embeddings-v3": {
			FullName:    "jinaai/jina-embeddings-v3",
			Dim:         1024,
			Description: "General-purpose multilingual",
		},
		"jina-code-embeddings-1.5b": {
			FullName:    "jinaai/jina-code-embeddings-1.5b",
			Dim:         1536,
			Description: "Code-specific, 15+ languages",
		},
		"sfr-embedding-code": {
			FullName:    "Salesforce/SFR-Embedding-Code_R",
			Dim:         768,
			Description: "Code retrieval, base size",
		},
		"all-MiniLM-L6-v2": {
			FullName:    "sentence-transformers/all-MiniLM-L6-v2",
			Dim:         384,
			Description: "Fast and lightweight",
		},
		"all-mpnet-base-v2": {
			FullName:    "sentence-transformers/all-mpnet-base-v2",
			Dim:         768,
			Description: "Better quality, slower",
		},
		"bge-small-en-v1.5": {
			FullName:    "BAAI/bge-small-en-v1.5",
			Dim:         384,
			Description: "Modern general-purpose",
		},
	}
}

// Default returns the default configuration: profile auto, with the values
// the medium profile keeps unchanged.
func Default() Config {
	return Config{
		ChunkSize:          1536,
		ChunkOverlap:       200,
		MaxFileSize:        5 * 1024 * 1024,
		EmbeddingBatchSize: 100,
		SearchLimit:        100,
		RRFK:               60,
		PreviewLength:      800,
		EmbeddingModel:     DefaultModel,
		SupportedModels:    DefaultSupportedModels(),
		RerankEnabled:      true,
		RerankTopK:         20,
		RerankModel:        "cross-encoder/ms-marco-MiniLM-L-6-v2",
		DebounceSeconds:    2.0,
		SyncBatchSize:      10,
		ExtensionBlacklist: append([]string(nil), DefaultExtensionBlacklist...),
		PathBlacklist:      append([]string(nil), DefaultPathBlacklist...),
		Profile:            ProfileAuto,
		MediumMaxFiles:     2000,
	}
}

// Home returns the engine home directory.
// CODEBOX_HOME overrides the default ~/.codebox.
func Home() string {
	if h := os.Getenv("CODEBOX_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codebox"
	}
	return filepath.Join(home, ".codebox")
}

// ProjectsDir returns the directory holding per-project state.
func ProjectsDir() string {
	return filepath.Join(Home(), "projects")
}

// Load reads the config file under the engine home, merged over defaults.
// A missing file yields the defaults; a malformed file is an error.
func Load() (Config, error) {
	return LoadFile(filepath.Join(Home(), ConfigFileName))
}

// LoadFile reads a specific YAML config file merged over defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	// A user file that sets some keys must not null out the catalog or
	// the blacklists.
	if len(cfg.SupportedModels) == 0 {
		cfg.SupportedModels = DefaultSupportedModels()
	}
	if cfg.ExtensionBlacklist == nil {
		cfg.ExtensionBlacklist = append([]string(nil), DefaultExtensionBlacklist...)
	}
	if cfg.PathBlacklist == nil {
		cfg.PathBlacklist = append([]string(nil), DefaultPathBlacklist...)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the engine relies on.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search_limit must be positive, got %d", c.SearchLimit)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.RRFK)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("embedding_batch_size must be positive, got %d", c.EmbeddingBatchSize)
	}
	if c.RerankTopK < 0 {
		return fmt.Errorf("rerank_top_k must be non-negative, got %d", c.RerankTopK)
	}
	if c.DebounceSeconds <= 0 {
		return fmt.Errorf("debounce_seconds must be positive, got %v", c.DebounceSeconds)
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("sync_batch_size must be positive, got %d", c.SyncBatchSize)
	}
	switch c.Profile {
	case ProfileAuto, ProfileMedium, ProfileLarge:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if _, err := c.ResolveModel(); err != nil {
		return err
	}
	return nil
}

// ResolveModel looks up the configured embedding model in the catalog.
func (c Config) ResolveModel() (ModelInfo, error) {
	info, ok := c.SupportedModels[c.EmbeddingModel]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unknown embedding model %q", c.EmbeddingModel)
	}
	if info.Dim <= 0 {
		return ModelInfo{}, fmt.Errorf("embedding model %q has invalid dimension %d", c.EmbeddingModel, info.Dim)
	}
	return info, nil
}

// Debounce returns the auto-sync debounce window as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// WithProfile returns a copy with the effective profile applied.
// The auto profile picks medium or large from the reachable file count.
func (c Config) WithProfile(fileCount int) Config {
	profile := c.Profile
	if profile == ProfileAuto {
		if fileCount <= c.MediumMaxFiles {
			profile = ProfileMedium
		} else {
			profile = ProfileLarge
		}
	}

	out := c
	out.Profile = profile
	if profile == ProfileLarge {
		// Large trees: smaller embedding batches bound peak memory and a
		// longer debounce absorbs build churn.
		if out.EmbeddingBatchSize > 64 {
			out.EmbeddingBatchSize = 64
		}
		if out.DebounceSeconds < 5.0 {
			out.DebounceSeconds = 5.0
		}
	}
	return out
}
