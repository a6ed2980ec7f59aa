// Package index orchestrates the full project indexing pipeline:
// walk, parse, chunk, embed in batches, and persist, with progress
// callbacks, per-file error classification, and cancellation at file
// boundaries.
package index

import (
	cberrors "github.com/retoolsx/codebox/internal/errors"
)

// FileStatus is the outcome of one file.
type FileStatus string

const (
	// StatusIndexed means chunks were produced and committed.
	StatusIndexed FileStatus = "indexed"
	// StatusSkipped means the file was passed over by policy.
	StatusSkipped FileStatus = "skipped"
	// StatusFailed means a per-file error occurred.
	StatusFailed FileStatus = "failed"
)

// CancelledError is the error string reported on cancellation.
const CancelledError = "Cancelled"

// Callbacks lets the caller observe and steer an indexing run. All fields
// are optional.
type Callbacks struct {
	// OnProgress fires before each file with the running position.
	OnProgress func(current, total int, filename string)

	// OnFileProcessed fires after each file with its outcome.
	OnFileProcessed func(filename string, status FileStatus, chunks int)

	// OnLog receives human-readable progress messages.
	OnLog func(msg string)

	// ShouldCancel is polled between files; returning true stops the run
	// at the next file boundary.
	ShouldCancel func() bool
}

func (cb *Callbacks) progress(current, total int, filename string) {
	if cb.OnProgress != nil {
		cb.OnProgress(current, total, filename)
	}
}

func (cb *Callbacks) fileProcessed(filename string, status FileStatus, chunks int) {
	if cb.OnFileProcessed != nil {
		cb.OnFileProcessed(filename, status, chunks)
	}
}

func (cb *Callbacks) log(msg string) {
	if cb.OnLog != nil {
		cb.OnLog(msg)
	}
}

func (cb *Callbacks) cancelled() bool {
	return cb.ShouldCancel != nil && cb.ShouldCancel()
}

// IndexingResult is the complete outcome of an indexing run. It is always
// populated, including on cancellation and catastrophic failure.
type IndexingResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	TotalFiles  int `json:"total_files"`
	TotalChunks int `json:"total_chunks"`

	IndexedFilesCount int `json:"indexed_files_count"`
	SkippedFilesCount int `json:"skipped_files_count"`
	FailedFilesCount  int `json:"failed_files_count"`

	IndexedFiles []string            `json:"indexed_files,omitempty"`
	SkippedFiles []string            `json:"skipped_files,omitempty"`
	FailedFiles  []cberrors.FileError `json:"failed_files,omitempty"`

	// Languages maps language tag to chunk count.
	Languages map[string]int `json:"languages,omitempty"`

	ProcessingTimeMS int64 `json:"processing_time_ms"`
	EmbeddingTimeMS  int64 `json:"embedding_time_ms"`
}

func (r *IndexingResult) recordIndexed(file string, chunks int, language string) {
	r.IndexedFiles = append(r.IndexedFiles, file)
	r.IndexedFilesCount++
	r.TotalChunks += chunks
	if language != "" {
		if r.Languages == nil {
			r.Languages = make(map[string]int)
		}
		r.Languages[language] += chunks
	}
}

func (r *IndexingResult) recordSkipped(file string) {
	r.SkippedFiles = append(r.SkippedFiles, file)
	r.SkippedFilesCount++
}

func (r *IndexingResult) recordFailed(file string, kind cberrors.FileErrorKind, msg string) {
	r.FailedFiles = append(r.FailedFiles, cberrors.FileError{File: file, Type: kind, Message: msg})
	r.FailedFilesCount++
}
