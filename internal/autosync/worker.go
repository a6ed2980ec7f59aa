// Package autosync keeps a project index consistent with live edits.
//
// A long-lived worker subscribes to filesystem events, coalesces them per
// file, and reconciles files once they have been quiet for the debounce
// window. Each reconciliation is a per-file replace under the store's
// writer lock, so readers never observe a half-updated file.
package autosync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/retoolsx/codebox/internal/chunk"
	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/embed"
	"github.com/retoolsx/codebox/internal/parse"
	"github.com/retoolsx/codebox/internal/project"
	"github.com/retoolsx/codebox/internal/scanner"
	"github.com/retoolsx/codebox/internal/store"
)

// tickInterval is the pending-queue poll period.
const tickInterval = 500 * time.Millisecond

// stopDrainTimeout bounds how long Stop waits for the loop to finish the
// in-flight batch.
const stopDrainTimeout = 10 * time.Second

// State is the worker lifecycle state.
type State int32

const (
	// StateIdle means the worker is not running.
	StateIdle State = iota
	// StateRunning means events are being watched and reconciled.
	StateRunning
	// StateStopping means a stop was requested and the worker is draining.
	StateStopping
)

// HealthRecord is the periodic health signal payload.
type HealthRecord struct {
	PendingCount     int        `json:"pending_count"`
	LastSyncTime     *time.Time `json:"last_sync_time"`
	TotalFilesSynced int        `json:"total_files_synced"`
	TotalErrors      int        `json:"total_errors"`
	Healthy          bool       `json:"healthy"`
}

// Callbacks lets the caller observe the worker. All fields are optional.
type Callbacks struct {
	FileChanged  func(path string, changeType ChangeType)
	SyncStarted  func(count int)
	SyncComplete func(batchPaths []string, chunksUpdated int)
	SyncError    func(path, msg string)
	HealthStatus func(rec HealthRecord)
}

type pendingChange struct {
	changeType ChangeType
	lastSeen   time.Time
}

// Worker is the auto-sync worker for one project.
type Worker struct {
	layout   *project.Layout
	cfg      config.Config
	embedder *embed.Generator
	cb       Callbacks

	mu      sync.Mutex
	state   State
	pending map[string]pendingChange

	totalSynced int
	totalErrors int
	lastSync    *time.Time

	watcher *dirWatcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	parser  *parse.Parser
	chunker *chunk.Chunker
	scan    *scanner.Scanner
	store   *store.Store
}

// NewWorker creates a worker for the project. Start must be called before
// events are processed.
func NewWorker(layout *project.Layout, cfg config.Config, embedder *embed.Generator, cb Callbacks) *Worker {
	return &Worker{
		layout:   layout,
		cfg:      cfg,
		embedder: embedder,
		cb:       cb,
		pending:  make(map[string]pendingChange),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start transitions idle → running: opens the store, registers the watcher,
// and launches the tick loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return fmt.Errorf("auto-sync already running")
	}
	w.state = StateRunning
	w.mu.Unlock()

	fail := func(err error) error {
		w.mu.Lock()
		w.state = StateIdle
		w.mu.Unlock()
		return err
	}

	st, err := store.Open(w.layout.DataDir(), w.embedder.Dimensions(), w.embedder.ModelName())
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}

	w.parser = parse.NewParser()
	w.chunker = chunk.NewChunker(w.cfg.ChunkSize, w.cfg.ChunkOverlap)
	w.scan = scanner.New(scanner.Options{
		ExtensionBlacklist:  w.cfg.ExtensionBlacklist,
		PathBlacklist:       w.cfg.PathBlacklist,
		SupportedExtensions: parse.AllSupportedExtensions(),
	})
	w.store = st

	watcher, err := newDirWatcher(w.layout.Root)
	if err != nil {
		_ = st.Close()
		w.parser.Close()
		return fail(fmt.Errorf("start watcher: %w", err))
	}
	w.watcher = watcher

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(ctx)

	slog.Info("auto-sync started", slog.String("project", w.layout.Root))
	return nil
}

// Stop transitions running → stopping, unregisters the watcher, waits for
// the in-flight batch with a bounded timeout, and releases resources.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	w.mu.Unlock()

	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(stopDrainTimeout):
		slog.Warn("auto-sync stop timed out waiting for drain")
	}

	_ = w.watcher.Close()
	_ = w.store.Close()
	w.parser.Close()

	w.mu.Lock()
	w.state = StateIdle
	w.mu.Unlock()

	slog.Info("auto-sync stopped", slog.String("project", w.layout.Root))
}

// loop consumes watcher events and reconciles stable pending entries on
// each tick.
func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events():
			if !ok {
				return
			}
			w.enqueue(ev)
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// enqueue coalesces an event into the pending map, keeping the most recent
// change type per file.
func (w *Worker) enqueue(ev fileEvent) {
	rel, err := filepath.Rel(w.layout.Root, ev.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Out-of-root destination of a move: nothing to reconcile here;
		// the in-root source already queued as a deletion.
		return
	}
	rel = filepath.ToSlash(rel)

	if !w.scan.Accepts(rel) {
		return
	}

	w.mu.Lock()
	w.pending[rel] = pendingChange{changeType: ev.Type, lastSeen: time.Now()}
	w.mu.Unlock()

	if w.cb.FileChanged != nil {
		w.cb.FileChanged(rel, ev.Type)
	}
}

// processPending reconciles up to one batch of files whose events have been
// quiet for the debounce window.
func (w *Worker) processPending(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.Debounce())

	w.mu.Lock()
	var batch []string
	for rel, pc := range w.pending {
		if !pc.lastSeen.After(cutoff) {
			batch = append(batch, rel)
			if len(batch) == w.cfg.SyncBatchSize {
				break
			}
		}
	}
	types := make(map[string]ChangeType, len(batch))
	for _, rel := range batch {
		types[rel] = w.pending[rel].changeType
		delete(w.pending, rel)
	}
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if w.cb.SyncStarted != nil {
		w.cb.SyncStarted(len(batch))
	}

	chunksUpdated := 0
	for _, rel := range batch {
		n, err := w.reconcile(ctx, rel, types[rel])
		if err != nil {
			w.mu.Lock()
			w.totalErrors++
			w.mu.Unlock()
			slog.Warn("auto-sync reconcile failed",
				slog.String("file", rel),
				slog.String("error", err.Error()))
			if w.cb.SyncError != nil {
				w.cb.SyncError(rel, err.Error())
			}
			continue
		}
		chunksUpdated += n
		w.mu.Lock()
		w.totalSynced++
		w.mu.Unlock()
	}

	now := time.Now()
	w.mu.Lock()
	w.lastSync = &now
	w.mu.Unlock()

	if w.cb.SyncComplete != nil {
		w.cb.SyncComplete(batch, chunksUpdated)
	}
	w.emitHealth()
}

// reconcile brings one file's chunks in line with its current content.
// Deletions and vanished files reduce to delete-by-file; everything else is
// a per-file replace. The pending entry is already removed, so a failure
// here never leaves a half-updated file: the delete+add pair runs under the
// store's writer lock.
func (w *Worker) reconcile(ctx context.Context, rel string, changeType ChangeType) (int, error) {
	abs := filepath.Join(w.layout.Root, filepath.FromSlash(rel))

	info, statErr := os.Stat(abs)
	if changeType == ChangeDeleted || statErr != nil {
		return 0, w.store.DeleteByFile(rel)
	}

	if info.Size() > w.cfg.MaxFileSize {
		return 0, w.store.DeleteByFile(rel)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return 0, err
	}
	content := strings.ToValidUTF8(string(data), "�")

	parsed, err := w.parser.ParseFile(ctx, rel, []byte(content))
	if err != nil {
		return 0, err
	}
	if parsed == nil {
		return 0, w.store.DeleteByFile(rel)
	}

	chunks := w.chunker.ChunkCode(content, rel, parsed.Language, parsed.Nodes)
	if len(chunks) == 0 {
		return 0, w.store.DeleteByFile(rel)
	}

	imports := strings.Join(parsed.Imports, ",")
	modified := info.ModTime().UTC().Format(time.RFC3339)
	for i := range chunks {
		chunks[i].SizeBytes = info.Size()
		chunks[i].ModifiedAt = modified
		chunks[i].Imports = imports
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := w.embedder.Embed(ctx, texts, embed.TaskPassage)
	if err != nil {
		return 0, err
	}

	if err := w.store.DeleteByFile(rel); err != nil {
		return 0, err
	}
	if err := w.store.AddChunks(chunks, vectors, true); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (w *Worker) emitHealth() {
	if w.cb.HealthStatus == nil {
		return
	}

	w.mu.Lock()
	rec := HealthRecord{
		PendingCount:     len(w.pending),
		LastSyncTime:     w.lastSync,
		TotalFilesSynced: w.totalSynced,
		TotalErrors:      w.totalErrors,
	}
	w.mu.Unlock()

	total := rec.TotalFilesSynced + rec.TotalErrors
	rec.Healthy = rec.TotalErrors == 0 ||
		(total > 0 && float64(rec.TotalFilesSynced)/float64(total) > 0.9)

	w.cb.HealthStatus(rec)
}
