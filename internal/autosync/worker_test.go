package autosync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/embed"
	"github.com/retoolsx/codebox/internal/project"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.EmbeddingModel = "all-MiniLM-L6-v2"
	cfg.DebounceSeconds = 0.6
	cfg.SyncBatchSize = 10
	cfg.Profile = config.ProfileMedium
	return cfg
}

type recorder struct {
	mu          sync.Mutex
	changed     []string
	syncStarts  int
	syncedPaths []string
	errors      []string
	health      []HealthRecord
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		FileChanged: func(path string, _ ChangeType) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changed = append(r.changed, path)
		},
		SyncStarted: func(int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.syncStarts++
		},
		SyncComplete: func(paths []string, _ int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.syncedPaths = append(r.syncedPaths, paths...)
		},
		SyncError: func(path, msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, path+": "+msg)
		},
		HealthStatus: func(rec HealthRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.health = append(r.health, rec)
		},
	}
}

func (r *recorder) syncCountFor(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.syncedPaths {
		if p == path {
			n++
		}
	}
	return n
}

func startWorker(t *testing.T, root string, cfg config.Config, rec *recorder) (*Worker, *embed.Generator) {
	t.Helper()

	layout, err := project.Resolve(root)
	require.NoError(t, err)
	require.NoError(t, layout.EnsureDirs())

	info, err := cfg.ResolveModel()
	require.NoError(t, err)
	gen := embed.NewGenerator(cfg.EmbeddingModel, info, nil)

	worker := NewWorker(layout, cfg, gen, rec.callbacks())
	require.NoError(t, worker.Start(context.Background()))
	t.Cleanup(worker.Stop)
	return worker, gen
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestWorkerLifecycle(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()

	rec := &recorder{}
	worker, _ := startWorker(t, root, testConfig(), rec)
	assert.Equal(t, StateRunning, worker.State())

	// Double start is rejected.
	assert.Error(t, worker.Start(context.Background()))

	worker.Stop()
	assert.Equal(t, StateIdle, worker.State())

	// Stop is idempotent.
	worker.Stop()
	assert.Equal(t, StateIdle, worker.State())
}

func TestDebounceCoalescesBursts(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()

	cfg := testConfig()
	rec := &recorder{}
	startWorker(t, root, cfg, rec)

	// A burst of writes inside the debounce window.
	path := filepath.Join(root, "hot.py")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("def hot():\n    return "+string(rune('0'+i))+"\n"), 0o644))
		time.Sleep(50 * time.Millisecond)
	}

	// Exactly one reconciliation after the window closes.
	waitFor(t, 5*time.Second, func() bool { return rec.syncCountFor("hot.py") >= 1 })
	time.Sleep(cfg.Debounce() + time.Second)
	assert.Equal(t, 1, rec.syncCountFor("hot.py"))
}

func TestReconcileReplacesFileChunks(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def foo():\n    return 1\n"), 0o644))

	cfg := testConfig()
	rec := &recorder{}
	worker, gen := startWorker(t, root, cfg, rec)

	// Seed the index through the worker's own pipeline.
	_, err := worker.reconcile(context.Background(), "a.py", ChangeModified)
	require.NoError(t, err)

	rows, err := worker.store.KeywordSearch("foo", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	// Rewrite and reconcile again: replace-all-for-file semantics.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def bar():\n    return 2\n"), 0o644))
	_, err = worker.reconcile(context.Background(), "a.py", ChangeModified)
	require.NoError(t, err)

	rows, err = worker.store.KeywordSearch("foo", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = worker.store.KeywordSearch("bar", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
	_ = gen
}

func TestReconcileDeletedFile(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.py"), []byte("def vanishing():\n    return 1\n"), 0o644))

	cfg := testConfig()
	rec := &recorder{}
	worker, _ := startWorker(t, root, cfg, rec)

	_, err := worker.reconcile(context.Background(), "gone.py", ChangeModified)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))
	_, err = worker.reconcile(context.Background(), "gone.py", ChangeDeleted)
	require.NoError(t, err)

	rows, err := worker.store.KeywordSearch("vanishing", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEndToEndWatchSync(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()

	cfg := testConfig()
	rec := &recorder{}
	worker, _ := startWorker(t, root, cfg, rec)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.py"), []byte("def created_live():\n    return 1\n"), 0o644))

	waitFor(t, 5*time.Second, func() bool { return rec.syncCountFor("new.py") >= 1 })

	rows, err := worker.store.KeywordSearch("created_live", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	rec.mu.Lock()
	healthSeen := len(rec.health) > 0
	var lastHealth HealthRecord
	if healthSeen {
		lastHealth = rec.health[len(rec.health)-1]
	}
	rec.mu.Unlock()
	require.True(t, healthSeen)
	assert.True(t, lastHealth.Healthy)
	assert.GreaterOrEqual(t, lastHealth.TotalFilesSynced, 1)
	assert.NotNil(t, lastHealth.LastSyncTime)
}

func TestEventFilteringMatchesWalker(t *testing.T) {
	t.Setenv("CODEBOX_HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	cfg := testConfig()
	rec := &recorder{}
	startWorker(t, root, cfg, rec)

	// Blacklisted and unsupported files never enter the queue.
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.py"), []byte("def ok():\n    return 1\n"), 0o644))

	waitFor(t, 5*time.Second, func() bool { return rec.syncCountFor("ok.py") >= 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotContains(t, rec.changed, "node_modules/dep.py")
	assert.NotContains(t, rec.changed, "notes.txt")
	assert.Contains(t, rec.changed, "ok.py")
}
