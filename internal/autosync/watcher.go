package autosync

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType is the reduced event kind queued for reconciliation. Move
// events are reduced to deleted(src) + created(dst) before queuing.
type ChangeType string

const (
	// ChangeCreated marks a new file.
	ChangeCreated ChangeType = "created"
	// ChangeModified marks a content change.
	ChangeModified ChangeType = "modified"
	// ChangeDeleted marks a removed file.
	ChangeDeleted ChangeType = "deleted"
)

// fileEvent is one raw filesystem event with an absolute path.
type fileEvent struct {
	Path string
	Type ChangeType
}

// dirWatcher wraps fsnotify with recursive directory registration: every
// existing directory is watched at start, and directories created later are
// added as their create events arrive.
type dirWatcher struct {
	fsw    *fsnotify.Watcher
	root   string
	events chan fileEvent
	done   chan struct{}
}

func newDirWatcher(root string) (*dirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &dirWatcher{
		fsw:    fsw,
		root:   root,
		events: make(chan fileEvent, 1024),
		done:   make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Events yields the translated event stream.
func (w *dirWatcher) Events() <-chan fileEvent {
	return w.events
}

// Close unregisters the watcher and closes the event channel.
func (w *dirWatcher) Close() error {
	err := w.fsw.Close()
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

func (w *dirWatcher) loop() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Non-fatal watcher errors are dropped; the next tick's
			// reconciliation reads current file state anyway.
		}
	}
}

func (w *dirWatcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(ev.Name)
			return
		}
		w.emit(ev.Name, ChangeCreated)
	case ev.Op&fsnotify.Write != 0:
		w.emit(ev.Name, ChangeModified)
	case ev.Op&fsnotify.Remove != 0:
		w.emit(ev.Name, ChangeDeleted)
	case ev.Op&fsnotify.Rename != 0:
		// The source half of a move; the destination arrives as Create.
		w.emit(ev.Name, ChangeDeleted)
	}
}

func (w *dirWatcher) emit(path string, t ChangeType) {
	select {
	case w.events <- fileEvent{Path: path, Type: t}:
	default:
		// Channel full: drop the event. The debounced reconciliation reads
		// the file fresh, so a dropped event only delays, never corrupts.
	}
}

func (w *dirWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && len(name) > 1 && name[0] == '.' {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
