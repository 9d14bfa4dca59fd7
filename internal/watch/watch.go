// Package watch feeds filesystem changes into the engine's document update
// path. Events are debounced per file so editors that write-then-rename or
// save in bursts trigger one reindex, not several.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// delivered.
const DefaultDebounce = 200 * time.Millisecond

// Event is one settled file change.
type Event struct {
	Path    string
	Removed bool
}

// Watcher watches a workspace root recursively for Ruby source changes.
type Watcher struct {
	fs       *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a Watcher rooted at root, registering every non-excluded
// directory. excluded is consulted with directory base names.
func New(root string, excluded func(name string) bool, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		fs:       fsw,
		log:      log,
		debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && excluded != nil && excluded(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers settled events to fn until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, fn func(Event)) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev, fn)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, fn func(Event)) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fs.Add(ev.Name)
			return
		}
	}
	if !isRubySource(ev.Name) {
		return
	}
	removed := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		fn(Event{Path: path, Removed: removed})
	})
}

func isRubySource(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rb", ".rake", ".gemspec", ".ru":
		return true
	}
	return false
}
