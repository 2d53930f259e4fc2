package provider

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the store file and reports external writes, debounced,
// so the in-memory tree can resync when another process mutates the store.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	target    string
	onChange  func()

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func NewWatcher(storePath string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		target:    filepath.Clean(storePath),
		onChange:  onChange,
		done:      make(chan struct{}),
	}

	// Watch the directory: SQLite swaps WAL/journal files around the db.
	if err := fsw.Add(filepath.Dir(w.target)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("store watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) matches(name string) bool {
	clean := filepath.Clean(name)
	return clean == w.target || clean == w.target+"-wal" || clean == w.target+"-journal"
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	close(w.done)
	return w.fsWatcher.Close()
}
