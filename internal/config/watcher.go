// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5
// seconds; no external dependency like fsnotify required) and, once a new
// version parses and validates cleanly, swaps it in atomically. Readers
// never observe a partially-applied config: Current() always returns
// either the prior Snapshot or a fully-validated new one.
package config

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher monitors the config file for changes and atomically swaps the
// active Snapshot when a new version parses and validates cleanly.
type Watcher struct {
	path    string
	logger  *log.Logger
	current atomic.Pointer[Snapshot]
	lastMod time.Time

	mu       sync.Mutex
	onChange []func(old, new *Snapshot)
	done     chan struct{}
	stopped  bool
}

// NewWatcher creates a watcher for path, seeded with the already-loaded
// initial Snapshot. Polling does not start until Start() is called.
func NewWatcher(path string, initial *Snapshot, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	w := &Watcher{path: path, logger: logger, done: make(chan struct{})}
	w.current.Store(initial)
	return w
}

// OnChange registers a callback invoked after a new Snapshot is swapped
// in. Multiple callbacks may be registered; they run synchronously, in
// registration order, from the poll goroutine.
func (w *Watcher) OnChange(fn func(old, new *Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns
// immediately; the watcher runs in a background goroutine. Returns an
// error if the initial file stat fails.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[config-watcher] watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[config-watcher] stopped")
	}
}

// Current returns the most recently validated Snapshot.
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *Watcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] stat error: %v", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return // file hasn't changed
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] read error: %v", err)
		return
	}

	old := w.current.Load()
	next, err := Reload(old, data)
	if err != nil {
		w.logger.Printf("[config-watcher] validation error (keeping old config): %v", err)
		return
	}

	w.current.Store(next)
	w.logger.Printf("[config-watcher] reloaded config: version %d -> %d", old.Version, next.Version)

	w.mu.Lock()
	callbacks := make([]func(old, new *Snapshot), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, next)
	}
}
