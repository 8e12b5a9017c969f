// ABOUTME: Filesystem watcher keeping namespace inventories current
// ABOUTME: Debounces fsnotify events into inventory rescans per namespace

package namespace

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes namespace roots and refreshes their inventory files
// when tracked areas change out of band (a tool writing a file directly,
// a migration moving databases). Events are debounced so a burst of writes
// produces one rescan.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	dirty   map[string]*Namespace // namespace dir -> namespace, pending refresh
	tracked map[string]*Namespace // watched dir -> owning namespace

	done   chan struct{}
	doneWg sync.WaitGroup
	closed bool
}

// NewWatcher creates a watcher. debounce bounds how soon after the last
// event a rescan runs; zero selects a 200ms default.
func NewWatcher(logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("namespace: creating watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{
		watcher:  fsw,
		logger:   logger.With("component", "namespace-watcher"),
		debounce: debounce,
		dirty:    make(map[string]*Namespace),
		tracked:  make(map[string]*Namespace),
		done:     make(chan struct{}),
	}
	w.doneWg.Add(1)
	go w.run()
	return w, nil
}

// Watch registers a namespace's root and inventoried areas. The namespace
// is materialized first so the watches have something to attach to.
func (w *Watcher) Watch(ns *Namespace) error {
	if err := ns.Ensure(); err != nil {
		return err
	}

	dirs := []string{ns.Dir(), ns.AreaDir(AreaFiles), ns.AreaDir(AreaDB), ns.AreaDir(AreaKB)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("namespace: watcher closed")
	}
	for _, dir := range dirs {
		if _, ok := w.tracked[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("namespace: watching %s: %w", dir, err)
		}
		w.tracked[dir] = ns
	}
	return nil
}

// Unwatch removes a namespace's watches, typically after its contents were
// migrated away.
func (w *Watcher) Unwatch(ns *Namespace) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, owner := range w.tracked {
		if owner.Dir() == ns.Dir() {
			_ = w.watcher.Remove(dir)
			delete(w.tracked, dir)
		}
	}
	delete(w.dirty, ns.Dir())
}

func (w *Watcher) run() {
	defer w.doneWg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			w.flushDirty()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Inventory rewrites themselves must not retrigger a rescan.
	if strings.Contains(event.Name, InventoryFileName) || strings.Contains(event.Name, ".inventory-") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, ns := range w.tracked {
		// A bare prefix match would claim events from sibling
		// directories that share one (ns1 vs ns10), so the match must
		// end on a path boundary.
		if event.Name == dir || strings.HasPrefix(event.Name, dir+string(os.PathSeparator)) {
			w.dirty[ns.Dir()] = ns
			return
		}
	}
}

func (w *Watcher) flushDirty() {
	w.mu.Lock()
	pending := w.dirty
	w.dirty = make(map[string]*Namespace)
	w.mu.Unlock()

	for _, ns := range pending {
		if _, err := ns.RefreshInventory(); err != nil {
			w.logger.Warn("inventory refresh failed", "namespace", ns.Key(), "error", err)
			continue
		}
		w.logger.Debug("inventory refreshed", "namespace", ns.Key())
	}
}

// Close stops the event loop and releases the underlying watcher. Safe to
// call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.doneWg.Wait()
	return err
}
