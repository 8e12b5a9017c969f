// ABOUTME: Tests for the per-namespace inventory file and the fsnotify watcher
// ABOUTME: Covers rescans, TOML round trips, and debounced refresh on writes

package namespace

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNamespace(t *testing.T, key string) *Namespace {
	t.Helper()
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	ns, err := r.Resolve(key)
	require.NoError(t, err)
	require.NoError(t, ns.Ensure())
	return ns
}

func TestRefreshInventory_Empty(t *testing.T) {
	ns := testNamespace(t, "anon_telegram_1")

	inv, err := ns.RefreshInventory()
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Files.Count)
	assert.Equal(t, 0, inv.Tables.Count)
	assert.Equal(t, 0, inv.Collections.Count)
	assert.False(t, inv.UpdatedAt.IsZero())
}

func TestRefreshInventory_TracksContents(t *testing.T) {
	ns := testNamespace(t, "anon_telegram_2")

	require.NoError(t, os.WriteFile(filepath.Join(ns.AreaDir(AreaFiles), "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ns.AreaDir(AreaFiles), "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(ns.DatabaseFile("ledger"), []byte("db"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(ns.AreaDir(AreaKB), "docs"), 0o755))

	inv, err := ns.RefreshInventory()
	require.NoError(t, err)

	assert.Equal(t, 2, inv.Files.Count)
	assert.Equal(t, []string{"a.txt", "b.txt"}, inv.Files.Names)
	assert.Equal(t, []string{"ledger"}, inv.Tables.Names)
	assert.Equal(t, []string{"docs"}, inv.Collections.Names)
}

func TestRefreshInventory_RoundTrip(t *testing.T) {
	ns := testNamespace(t, "anon_telegram_3")
	require.NoError(t, os.WriteFile(filepath.Join(ns.AreaDir(AreaFiles), "x.txt"), []byte("x"), 0o644))

	written, err := ns.RefreshInventory()
	require.NoError(t, err)

	loaded, err := ns.LoadInventory()
	require.NoError(t, err)
	assert.Equal(t, written.Files, loaded.Files)
	assert.Equal(t, written.Tables, loaded.Tables)
}

func TestLoadInventory_MissingFile(t *testing.T) {
	ns := testNamespace(t, "anon_telegram_4")

	inv, err := ns.LoadInventory()
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Files.Count)
}

func TestRefreshInventory_UnmaterializedNamespace(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	ns, err := r.Resolve("never_touched")
	require.NoError(t, err)

	inv, err := ns.RefreshInventory()
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Files.Count)
	assert.NoFileExists(t, ns.InventoryPath())
}

func TestWatcher_RefreshesOnWrite(t *testing.T) {
	ns := testNamespace(t, "anon_telegram_5")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := NewWatcher(logger, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(ns))
	require.NoError(t, os.WriteFile(filepath.Join(ns.AreaDir(AreaFiles), "seen.txt"), []byte("s"), 0o644))

	// The debounced rescan should pick the file up shortly.
	assert.Eventually(t, func() bool {
		inv, err := ns.LoadInventory()
		return err == nil && inv.Files.Count == 1
	}, 2*time.Second, 25*time.Millisecond)
}

func TestWatcher_EventAttributionEndsOnPathBoundary(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	ns1, err := r.Resolve("anon_telegram_1")
	require.NoError(t, err)
	require.NoError(t, ns1.Ensure())
	ns10, err := r.Resolve("anon_telegram_10")
	require.NoError(t, err)
	require.NoError(t, ns10.Ensure())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(logger, time.Hour) // long debounce so dirty stays inspectable
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(ns1))

	// ns10's dir shares ns1's dir as a string prefix; a write there must
	// not be attributed to ns1.
	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(ns10.AreaDir(AreaFiles), "other.txt"),
		Op:   fsnotify.Write,
	})
	w.mu.Lock()
	assert.Empty(t, w.dirty)
	w.mu.Unlock()

	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(ns1.AreaDir(AreaFiles), "mine.txt"),
		Op:   fsnotify.Write,
	})
	w.mu.Lock()
	assert.Contains(t, w.dirty, ns1.Dir())
	w.mu.Unlock()
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(logger, 0)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
