// ABOUTME: Per-namespace SQLite connection cache
// ABOUTME: Opens one database handle per namespace key and recycles it under LRU pressure

package conndb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/2389/hearth/internal/namespace"
	"github.com/2389/hearth/internal/rescache"
	"github.com/2389/hearth/internal/threadctx"
)

// DefaultCapacity bounds how many namespace database handles stay open.
const DefaultCapacity = 64

// DatabaseName is the conversation database inside each namespace's db area.
const DatabaseName = "conversation"

// Manager hands out one *sql.DB per namespace key. Handles are opened
// lazily on first use, shared by every caller of the same key, and
// closed when evicted or invalidated after a merge.
type Manager struct {
	cache    *rescache.Cache[*sql.DB]
	resolver *namespace.Resolver
	keyFor   KeyFunc
}

// KeyFunc maps the ambient thread identity to a namespace key. It lets
// the identity registry redirect verified threads to their persistent
// account namespace.
type KeyFunc func(ctx context.Context, threadID threadctx.ThreadID) (string, error)

// IdentityKey is the default KeyFunc: the thread id itself, sanitized.
func IdentityKey(_ context.Context, threadID threadctx.ThreadID) (string, error) {
	return namespace.SanitizeKey(string(threadID)), nil
}

// NewManager creates a connection cache over the given resolver.
func NewManager(resolver *namespace.Resolver, capacity int, keyFor KeyFunc, logger *slog.Logger) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if keyFor == nil {
		keyFor = IdentityKey
	}
	m := &Manager{resolver: resolver, keyFor: keyFor}
	cache, err := rescache.New(capacity, m.open, closeDB, logger)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// open builds the database handle for a namespace key. Runs at most once
// per key at a time; concurrent callers share the single build.
func (m *Manager) open(ctx context.Context, key string) (*sql.DB, error) {
	ns, err := m.resolver.Resolve(key)
	if err != nil {
		return nil, err
	}
	if _, err := ns.EnsureArea(namespace.AreaDB); err != nil {
		return nil, fmt.Errorf("preparing db area: %w", err)
	}
	db, err := sql.Open("sqlite", ns.DatabaseFile(DatabaseName))
	if err != nil {
		return nil, fmt.Errorf("opening namespace database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	return db, nil
}

func closeDB(_ string, db *sql.DB) error {
	return db.Close()
}

// ForThread returns the database handle for the thread bound to ctx.
// Fails with threadctx.ErrNoThread when no identity is present; there is
// no default namespace to fall back to.
func (m *Manager) ForThread(ctx context.Context) (*sql.DB, error) {
	threadID, err := threadctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	key, err := m.keyFor(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return m.cache.GetOrBuild(ctx, key)
}

// ForKey returns the database handle for an explicit namespace key.
// Reserved for internal plumbing such as post-merge warmup.
func (m *Manager) ForKey(ctx context.Context, key string) (*sql.DB, error) {
	return m.cache.GetOrBuild(ctx, key)
}

// Invalidate closes and drops the handle for a namespace key. Called
// after a merge retires the key's directory.
func (m *Manager) Invalidate(key string) bool {
	return m.cache.Invalidate(key)
}

// Len reports how many handles are currently open.
func (m *Manager) Len() int { return m.cache.Len() }

// Close releases every open handle.
func (m *Manager) Close() error { return m.cache.Close() }
