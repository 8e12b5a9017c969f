// ABOUTME: Caches one assistant instance per namespace key
// ABOUTME: Concurrent first requests for a key share a single construction

package assistant

import (
	"context"
	"log/slog"

	"github.com/2389/hearth/internal/conndb"
	"github.com/2389/hearth/internal/namespace"
	"github.com/2389/hearth/internal/rescache"
	"github.com/2389/hearth/internal/threadctx"
)

// DefaultCapacity bounds how many assistant instances stay resident.
const DefaultCapacity = 32

// Manager builds and caches assistants keyed by namespace key. The
// database handle each assistant uses comes from the shared connection
// cache, so invalidating a key in both caches fully retires it.
type Manager struct {
	cache  *rescache.Cache[*Assistant]
	keyFor conndb.KeyFunc
}

// NewManager creates the assistant cache. keyFor maps thread identities
// to namespace keys the same way the connection cache does; passing nil
// uses the identity mapping.
func NewManager(resolver *namespace.Resolver, conns *conndb.Manager, responder Responder, capacity int, keyFor conndb.KeyFunc, logger *slog.Logger) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if keyFor == nil {
		keyFor = conndb.IdentityKey
	}
	build := func(ctx context.Context, key string) (*Assistant, error) {
		ns, err := resolver.Resolve(key)
		if err != nil {
			return nil, err
		}
		if err := ns.Ensure(); err != nil {
			return nil, err
		}
		db, err := conns.ForKey(ctx, key)
		if err != nil {
			return nil, err
		}
		return New(key, ns, db, responder, logger)
	}
	// The assistant does not own its db handle, so eviction has nothing
	// to release beyond dropping the instance.
	cache, err := rescache.New(capacity, build, nil, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{cache: cache, keyFor: keyFor}, nil
}

// ForThread returns the assistant for the thread bound to ctx, building
// it on first use. Fails with threadctx.ErrNoThread when the context
// carries no identity.
func (m *Manager) ForThread(ctx context.Context) (*Assistant, error) {
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

// Invalidate drops the assistant for a namespace key. Called after a
// merge retires the key.
func (m *Manager) Invalidate(key string) bool {
	return m.cache.Invalidate(key)
}

// Len reports how many assistants are resident.
func (m *Manager) Len() int { return m.cache.Len() }

// Close drops every cached assistant.
func (m *Manager) Close() error { return m.cache.Close() }
