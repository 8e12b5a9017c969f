// ABOUTME: Keyed cache for expensive per-identity resources (db handles, agents)
// ABOUTME: Guarantees at most one live instance per key via singleflight builds

package rescache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by GetOrBuild after the cache has been closed.
var ErrClosed = errors.New("rescache: cache closed")

// Builder constructs the resource for a key. Construction may be expensive
// (opening a database file, assembling an agent with its tool set);
// concurrent callers for the same key are coalesced into one build.
type Builder[T any] func(ctx context.Context, key string) (T, error)

// Releaser tears down a resource when it leaves the cache: close the
// database handle, flush and discard the agent. It runs on eviction,
// invalidation, and Close.
type Releaser[T any] func(key string, value T) error

type entry[T any] struct {
	value    T
	element  *list.Element
	lastUsed time.Time
}

// Cache holds at most one live instance of T per key. Lookups are served
// under a single short mutex; builds run outside it, coalesced per key by
// singleflight so N concurrent GetOrBuild calls for the same key produce
// exactly one construction and N references to the same instance. Builds
// for different keys never block each other.
//
// The cache is size-bounded: inserting beyond capacity evicts the least
// recently used entry and releases its resource.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	order   *list.List // keys, least recently used at front

	capacity int
	build    Builder[T]
	release  Releaser[T]
	group    singleflight.Group
	logger   *slog.Logger
	closed   bool
}

// New creates a cache with the given capacity. release may be nil for
// resources that need no teardown.
func New[T any](capacity int, build Builder[T], release Releaser[T], logger *slog.Logger) (*Cache[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rescache: capacity must be positive, got %d", capacity)
	}
	if build == nil {
		return nil, fmt.Errorf("rescache: nil builder")
	}
	return &Cache[T]{
		entries:  make(map[string]*entry[T]),
		order:    list.New(),
		capacity: capacity,
		build:    build,
		release:  release,
		logger:   logger,
	}, nil
}

// GetOrBuild returns the cached resource for key, building it if absent.
// A failed build is never inserted; the next caller retries cleanly.
func (c *Cache[T]) GetOrBuild(ctx context.Context, key string) (T, error) {
	var zero T
	if key == "" {
		return zero, fmt.Errorf("rescache: empty key")
	}

	if v, ok, err := c.lookup(key); err != nil {
		return zero, err
	} else if ok {
		return v, nil
	}

	// Miss: coalesce concurrent builds of the same key. Other keys proceed
	// unblocked. The double check inside covers the caller that lost the
	// race to a build that just finished.
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok, err := c.lookup(key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}

		built, err := c.build(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := c.insert(key, built); err != nil {
			// Cache closed while building: release what we built.
			if c.release != nil {
				_ = c.release(key, built)
			}
			return nil, err
		}
		return built, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// lookup returns the cached value for key and marks it recently used.
func (c *Cache[T]) lookup(key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return zero, false, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		return zero, false, nil
	}
	e.lastUsed = time.Now()
	c.order.MoveToBack(e.element)
	return e.value, true, nil
}

func (c *Cache[T]) insert(key string, value T) error {
	var evicted []struct {
		key   string
		value T
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for len(c.entries) >= c.capacity {
		front := c.order.Front()
		if front == nil {
			break
		}
		oldKey := front.Value.(string)
		old := c.entries[oldKey]
		c.order.Remove(front)
		delete(c.entries, oldKey)
		evicted = append(evicted, struct {
			key   string
			value T
		}{oldKey, old.value})
	}
	elem := c.order.PushBack(key)
	c.entries[key] = &entry[T]{value: value, element: elem, lastUsed: time.Now()}
	c.mu.Unlock()

	for _, ev := range evicted {
		c.releaseEntry(ev.key, ev.value, "evicted")
	}
	return nil
}

// Invalidate removes the entry for key, releasing its resource. It returns
// true if an entry was present. Use it whenever the namespace backing a key
// changes: a stale entry under the old key must not stay reachable.
func (c *Cache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.releaseEntry(key, e.value, "invalidated")
	}
	return ok
}

func (c *Cache[T]) releaseEntry(key string, value T, reason string) {
	if c.release == nil {
		return
	}
	if err := c.release(key, value); err != nil && c.logger != nil {
		c.logger.Warn("resource release failed", "key", key, "reason", reason, "error", err)
	}
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether key is cached, without touching recency.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Close releases every cached resource and rejects further use. Safe to
// call multiple times.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remaining := c.entries
	c.entries = make(map[string]*entry[T])
	c.order.Init()
	c.mu.Unlock()

	var errs []error
	for key, e := range remaining {
		if c.release != nil {
			if err := c.release(key, e.value); err != nil {
				errs = append(errs, fmt.Errorf("releasing %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}
