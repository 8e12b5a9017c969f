// ABOUTME: Keyed fallback table for propagating thread identity across boundaries
// ABOUTME: that cannot carry a context.Context (timer callbacks, foreign schedulers)

package threadctx

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Carrier is the fallback propagation table. The common path is a
// context.Context value; Carrier covers execution boundaries where no
// context parameter can travel, e.g. a callback registered with a
// third-party scheduler. Bind captures the current identity under an opaque
// token at hand-off time; Resume rebuilds a context from the token inside
// the callback.
//
// Entries live until released. A token is single-owner: the binder is
// responsible for calling the release func exactly once.
type Carrier struct {
	mu     sync.RWMutex
	bound  map[string]ThreadID
	closed bool
}

// NewCarrier creates an empty carrier table.
func NewCarrier() *Carrier {
	return &Carrier{bound: make(map[string]ThreadID)}
}

// Bind captures the ambient thread identity from ctx under a fresh token.
// It returns ErrNoThread if ctx carries no identity: binding nothing would
// silently produce identity-less callbacks later, which is exactly the
// failure mode this package exists to prevent.
func (c *Carrier) Bind(ctx context.Context) (token string, release func(), err error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", nil, ErrNoThread
	}

	token = uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, ErrNoThread
	}
	c.bound[token] = id

	var once sync.Once
	release = func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.bound, token)
			c.mu.Unlock()
		})
	}
	return token, release, nil
}

// Resume returns a background-derived context carrying the identity bound
// under token, or ErrNoThread if the token is unknown or already released.
func (c *Carrier) Resume(token string) (context.Context, error) {
	c.mu.RLock()
	id, ok := c.bound[token]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNoThread
	}
	return WithThread(context.Background(), id), nil
}

// Len reports the number of live bindings. Useful for leak checks in tests.
func (c *Carrier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bound)
}

// Close drops every binding and rejects further Bind calls.
func (c *Carrier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.bound = make(map[string]ThreadID)
}
