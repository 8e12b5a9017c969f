// ABOUTME: Ambient thread identity carried through request processing via context.Context
// ABOUTME: Provides WithThread/FromContext/Require plus Detach for worker hand-off

package threadctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoThread is returned when an operation requires an ambient thread
// identity and none has been established. Callers must treat this as fatal
// to the current operation; substituting a default identity would let one
// user's request read another user's namespace.
var ErrNoThread = errors.New("threadctx: no thread identity in context")

// ThreadID identifies one conversation on one channel, in the form
// "<channel>:<external-id>" (e.g. "telegram:6282871705"). HTTP callers may
// supply an externally generated conversation id as the external part.
type ThreadID string

// Channel returns the channel prefix of the thread id, or "" if the id has
// no channel separator.
func (t ThreadID) Channel() string {
	if i := strings.IndexByte(string(t), ':'); i > 0 {
		return string(t)[:i]
	}
	return ""
}

// Validate checks that the thread id is well-formed: non-empty channel and
// non-empty external id.
func (t ThreadID) Validate() error {
	s := string(t)
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("threadctx: malformed thread id %q", s)
	}
	return nil
}

// Compose builds a ThreadID from a channel name and a caller-supplied
// external id. It never synthesizes an id from a constant: an empty channel
// or external id is an error.
func Compose(channel, externalID string) (ThreadID, error) {
	channel = strings.TrimSpace(channel)
	externalID = strings.TrimSpace(externalID)
	if channel == "" {
		return "", fmt.Errorf("threadctx: empty channel")
	}
	if externalID == "" {
		return "", fmt.Errorf("threadctx: empty external id")
	}
	return ThreadID(channel + ":" + externalID), nil
}

// threadKey is the key type for storing the ThreadID in context.Context.
type threadKey struct{}

// WithThread returns a new context carrying the given thread identity.
func WithThread(ctx context.Context, id ThreadID) context.Context {
	return context.WithValue(ctx, threadKey{}, id)
}

// FromContext retrieves the ambient thread identity, returning ("", false)
// if none is set.
func FromContext(ctx context.Context) (ThreadID, bool) {
	id, ok := ctx.Value(threadKey{}).(ThreadID)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Require retrieves the ambient thread identity and fails with ErrNoThread
// if it is absent. This is the single permitted way for tools and storage
// consumers to learn which namespace to use.
func Require(ctx context.Context) (ThreadID, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoThread
	}
	return id, nil
}

// Detach copies the ambient thread identity (if any) onto a fresh
// background context. Use it at every boundary that hands work to a
// goroutine outliving the request: the worker keeps the identity but not
// the request's cancellation, so a client disconnect cannot strand a
// half-finished migration.
func Detach(ctx context.Context) context.Context {
	id, ok := FromContext(ctx)
	if !ok {
		return context.Background()
	}
	return WithThread(context.Background(), id)
}
