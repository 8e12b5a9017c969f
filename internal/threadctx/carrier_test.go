// ABOUTME: Tests for the carrier fallback table used at context-less boundaries
// ABOUTME: Validates bind/resume round trips, release semantics, and fail-closed binds

package threadctx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarrier_BindResume(t *testing.T) {
	c := NewCarrier()
	ctx := WithThread(context.Background(), "telegram:999888")

	token, release, err := c.Bind(ctx)
	require.NoError(t, err)
	defer release()

	resumed, err := c.Resume(token)
	require.NoError(t, err)

	id, err := Require(resumed)
	require.NoError(t, err)
	assert.Equal(t, ThreadID("telegram:999888"), id)
}

func TestCarrier_BindWithoutIdentity(t *testing.T) {
	c := NewCarrier()

	_, _, err := c.Bind(context.Background())
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestCarrier_ResumeAfterRelease(t *testing.T) {
	c := NewCarrier()
	ctx := WithThread(context.Background(), "http:conv1")

	token, release, err := c.Bind(ctx)
	require.NoError(t, err)

	release()
	release() // idempotent

	_, err = c.Resume(token)
	assert.ErrorIs(t, err, ErrNoThread)
	assert.Equal(t, 0, c.Len())
}

func TestCarrier_ResumeUnknownToken(t *testing.T) {
	c := NewCarrier()

	_, err := c.Resume("nope")
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestCarrier_DistinctBindingsStayDistinct(t *testing.T) {
	c := NewCarrier()

	tokA, relA, err := c.Bind(WithThread(context.Background(), "telegram:a"))
	require.NoError(t, err)
	defer relA()
	tokB, relB, err := c.Bind(WithThread(context.Background(), "telegram:b"))
	require.NoError(t, err)
	defer relB()

	ctxA, err := c.Resume(tokA)
	require.NoError(t, err)
	ctxB, err := c.Resume(tokB)
	require.NoError(t, err)

	idA, _ := FromContext(ctxA)
	idB, _ := FromContext(ctxB)
	assert.Equal(t, ThreadID("telegram:a"), idA)
	assert.Equal(t, ThreadID("telegram:b"), idB)
}

func TestCarrier_ConcurrentBindRelease(t *testing.T) {
	c := NewCarrier()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx := WithThread(context.Background(), ThreadID("telegram:concurrent"))
			token, release, err := c.Bind(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := c.Resume(token); err != nil {
				t.Error(err)
			}
			release()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, c.Len())
}

func TestCarrier_Close(t *testing.T) {
	c := NewCarrier()
	ctx := WithThread(context.Background(), "telegram:x")

	token, _, err := c.Bind(ctx)
	require.NoError(t, err)

	c.Close()

	_, err = c.Resume(token)
	assert.ErrorIs(t, err, ErrNoThread)

	_, _, err = c.Bind(ctx)
	assert.ErrorIs(t, err, ErrNoThread)
}
