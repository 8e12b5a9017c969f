// ABOUTME: Tests for ambient thread identity propagation and fail-closed reads
// ABOUTME: Covers WithThread/Require/Detach plus isolation between contexts

package threadctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name       string
		channel    string
		externalID string
		want       ThreadID
		wantErr    bool
	}{
		{name: "telegram", channel: "telegram", externalID: "6282871705", want: "telegram:6282871705"},
		{name: "http conversation id", channel: "http", externalID: "c1f0a2", want: "http:c1f0a2"},
		{name: "trims whitespace", channel: " telegram ", externalID: " 42 ", want: "telegram:42"},
		{name: "empty channel", channel: "", externalID: "42", wantErr: true},
		{name: "empty external id", channel: "telegram", externalID: "", wantErr: true},
		{name: "whitespace external id", channel: "telegram", externalID: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compose(tt.channel, tt.externalID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThreadID_Channel(t *testing.T) {
	assert.Equal(t, "telegram", ThreadID("telegram:999888").Channel())
	assert.Equal(t, "", ThreadID("no-separator").Channel())
	assert.Equal(t, "", ThreadID(":leading").Channel())
}

func TestThreadID_Validate(t *testing.T) {
	assert.NoError(t, ThreadID("telegram:999888").Validate())
	assert.Error(t, ThreadID("").Validate())
	assert.Error(t, ThreadID("telegram:").Validate())
	assert.Error(t, ThreadID(":999888").Validate())
	assert.Error(t, ThreadID("bare").Validate())
}

func TestRequire_Absent(t *testing.T) {
	_, err := Require(context.Background())
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestRequire_Present(t *testing.T) {
	ctx := WithThread(context.Background(), "telegram:42")

	id, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThreadID("telegram:42"), id)
}

func TestFromContext_DoesNotLeakAcrossContexts(t *testing.T) {
	ctxA := WithThread(context.Background(), "telegram:a")
	ctxB := WithThread(context.Background(), "telegram:b")

	idA, _ := FromContext(ctxA)
	idB, _ := FromContext(ctxB)
	assert.Equal(t, ThreadID("telegram:a"), idA)
	assert.Equal(t, ThreadID("telegram:b"), idB)

	// A child context inherits only its own chain's identity.
	child := context.WithValue(ctxA, struct{ k string }{"other"}, 1)
	id, ok := FromContext(child)
	assert.True(t, ok)
	assert.Equal(t, ThreadID("telegram:a"), id)
}

func TestDetach_CopiesIdentityDropsCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := WithThread(parent, "http:abc")

	detached := Detach(ctx)
	cancel()

	// The detached context keeps the identity and is not cancelled.
	id, err := Require(detached)
	require.NoError(t, err)
	assert.Equal(t, ThreadID("http:abc"), id)
	assert.NoError(t, detached.Err())
}

func TestDetach_NoIdentity(t *testing.T) {
	detached := Detach(context.Background())
	_, err := Require(detached)
	assert.ErrorIs(t, err, ErrNoThread)
}
