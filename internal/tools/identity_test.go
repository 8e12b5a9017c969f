// ABOUTME: Tests for the identity tool pack
// ABOUTME: Drives the full verify-and-merge flow through the tool surface

package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/merge"
	"github.com/2389/hearth/internal/namespace"
	"github.com/2389/hearth/internal/store"
	"github.com/2389/hearth/internal/threadctx"
)

type testEnv struct {
	registry *Registry
	store    *store.SQLiteStore
	resolver *namespace.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(dir, "identities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	resolver, err := namespace.NewResolver(filepath.Join(dir, "spaces"))
	require.NoError(t, err)

	svc := identity.NewService(st, merge.NewEngine(resolver, logger), logger)
	registry := NewRegistry()
	require.NoError(t, registry.Register(IdentityPack(svc)))
	return &testEnv{registry: registry, store: st, resolver: resolver}
}

func (e *testEnv) invoke(t *testing.T, ctx context.Context, tool, input string) map[string]any {
	t.Helper()
	raw, err := e.registry.Invoke(ctx, tool, json.RawMessage(input))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (e *testEnv) storedCode(t *testing.T, threadID string) string {
	t.Helper()
	ident, err := e.store.GetIdentityByThread(context.Background(), threadID)
	require.NoError(t, err)
	require.NotEmpty(t, ident.VerificationCode)
	return ident.VerificationCode
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	env := newTestEnv(t)
	err := env.registry.Register(&Pack{
		ID:    "other",
		Tools: []*Tool{{Name: "get_my_identity"}},
	})
	assert.Error(t, err)
}

func TestInvoke_UnknownTool(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Invoke(context.Background(), "nonexistent", nil)
	assert.Error(t, err)
}

func TestTools_RequireThreadIdentity(t *testing.T) {
	env := newTestEnv(t)
	// No ambient identity: every identity tool fails closed.
	_, err := env.registry.Invoke(context.Background(), "get_my_identity", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, threadctx.ErrNoThread)

	_, err = env.registry.Invoke(context.Background(), "request_identity_merge",
		json.RawMessage(`{"method":"email","contact":"a@example.com"}`))
	assert.ErrorIs(t, err, threadctx.ErrNoThread)
}

// TestVerificationFlow walks one thread through the whole lifecycle:
// anonymous, pending with a delivered code, verified with the namespace
// migrated, then rejected replays and cross-account merge attempts.
func TestVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := threadctx.WithThread(context.Background(), "telegram:999888")

	// Fresh thread starts anonymous with no account.
	me := env.invoke(t, ctx, "get_my_identity", `{}`)
	assert.Equal(t, "anonymous", me["status"])
	assert.Equal(t, "anon_telegram_999888", me["identity_id"])
	assert.NotContains(t, me, "persistent_user_id")

	// Requesting a merge issues a code and moves to pending.
	sent := env.invoke(t, ctx, "request_identity_merge",
		`{"method":"email","contact":"test@example.com"}`)
	assert.Equal(t, "code_sent", sent["status"])
	assert.EqualValues(t, 15, sent["expires_in_minutes"])

	me = env.invoke(t, ctx, "get_my_identity", `{}`)
	assert.Equal(t, "pending", me["status"])

	// Seed a file in the anonymous namespace before confirming.
	ns, err := env.resolver.Resolve("anon_telegram_999888")
	require.NoError(t, err)
	require.NoError(t, ns.Ensure())
	require.NoError(t, os.WriteFile(
		filepath.Join(ns.AreaDir(namespace.AreaFiles), "draft.txt"), []byte("keep me"), 0o644))

	// Wrong code is a recoverable rejection, not an error.
	rej := env.invoke(t, ctx, "confirm_identity_merge", `{"code":"000000"}`)
	assert.Equal(t, "rejected", rej["status"])
	assert.Equal(t, "mismatch", rej["reason"])

	// The real code (delivered out of band) verifies and migrates.
	code := env.storedCode(t, "telegram:999888")
	confirmed := env.invoke(t, ctx, "confirm_identity_merge", `{"code":"`+code+`"}`)
	assert.Equal(t, "verified", confirmed["status"])
	userID, _ := confirmed["persistent_user_id"].(string)
	require.NotEmpty(t, userID)
	assert.EqualValues(t, 1, confirmed["files_moved"])

	userNS, err := env.resolver.Resolve(userID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(userNS.AreaDir(namespace.AreaFiles), "draft.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))

	me = env.invoke(t, ctx, "get_my_identity", `{}`)
	assert.Equal(t, "verified", me["status"])
	assert.Equal(t, "anon_telegram_999888", me["identity_id"])
	assert.Equal(t, userID, me["persistent_user_id"])

	// Replaying the spent code is rejected with no_code but still names
	// the account it belonged to.
	replay := env.invoke(t, ctx, "confirm_identity_merge", `{"code":"`+code+`"}`)
	assert.Equal(t, "rejected", replay["status"])
	assert.Equal(t, "no_code", replay["reason"])
	assert.Equal(t, userID, replay["persistent_user_id"])

	// A thread verified under a different account cannot be folded in.
	otherCtx := threadctx.WithThread(context.Background(), "discord:31337")
	env.invoke(t, otherCtx, "request_identity_merge",
		`{"method":"email","contact":"other@example.com"}`)
	otherCode := env.storedCode(t, "discord:31337")
	env.invoke(t, otherCtx, "confirm_identity_merge", `{"code":"`+otherCode+`"}`)

	folded := env.invoke(t, ctx, "merge_additional_identity",
		`{"other_thread_id":"discord:31337"}`)
	assert.Equal(t, "rejected", folded["status"])
	assert.Equal(t, "target_already_merged_elsewhere", folded["reason"])
}

func TestMergeAdditionalTool(t *testing.T) {
	env := newTestEnv(t)
	ctx := threadctx.WithThread(context.Background(), "telegram:100")

	env.invoke(t, ctx, "request_identity_merge",
		`{"method":"email","contact":"me@example.com"}`)
	code := env.storedCode(t, "telegram:100")
	confirmed := env.invoke(t, ctx, "confirm_identity_merge", `{"code":"`+code+`"}`)
	userID := confirmed["persistent_user_id"]

	// Unknown target thread.
	rej := env.invoke(t, ctx, "merge_additional_identity",
		`{"other_thread_id":"signal:555"}`)
	assert.Equal(t, "rejected", rej["status"])
	assert.Equal(t, "target_not_found", rej["reason"])

	// Known anonymous target folds in, carrying its files along.
	other := env.invoke(t, threadctx.WithThread(context.Background(), "signal:555"),
		"get_my_identity", `{}`)
	assert.Equal(t, "anonymous", other["status"])

	otherNS, err := env.resolver.Resolve("anon_signal_555")
	require.NoError(t, err)
	require.NoError(t, otherNS.Ensure())
	require.NoError(t, os.WriteFile(
		filepath.Join(otherNS.AreaDir(namespace.AreaFiles), "notes.txt"), []byte("mine"), 0o644))

	merged := env.invoke(t, ctx, "merge_additional_identity",
		`{"other_thread_id":"signal:555"}`)
	assert.Equal(t, "merged", merged["status"])
	assert.Equal(t, userID, merged["persistent_user_id"])
	assert.Equal(t, "signal:555", merged["merged_thread"])
	assert.EqualValues(t, 1, merged["files_moved"])
	assert.EqualValues(t, 0, merged["conflicts_renamed"])

	me := env.invoke(t, ctx, "get_my_identity", `{}`)
	threads, ok := me["threads"].([]any)
	require.True(t, ok)
	assert.Len(t, threads, 2)
}
