// ABOUTME: Tests for key sanitization, layout fallback, and namespace isolation
// ABOUTME: Verifies disjoint roots for distinct keys and idempotent area creation

package namespace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "telegram thread", key: "telegram:6282871705", want: "telegram_6282871705"},
		{name: "anonymous identity", key: "anon_telegram_999888", want: "anon_telegram_999888"},
		{name: "email contact", key: "user@example.com", want: "user_example.com"},
		{name: "slashes", key: "a/b\\c", want: "a_b_c"},
		{name: "clean key untouched", key: "user-f3a1", want: "user-f3a1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeKey(tt.key))
		})
	}
}

func TestResolver_DisjointRootsForDistinctKeys(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)

	a, err := r.Resolve("anon_telegram_111")
	require.NoError(t, err)
	b, err := r.Resolve("anon_telegram_222")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir(), b.Dir())
	assert.NotContains(t, a.Dir(), b.Dir())
	assert.NotContains(t, b.Dir(), a.Dir())
}

func TestResolver_Deterministic(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)

	first, err := r.Resolve("anon_telegram_999888")
	require.NoError(t, err)
	second, err := r.Resolve("anon_telegram_999888")
	require.NoError(t, err)

	assert.Equal(t, first.Dir(), second.Dir())
}

func TestResolver_EmptyKey(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)

	_, err = r.Resolve("")
	assert.Error(t, err)
	_, err = r.Resolve("   ")
	assert.Error(t, err)
}

func TestResolveDir_LayoutFallback(t *testing.T) {
	// Pure-function layout decision: existence is injected, no filesystem.
	tests := []struct {
		name     string
		existing map[string]bool
		want     string
	}{
		{
			name:     "neither exists: current layout wins",
			existing: map[string]bool{},
			want:     filepath.Join("/base", "anon_tg_1"),
		},
		{
			name:     "only legacy exists: fall back",
			existing: map[string]bool{filepath.Join("/base", "namespaces", "anon_tg_1"): true},
			want:     filepath.Join("/base", "namespaces", "anon_tg_1"),
		},
		{
			name: "both exist: current layout wins",
			existing: map[string]bool{
				filepath.Join("/base", "anon_tg_1"):                true,
				filepath.Join("/base", "namespaces", "anon_tg_1"): true,
			},
			want: filepath.Join("/base", "anon_tg_1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveDir("/base", "anon_tg_1", func(p string) bool { return tt.existing[p] })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_LegacyNamespaceNotLost(t *testing.T) {
	base := t.TempDir()

	// Materialize a namespace only in the legacy location.
	legacyDir := filepath.Join(base, "namespaces", "anon_telegram_42")
	require.NoError(t, os.MkdirAll(filepath.Join(legacyDir, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "files", "notes.txt"), []byte("hi"), 0o644))

	r, err := NewResolver(base)
	require.NoError(t, err)

	ns, err := r.Resolve("anon_telegram_42")
	require.NoError(t, err)
	assert.Equal(t, legacyDir, ns.Dir())

	data, err := os.ReadFile(filepath.Join(ns.AreaDir(AreaFiles), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestNamespace_EnsureIdempotent(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)

	ns, err := r.Resolve("anon_http_abc")
	require.NoError(t, err)
	assert.False(t, ns.Exists())

	require.NoError(t, ns.Ensure())
	assert.True(t, ns.Exists())

	// A second Ensure must not disturb existing content.
	path := filepath.Join(ns.AreaDir(AreaFiles), "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))
	require.NoError(t, ns.Ensure())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	for _, a := range Areas {
		info, err := os.Stat(ns.AreaDir(a))
		require.NoError(t, err, "area %s", a)
		assert.True(t, info.IsDir())
	}
}

func TestNamespace_DatabaseFile(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)

	ns, err := r.Resolve("user-1234")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ns.AreaDir(AreaDB), "ledger.sqlite"), ns.DatabaseFile("ledger"))
}
