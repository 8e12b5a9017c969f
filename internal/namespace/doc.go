// Package namespace maps identity keys to isolated storage roots.
//
// A Resolver deterministically turns an identity key (an anonymous
// identity_id before merge, a persistent_user_id after) into a Namespace:
// one directory holding the fixed sub-areas files/, db/, kb/, mem/, plan/,
// and instincts/. Keys are sanitized for path use by replacing ':', '/',
// '\' and '@' with '_'; two well-formed channel ids never collide under
// this scheme, and defending arbitrary Unicode collisions is a non-goal.
//
// Resolution is layout-versioned: the current layout is <base>/<key>, with
// a documented fallback to the legacy <base>/namespaces/<key> location when
// only the latter exists, so namespaces created before the layout change do
// not appear empty.
//
// Each namespace carries an inventory.toml summarizing tracked files,
// tables, and collections. RefreshInventory rebuilds it by rescanning; a
// Watcher keeps it current for out-of-band writes via fsnotify.
//
// Directory creation is lazy, idempotent, and never destructive: a merge
// moves content out of a namespace but never deletes the namespace itself.
package namespace
