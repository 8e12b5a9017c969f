// ABOUTME: Deterministic mapping from identity keys to isolated storage roots
// ABOUTME: Handles key sanitization, layout versioning with fallback, and sub-areas

package namespace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Area names the fixed sub-areas of every namespace.
type Area string

const (
	AreaFiles     Area = "files"     // user files
	AreaDB        Area = "db"        // tabular sqlite databases
	AreaKB        Area = "kb"        // full-text / vector collections
	AreaMem       Area = "mem"       // key/value memory
	AreaPlan      Area = "plan"      // plan documents
	AreaInstincts Area = "instincts" // learned behavioral patterns
)

// Areas lists every sub-area in a stable order.
var Areas = []Area{AreaFiles, AreaDB, AreaKB, AreaMem, AreaPlan, AreaInstincts}

// keySanitizer replaces characters that are unsafe as a path segment.
// Channel ids are expected to be well-formed; defending against arbitrary
// Unicode collisions is an explicit non-goal.
var keySanitizer = strings.NewReplacer(":", "_", "/", "_", "\\", "_", "@", "_")

// SanitizeKey converts an identity key into a filesystem-safe path segment.
func SanitizeKey(key string) string {
	return keySanitizer.Replace(key)
}

// legacyDirName is the subdirectory a previous storage layout nested all
// namespaces under. Resolution falls back to it when a namespace exists
// there but not in the current flat layout, so data does not appear lost
// after the layout migration.
const legacyDirName = "namespaces"

// Resolver maps identity keys (anonymous identity_id or persistent_user_id)
// to namespace roots under a single base directory. Resolution is pure and
// deterministic; directories are only created by Namespace.Ensure.
type Resolver struct {
	base string
}

// NewResolver creates a resolver rooted at base. The base directory itself
// is created eagerly so that layout probing has a stable anchor.
func NewResolver(base string) (*Resolver, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("namespace: empty base directory")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("namespace: creating base directory: %w", err)
	}
	return &Resolver{base: base}, nil
}

// Base returns the resolver's base directory.
func (r *Resolver) Base() string { return r.base }

// Resolve maps an identity key to its namespace. The current layout places
// each namespace at <base>/<sanitized-key>; if that directory does not
// exist but the legacy <base>/namespaces/<sanitized-key> does, the legacy
// path is used.
func (r *Resolver) Resolve(key string) (*Namespace, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("namespace: empty key")
	}
	dir := resolveDir(r.base, key, dirExists)
	return &Namespace{key: key, dir: dir}, nil
}

// resolveDir is the layout decision as a pure function of the key and an
// existence check, so the fallback order is testable without a filesystem.
func resolveDir(base, key string, exists func(string) bool) string {
	san := SanitizeKey(key)
	current := filepath.Join(base, san)
	legacy := filepath.Join(base, legacyDirName, san)
	if !exists(current) && exists(legacy) {
		return legacy
	}
	return current
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Namespace is one identity's isolated storage root.
type Namespace struct {
	key string
	dir string
}

// Key returns the identity key this namespace was resolved for.
func (n *Namespace) Key() string { return n.key }

// Dir returns the namespace root directory.
func (n *Namespace) Dir() string { return n.dir }

// AreaDir returns the directory of one sub-area.
func (n *Namespace) AreaDir(a Area) string {
	return filepath.Join(n.dir, string(a))
}

// DatabaseFile returns the path of a named tabular database in the db area.
func (n *Namespace) DatabaseFile(name string) string {
	return filepath.Join(n.AreaDir(AreaDB), name+".sqlite")
}

// Exists reports whether the namespace root has been materialized.
func (n *Namespace) Exists() bool {
	return dirExists(n.dir)
}

// Ensure creates the namespace root and every sub-area. Creation is
// idempotent and never destructive.
func (n *Namespace) Ensure() error {
	for _, a := range Areas {
		if err := os.MkdirAll(n.AreaDir(a), 0o755); err != nil {
			return fmt.Errorf("namespace: creating %s area: %w", a, err)
		}
	}
	return nil
}

// EnsureArea creates a single sub-area on first use.
func (n *Namespace) EnsureArea(a Area) (string, error) {
	dir := n.AreaDir(a)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("namespace: creating %s area: %w", a, err)
	}
	return dir, nil
}
