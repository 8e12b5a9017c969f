// ABOUTME: Migrates namespaced content from an anonymous identity to a persistent one
// ABOUTME: Per-item best-effort moves with conflict renaming and aggregate reporting

package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/2389/hearth/internal/namespace"
)

// Conflict records an item that had to be renamed because the target
// account already held unrelated data under the same name.
type Conflict struct {
	Area      namespace.Area
	Name      string
	RenamedTo string
}

// ItemError records a single item that failed to move. Item failures do
// not abort the remaining items.
type ItemError struct {
	Area namespace.Area
	Name string
	Err  string
}

// Result aggregates what one migration moved.
type Result struct {
	FilesMoved       []string
	DatabasesMoved   []string
	CollectionsMoved []string
	ConflictsRenamed []Conflict
	ItemErrors       []ItemError
}

// Empty reports whether the migration moved nothing and hit no conflicts.
func (r *Result) Empty() bool {
	return len(r.FilesMoved) == 0 && len(r.DatabasesMoved) == 0 &&
		len(r.CollectionsMoved) == 0 && len(r.ConflictsRenamed) == 0
}

// InvalidateFunc is called after a successful migration with the old
// namespace key so caches can evict entries that would otherwise keep
// serving the moved-away identity.
type InvalidateFunc func(oldKey string)

// Engine moves all namespaced content from a source key (anonymous
// identity) to a target key (persistent user). The migration is best-effort
// atomic per item, not across the namespace: re-running after an
// interruption simply skips items that already moved.
type Engine struct {
	resolver   *namespace.Resolver
	logger     *slog.Logger
	invalidate []InvalidateFunc
}

// NewEngine creates a merge engine over the given resolver.
func NewEngine(resolver *namespace.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		logger:   logger.With("component", "merge"),
	}
}

// OnInvalidate registers a cache invalidation hook. Hooks run after every
// successful migration, in registration order.
func (e *Engine) OnInvalidate(fn InvalidateFunc) {
	e.invalidate = append(e.invalidate, fn)
}

// Migrate moves every item under the source namespace into the target
// namespace. A source that was never materialized (or already drained)
// yields an empty result. Failure to create the target root aborts the
// whole operation; individual item failures are collected in the result.
func (e *Engine) Migrate(ctx context.Context, sourceKey, targetKey string) (*Result, error) {
	if sourceKey == targetKey {
		return nil, fmt.Errorf("merge: source and target keys are identical (%s)", sourceKey)
	}

	source, err := e.resolver.Resolve(sourceKey)
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.Resolve(targetKey)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	if !source.Exists() {
		e.logger.Debug("nothing to migrate", "source", sourceKey)
		return result, nil
	}

	if err := target.Ensure(); err != nil {
		return nil, fmt.Errorf("merge: creating target namespace: %w", err)
	}

	for _, area := range namespace.Areas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.migrateArea(source, target, area, result)
	}

	if _, err := source.RefreshInventory(); err != nil {
		e.logger.Warn("source inventory refresh failed", "source", sourceKey, "error", err)
	}
	if _, err := target.RefreshInventory(); err != nil {
		e.logger.Warn("target inventory refresh failed", "target", targetKey, "error", err)
	}

	for _, fn := range e.invalidate {
		fn(sourceKey)
	}

	e.logger.Info("namespace migrated",
		"source", sourceKey,
		"target", targetKey,
		"files", len(result.FilesMoved),
		"databases", len(result.DatabasesMoved),
		"collections", len(result.CollectionsMoved),
		"conflicts", len(result.ConflictsRenamed),
		"errors", len(result.ItemErrors),
	)
	return result, nil
}

// migrateArea moves every entry of one sub-area. Missing source areas are
// skipped; the target area is created on demand.
func (e *Engine) migrateArea(source, target *namespace.Namespace, area namespace.Area, result *Result) {
	srcDir := source.AreaDir(area)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.ItemErrors = append(result.ItemErrors, ItemError{Area: area, Name: ".", Err: err.Error()})
		}
		return
	}

	dstDir, err := target.EnsureArea(area)
	if err != nil {
		result.ItemErrors = append(result.ItemErrors, ItemError{Area: area, Name: ".", Err: err.Error()})
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		finalName, renamed := disambiguate(dstDir, name)
		if err := moveItem(filepath.Join(srcDir, name), filepath.Join(dstDir, finalName)); err != nil {
			result.ItemErrors = append(result.ItemErrors, ItemError{Area: area, Name: name, Err: err.Error()})
			continue
		}
		if renamed {
			result.ConflictsRenamed = append(result.ConflictsRenamed, Conflict{
				Area: area, Name: name, RenamedTo: finalName,
			})
		}
		result.record(area, finalName)
	}
}

// record files an item under the right result bucket. Databases are
// reported by table name, collections by directory name; everything else
// counts as a file, prefixed by its area for non-files areas.
func (r *Result) record(area namespace.Area, name string) {
	switch area {
	case namespace.AreaDB:
		r.DatabasesMoved = append(r.DatabasesMoved, strings.TrimSuffix(name, ".sqlite"))
	case namespace.AreaKB:
		r.CollectionsMoved = append(r.CollectionsMoved, name)
	case namespace.AreaFiles:
		r.FilesMoved = append(r.FilesMoved, name)
	default:
		r.FilesMoved = append(r.FilesMoved, string(area)+"/"+name)
	}
}

// disambiguate picks a target name that does not collide with existing
// content, suffixing "_merged", "_merged2", ... before the extension.
func disambiguate(dstDir, name string) (string, bool) {
	if !pathExists(filepath.Join(dstDir, name)) {
		return name, false
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		suffix := "_merged"
		if i > 1 {
			suffix = fmt.Sprintf("_merged%d", i)
		}
		candidate := base + suffix + ext
		if !pathExists(filepath.Join(dstDir, candidate)) {
			return candidate, true
		}
	}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// moveItem moves one file or directory, preferring an atomic rename and
// falling back to copy-then-delete when source and target sit on
// different volumes.
func moveItem(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	info, statErr := os.Stat(src)
	if statErr != nil {
		return statErr
	}
	if info.IsDir() {
		if err := copyDir(src, dst); err != nil {
			return err
		}
	} else {
		if err := copyFile(src, dst, info.Mode()); err != nil {
			return err
		}
	}
	return os.RemoveAll(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, targetPath, info.Mode())
	})
}
