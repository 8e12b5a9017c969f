// ABOUTME: Per-namespace inventory file tracking counts and names of stored items
// ABOUTME: TOML-encoded, rebuilt by rescanning the files/db/kb areas

package namespace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// InventoryFileName is the inventory's file name inside the namespace root.
const InventoryFileName = "inventory.toml"

// AreaInventory lists the tracked items of one storage area.
type AreaInventory struct {
	Count int      `toml:"count"`
	Names []string `toml:"names"`
}

// Inventory summarizes a namespace's contents so listings do not need to
// rescan the whole tree. It is rewritten on every observed write, rename,
// or delete under the namespace root.
type Inventory struct {
	UpdatedAt   time.Time     `toml:"updated_at"`
	Files       AreaInventory `toml:"files"`
	Tables      AreaInventory `toml:"tables"`
	Collections AreaInventory `toml:"collections"`
}

// Path returns the inventory file location for a namespace.
func (n *Namespace) InventoryPath() string {
	return filepath.Join(n.dir, InventoryFileName)
}

// LoadInventory reads the namespace's inventory file. A missing file yields
// an empty inventory, not an error.
func (n *Namespace) LoadInventory() (*Inventory, error) {
	var inv Inventory
	if _, err := toml.DecodeFile(n.InventoryPath(), &inv); err != nil {
		if os.IsNotExist(err) {
			return &Inventory{}, nil
		}
		return nil, fmt.Errorf("namespace: decoding inventory: %w", err)
	}
	return &inv, nil
}

// RefreshInventory rescans the files, db, and kb areas and rewrites the
// inventory file. Safe to call on a namespace that was never materialized.
func (n *Namespace) RefreshInventory() (*Inventory, error) {
	if !n.Exists() {
		return &Inventory{}, nil
	}

	inv := &Inventory{UpdatedAt: time.Now().UTC()}

	var err error
	if inv.Files, err = scanArea(n.AreaDir(AreaFiles), nil); err != nil {
		return nil, err
	}
	if inv.Tables, err = scanArea(n.AreaDir(AreaDB), trimSuffix(".sqlite")); err != nil {
		return nil, err
	}
	if inv.Collections, err = scanArea(n.AreaDir(AreaKB), nil); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(n.dir, ".inventory-*")
	if err != nil {
		return nil, fmt.Errorf("namespace: writing inventory: %w", err)
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(inv); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("namespace: encoding inventory: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("namespace: writing inventory: %w", err)
	}
	// Rename so readers never see a half-written inventory.
	if err := os.Rename(f.Name(), n.InventoryPath()); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("namespace: replacing inventory: %w", err)
	}
	return inv, nil
}

// scanArea lists the entries of one area directory, applying an optional
// name transform. A missing directory yields an empty inventory.
func scanArea(dir string, transform func(string) string) (AreaInventory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return AreaInventory{Names: []string{}}, nil
		}
		return AreaInventory{}, fmt.Errorf("namespace: scanning %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if transform != nil {
			name = transform(name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return AreaInventory{Count: len(names), Names: names}, nil
}

func trimSuffix(suffix string) func(string) string {
	return func(s string) string { return strings.TrimSuffix(s, suffix) }
}
