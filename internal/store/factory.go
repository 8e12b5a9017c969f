// ABOUTME: Backend selection for the identity store based on configured driver
// ABOUTME: Supports sqlite (path) and postgres (dsn)

package store

import "fmt"

// Open creates an IdentityStore for the configured driver. sqlite takes a
// file path (or ":memory:"), postgres a DSN.
func Open(driver, target string) (IdentityStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(target)
	case "postgres":
		return NewPostgresStore(target)
	default:
		return nil, fmt.Errorf("unknown identity store driver %q", driver)
	}
}
