// Package store provides durable persistence for the identity registry.
//
// # Architecture
//
// IdentityStore is the single interface; two backends implement it:
//
//   - SQLiteStore: the default, one file per deployment (modernc.org/sqlite)
//   - PostgresStore: for multi-instance deployments sharing one registry
//
// The store is the single source of truth for verification state. Races
// between concurrent operations are arbitrated here, not in the caches
// above: CreateIdentity relies on the thread_id uniqueness constraint
// (the loser of a concurrent create receives ErrDuplicateThread and
// re-reads the winner's row), and SetPendingCode/MarkVerified are guarded
// compare-and-swap updates that return ErrStateConflict when the row has
// already advanced.
//
// # Data Model
//
// One row per conversation thread:
//
//   - identity_id: deterministic, derived from the thread id, never changes
//   - thread_id, channel: provenance (unique per thread)
//   - verification_status: anonymous | pending | verified, monotonic
//   - verification_code / code_expires_at: present only while pending
//   - persistent_user_id / verified_at: set on promotion; the persistent
//     user id may be shared by many rows (merged threads) but a row maps
//     to at most one persistent user
//
// Timestamps are stored with explicit timezone (RFC3339 TEXT in SQLite,
// TIMESTAMPTZ in Postgres) so expiry comparisons are timezone-aware.
//
// # SQLite Configuration
//
// The SQLite backend uses WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Tests use ":memory:".
package store
