// ABOUTME: SQLite implementation of IdentityStore using modernc.org/sqlite
// ABOUTME: Provides identity persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements IdentityStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema
// is automatically created if it doesn't exist. Parent directories are
// created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			identity_id          TEXT PRIMARY KEY,
			thread_id            TEXT NOT NULL UNIQUE,
			channel              TEXT NOT NULL,
			verification_status  TEXT NOT NULL DEFAULT 'anonymous',
			verification_method  TEXT,
			verification_contact TEXT,
			verification_code    TEXT,
			code_expires_at      TEXT,
			persistent_user_id   TEXT,
			verified_at          TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,

			CHECK (verification_status IN ('anonymous', 'pending', 'verified'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_thread
			ON identities(thread_id);

		CREATE INDEX IF NOT EXISTS idx_identities_persistent_user
			ON identities(persistent_user_id);

		CREATE INDEX IF NOT EXISTS idx_identities_status
			ON identities(verification_status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('identities') WHERE name = 'verified_at'`,
			apply:  `ALTER TABLE identities ADD COLUMN verified_at TEXT`,
			column: "verified_at",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('identities') WHERE name = 'verification_method'`,
			apply:  `ALTER TABLE identities ADD COLUMN verification_method TEXT`,
			column: "verification_method",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to identities: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "identities")
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateIdentity inserts a new identity row. Returns ErrDuplicateThread if
// an identity already exists for the thread (or the identity id).
func (s *SQLiteStore) CreateIdentity(ctx context.Context, id *Identity) error {
	query := `
		INSERT INTO identities (
			identity_id, thread_id, channel, verification_status,
			verification_method, verification_contact, verification_code,
			code_expires_at, persistent_user_id, verified_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		id.IdentityID,
		id.ThreadID,
		id.Channel,
		string(id.Status),
		nullString(id.VerificationMethod),
		nullString(id.VerificationContact),
		nullString(id.VerificationCode),
		nullTime(id.CodeExpiresAt),
		nullStringPtr(id.PersistentUserID),
		nullTime(id.VerifiedAt),
		id.CreatedAt.UTC().Format(time.RFC3339),
		id.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	s.logger.Debug("created identity", "identity_id", id.IdentityID, "thread_id", id.ThreadID)
	return nil
}

const identityColumns = `
	identity_id, thread_id, channel, verification_status,
	verification_method, verification_contact, verification_code,
	code_expires_at, persistent_user_id, verified_at, created_at, updated_at
`

// GetIdentityByThread retrieves the identity for a thread id.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetIdentityByThread(ctx context.Context, threadID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE thread_id = ?`, threadID)
	return scanIdentity(row)
}

// GetIdentityByID retrieves an identity by its identity_id.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetIdentityByID(ctx context.Context, identityID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE identity_id = ?`, identityID)
	return scanIdentity(row)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var id Identity
	var status, createdAt, updatedAt string
	var method, contact, code, codeExpires, persistentUser, verifiedAt sql.NullString

	err := row.Scan(
		&id.IdentityID, &id.ThreadID, &id.Channel, &status,
		&method, &contact, &code, &codeExpires,
		&persistentUser, &verifiedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning identity: %w", err)
	}

	id.Status = VerificationStatus(status)
	if method.Valid {
		id.VerificationMethod = method.String
	}
	if contact.Valid {
		id.VerificationContact = contact.String
	}
	if code.Valid {
		id.VerificationCode = code.String
	}
	if codeExpires.Valid {
		t, err := time.Parse(time.RFC3339, codeExpires.String)
		if err != nil {
			return nil, fmt.Errorf("parsing code_expires_at: %w", err)
		}
		id.CodeExpiresAt = &t
	}
	if persistentUser.Valid {
		id.PersistentUserID = &persistentUser.String
	}
	if verifiedAt.Valid {
		t, err := time.Parse(time.RFC3339, verifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing verified_at: %w", err)
		}
		id.VerifiedAt = &t
	}

	id.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	id.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &id, nil
}

// SetPendingCode stores a fresh single-use code and transitions to pending.
// Any prior unconsumed code is overwritten. The guard refuses rows that are
// already verified.
func (s *SQLiteStore) SetPendingCode(ctx context.Context, identityID, method, contact, code string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET verification_status = ?, verification_method = ?, verification_contact = ?,
		    verification_code = ?, code_expires_at = ?, updated_at = ?
		WHERE identity_id = ? AND verification_status != ?
	`, string(StatusPending), method, contact, code,
		expiresAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		identityID, string(StatusVerified))
	if err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Either the row is gone or it is already verified.
		if _, err := s.GetIdentityByID(ctx, identityID); err != nil {
			return err
		}
		return ErrStateConflict
	}

	s.logger.Debug("stored verification code", "identity_id", identityID, "method", method)
	return nil
}

// MarkVerified performs the guarded pending->verified transition: assigns
// the persistent user id, clears the code, and stamps verified_at. Exactly
// one of two concurrent callers wins; the other gets ErrStateConflict.
func (s *SQLiteStore) MarkVerified(ctx context.Context, identityID, persistentUserID string, verifiedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET verification_status = ?, persistent_user_id = ?, verified_at = ?,
		    verification_code = NULL, code_expires_at = NULL, updated_at = ?
		WHERE identity_id = ? AND verification_status != ?
	`, string(StatusVerified), persistentUserID,
		verifiedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		identityID, string(StatusVerified))
	if err != nil {
		return fmt.Errorf("marking identity verified: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetIdentityByID(ctx, identityID); err != nil {
			return err
		}
		return ErrStateConflict
	}

	s.logger.Info("identity verified", "identity_id", identityID, "persistent_user_id", persistentUserID)
	return nil
}

// ListByPersistentUser returns every identity merged into one account,
// oldest first.
func (s *SQLiteStore) ListByPersistentUser(ctx context.Context, persistentUserID string) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE persistent_user_id = ? ORDER BY created_at ASC`,
		persistentUserID)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity rows: %w", err)
	}
	return identities, nil
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// Ensure SQLiteStore implements IdentityStore.
var _ IdentityStore = (*SQLiteStore)(nil)
