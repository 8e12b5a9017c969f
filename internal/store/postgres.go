// ABOUTME: PostgreSQL implementation of IdentityStore using lib/pq
// ABOUTME: Mirrors the SQLite store for deployments with a shared registry

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// pgTime returns nil for nil times, otherwise the time in UTC.
func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// PostgresStore implements IdentityStore against PostgreSQL, for
// deployments where several gateway instances share one identity registry.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection for the given DSN and ensures the
// schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			identity_id          TEXT PRIMARY KEY,
			thread_id            TEXT NOT NULL UNIQUE,
			channel              TEXT NOT NULL,
			verification_status  TEXT NOT NULL DEFAULT 'anonymous'
				CHECK (verification_status IN ('anonymous', 'pending', 'verified')),
			verification_method  TEXT,
			verification_contact TEXT,
			verification_code    TEXT,
			code_expires_at      TIMESTAMPTZ,
			persistent_user_id   TEXT,
			verified_at          TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_identities_persistent_user
			ON identities(persistent_user_id);

		CREATE INDEX IF NOT EXISTS idx_identities_status
			ON identities(verification_status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// CreateIdentity inserts a new identity row.
func (s *PostgresStore) CreateIdentity(ctx context.Context, id *Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (
			identity_id, thread_id, channel, verification_status,
			verification_method, verification_contact, verification_code,
			code_expires_at, persistent_user_id, verified_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		id.IdentityID, id.ThreadID, id.Channel, string(id.Status),
		nullString(id.VerificationMethod), nullString(id.VerificationContact),
		nullString(id.VerificationCode), pgTime(id.CodeExpiresAt),
		nullStringPtr(id.PersistentUserID), pgTime(id.VerifiedAt),
		id.CreatedAt.UTC(), id.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	s.logger.Debug("created identity", "identity_id", id.IdentityID, "thread_id", id.ThreadID)
	return nil
}

// GetIdentityByThread retrieves the identity for a thread id.
func (s *PostgresStore) GetIdentityByThread(ctx context.Context, threadID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE thread_id = $1`, threadID)
	return scanPgIdentity(row)
}

// GetIdentityByID retrieves an identity by its identity_id.
func (s *PostgresStore) GetIdentityByID(ctx context.Context, identityID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE identity_id = $1`, identityID)
	return scanPgIdentity(row)
}

func scanPgIdentity(row rowScanner) (*Identity, error) {
	var id Identity
	var status string
	var method, contact, code, persistentUser sql.NullString
	var codeExpires, verifiedAt sql.NullTime

	err := row.Scan(
		&id.IdentityID, &id.ThreadID, &id.Channel, &status,
		&method, &contact, &code, &codeExpires,
		&persistentUser, &verifiedAt, &id.CreatedAt, &id.UpdatedAt,
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
		t := codeExpires.Time
		id.CodeExpiresAt = &t
	}
	if persistentUser.Valid {
		id.PersistentUserID = &persistentUser.String
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		id.VerifiedAt = &t
	}
	return &id, nil
}

// SetPendingCode stores a fresh single-use code and transitions to pending.
func (s *PostgresStore) SetPendingCode(ctx context.Context, identityID, method, contact, code string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET verification_status = $1, verification_method = $2, verification_contact = $3,
		    verification_code = $4, code_expires_at = $5, updated_at = $6
		WHERE identity_id = $7 AND verification_status != $8
	`, string(StatusPending), method, contact, code, expiresAt.UTC(), time.Now().UTC(),
		identityID, string(StatusVerified))
	if err != nil {
		return fmt.Errorf("storing verification code: %w", err)
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

	s.logger.Debug("stored verification code", "identity_id", identityID, "method", method)
	return nil
}

// MarkVerified performs the guarded transition to verified.
func (s *PostgresStore) MarkVerified(ctx context.Context, identityID, persistentUserID string, verifiedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET verification_status = $1, persistent_user_id = $2, verified_at = $3,
		    verification_code = NULL, code_expires_at = NULL, updated_at = $4
		WHERE identity_id = $5 AND verification_status != $6
	`, string(StatusVerified), persistentUserID, verifiedAt.UTC(), time.Now().UTC(),
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

// ListByPersistentUser returns every identity merged into one account.
func (s *PostgresStore) ListByPersistentUser(ctx context.Context, persistentUserID string) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE persistent_user_id = $1 ORDER BY created_at ASC`,
		persistentUserID)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		id, err := scanPgIdentity(rows)
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

// Ensure PostgresStore implements IdentityStore.
var _ IdentityStore = (*PostgresStore)(nil)
