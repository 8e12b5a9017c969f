// ABOUTME: Store interface and data types for hearth identity persistence
// ABOUTME: Defines the Identity record and the IdentityStore contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create an identity for a
// thread that already has one. Concurrent first-contact creators race on
// the thread_id uniqueness constraint; the loser receives this error and
// re-reads the winner's row.
var ErrDuplicateThread = errors.New("identity already exists for thread")

// ErrStateConflict is returned when a guarded state transition finds the
// row no longer in the expected state (e.g. two concurrent confirms; the
// loser must re-read and short-circuit).
var ErrStateConflict = errors.New("identity state changed concurrently")

// VerificationStatus tracks an identity's merge lifecycle. It only ever
// advances anonymous -> pending -> verified.
type VerificationStatus string

const (
	StatusAnonymous VerificationStatus = "anonymous"
	StatusPending   VerificationStatus = "pending"
	StatusVerified  VerificationStatus = "verified"
)

// Identity is the registry record for one conversation thread.
type Identity struct {
	IdentityID string // deterministic, e.g. "anon_telegram_6282871705"; never changes
	ThreadID   string // "<channel>:<external-id>"; unique
	Channel    string // provenance

	Status VerificationStatus

	// Set while pending and kept after verification.
	VerificationMethod  string // "email" | "phone"
	VerificationContact string

	// Present only while pending; single-use.
	VerificationCode string
	CodeExpiresAt    *time.Time

	// Null until verified; then stable and shared by every thread merged
	// into the same account.
	PersistentUserID *string
	VerifiedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NamespaceKey returns the key the identity's storage namespace is
// resolved under: the persistent user id once verified, the anonymous
// identity id before that.
func (i *Identity) NamespaceKey() string {
	if i.PersistentUserID != nil && *i.PersistentUserID != "" {
		return *i.PersistentUserID
	}
	return i.IdentityID
}

// IdentityStore defines durable identity registry operations. The store is
// the single source of truth for verification state; caches are
// rebuildable optimizations layered above it.
type IdentityStore interface {
	// CreateIdentity inserts a new anonymous identity. Returns
	// ErrDuplicateThread if the thread already has one.
	CreateIdentity(ctx context.Context, id *Identity) error

	// GetIdentityByThread retrieves the identity for a thread id.
	GetIdentityByThread(ctx context.Context, threadID string) (*Identity, error)

	// GetIdentityByID retrieves an identity by its identity_id.
	GetIdentityByID(ctx context.Context, identityID string) (*Identity, error)

	// SetPendingCode stores a fresh verification code, overwriting any
	// prior unconsumed code, and moves the identity to pending. Rejects
	// with ErrStateConflict if the identity is already verified.
	SetPendingCode(ctx context.Context, identityID, method, contact, code string, expiresAt time.Time) error

	// MarkVerified assigns the persistent user id, clears the code, and
	// moves the identity to verified. The transition is guarded: if the
	// row is already verified, ErrStateConflict is returned and the
	// caller re-reads the winner's state.
	MarkVerified(ctx context.Context, identityID, persistentUserID string, verifiedAt time.Time) error

	// ListByPersistentUser returns every identity merged into one account.
	ListByPersistentUser(ctx context.Context, persistentUserID string) ([]*Identity, error)

	// Close releases any resources held by the store.
	Close() error
}
