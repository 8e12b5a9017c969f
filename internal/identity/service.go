// ABOUTME: Identity registry service orchestrating the anonymous->pending->verified lifecycle
// ABOUTME: Serializes per-thread mutations and runs namespace migration before marking verified

package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth/internal/merge"
	"github.com/2389/hearth/internal/store"
	"github.com/2389/hearth/internal/threadctx"
)

const (
	// DefaultCodeTTL is how long a verification code stays valid.
	DefaultCodeTTL = 15 * time.Minute

	// DefaultCodeLength is the number of digits in a verification code.
	DefaultCodeLength = 6
)

// MergeOutcome reports the result of a successful confirm or
// merge-additional operation.
type MergeOutcome struct {
	PersistentUserID string
	Migration        merge.Result
}

// PendingCode reports a freshly issued verification code.
type PendingCode struct {
	Code      string
	ExpiresAt time.Time
}

// Service is the identity registry. It owns lifecycle transitions for
// identity records and delegates durable state to an IdentityStore and
// namespace migration to a merge.Engine.
//
// A striped lock table serializes mutations for the same thread within
// this process; the table is fixed-size, so memory does not grow with the
// number of threads seen. Cross-process races are arbitrated by the
// store's uniqueness constraint and guarded status updates.
type Service struct {
	store   store.IdentityStore
	merger  *merge.Engine
	codeTTL time.Duration
	codeLen int
	now     func() time.Time
	logger  *slog.Logger

	locks [lockStripes]sync.Mutex
}

// lockStripes sizes the thread lock table. Distinct threads hashing to
// the same stripe contend but never deadlock: no code path holds two
// stripes at once.
const lockStripes = 64

// Option configures a Service.
type Option func(*Service)

// WithCodeTTL overrides the verification code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) { s.codeTTL = ttl }
}

// WithCodeLength overrides the number of digits in generated codes.
func WithCodeLength(n int) Option {
	return func(s *Service) { s.codeLen = n }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an identity registry over the given store and
// migration engine.
func NewService(st store.IdentityStore, merger *merge.Engine, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		store:   st,
		merger:  merger,
		codeTTL: DefaultCodeTTL,
		codeLen: DefaultCodeLength,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockThread locks the stripe covering a thread id. The returned func
// unlocks.
func (s *Service) lockThread(threadID threadctx.ThreadID) func() {
	h := fnv.New32a()
	h.Write([]byte(threadID))
	l := &s.locks[h.Sum32()%lockStripes]
	l.Lock()
	return l.Unlock
}

// DeriveIdentityID returns the deterministic anonymous identity id for a
// thread: anon_<channel>_<external-id>.
func DeriveIdentityID(threadID threadctx.ThreadID) string {
	return "anon_" + strings.Replace(string(threadID), ":", "_", 1)
}

// CreateIfAbsent returns the identity record for a thread, creating an
// anonymous one if none exists. Concurrent creators for the same thread
// all converge on the record that won the store's uniqueness constraint.
func (s *Service) CreateIfAbsent(ctx context.Context, threadID threadctx.ThreadID) (*store.Identity, error) {
	if err := threadID.Validate(); err != nil {
		return nil, err
	}
	ident, err := s.store.GetIdentityByThread(ctx, string(threadID))
	if err == nil {
		return ident, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := s.now().UTC()
	created := &store.Identity{
		IdentityID: DeriveIdentityID(threadID),
		ThreadID:   string(threadID),
		Channel:    threadID.Channel(),
		Status:     store.StatusAnonymous,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateIdentity(ctx, created); err != nil {
		if err == store.ErrDuplicateThread {
			return s.store.GetIdentityByThread(ctx, string(threadID))
		}
		return nil, err
	}
	s.logger.Info("created anonymous identity",
		"identity_id", created.IdentityID, "thread_id", created.ThreadID)
	return created, nil
}

// Current returns the identity for the thread bound to ctx, creating an
// anonymous record if the thread has never been seen.
func (s *Service) Current(ctx context.Context) (*store.Identity, error) {
	threadID, err := threadctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	return s.CreateIfAbsent(ctx, threadID)
}

// RequestMerge issues a verification code for the thread bound to ctx.
// The contact value (email address, phone number) is recorded so an
// out-of-band sender can deliver the code; delivery itself is not this
// service's job. A second request before the first code is used simply
// replaces it. Requesting on an already verified identity is rejected
// with ErrAlreadyVerified.
func (s *Service) RequestMerge(ctx context.Context, method, contact string) (*PendingCode, error) {
	threadID, err := threadctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	unlock := s.lockThread(threadID)
	defer unlock()

	ident, err := s.CreateIfAbsent(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if ident.Status == store.StatusVerified {
		return nil, ErrAlreadyVerified
	}

	code, err := generateCode(s.codeLen)
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}
	expiresAt := s.now().UTC().Add(s.codeTTL)
	if err := s.store.SetPendingCode(ctx, ident.IdentityID, method, contact, code, expiresAt); err != nil {
		return nil, err
	}
	s.logger.Info("issued verification code",
		"identity_id", ident.IdentityID, "method", method, "expires_at", expiresAt)
	return &PendingCode{Code: code, ExpiresAt: expiresAt}, nil
}

// ConfirmMerge checks a verification code for the thread bound to ctx
// and, on match, migrates the thread's anonymous namespace into a fresh
// persistent user namespace before marking the identity verified.
// Codes are single-use: the winning confirm clears the stored code, so
// any later attempt fails with ErrNoCode without touching state. The
// rejection still carries the existing persistent user id so callers
// can tell the user they are already verified.
func (s *Service) ConfirmMerge(ctx context.Context, code string) (*MergeOutcome, error) {
	threadID, err := threadctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	unlock := s.lockThread(threadID)
	defer unlock()

	ident, err := s.store.GetIdentityByThread(ctx, string(threadID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNoCode
		}
		return nil, err
	}
	if ident.Status == store.StatusVerified {
		return &MergeOutcome{PersistentUserID: derefString(ident.PersistentUserID)}, ErrNoCode
	}
	if err := checkCode(ident, code, s.now()); err != nil {
		return nil, err
	}

	userID := "user-" + uuid.NewString()
	result, err := s.merger.Migrate(ctx, ident.IdentityID, userID)
	if err != nil {
		// Identity stays pending and the code stays valid; the caller
		// can retry the same confirm.
		return nil, fmt.Errorf("migrating namespace: %w", err)
	}
	if err := s.store.MarkVerified(ctx, ident.IdentityID, userID, s.now().UTC()); err != nil {
		if err == store.ErrStateConflict {
			// Another process won the transition. Its persistent user id
			// is authoritative; this caller's code attempt is spent.
			winner, gerr := s.store.GetIdentityByThread(ctx, string(threadID))
			if gerr != nil {
				return nil, gerr
			}
			return &MergeOutcome{PersistentUserID: derefString(winner.PersistentUserID)}, ErrNoCode
		}
		return nil, err
	}
	s.logger.Info("identity verified",
		"identity_id", ident.IdentityID, "persistent_user_id", userID,
		"files_moved", len(result.FilesMoved), "databases_moved", len(result.DatabasesMoved))
	return &MergeOutcome{PersistentUserID: userID, Migration: *result}, nil
}

// MergeAdditional folds another thread's identity into the caller's
// persistent account. The caller must already be verified; the target
// must exist and must not be verified under a different account.
// Re-merging a thread already attached to the caller's account is an
// idempotent no-op.
func (s *Service) MergeAdditional(ctx context.Context, otherThreadID threadctx.ThreadID) (*MergeOutcome, error) {
	threadID, err := threadctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := otherThreadID.Validate(); err != nil {
		return nil, err
	}

	caller, err := s.store.GetIdentityByThread(ctx, string(threadID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotVerified
		}
		return nil, err
	}
	if caller.Status != store.StatusVerified || caller.PersistentUserID == nil {
		return nil, ErrNotVerified
	}
	userID := *caller.PersistentUserID

	unlock := s.lockThread(otherThreadID)
	defer unlock()

	target, err := s.store.GetIdentityByThread(ctx, string(otherThreadID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if target.Status == store.StatusVerified {
		if derefString(target.PersistentUserID) == userID {
			return &MergeOutcome{PersistentUserID: userID}, nil
		}
		return nil, ErrTargetMergedElsewhere
	}

	result, err := s.merger.Migrate(ctx, target.IdentityID, userID)
	if err != nil {
		return nil, fmt.Errorf("migrating namespace: %w", err)
	}
	if err := s.store.MarkVerified(ctx, target.IdentityID, userID, s.now().UTC()); err != nil {
		if err == store.ErrStateConflict {
			return nil, ErrTargetMergedElsewhere
		}
		return nil, err
	}
	s.logger.Info("merged additional identity",
		"identity_id", target.IdentityID, "persistent_user_id", userID)
	return &MergeOutcome{PersistentUserID: userID, Migration: *result}, nil
}

// Linked returns every identity attached to the caller's persistent
// account, or just the caller's own record when not yet verified.
func (s *Service) Linked(ctx context.Context) ([]*store.Identity, error) {
	ident, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if ident.Status != store.StatusVerified || ident.PersistentUserID == nil {
		return []*store.Identity{ident}, nil
	}
	return s.store.ListByPersistentUser(ctx, *ident.PersistentUserID)
}

func checkCode(ident *store.Identity, code string, now time.Time) error {
	if ident.VerificationCode == "" {
		return ErrNoCode
	}
	if ident.CodeExpiresAt != nil && now.After(*ident.CodeExpiresAt) {
		return ErrCodeExpired
	}
	if ident.VerificationCode != code {
		return ErrCodeMismatch
	}
	return nil
}

func generateCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
