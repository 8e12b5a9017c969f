// ABOUTME: Typed rejection reasons for the identity merge protocol
// ABOUTME: Recoverable, user-facing errors distinct from context/storage failures

package identity

import "errors"

// Verification rejections. These are recoverable, user-facing outcomes:
// the tool surface reports their reason strings to the end user and never
// escalates them to a crash.
var (
	ErrNoCode                = errors.New("no verification code stored")
	ErrCodeMismatch          = errors.New("verification code does not match")
	ErrCodeExpired           = errors.New("verification code expired")
	ErrAlreadyVerified       = errors.New("identity already verified")
	ErrNotVerified           = errors.New("identity not verified")
	ErrTargetNotFound        = errors.New("target identity not found")
	ErrTargetMergedElsewhere = errors.New("target already merged into a different account")
)

// Reason maps a rejection error to its wire-level reason string, or ""
// for errors that are not verification rejections.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoCode):
		return "no_code"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrTargetMergedElsewhere):
		return "target_already_merged_elsewhere"
	default:
		return ""
	}
}
