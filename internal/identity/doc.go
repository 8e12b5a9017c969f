// ABOUTME: Package doc for the identity registry
// ABOUTME: Lifecycle, verification, and account merge orchestration

// Package identity manages the lifecycle of thread-bound identities.
//
// Every conversation thread starts with a deterministic anonymous
// identity (anon_<channel>_<external-id>). A user can request a
// verification code, confirm it, and thereby merge the thread's
// storage namespace into a persistent account namespace. Additional
// threads are folded into the same account with MergeAdditional.
//
// Transitions are monotonic: anonymous -> pending -> verified, never
// backwards. Namespace migration runs before an identity is marked
// verified, so a failed migration leaves the identity pending and the
// code still usable.
package identity
