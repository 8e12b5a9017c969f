// Package threadctx establishes and reads the ambient per-conversation
// identity that every storage and cache consumer keys on.
//
// The identity is a ThreadID of the form "<channel>:<external-id>", derived
// from a caller-supplied external id at the channel boundary and carried
// through the call graph as a context.Context value. Two propagation
// mechanisms cooperate:
//
//   - WithThread/FromContext/Require: the common path. Require fails closed
//     with ErrNoThread when the identity is absent; no component may fall
//     back to a default or shared identity.
//   - Carrier: an explicit hand-off table for execution boundaries that
//     cannot carry a context parameter. Bind captures the identity under a
//     token at hand-off time; Resume rebuilds a context inside the callback.
//
// Detach copies the identity onto a fresh background context for workers
// that must outlive the originating request.
package threadctx
