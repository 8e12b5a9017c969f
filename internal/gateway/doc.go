// ABOUTME: Package doc for the gateway orchestrator
// ABOUTME: HTTP surface and component wiring

// Package gateway assembles the service: it opens the identity store,
// builds the namespace resolver and resource caches, registers the
// identity tools, and serves the HTTP API.
//
// Request flow for an inbound message:
//
//  1. Auth middleware verifies the connector token.
//  2. The handler composes the thread id (channel:external-id) and
//     binds it to the request context. This is the only place identity
//     enters the system; everything downstream reads it from context.
//  3. The dedupe cache drops redelivered messages.
//  4. The assistant cache resolves the thread to its namespace-bound
//     assistant, which records and answers the message.
//
// Merges invalidate cached resources for the retired namespace key via
// the merge engine's invalidation hooks.
package gateway
