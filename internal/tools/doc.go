// ABOUTME: Package doc for the tool registry
// ABOUTME: Assistant-invocable tools; identity always comes from context

// Package tools defines the registry of operations the assistant can
// invoke on behalf of a conversation. Tool inputs never name a thread
// or user id; the ambient thread identity in the request context is the
// only identity a handler may act on.
package tools
