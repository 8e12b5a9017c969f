// ABOUTME: Package doc for namespace-bound assistants
// ABOUTME: One assistant instance per storage namespace, cached and isolated

// Package assistant builds and caches conversational assistant
// instances, one per storage namespace. Isolation is structural: an
// assistant is constructed around a single namespace and its database
// handle, so serving thread A can never touch thread B's history.
package assistant
