// ABOUTME: Package doc for the namespace database connection cache
// ABOUTME: One shared SQLite handle per namespace, evicted under LRU pressure

// Package conndb caches SQLite connections keyed by storage namespace.
// Two threads with different identities can never observe each other's
// handle: the cache key is the namespace key, and namespace keys are
// disjoint per identity until an explicit merge unifies them.
package conndb
