// Package rescache provides the bounded, keyed-by-identity cache backing
// the connection and agent caches.
//
// The guarantee is at most one live instance per key: concurrent
// GetOrBuild calls for the same key coalesce into a single construction
// and all receive the same instance, while builds for different keys run
// independently. Entries are evicted least-recently-used once the cache
// exceeds its capacity; eviction, Invalidate, and Close all run the
// configured Releaser so a database handle or agent is never silently
// dropped with unflushed state. Failed builds never poison the cache.
package rescache
