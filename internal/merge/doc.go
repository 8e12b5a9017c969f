// Package merge moves all namespaced content from an anonymous identity's
// storage root into a persistent user's root when a merge is confirmed.
//
// The migration is best-effort atomic per item: each file, database, or
// collection moves with an atomic rename (copy-then-delete across
// volumes), but there is no transaction across the whole namespace. An
// interrupted migration leaves some items at the target and some at the
// source; re-running is safe because items already absent from the source
// are simply skipped. Name collisions at the target are resolved by
// renaming the incoming item with a disambiguating suffix, never by
// overwriting, and every rename is reported to the caller.
//
// After a successful run the engine refreshes both namespaces'
// inventories and fires the registered cache-invalidation hooks with the
// old key, so no stale agent or connection keyed by the drained namespace
// stays reachable.
package merge
