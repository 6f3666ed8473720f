// Package catalog maintains the set of tracked instruments: which symbols
// are active, how often each should be rebroadcast, and which belong to the
// default or a user's subscription set.
//
// The database is the source of truth; the service keeps a TTL-bounded
// read-through cache with explicit invalidation. Broadcast timestamps are
// additionally indexed in memory so that a symbol marked broadcast is never
// reported due again before its minimum interval elapses, regardless of
// cache staleness.
package catalog
