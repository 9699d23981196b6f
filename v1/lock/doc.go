// Package lock provides the lease based exclusion primitive used to reserve
// seats. A Locker grants a key to a single token for a bounded TTL; an entry
// whose TTL has passed is treated as absent, which is the only recovery path
// for a holder that never releases. In-memory, Redis and SQL (GORM)
// implementations share the same non-blocking, non-re-entrant contract.
//
// Release is fenced by default: only the token that holds a key can delete
// it. WithUnfencedRelease restores token-less release for callers that need
// the historical behavior.
package lock
