// Package store persists the broadcast roster and the single active outbound
// message in SQLite.
//
// Two tables:
//   - users: soft-deletable recipients (is_active=0 on removal or block)
//   - messages: append-only; at most one row is active at any time
//
// SQLite prefers a single writer, so the pool is capped at one connection and
// writes serialize at the storage layer rather than via in-process locking.
package store
