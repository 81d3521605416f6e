// Package journal provides a SQLite-backed action journal for debugging
// and deterministic replay.
//
// The journal is an append-only log with two tables:
//   - actions: every action applied by the engine, in seq order
//   - settlements: the outcome of every push, keyed by mutation id
//
// # Ordering
//
// Queries order by seq ASC, id ASC COLLATE BINARY, so two reads of the
// same journal always return the same sequence.
//
// # Idempotency
//
// Ids are content-addressed (internal/ir/hash.go). Writing the same
// action or settlement twice is a no-op via ON CONFLICT DO NOTHING.
//
// The client never restores state from the journal on join.
package journal
