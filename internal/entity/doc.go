// Package entity holds the normalized entity stores for ideas and users.
//
// Each store is an immutable value reduced by a pure function:
//
//	next := ReduceIdeas(prev, action)
//
// A reducer never mutates its input. When an action does not change the
// collection the reducer returns its input pointer unchanged, so callers can
// detect change (and drive memoized selectors) with a pointer comparison.
//
// Merge policy: committed updates shallow-merge the supplied attributes into
// the existing record. Attributes absent from the update, ephemeral ones
// included, are kept. The most recently applied action wins per attribute.
package entity
