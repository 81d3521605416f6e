// Package selectors derives read-side views from the entity stores and the
// presence roster.
//
// Selectors are pure and memoized by reference: when every input slice is
// the same pointer as on the previous call, the previous result is returned
// unchanged. The stores guarantee a new pointer whenever content changes.
package selectors
