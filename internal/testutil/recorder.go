// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"sync"

	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
)

// ActionRecorder collects every action an engine applies.
// Register it with engine.Subscribe(rec.Observe).
//
// Thread-safety: safe for concurrent use via internal mutex.
type ActionRecorder struct {
	mu      sync.Mutex
	actions []ir.Action
	last    engine.State
}

// NewActionRecorder creates an empty recorder.
func NewActionRecorder() *ActionRecorder {
	return &ActionRecorder{}
}

// Observe implements engine.Subscriber.
func (r *ActionRecorder) Observe(s engine.State, a ir.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	r.last = s
}

// Actions returns a copy of the recorded actions in apply order.
func (r *ActionRecorder) Actions() []ir.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Types returns the recorded action types in apply order.
func (r *ActionRecorder) Types() []ir.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.ActionType, len(r.actions))
	for i, a := range r.actions {
		out[i] = a.Type
	}
	return out
}

// Settlements returns the actions that settled mutationID: every action
// carrying the id that is a commit or a rejection.
func (r *ActionRecorder) Settlements(mutationID string) []ir.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ir.Action
	for _, a := range r.actions {
		if a.MutationID == mutationID && a.Type != ir.ActionIdeaDeletionRequested {
			out = append(out, a)
		}
	}
	return out
}

// Last returns the state after the most recent action.
func (r *ActionRecorder) Last() engine.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Reset clears recorded actions for test reuse.
func (r *ActionRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
	r.last = engine.State{}
}
