package harness

import (
	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/transport"
)

// TraceEvent is one applied action, reduced to what scenarios compare.
type TraceEvent struct {
	Seq        int64         `json:"seq"`
	Type       ir.ActionType `json:"type"`
	ID         int64         `json:"id,omitempty"`
	MutationID string        `json:"mutation_id,omitempty"`
}

// StepOutcome records a step that returned an error. Rejections and
// unsettled pushes are outcomes, not harness failures.
type StepOutcome struct {
	Step  int    `json:"step"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion holds.
	Pass bool `json:"pass"`

	// Trace lists every applied action in seq order.
	Trace []TraceEvent `json:"trace"`

	// Pushes lists every push the client sent.
	Pushes []transport.Sent `json:"pushes"`

	// Outcomes lists step errors in step order.
	Outcomes []StepOutcome `json:"outcomes,omitempty"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// State is the store after the last step.
	State engine.State `json:"-"`

	// CurrentUser is the current-user presence as last observed.
	CurrentUser *selectors.UserPresence `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Pushes: []transport.Sent{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddOutcome records a step error.
func (r *Result) AddOutcome(step int, kind string, err error) {
	r.Outcomes = append(r.Outcomes, StepOutcome{Step: step, Kind: kind, Error: err.Error()})
}

func traceEvent(a ir.Action) TraceEvent {
	return TraceEvent{Seq: a.Seq, Type: a.Type, ID: a.ID, MutationID: a.MutationID}
}
