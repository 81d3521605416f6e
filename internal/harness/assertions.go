package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/retrosync/internal/ir"
)

// Assertion is one check against a scenario result. Which fields apply
// depends on Type.
type Assertion struct {
	Type string `yaml:"type"`

	// action_order, pushes
	Actions []string `yaml:"actions,omitempty"`

	// action_count
	Action string `yaml:"action,omitempty"`
	Count  *int   `yaml:"count,omitempty"`

	// idea, idea_absent, user
	ID    int64          `yaml:"id,omitempty"`
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// idea_order
	IDs []int64 `yaml:"ids,omitempty"`

	// roster_tokens
	Tokens []string `yaml:"tokens,omitempty"`

	// current_user
	Name        string `yaml:"name,omitempty"`
	Facilitator *bool  `yaml:"facilitator,omitempty"`
	Absent      bool   `yaml:"absent,omitempty"`

	// step_error
	Step     *int   `yaml:"step,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Type)
			if event.ID != 0 {
				fmt.Fprintf(&buf, " id=%d", event.ID)
			}
			if event.MutationID != "" {
				fmt.Fprintf(&buf, " mutation=%s", event.MutationID)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case "action_order", "pushes":
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: %s requires actions", i, a.Type)
		}
	case "action_count":
		if a.Action == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: action_count requires action and count", i)
		}
	case "idea", "user":
		if a.ID == 0 || len(a.Attrs) == 0 {
			return fmt.Errorf("assertions[%d]: %s requires id and attrs", i, a.Type)
		}
	case "idea_absent":
		if a.ID == 0 {
			return fmt.Errorf("assertions[%d]: idea_absent requires id", i)
		}
	case "idea_order":
		// An empty list asserts there are no ideas.
	case "roster_tokens":
		// An empty list asserts an empty roster.
	case "current_user":
		if !a.Absent && a.Name == "" && a.Facilitator == nil {
			return fmt.Errorf("assertions[%d]: current_user requires name, facilitator or absent", i)
		}
	case "step_error":
		if a.Step == nil {
			return fmt.Errorf("assertions[%d]: step_error requires step", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
	return nil
}

func checkAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case "action_order":
		return assertActionOrder(r, a)
	case "action_count":
		return assertActionCount(r, a)
	case "pushes":
		return assertPushes(r, a)
	case "idea":
		idea, ok := r.State.Ideas.Find(a.ID)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("idea %d", a.ID), Actual: "not found", Trace: r.Trace}
		}
		return assertAttrs(r, a, idea)
	case "idea_absent":
		if _, ok := r.State.Ideas.Find(a.ID); ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("no idea %d", a.ID), Actual: "present", Trace: r.Trace}
		}
		return nil
	case "idea_order":
		return assertIdeaOrder(r, a)
	case "user":
		user, ok := r.State.Users.Get(a.ID)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("user %d", a.ID), Actual: "not found", Trace: r.Trace}
		}
		return assertAttrs(r, a, user)
	case "roster_tokens":
		actual := r.State.Roster.Tokens()
		if !sameStrings(actual, a.Tokens) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%v", a.Tokens), Actual: fmt.Sprintf("%v", actual)}
		}
		return nil
	case "current_user":
		return assertCurrentUser(r, a)
	case "step_error":
		return assertStepError(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertActionOrder checks that the listed action types appear in order.
// Intervening actions are allowed; each listed type matches a later action
// than the previous one.
func assertActionOrder(r *Result, a Assertion) error {
	pos := 0
	for _, want := range a.Actions {
		found := false
		for pos < len(r.Trace) {
			event := r.Trace[pos]
			pos++
			if string(event.Type) == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     "action_order",
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("missing %s after position %d", want, pos),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

// assertActionCount checks that an action type was applied exactly Count times.
func assertActionCount(r *Result, a Assertion) error {
	count := 0
	for _, event := range r.Trace {
		if string(event.Type) == a.Action {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     "action_count",
			Expected: fmt.Sprintf("%s applied %d times", a.Action, *a.Count),
			Actual:   fmt.Sprintf("applied %d times", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertPushes checks the exact sequence of pushed events.
func assertPushes(r *Result, a Assertion) error {
	events := make([]string, len(r.Pushes))
	for i, p := range r.Pushes {
		events[i] = p.Event
	}
	if !sameStrings(events, a.Actions) {
		return &AssertionError{Type: "pushes", Expected: fmt.Sprintf("%v", a.Actions), Actual: fmt.Sprintf("%v", events)}
	}
	return nil
}

func assertIdeaOrder(r *Result, a Assertion) error {
	var ids []int64
	for _, idea := range r.State.Ideas.All() {
		id, _ := idea.ID()
		ids = append(ids, id)
	}
	if len(ids) == 0 && len(a.IDs) == 0 {
		return nil
	}
	if !reflect.DeepEqual(ids, a.IDs) {
		return &AssertionError{Type: "idea_order", Expected: fmt.Sprintf("%v", a.IDs), Actual: fmt.Sprintf("%v", ids), Trace: r.Trace}
	}
	return nil
}

// assertAttrs checks that record carries every expected attribute (subset
// semantics). An expected null matches a missing attribute.
func assertAttrs(r *Result, a Assertion, record ir.Object) error {
	expected, err := ir.ObjectFromMap(a.Attrs)
	if err != nil {
		return fmt.Errorf("%s: attrs: %w", a.Type, err)
	}
	for _, key := range expected.SortedKeys() {
		want := expected[key]
		got, present := record[key]
		if _, isNull := want.(ir.Null); isNull {
			if !present {
				continue
			}
		}
		if !present || !ir.Equal(got, want) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d.%s = %s", a.ID, key, render(want)),
				Actual:   render(got),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

func assertCurrentUser(r *Result, a Assertion) error {
	p := r.CurrentUser
	if a.Absent {
		if p != nil {
			return &AssertionError{Type: "current_user", Expected: "no current user", Actual: p.Name()}
		}
		return nil
	}
	if p == nil {
		return &AssertionError{Type: "current_user", Expected: "a current user", Actual: "none"}
	}
	if a.Name != "" && p.Name() != a.Name {
		return &AssertionError{Type: "current_user", Expected: fmt.Sprintf("name %q", a.Name), Actual: fmt.Sprintf("name %q", p.Name())}
	}
	if a.Facilitator != nil && p.IsFacilitator() != *a.Facilitator {
		return &AssertionError{
			Type:     "current_user",
			Expected: fmt.Sprintf("is_facilitator %t", *a.Facilitator),
			Actual:   fmt.Sprintf("is_facilitator %t", p.IsFacilitator()),
		}
	}
	return nil
}

// assertStepError checks that a step produced an error containing Contains.
func assertStepError(r *Result, a Assertion) error {
	for _, outcome := range r.Outcomes {
		if outcome.Step == *a.Step && strings.Contains(outcome.Error, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     "step_error",
		Expected: fmt.Sprintf("steps[%d] error containing %q", *a.Step, a.Contains),
		Actual:   fmt.Sprintf("%v", r.Outcomes),
	}
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func render(v ir.Value) string {
	if v == nil {
		return "<missing>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
