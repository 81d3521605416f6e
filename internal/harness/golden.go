package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/retrosync/internal/ir"
)

// TraceSnapshot captures the trace and pushes of a scenario execution.
// It is serialized with canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Pushes       []PushEvent
}

// PushEvent is one sent push with its decoded payload.
type PushEvent struct {
	Event   string
	Payload ir.Value
}

// Snapshot builds the golden snapshot of a result.
func Snapshot(name string, r *Result) (TraceSnapshot, error) {
	s := TraceSnapshot{ScenarioName: name, Trace: r.Trace}
	for i, p := range r.Pushes {
		payload, err := ir.UnmarshalValue(p.Payload)
		if err != nil {
			return s, fmt.Errorf("pushes[%d]: %w", i, err)
		}
		s.Pushes = append(s.Pushes, PushEvent{Event: p.Event, Payload: payload})
	}
	return s, nil
}

// Object converts the snapshot to a record for canonical serialization.
func (s TraceSnapshot) Object() ir.Object {
	trace := make(ir.Array, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.Object{
			"seq":  ir.Int(event.Seq),
			"type": ir.String(event.Type),
		}
		if event.ID != 0 {
			obj["id"] = ir.Int(event.ID)
		}
		if event.MutationID != "" {
			obj["mutation_id"] = ir.String(event.MutationID)
		}
		trace[i] = obj
	}

	pushes := make(ir.Array, len(s.Pushes))
	for i, p := range s.Pushes {
		pushes[i] = ir.Object{
			"event":   ir.String(p.Event),
			"payload": p.Payload,
		}
	}

	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"trace":         trace,
		"pushes":        pushes,
	}
}

// GoldenBytes returns the canonical JSON stored in a result's golden file.
func GoldenBytes(name string, r *Result) ([]byte, error) {
	snapshot, err := Snapshot(name, r)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(snapshot.Object())
}

// RunWithGolden executes a scenario and compares its trace and pushes
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
