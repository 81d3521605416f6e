package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/retrosync/internal/coordinator"
	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/session"
	"github.com/roach88/retrosync/internal/testutil"
	"github.com/roach88/retrosync/internal/transport"
)

// scenarioRetro is the retro id every scenario session joins.
const scenarioRetro = "scenario"

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh engine and loopback channel. Mutation ids
// come from a sequence generator ("m-1", "m-2", ...) so traces are
// deterministic. Step errors become outcomes; only assertions decide Pass.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	result := NewResult()

	sess := session.Session{
		Token:   scenario.Session.Token,
		UserID:  scenario.Session.UserID,
		RetroID: scenarioRetro,
	}

	bootstrap, err := json.Marshal(scenario.Bootstrap)
	if err != nil {
		return nil, fmt.Errorf("encode bootstrap: %w", err)
	}

	ch := transport.NewLoopback(bootstrap)
	eng := engine.New()
	rec := testutil.NewActionRecorder()
	eng.Subscribe(rec.Observe)
	eng.Attach(ch)

	coord := coordinator.New(sess, ch, eng,
		coordinator.WithIDGenerator(&coordinator.SequenceGenerator{Prefix: "m"}),
	)
	sel := selectors.New(sess)

	reply, err := ch.Join(ctx)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	if err := eng.Bootstrap(reply); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	drain(ctx, eng, result, -1, "bootstrap")
	result.CurrentUser = sel.CurrentUserPresence(eng.State().Slices())

	for i, step := range scenario.Steps {
		kind := step.kind()
		if err := runStep(ctx, ch, coord, step); err != nil {
			result.AddOutcome(i, kind, err)
		}
		drain(ctx, eng, result, i, kind)
		result.CurrentUser = sel.CurrentUserPresence(eng.State().Slices())
	}

	for _, a := range rec.Actions() {
		result.Trace = append(result.Trace, traceEvent(a))
	}
	result.Pushes = append(result.Pushes, ch.Sent()...)
	result.State = eng.State()

	for i, assertion := range scenario.Assertions {
		if err := checkAssertion(result, assertion); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func drain(ctx context.Context, eng *engine.Engine, result *Result, step int, kind string) {
	for _, err := range eng.Drain(ctx) {
		result.AddOutcome(step, kind, err)
	}
}

// runStep plays one step. A mutation with a reply settles with it; one
// without is awaited under a cancelled context and stays unsettled.
func runStep(ctx context.Context, ch *transport.Loopback, coord *coordinator.Coordinator, step Step) error {
	switch step.kind() {
	case "presence_state":
		return ch.Emit(engine.EventPresenceState, step.PresenceState)
	case "presence_diff":
		return ch.Emit(engine.EventPresenceDiff, step.PresenceDiff)
	case "broadcast":
		return ch.Emit(step.Broadcast.Event, step.Broadcast.Payload)
	}

	mctx, err := mutationContext(ctx, ch, step)
	if err != nil {
		return err
	}

	switch step.kind() {
	case "submit_idea":
		candidate, err := ir.ObjectFromMap(step.SubmitIdea)
		if err != nil {
			return fmt.Errorf("submit_idea: %w", err)
		}
		_, err = coord.SubmitIdea(mctx, candidate)
		return err
	case "edit_idea":
		attrs, err := ir.ObjectFromMap(step.EditIdea.Attrs)
		if err != nil {
			return fmt.Errorf("edit_idea: %w", err)
		}
		return coord.EditIdea(mctx, step.EditIdea.ID, attrs)
	case "delete_idea":
		return coord.DeleteIdea(mctx, *step.DeleteIdea)
	case "update_user":
		attrs, err := ir.ObjectFromMap(step.UpdateUser.Attrs)
		if err != nil {
			return fmt.Errorf("update_user: %w", err)
		}
		return coord.UpdateUser(mctx, step.UpdateUser.ID, attrs)
	}
	return fmt.Errorf("unknown step")
}

// mutationContext scripts the step's reply, or returns a cancelled context
// when there is none.
func mutationContext(ctx context.Context, ch *transport.Loopback, step Step) (context.Context, error) {
	if step.Reply == nil {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		return cancelled, nil
	}

	// An invalid candidate never reaches the channel; scripting its reply
	// would settle the next submission instead.
	if step.SubmitIdea != nil {
		candidate, err := ir.ObjectFromMap(step.SubmitIdea)
		if err != nil {
			return nil, fmt.Errorf("submit_idea: %w", err)
		}
		if len(ir.ValidateIdeaCandidate(candidate)) > 0 {
			return ctx, nil
		}
	}

	settlement := transport.Settlement{Status: transport.Status(step.Reply.Status)}
	if step.Reply.Response != nil {
		data, err := json.Marshal(step.Reply.Response)
		if err != nil {
			return nil, fmt.Errorf("encode reply: %w", err)
		}
		settlement.Payload = data
	}
	ch.Script(pushEvent(step), settlement)
	return ctx, nil
}

func pushEvent(step Step) string {
	switch step.kind() {
	case "submit_idea":
		return coordinator.EventIdeaSubmitted
	case "edit_idea":
		return coordinator.EventIdeaEdited
	case "delete_idea":
		return coordinator.EventIdeaDeleted
	case "update_user":
		return coordinator.EventUserEdited
	}
	return ""
}
