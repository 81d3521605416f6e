// Package coordinator bridges user-initiated edits to the channel and back
// into the store.
//
// Each mutation runs in three stages: an optional optimistic action, a
// single push, and exactly one settlement action once the server answers.
// No retries and no timeouts: the caller's context bounds how long it
// waits, never whether the settlement is applied.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/session"
	"github.com/roach88/retrosync/internal/transport"
)

// Push events.
const (
	EventIdeaSubmitted = "idea_submitted"
	EventIdeaEdited    = "idea_edited"
	EventIdeaDeleted   = "idea_deleted"
	EventUserEdited    = "user_edited"
)

// Dispatcher accepts actions for the serial dispatch path.
type Dispatcher interface {
	Dispatch(a ir.Action) bool
}

// Recorder journals push settlements.
type Recorder interface {
	RecordSettlement(ctx context.Context, mutationID, event string, s transport.Settlement) error
}

// Coordinator issues mutations for one session. Safe for concurrent use;
// concurrent mutations are independent of each other.
type Coordinator struct {
	session  session.Session
	channel  transport.Channel
	dispatch Dispatcher
	ids      IDGenerator
	recorder Recorder
	onReject func(*RejectionError)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator replaces the UUIDv7 mutation id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithRecorder journals every settlement.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// OnRejection registers fn for every rejection, after its action is dispatched.
func OnRejection(fn func(*RejectionError)) Option {
	return func(c *Coordinator) {
		c.onReject = fn
	}
}

// New creates a coordinator pushing on ch and dispatching into d.
func New(s session.Session, ch transport.Channel, d Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:  s,
		channel:  ch,
		dispatch: d,
		ids:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mutation describes one push and how to settle it.
type mutation struct {
	id       string
	event    string
	entityID int64
	payload  ir.Object
	code     RejectionCode
	rejected ir.ActionType
	commit   func(response ir.Object) (ir.Action, error)
}

// outcome is what a settled push dispatched.
type outcome struct {
	action ir.Action
	err    error
}

// SubmitIdea pushes a new idea. The store changes only once the server
// acknowledges, with the server's canonical record.
func (c *Coordinator) SubmitIdea(ctx context.Context, candidate ir.Object) (ir.Object, error) {
	if errs := ir.ValidateIdeaCandidate(candidate); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	payload := candidate.Clone()
	if _, ok := payload.Int("user_id"); !ok && c.session.UserID != 0 {
		payload["user_id"] = ir.Int(c.session.UserID)
	}

	committed, err := c.run(ctx, mutation{
		event:    EventIdeaSubmitted,
		payload:  payload,
		code:     ErrCodeSubmissionRejected,
		rejected: ir.ActionIdeaSubmissionRejected,
		commit: func(response ir.Object) (ir.Action, error) {
			if _, ok := response.ID(); !ok {
				return ir.Action{}, errMissingID
			}
			return ir.IdeaSubmissionCommitted(response), nil
		},
	})
	if err != nil {
		return nil, err
	}
	return committed.Record, nil
}

// EditIdea pushes an attribute subset for an existing idea.
func (c *Coordinator) EditIdea(ctx context.Context, id int64, attrs ir.Object) error {
	_, err := c.run(ctx, mutation{
		event:    EventIdeaEdited,
		entityID: id,
		payload:  withID(attrs, id),
		code:     ErrCodeUpdateRejected,
		rejected: ir.ActionIdeaUpdateRejected,
		commit: func(response ir.Object) (ir.Action, error) {
			if len(response) == 0 {
				response = attrs
			}
			return ir.IdeaUpdateCommitted(id, response), nil
		},
	})
	return err
}

// DeleteIdea flags the idea as pending deletion immediately, then pushes.
// A rejection clears the flag again.
func (c *Coordinator) DeleteIdea(ctx context.Context, id int64) error {
	c.dispatch.Dispatch(ir.IdeaDeletionRequested(id))

	_, err := c.run(ctx, mutation{
		event:    EventIdeaDeleted,
		entityID: id,
		payload:  ir.Obj(ir.O("id", ir.Int(id))),
		code:     ErrCodeDeletionRejected,
		rejected: ir.ActionIdeaDeletionRejected,
		commit: func(ir.Object) (ir.Action, error) {
			return ir.IdeaDeletionCommitted(id), nil
		},
	})
	return err
}

// UpdateUser pushes {id, ...attrs} for a user. The acknowledged record is
// merged into the user index, keeping attributes the server left out.
func (c *Coordinator) UpdateUser(ctx context.Context, id int64, attrs ir.Object) error {
	payload := withID(attrs, id)
	_, err := c.run(ctx, mutation{
		event:    EventUserEdited,
		entityID: id,
		payload:  payload,
		code:     ErrCodeUpdateRejected,
		rejected: ir.ActionUserUpdateRejected,
		commit: func(response ir.Object) (ir.Action, error) {
			if len(response) == 0 {
				response = payload
			}
			return ir.UserUpdateCommitted(withID(response, id)), nil
		},
	})
	return err
}

// run pushes m and returns the settlement action it dispatched.
//
// ctx bounds only how long the caller waits. The push is awaited on a
// detached context, so a reply arriving after ctx is done still dispatches
// its one settlement action. A push the transport never settles dispatches
// nothing, and any optimistic state stays as it is.
func (c *Coordinator) run(ctx context.Context, m mutation) (ir.Action, error) {
	m.id = c.ids.Generate()

	slog.Debug("push sent",
		"mutation_id", m.id,
		"event", m.event,
		"id", m.entityID,
	)

	push := c.channel.Push(ctx, m.event, m.payload)
	done := make(chan outcome, 1)
	go func() {
		a, err := c.settle(context.WithoutCancel(ctx), m, push)
		done <- outcome{action: a, err: err}
	}()

	select {
	case out := <-done:
		return out.action, out.err
	case <-ctx.Done():
		select {
		case out := <-done:
			return out.action, out.err
		default:
		}
		slog.Warn("push still unsettled, caller stopped waiting",
			"mutation_id", m.id,
			"event", m.event,
			"error", ctx.Err(),
		)
		return ir.Action{}, ctx.Err()
	}
}

// settle waits for push and dispatches exactly one commit or rejection.
// A transport failure dispatches nothing.
func (c *Coordinator) settle(ctx context.Context, m mutation, push transport.Push) (ir.Action, error) {
	settlement, err := push.Await(ctx)
	if err != nil {
		slog.Warn("push unsettled",
			"mutation_id", m.id,
			"event", m.event,
			"error", err,
		)
		return ir.Action{}, err
	}

	if c.recorder != nil {
		if err := c.recorder.RecordSettlement(ctx, m.id, m.event, settlement); err != nil {
			slog.Error("settlement not journaled", "mutation_id", m.id, "error", err)
		}
	}

	response := decodeResponse(settlement.Payload)

	if settlement.OK() {
		a, err := m.commit(response)
		if err == nil {
			a.MutationID = m.id
			c.dispatch.Dispatch(a)
			slog.Debug("push committed", "mutation_id", m.id, "event", m.event, "action", a.Type)
			return a, nil
		}
		slog.Warn("acknowledgment refused", "mutation_id", m.id, "event", m.event, "error", err)
		response = ir.Obj(
			ir.O("error", ir.String(err.Error())),
			ir.O("response", response),
		)
	}

	a := ir.Rejected(m.rejected, m.id, m.entityID, response)
	c.dispatch.Dispatch(a)
	rej := &RejectionError{
		Code:       m.code,
		MutationID: m.id,
		Event:      m.event,
		ID:         m.entityID,
		Reason:     response,
	}
	slog.Info("push rejected", "mutation_id", m.id, "event", m.event, "code", rej.Code)
	if c.onReject != nil {
		c.onReject(rej)
	}
	return a, rej
}

// decodeResponse reads a settlement payload as a record. Anything that is
// not an object is kept under "response".
func decodeResponse(payload json.RawMessage) ir.Object {
	if len(payload) == 0 {
		return ir.Object{}
	}
	if obj, err := ir.DecodeObject(payload); err == nil {
		return obj
	}
	v, err := ir.UnmarshalValue(payload)
	if err != nil {
		return ir.Obj(ir.O("response", ir.String(string(payload))))
	}
	return ir.Obj(ir.O("response", v))
}

func withID(attrs ir.Object, id int64) ir.Object {
	out := attrs.Clone()
	out["id"] = ir.Int(id)
	return out
}
