package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/retrosync/internal/entity"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/presence"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/transport"
)

// Server events the engine listens to once attached to a channel.
const (
	EventPresenceState = "presence_state"
	EventPresenceDiff  = "presence_diff"
	EventIdeaCommitted = "idea_committed"
	EventIdeaEdited    = "idea_edited"
	EventIdeaDeleted   = "idea_deleted"
	EventUserEdited    = "user_edited"
)

// State is the client's whole store at one point in the action sequence.
// Every field is immutable; a slice untouched by an action keeps its pointer.
type State struct {
	Seq    int64
	Ideas  *entity.IdeaList
	Users  *entity.UserIndex
	Roster *presence.Roster
	Retro  *ir.Retro
}

// InitialState is the state before bootstrap.
func InitialState() State {
	return State{
		Ideas:  entity.NewIdeaList(),
		Users:  entity.NewUserIndex(),
		Roster: presence.NewRoster(),
	}
}

// Slices returns the inputs selectors read from.
func (s State) Slices() selectors.Slices {
	return selectors.Slices{Ideas: s.Ideas, Users: s.Users, Roster: s.Roster, Retro: s.Retro}
}

// Reduce applies one action to state. Presence actions carry users only;
// the roster is advanced separately by the synchronizer.
func Reduce(s State, a ir.Action) State {
	next := s
	next.Seq = a.Seq
	next.Ideas = entity.ReduceIdeas(s.Ideas, a)
	next.Users = entity.ReduceUsers(s.Users, a)
	if a.Type == ir.ActionSetInitialState && a.Snapshot != nil {
		next.Retro = a.Snapshot.Retro
	}
	return next
}

// Subscriber is notified after every applied action, on the dispatch goroutine.
type Subscriber func(s State, a ir.Action)

// Journal records applied actions.
type Journal interface {
	WriteAction(ctx context.Context, a ir.Action) error
}

// Engine is the single-writer dispatch loop.
//
// Thread-safety model:
//   - Enqueue, Dispatch, State, Subscribe: safe from any goroutine
//   - Run and Drain: exactly one goroutine at a time, never both
type Engine struct {
	clock   *Clock
	queue   *eventQueue
	sync    *presence.Synchronizer
	journal Journal

	mu    sync.RWMutex
	state State

	subMu       sync.Mutex
	subscribers []Subscriber
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records every applied action in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock stamps actions from c instead of a fresh clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an engine holding InitialState.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock: NewClock(),
		queue: newEventQueue(),
		sync:  presence.NewSynchronizer(),
		state: InitialState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue submits an event. Returns false once the engine has stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Dispatch enqueues an action.
func (e *Engine) Dispatch(a ir.Action) bool {
	return e.Enqueue(ActionEvent(a))
}

// State returns the latest applied state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Subscribe registers fn for every applied action.
func (e *Engine) Subscribe(fn Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Bootstrap decodes a join reply into a snapshot and enqueues SET_INITIAL_STATE.
func (e *Engine) Bootstrap(payload json.RawMessage) error {
	var snap ir.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return malformed("join", err)
	}
	if errs := snap.Validate(); len(errs) > 0 {
		return &RuntimeError{
			Code:    ErrCodeInvalidSnapshot,
			Message: fmt.Sprintf("%d invalid entries", len(errs)),
			Event:   "join",
			Err:     errs[0],
		}
	}
	e.Dispatch(ir.SetInitialState(snap))
	return nil
}

// Attach routes a channel's presence and broadcast events into the queue.
func (e *Engine) Attach(ch transport.Channel) {
	ch.On(EventPresenceState, func(p json.RawMessage) {
		e.Enqueue(PresenceStateEvent(p))
	})
	ch.On(EventPresenceDiff, func(p json.RawMessage) {
		e.Enqueue(PresenceDiffEvent(p))
	})
	ch.On(EventIdeaCommitted, e.broadcast(EventIdeaCommitted, func(obj ir.Object, _ int64) ir.Action {
		return ir.IdeaSubmissionCommitted(obj)
	}))
	ch.On(EventIdeaEdited, e.broadcast(EventIdeaEdited, func(obj ir.Object, id int64) ir.Action {
		return ir.IdeaUpdateCommitted(id, obj)
	}))
	ch.On(EventIdeaDeleted, e.broadcast(EventIdeaDeleted, func(_ ir.Object, id int64) ir.Action {
		return ir.IdeaDeletionCommitted(id)
	}))
	ch.On(EventUserEdited, e.broadcast(EventUserEdited, func(obj ir.Object, _ int64) ir.Action {
		return ir.UserUpdateCommitted(obj)
	}))
}

// broadcast decodes a peer broadcast carrying an entity record.
// Records without an integer id are dropped.
func (e *Engine) broadcast(event string, build func(obj ir.Object, id int64) ir.Action) transport.Handler {
	return func(payload json.RawMessage) {
		obj, err := ir.DecodeObject(payload)
		if err != nil {
			slog.Warn("dropping broadcast", "event", event, "error", malformed(event, err))
			return
		}
		id, ok := obj.ID()
		if !ok {
			slog.Warn("dropping broadcast without id", "event", event)
			return
		}
		e.Dispatch(build(obj, id))
	}
}

// Run is the dispatch loop. It blocks until ctx is cancelled or Stop is called.
//
// An event that cannot be applied is logged and skipped; later events
// still apply.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			if err := e.process(ctx, ev); err != nil {
				logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain applies every queued event, including ones enqueued while draining,
// and returns the errors of events that were skipped.
func (e *Engine) Drain(ctx context.Context) []error {
	var errs []error
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return errs
		}
		if err := e.process(ctx, ev); err != nil {
			logEventError(ev, err)
			errs = append(errs, err)
		}
	}
}

// Stop closes the queue; Run returns once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

func (e *Engine) process(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeAction:
		if ev.Action == nil {
			return fmt.Errorf("action event missing action")
		}
		return e.apply(ctx, *ev.Action, nil)

	case EventTypePresenceState:
		roster, err := e.sync.HandleState(ev.Payload)
		if err != nil {
			return malformed(EventPresenceState, err)
		}
		return e.apply(ctx, ir.SetPresences(roster.Users()), roster)

	case EventTypePresenceDiff:
		roster, diff, err := e.sync.HandleDiff(ev.Payload)
		if err != nil {
			return malformed(EventPresenceDiff, err)
		}
		return e.apply(ctx, ir.SyncPresenceDiff(diff.JoinedUsers()), roster)

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// apply stamps, reduces, journals and publishes one action.
// A journal failure does not undo the state change.
func (e *Engine) apply(ctx context.Context, a ir.Action, roster *presence.Roster) error {
	a.Seq = e.clock.Next()

	e.mu.Lock()
	next := Reduce(e.state, a)
	if roster != nil {
		next.Roster = roster
	}
	e.state = next
	e.mu.Unlock()

	slog.Debug("action applied",
		"seq", a.Seq,
		"type", a.Type,
		"ideas", next.Ideas.Len(),
		"users", next.Users.Len(),
		"connections", next.Roster.Len(),
	)

	var journalErr error
	if e.journal != nil {
		if err := e.journal.WriteAction(ctx, a); err != nil {
			journalErr = &RuntimeError{Code: ErrCodeJournal, Message: "write action", Event: string(a.Type), Err: err}
		}
	}

	e.subMu.Lock()
	subs := append([]Subscriber(nil), e.subscribers...)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(next, a)
	}

	return journalErr
}

func logEventError(ev Event, err error) {
	attrs := []any{"event_type", ev.Type.String(), "error", err}
	if ev.Action != nil {
		attrs = append(attrs, "action", ev.Action.Type, "mutation_id", ev.Action.MutationID)
	}
	slog.Error("event processing failed", attrs...)
}
