package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/session"
	"github.com/roach88/retrosync/internal/transport"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	actions []ir.Action
}

func (d *recordingDispatcher) Dispatch(a ir.Action) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
	return true
}

func (d *recordingDispatcher) types() []ir.ActionType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ir.ActionType, len(d.actions))
	for i, a := range d.actions {
		out[i] = a.Type
	}
	return out
}

type settlementLog struct {
	entries []string
}

func (l *settlementLog) RecordSettlement(_ context.Context, mutationID, event string, s transport.Settlement) error {
	l.entries = append(l.entries, mutationID+" "+event+" "+string(s.Status))
	return nil
}

func ok(payload string) transport.Settlement {
	return transport.Settlement{Status: transport.StatusOK, Payload: json.RawMessage(payload)}
}

func refused(payload string) transport.Settlement {
	return transport.Settlement{Status: transport.StatusError, Payload: json.RawMessage(payload)}
}

func setup(t *testing.T, opts ...Option) (*Coordinator, *transport.Loopback, *recordingDispatcher) {
	t.Helper()
	ch := transport.NewLoopback(nil)
	d := &recordingDispatcher{}
	opts = append([]Option{WithIDGenerator(NewFixedGenerator("m-1", "m-2", "m-3"))}, opts...)
	return New(session.Session{Token: "tok", UserID: 7}, ch, d, opts...), ch, d
}

func candidate() ir.Object {
	return ir.Obj(ir.O("body", ir.String("ship smaller PRs")), ir.O("category", ir.String("happy")))
}

func TestSubmitIdea_CommitsServerRecord(t *testing.T) {
	log := &settlementLog{}
	c, ch, d := setup(t, WithRecorder(log))
	ch.Script(EventIdeaSubmitted, ok(`{"id":41,"body":"ship smaller PRs","category":"happy","user_id":7,"inserted_at":"2026-10-18"}`))

	got, err := c.SubmitIdea(context.Background(), candidate())
	require.NoError(t, err)

	id, _ := got.ID()
	assert.Equal(t, int64(41), id)

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"body":"ship smaller PRs","category":"happy","user_id":7}`, string(sent[0].Payload))

	require.Len(t, d.actions, 1)
	a := d.actions[0]
	assert.Equal(t, ir.ActionIdeaSubmissionCommitted, a.Type)
	assert.Equal(t, "m-1", a.MutationID)
	assert.Equal(t, int64(41), a.ID)
	assert.Equal(t, ir.String("2026-10-18"), a.Record["inserted_at"])

	assert.Equal(t, []string{"m-1 idea_submitted ok"}, log.entries)
}

func TestSubmitIdea_Rejected(t *testing.T) {
	var surfaced []*RejectionError
	c, ch, d := setup(t, OnRejection(func(e *RejectionError) { surfaced = append(surfaced, e) }))
	ch.Script(EventIdeaSubmitted, refused(`{"reason":"retro closed"}`))

	_, err := c.SubmitIdea(context.Background(), candidate())

	require.Error(t, err)
	assert.True(t, IsSubmissionRejected(err))
	assert.False(t, IsDeletionRejected(err))
	assert.Equal(t, []ir.ActionType{ir.ActionIdeaSubmissionRejected}, d.types())
	assert.Equal(t, "m-1", d.actions[0].MutationID)
	assert.Equal(t, ir.String("retro closed"), d.actions[0].Reason["reason"])
	require.Len(t, surfaced, 1)
	assert.Equal(t, err, surfaced[0])
}

func TestSubmitIdea_InvalidCandidateIsNotPushed(t *testing.T) {
	c, ch, d := setup(t)

	_, err := c.SubmitIdea(context.Background(), ir.Obj(ir.O("body", ir.String(" ")), ir.O("category", ir.String("elated"))))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Empty(t, ch.Sent())
	assert.Empty(t, d.actions)
}

func TestEditIdea(t *testing.T) {
	c, ch, d := setup(t)
	ch.Script(EventIdeaEdited, ok(`{"id":5,"body":"fixed typo","edited":true}`), ok(``), refused(`{}`))
	ctx := context.Background()

	require.NoError(t, c.EditIdea(ctx, 5, ir.Obj(ir.O("body", ir.String("fixed typo")))))
	require.NoError(t, c.EditIdea(ctx, 5, ir.Obj(ir.O("category", ir.String("sad")))))
	err := c.EditIdea(ctx, 5, ir.Obj(ir.O("body", ir.String("again"))))
	assert.True(t, IsUpdateRejected(err))

	require.Len(t, d.actions, 3)
	assert.Equal(t, ir.Bool(true), d.actions[0].Record["edited"])
	assert.Equal(t, ir.Obj(ir.O("category", ir.String("sad"))), d.actions[1].Record)
	assert.Equal(t, ir.ActionIdeaUpdateRejected, d.actions[2].Type)
	assert.Equal(t, int64(5), d.actions[2].ID)

	assert.JSONEq(t, `{"id":5,"body":"fixed typo"}`, string(ch.Sent()[0].Payload))
}

func TestDeleteIdea_OptimisticThenSettled(t *testing.T) {
	c, ch, d := setup(t)
	ch.Script(EventIdeaDeleted, ok(`{}`), refused(`{"reason":"not yours"}`))
	ctx := context.Background()

	require.NoError(t, c.DeleteIdea(ctx, 5))
	assert.True(t, IsDeletionRejected(c.DeleteIdea(ctx, 6)))

	assert.Equal(t, []ir.ActionType{
		ir.ActionIdeaDeletionRequested,
		ir.ActionIdeaDeletionCommitted,
		ir.ActionIdeaDeletionRequested,
		ir.ActionIdeaDeletionRejected,
	}, d.types())
	assert.JSONEq(t, `{"id":6}`, string(ch.Sent()[1].Payload))
}

func TestUpdateUser_MergesIntoStore(t *testing.T) {
	ch := transport.NewLoopback(nil)
	e := engine.New()
	require.NoError(t, e.Bootstrap(json.RawMessage(`{"users":[{"id":21,"name":"A","is_typing":true}],"ideas":[]}`)))
	c := New(session.Session{Token: "tok"}, ch, e, WithIDGenerator(NewFixedGenerator("m-1")))
	ch.Script(EventUserEdited, ok(`{"id":21,"email_opt_in":false}`))

	require.NoError(t, c.UpdateUser(context.Background(), 21, ir.Obj(ir.O("email_opt_in", ir.Bool(false)))))
	require.Empty(t, e.Drain(context.Background()))

	user, found := e.State().Users.Get(21)
	require.True(t, found)
	assert.Equal(t, ir.Obj(
		ir.O("id", ir.Int(21)),
		ir.O("name", ir.String("A")),
		ir.O("is_typing", ir.Bool(true)),
		ir.O("email_opt_in", ir.Bool(false)),
	), user)
	assert.JSONEq(t, `{"id":21,"email_opt_in":false}`, string(ch.Sent()[0].Payload))
}

func TestUpdateUser_Rejected(t *testing.T) {
	c, ch, d := setup(t)
	ch.Script(EventUserEdited, refused(`"nope"`))

	err := c.UpdateUser(context.Background(), 21, ir.Obj(ir.O("name", ir.String("B"))))

	assert.True(t, IsUpdateRejected(err))
	require.Len(t, d.actions, 1)
	assert.Equal(t, ir.ActionUserUpdateRejected, d.actions[0].Type)
	assert.Equal(t, ir.String("nope"), d.actions[0].Reason["response"])
}

func TestDeletion_RejectedRestoresFlagInStore(t *testing.T) {
	ch := transport.NewLoopback(nil)
	e := engine.New()
	require.NoError(t, e.Bootstrap(json.RawMessage(`{"users":[],"ideas":[{"id":5,"body":"x","deletionSubmitted":false}]}`)))
	c := New(session.Session{}, ch, e, WithIDGenerator(NewFixedGenerator("m-1")))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.DeleteIdea(ctx, 5) }()

	require.Eventually(t, func() bool { return len(ch.Sent()) == 1 }, time.Second, time.Millisecond)
	require.Empty(t, e.Drain(ctx))
	pending, _ := e.State().Ideas.Find(5)
	assert.Equal(t, ir.Bool(true), pending["deletionSubmitted"])

	require.NoError(t, ch.Settle(0, refused(`{}`)))
	assert.True(t, IsDeletionRejected(<-done))
	require.Empty(t, e.Drain(ctx))

	restored, found := e.State().Ideas.Find(5)
	require.True(t, found)
	assert.Equal(t, ir.Bool(false), restored["deletionSubmitted"])
}

func TestExactlyOneSettlementPerPush(t *testing.T) {
	cases := []struct {
		name       string
		settlement transport.Settlement
		want       ir.ActionType
	}{
		{"ok", ok(`{"id":9}`), ir.ActionIdeaSubmissionCommitted},
		{"error", refused(`{}`), ir.ActionIdeaSubmissionRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ch, d := setup(t)
			ctx := context.Background()

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = c.SubmitIdea(ctx, candidate())
			}()
			require.Eventually(t, func() bool { return len(ch.Sent()) == 1 }, time.Second, time.Millisecond)
			assert.Empty(t, d.types())

			require.NoError(t, ch.Settle(0, tc.settlement))
			require.NoError(t, ch.Settle(0, refused(`{}`)))
			<-done

			assert.Equal(t, []ir.ActionType{tc.want}, d.types())
		})
	}
}

func TestLateSettlementStillDispatches(t *testing.T) {
	c, ch, d := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.DeleteIdea(ctx, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []ir.ActionType{ir.ActionIdeaDeletionRequested}, d.types())

	require.NoError(t, ch.Settle(0, refused(`{}`)))
	require.Eventually(t, func() bool { return len(d.types()) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []ir.ActionType{
		ir.ActionIdeaDeletionRequested,
		ir.ActionIdeaDeletionRejected,
	}, d.types())
	assert.Equal(t, "m-1", d.actions[1].MutationID)
	assert.Equal(t, int64(5), d.actions[1].ID)
}

func TestLateSettlementIsJournaled(t *testing.T) {
	log := &settlementLog{}
	c, ch, d := setup(t, WithRecorder(log))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SubmitIdea(ctx, candidate())
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, ch.Settle(0, ok(`{"id":9,"body":"ship smaller PRs"}`)))
	require.Eventually(t, func() bool { return len(d.types()) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, ir.ActionIdeaSubmissionCommitted, d.actions[0].Type)
	assert.Equal(t, []string{"m-1 idea_submitted ok"}, log.entries)
}

func TestNeverSettledPushDispatchesNothing(t *testing.T) {
	c, _, d := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.EditIdea(ctx, 5, ir.Obj(ir.O("body", ir.String("x"))))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.types())
}

func TestSubmitIdea_AckWithoutIDIsRejected(t *testing.T) {
	for _, payload := range []string{``, `{}`, `{"body":"ship smaller PRs"}`} {
		t.Run(payload, func(t *testing.T) {
			c, ch, d := setup(t)
			ch.Script(EventIdeaSubmitted, ok(payload))

			idea, err := c.SubmitIdea(context.Background(), candidate())

			assert.Nil(t, idea)
			assert.True(t, IsSubmissionRejected(err))
			require.Len(t, d.actions, 1)
			assert.Equal(t, ir.ActionIdeaSubmissionRejected, d.actions[0].Type)
			assert.Equal(t, ir.String("acknowledgment carries no idea id"), d.actions[0].Reason["error"])
		})
	}
}

func TestConcurrentMutationsAreIndependent(t *testing.T) {
	ch := transport.NewLoopback(nil)
	d := &recordingDispatcher{}
	c := New(session.Session{}, ch, d, WithIDGenerator(&SequenceGenerator{Prefix: "m"}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := int64(1); id <= 3; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = c.EditIdea(ctx, id, ir.Obj(ir.O("body", ir.String("x"))))
		}(id)
	}
	require.Eventually(t, func() bool { return len(ch.Sent()) == 3 }, time.Second, time.Millisecond)

	// Settle in reverse push order.
	for i := 2; i >= 0; i-- {
		require.NoError(t, ch.Settle(i, ok(``)))
	}
	wg.Wait()

	assert.Len(t, d.types(), 3)
	ids := map[string]bool{}
	for _, a := range d.actions {
		ids[a.MutationID] = true
	}
	assert.Equal(t, map[string]bool{"m-1": true, "m-2": true, "m-3": true}, ids)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	a := UUIDv7Generator{}.Generate()
	b := UUIDv7Generator{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
