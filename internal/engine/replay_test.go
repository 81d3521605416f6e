package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/ir"
)

func TestReplay_MatchesLiveState(t *testing.T) {
	j := &memJournal{}
	e := New(WithJournal(j))
	require.NoError(t, e.Bootstrap(json.RawMessage(bootstrapJSON)))
	e.Enqueue(PresenceStateEvent(json.RawMessage(`{"tok": [{"user": {"id": 3, "name": "Estelle"}}]}`)))
	e.Dispatch(ir.IdeaSubmissionCommitted(ir.Obj(ir.O("id", ir.Int(11)), ir.O("body", ir.String("x")), ir.O("category", ir.String("happy")))))
	e.Dispatch(ir.IdeaDeletionRequested(10))
	require.Empty(t, e.Drain(context.Background()))

	replayed, err := Replay(j.actions)
	require.NoError(t, err)

	live, err := Fingerprint(e.State())
	require.NoError(t, err)
	again, err := Fingerprint(replayed)
	require.NoError(t, err)
	assert.Equal(t, live, again)
	assert.Equal(t, e.State().Seq, replayed.Seq)
}

func TestReplay_RejectsOutOfOrderSeq(t *testing.T) {
	a := ir.IdeaDeletionRequested(1)
	a.Seq = 2
	b := ir.IdeaDeletionRejected(1)
	b.Seq = 2

	_, err := Replay([]ir.Action{a, b})
	assert.Error(t, err)
}

func TestFingerprint_IgnoresRoster(t *testing.T) {
	s := InitialState()
	before, err := Fingerprint(s)
	require.NoError(t, err)

	s.Roster = nil
	after, err := Fingerprint(s)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
