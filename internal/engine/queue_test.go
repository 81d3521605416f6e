package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/ir"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(ActionEvent(ir.IdeaDeletionRequested(1)))
	q.Enqueue(PresenceStateEvent(json.RawMessage(`{}`)))
	q.Enqueue(ActionEvent(ir.IdeaDeletionCommitted(1)))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, ir.ActionIdeaDeletionRequested, first.Action.Type)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypePresenceState, second.Type)

	third, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, ir.ActionIdeaDeletionCommitted, third.Action.Type)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(PresenceDiffEvent(json.RawMessage(`{}`)))
	}()

	select {
	case <-q.Wait():
		assert.Equal(t, 1, q.Len())
	case <-time.After(time.Second):
		t.Fatal("no signal after enqueue")
	}
}

func TestEventQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(ActionEvent(ir.IdeaDeletionRequested(1))))

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "action", EventTypeAction.String())
	assert.Equal(t, "presence_state", EventTypePresenceState.String())
	assert.Equal(t, "presence_diff", EventTypePresenceDiff.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
