package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket starts a websocket server that hands every decoded frame to handle.
func fakeSocket(t *testing.T, handle func(conn *websocket.Conn, f frame)) (string, <-chan url.Values) {
	t.Helper()
	queries := make(chan url.Values, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			handle(conn, f)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket/websocket", queries
}

func writeFrame(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(f)
	if assert.NoError(t, err) {
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	}
}

func reply(t *testing.T, conn *websocket.Conn, to frame, status, response string) {
	writeFrame(t, conn, frame{
		JoinRef: to.JoinRef,
		Ref:     to.Ref,
		Topic:   to.Topic,
		Event:   eventReply,
		Payload: json.RawMessage(`{"status":"` + status + `","response":` + response + `}`),
	})
}

func testSettings() *PhoenixSettings {
	return &PhoenixSettings{HandshakeTimeout: time.Second, WriteTimeout: time.Second}
}

func TestFrame_RoundTrip(t *testing.T) {
	ref := "7"
	data, err := json.Marshal(frame{Ref: &ref, Topic: "retro:abc", Event: "idea_submitted", Payload: json.RawMessage(`{"body":"x"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `[null,"7","retro:abc","idea_submitted",{"body":"x"}]`, string(data))

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Nil(t, f.JoinRef)
	require.NotNil(t, f.Ref)
	assert.Equal(t, "7", *f.Ref)
	assert.Equal(t, "idea_submitted", f.Event)
}

func TestFrame_RejectsWrongArity(t *testing.T) {
	var f frame
	assert.Error(t, json.Unmarshal([]byte(`["1","2","t"]`), &f))
}

func TestSocketURL(t *testing.T) {
	got, err := SocketURL("ws://localhost:4000/socket/websocket", map[string]string{"token": "abc"})
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", u.Query().Get("vsn"))
	assert.Equal(t, "abc", u.Query().Get("token"))
}

func TestPhoenix_JoinPushAndEvents(t *testing.T) {
	endpoint, queries := fakeSocket(t, func(conn *websocket.Conn, f frame) {
		switch f.Event {
		case eventJoin:
			reply(t, conn, f, "ok", `{"ideas":[],"users":[],"retro":{"facilitator_id":1}}`)
			writeFrame(t, conn, frame{Topic: f.Topic, Event: "presence_state", Payload: json.RawMessage(`{"tok":[{"user":{"id":1}}]}`)})
		case "idea_submitted":
			reply(t, conn, f, "ok", `{"id":9,"body":"ship it","category":"happy"}`)
		case "idea_deleted":
			reply(t, conn, f, "error", `{"reason":"forbidden"}`)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, endpoint, "retro:abc", map[string]string{"token": "tok"}, testSettings())
	require.NoError(t, err)
	defer ch.Close()

	q := <-queries
	assert.Equal(t, "tok", q.Get("token"))
	assert.Equal(t, "2.0.0", q.Get("vsn"))

	presences := make(chan json.RawMessage, 1)
	ch.On("presence_state", func(payload json.RawMessage) { presences <- payload })

	bootstrap, err := ch.Join(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ideas":[],"users":[],"retro":{"facilitator_id":1}}`, string(bootstrap))

	select {
	case payload := <-presences:
		assert.JSONEq(t, `{"tok":[{"user":{"id":1}}]}`, string(payload))
	case <-ctx.Done():
		t.Fatal("presence_state not delivered")
	}

	ok, err := ch.Push(ctx, "idea_submitted", map[string]string{"body": "ship it"}).Await(ctx)
	require.NoError(t, err)
	assert.True(t, ok.OK())
	assert.JSONEq(t, `{"id":9,"body":"ship it","category":"happy"}`, string(ok.Payload))

	refused, err := ch.Push(ctx, "idea_deleted", map[string]int{"id": 9}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusError, refused.Status)
	assert.JSONEq(t, `{"reason":"forbidden"}`, string(refused.Payload))
}

func TestPhoenix_JoinRefused(t *testing.T) {
	endpoint, _ := fakeSocket(t, func(conn *websocket.Conn, f frame) {
		if f.Event == eventJoin {
			reply(t, conn, f, "error", `{"reason":"unauthorized"}`)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, endpoint, "retro:abc", nil, testSettings())
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Join(ctx)
	require.Error(t, err)
	assert.True(t, IsJoinError(err))
}

func TestPhoenix_UnansweredPushIsUnsettledUntilClose(t *testing.T) {
	endpoint, _ := fakeSocket(t, func(conn *websocket.Conn, f frame) {
		if f.Event == "hang_up" {
			conn.Close()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, endpoint, "retro:abc", nil, testSettings())
	require.NoError(t, err)
	defer ch.Close()

	silent := ch.Push(ctx, "idea_edited", map[string]int{"id": 1})

	short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = silent.Await(short)
	stop()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ch.Push(ctx, "hang_up", nil)

	_, err = silent.Await(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	<-ch.Done()
	_, err = ch.Push(ctx, "idea_edited", nil).Await(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
