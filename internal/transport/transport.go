// Package transport defines the channel contract the sync layer talks to and
// provides two implementations: a Phoenix Channels websocket client and an
// in-memory loopback used by tests and the scenario harness.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Status is the server's verdict on a push.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Settlement is the single outcome of a push.
type Settlement struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"response,omitempty"`
}

// OK reports whether the server accepted the push.
func (s Settlement) OK() bool {
	return s.Status == StatusOK
}

// Handler receives the payload of a server-initiated event.
type Handler func(payload json.RawMessage)

// Channel is a joined topic on a realtime connection.
type Channel interface {
	// Join subscribes to the topic and returns the join reply payload.
	Join(ctx context.Context) (json.RawMessage, error)

	// On registers h for every server event with the given name.
	// Handlers run on the transport's receive goroutine and must not block.
	On(event string, h Handler)

	// Push sends an event. The returned Push settles exactly once.
	Push(ctx context.Context, event string, payload any) Push
}

// Push is an in-flight request.
type Push interface {
	// Await blocks until the push settles or ctx is done. A context error
	// means the push is unsettled; it may still settle later.
	Await(ctx context.Context) (Settlement, error)
}

// ErrClosed is returned for pushes outstanding when the connection closes.
var ErrClosed = errors.New("transport: connection closed")

// JoinError reports a join the server refused.
type JoinError struct {
	Topic   string
	Payload json.RawMessage
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("transport: join %s refused: %s", e.Topic, string(e.Payload))
}

// IsJoinError checks if an error is a refused join.
func IsJoinError(err error) bool {
	var je *JoinError
	return errors.As(err, &je)
}

// pending is the Push implementation shared by both transports.
type pending struct {
	once   sync.Once
	done   chan struct{}
	result Settlement
	err    error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

// settle resolves the push. Only the first call has any effect.
func (p *pending) settle(s Settlement) {
	p.once.Do(func() {
		p.result = s
		close(p.done)
	})
}

// fail resolves the push with a transport error.
func (p *pending) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *pending) Await(ctx context.Context) (Settlement, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Settlement{}, ctx.Err()
	}
}

// Settled returns a Push that is already resolved with s.
func Settled(s Settlement) Push {
	p := newPending()
	p.settle(s)
	return p
}

// Failed returns a Push that is already resolved with err.
func Failed(err error) Push {
	p := newPending()
	p.fail(err)
	return p
}
