package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Sent is a push recorded by a Loopback.
type Sent struct {
	Event   string          `json:"event" yaml:"event"`
	Payload json.RawMessage `json:"payload" yaml:"payload"`
}

// Loopback is an in-memory Channel. Pushes settle from scripted replies;
// server events are injected with Emit.
type Loopback struct {
	mu        sync.Mutex
	joinReply json.RawMessage
	joinErr   error
	handlers  map[string][]Handler
	scripts   map[string][]Settlement
	sent      []Sent
	pushes    []*pending
}

// NewLoopback returns a loopback whose Join returns joinReply.
func NewLoopback(joinReply json.RawMessage) *Loopback {
	return &Loopback{
		joinReply: joinReply,
		handlers:  make(map[string][]Handler),
		scripts:   make(map[string][]Settlement),
	}
}

// RefuseJoin makes Join fail with a JoinError carrying payload.
func (l *Loopback) RefuseJoin(payload json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joinErr = &JoinError{Topic: "loopback", Payload: payload}
}

func (l *Loopback) Join(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.joinErr != nil {
		return nil, l.joinErr
	}
	return l.joinReply, nil
}

func (l *Loopback) On(event string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[event] = append(l.handlers[event], h)
}

// Script queues replies for future pushes of event, consumed in order.
// A push with no scripted reply stays unsettled until Settle is called.
func (l *Loopback) Script(event string, replies ...Settlement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[event] = append(l.scripts[event], replies...)
}

func (l *Loopback) Push(ctx context.Context, event string, payload any) Push {
	data, err := json.Marshal(payload)
	if err != nil {
		return Failed(fmt.Errorf("transport: encode %s: %w", event, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := newPending()
	l.sent = append(l.sent, Sent{Event: event, Payload: data})
	l.pushes = append(l.pushes, p)

	if queue := l.scripts[event]; len(queue) > 0 {
		p.settle(queue[0])
		l.scripts[event] = queue[1:]
	}
	return p
}

// Settle resolves the i-th push. It has no effect on an already settled push.
func (l *Loopback) Settle(i int, s Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.pushes) {
		return fmt.Errorf("transport: no push %d (have %d)", i, len(l.pushes))
	}
	l.pushes[i].settle(s)
	return nil
}

// Sent returns every push recorded so far.
func (l *Loopback) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Sent, len(l.sent))
	copy(out, l.sent)
	return out
}

// Emit delivers a server event to registered handlers synchronously.
func (l *Loopback) Emit(event string, payload any) error {
	data, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("transport: encode %s: %w", event, err)
		}
	}

	l.mu.Lock()
	handlers := append([]Handler(nil), l.handlers[event]...)
	l.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}
