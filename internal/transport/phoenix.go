package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Phoenix wire protocol constants.
const (
	protocolVersion = "2.0.0"
	phoenixTopic    = "phoenix"

	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
)

// PhoenixSettings tunes the websocket client.
type PhoenixSettings struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// DefaultPhoenixSettings returns the settings used by Dial when none are given.
func DefaultPhoenixSettings() *PhoenixSettings {
	return &PhoenixSettings{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Phoenix is a Channel joined over a Phoenix Channels v2 websocket.
type Phoenix struct {
	topic    string
	params   map[string]string
	settings *PhoenixSettings

	conn    *websocket.Conn
	writeMu sync.Mutex

	ref     atomic.Uint64
	joinRef atomic.Value // string

	mu       sync.Mutex
	pending  map[string]*pending
	handlers map[string][]Handler
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// frame is one message in the v2 array encoding:
// [join_ref, ref, topic, event, payload].
type frame struct {
	JoinRef *string
	Ref     *string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (f frame) MarshalJSON() ([]byte, error) {
	payload := f.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]any{f.JoinRef, f.Ref, f.Topic, f.Event, payload})
}

func (f *frame) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 5 {
		return fmt.Errorf("frame: expected 5 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &f.JoinRef); err != nil {
		return fmt.Errorf("frame join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &f.Ref); err != nil {
		return fmt.Errorf("frame ref: %w", err)
	}
	if err := json.Unmarshal(parts[2], &f.Topic); err != nil {
		return fmt.Errorf("frame topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &f.Event); err != nil {
		return fmt.Errorf("frame event: %w", err)
	}
	f.Payload = parts[4]
	return nil
}

type replyPayload struct {
	Status   Status          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// SocketURL appends the protocol version and params to a socket endpoint.
func SocketURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the websocket and starts the receive and heartbeat loops.
// The topic is not joined until Join is called.
func Dial(ctx context.Context, endpoint, topic string, params map[string]string, settings *PhoenixSettings) (*Phoenix, error) {
	if settings == nil {
		settings = DefaultPhoenixSettings()
	}
	socketURL, err := SocketURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	p := &Phoenix{
		topic:    topic,
		params:   params,
		settings: settings,
		conn:     conn,
		pending:  make(map[string]*pending),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
	p.joinRef.Store("")

	go p.readLoop()
	go p.heartbeatLoop()

	slog.Debug("socket connected", "endpoint", endpoint, "topic", topic)
	return p, nil
}

func (p *Phoenix) nextRef() string {
	return strconv.FormatUint(p.ref.Add(1), 10)
}

// Join sends phx_join with the dial params and waits for the reply.
func (p *Phoenix) Join(ctx context.Context) (json.RawMessage, error) {
	ref := p.nextRef()
	p.joinRef.Store(ref)

	payload, err := json.Marshal(p.params)
	if err != nil {
		return nil, fmt.Errorf("encode join params: %w", err)
	}

	settlement, err := p.send(ctx, eventJoin, payload, ref).Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", p.topic, err)
	}
	if !settlement.OK() {
		return nil, &JoinError{Topic: p.topic, Payload: settlement.Payload}
	}

	slog.Info("joined channel", "topic", p.topic)
	return settlement.Payload, nil
}

func (p *Phoenix) On(event string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = append(p.handlers[event], h)
}

func (p *Phoenix) Push(ctx context.Context, event string, payload any) Push {
	data, err := json.Marshal(payload)
	if err != nil {
		return Failed(fmt.Errorf("transport: encode %s: %w", event, err))
	}
	return p.send(ctx, event, data, p.nextRef())
}

// send registers a pending reply for ref and writes the frame.
func (p *Phoenix) send(ctx context.Context, event string, payload json.RawMessage, ref string) *pending {
	pend := newPending()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pend.fail(ErrClosed)
		return pend
	}
	p.pending[ref] = pend
	p.mu.Unlock()

	joinRef := p.joinRef.Load().(string)
	f := frame{Ref: &ref, Topic: p.topic, Event: event, Payload: payload}
	if joinRef != "" {
		f.JoinRef = &joinRef
	}

	if err := p.write(ctx, f); err != nil {
		p.mu.Lock()
		delete(p.pending, ref)
		p.mu.Unlock()
		pend.fail(fmt.Errorf("transport: send %s: %w", event, err))
	}
	return pend
}

func (p *Phoenix) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(p.settings.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Phoenix) readLoop() {
	defer p.shutdown()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("socket read failed", "topic", p.topic, "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("dropping malformed frame", "error", err)
			continue
		}
		p.route(f)
	}
}

// route delivers a frame to the pending push it answers or to event handlers.
func (p *Phoenix) route(f frame) {
	switch {
	case f.Event == eventReply:
		if f.Ref == nil {
			return
		}
		p.mu.Lock()
		pend, ok := p.pending[*f.Ref]
		delete(p.pending, *f.Ref)
		p.mu.Unlock()
		if !ok {
			return
		}

		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			pend.fail(fmt.Errorf("transport: decode reply: %w", err))
			return
		}
		pend.settle(Settlement{Status: reply.Status, Payload: reply.Response})

	case f.Topic != p.topic:
		return

	case f.Event == eventError || f.Event == eventClose:
		slog.Warn("channel closed by server", "topic", p.topic, "event", f.Event)

	default:
		p.mu.Lock()
		handlers := append([]Handler(nil), p.handlers[f.Event]...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(f.Payload)
		}
	}
}

func (p *Phoenix) heartbeatLoop() {
	if p.settings.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			ref := p.nextRef()
			f := frame{Ref: &ref, Topic: phoenixTopic, Event: eventHeartbeat}
			if err := p.write(context.Background(), f); err != nil {
				slog.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

// shutdown fails every outstanding push and stops the heartbeat.
func (p *Phoenix) shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		outstanding := p.pending
		p.pending = make(map[string]*pending)
		p.mu.Unlock()

		for _, pend := range outstanding {
			pend.fail(ErrClosed)
		}
		close(p.done)
		p.conn.Close()
	})
}

// Done is closed once the connection has shut down.
func (p *Phoenix) Done() <-chan struct{} {
	return p.done
}

// Close leaves the channel and closes the socket.
func (p *Phoenix) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	ref := p.nextRef()
	_ = p.write(context.Background(), frame{Ref: &ref, Topic: p.topic, Event: eventLeave})

	p.writeMu.Lock()
	err := p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()

	p.shutdown()
	return err
}
