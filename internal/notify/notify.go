// Package notify fans roster changes out to NATS so dashboards and bots can
// follow who is in a retro without joining the channel.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/presence"
	"github.com/roach88/retrosync/internal/selectors"
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subject returns the subject roster changes for retroID are published on.
func Subject(retroID string) string {
	return "retrosync.retro." + retroID + ".roster"
}

// RosterChanged is the message published for every new roster.
type RosterChanged struct {
	RetroID   string                    `json:"retro_id"`
	Seq       int64                     `json:"seq"`
	Presences []*selectors.UserPresence `json:"presences"`
}

// Notifier publishes the joined roster whenever it changes.
type Notifier struct {
	pub       Publisher
	retroID   string
	selectors *selectors.Selectors
	last      *presence.Roster
}

// New creates a notifier. sel may be shared with the rest of the client.
func New(pub Publisher, retroID string, sel *selectors.Selectors) *Notifier {
	return &Notifier{pub: pub, retroID: retroID, selectors: sel, last: presence.NewRoster()}
}

// Observe is an engine.Subscriber. Actions that leave the roster pointer
// unchanged publish nothing.
func (n *Notifier) Observe(s engine.State, a ir.Action) {
	if s.Roster == n.last {
		return
	}
	n.last = s.Roster

	msg := RosterChanged{
		RetroID:   n.retroID,
		Seq:       s.Seq,
		Presences: n.selectors.UserPresences(s.Slices()),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode roster message", "seq", s.Seq, "error", err)
		return
	}
	if err := n.pub.Publish(Subject(n.retroID), data); err != nil {
		slog.Warn("roster publish failed", "seq", s.Seq, "action", a.Type, "error", err)
		return
	}
	slog.Debug("roster published", "seq", s.Seq, "presences", len(msg.Presences))
}

// Connect dials a NATS server for publishing.
func Connect(url, clientName string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
