package presence

import (
	"encoding/json"
	"log/slog"
)

// Synchronizer owns the live roster and applies transport events to it.
//
// Not safe for concurrent use: the engine calls it from its single
// dispatch goroutine only.
type Synchronizer struct {
	roster *Roster
}

// NewSynchronizer returns a synchronizer holding the empty roster.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{roster: NewRoster()}
}

// Roster returns the current roster.
func (s *Synchronizer) Roster() *Roster {
	return s.roster
}

// HandleState applies a presence_state payload and returns the new roster.
func (s *Synchronizer) HandleState(payload json.RawMessage) (*Roster, error) {
	state, err := DecodeState(payload)
	if err != nil {
		return s.roster, err
	}
	s.roster = SyncState(s.roster, state)
	slog.Debug("presence state synced",
		"tokens", len(s.roster.order),
		"connections", s.roster.Len(),
	)
	return s.roster, nil
}

// HandleDiff applies a presence_diff payload and returns the new roster
// together with the records that joined.
func (s *Synchronizer) HandleDiff(payload json.RawMessage) (*Roster, Diff, error) {
	diff, err := DecodeDiff(payload)
	if err != nil {
		return s.roster, Diff{}, err
	}
	s.roster = SyncDiff(s.roster, diff)
	slog.Debug("presence diff synced",
		"joins", len(diff.Joins),
		"leaves", len(diff.Leaves),
		"connections", s.roster.Len(),
	)
	return s.roster, diff, nil
}
