package engine

import (
	"fmt"

	"github.com/roach88/retrosync/internal/ir"
)

// Replay folds journaled actions over InitialState in seq order.
//
// The roster is not rebuilt: presence actions only carry users, and the
// live roster is never restored across sessions.
func Replay(actions []ir.Action) (State, error) {
	s := InitialState()
	var last int64
	for i, a := range actions {
		if a.Seq <= last {
			return s, fmt.Errorf("replay: action %d has seq %d after %d", i, a.Seq, last)
		}
		last = a.Seq
		s = Reduce(s, a)
	}
	return s, nil
}

// Fingerprint hashes the ideas, users and retro of a state with canonical
// JSON, so two replays can be compared without walking the records.
func Fingerprint(s State) (string, error) {
	ideas := make(ir.Array, 0, s.Ideas.Len())
	for _, idea := range s.Ideas.All() {
		ideas = append(ideas, idea)
	}
	users := make(ir.Array, 0, s.Users.Len())
	for _, user := range s.Users.All() {
		users = append(users, user)
	}
	var retro ir.Value = ir.Null{}
	if s.Retro != nil {
		retro = s.Retro.Object()
	}

	canonical, err := ir.MarshalCanonical(ir.Obj(
		ir.O("ideas", ideas),
		ir.O("users", users),
		ir.O("retro", retro),
	))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return ir.ContentHash(canonical), nil
}
