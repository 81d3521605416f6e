// Package presence merges server-pushed presence events into a live roster.
//
// A Roster is immutable. SyncState builds a fresh roster from a snapshot.
// SyncDiff returns a new roster that shares every untouched token's records
// with its predecessor, and returns the input unchanged when a diff changes
// nothing.
package presence

import (
	"slices"

	"github.com/roach88/retrosync/internal/ir"
)

// Roster maps connection tokens to their connection records.
// Keys are tokens, not user ids: one user may hold several tokens.
type Roster struct {
	order   []string
	entries map[string][]ir.Presence
	flat    []ir.Presence
}

var emptyRoster = &Roster{entries: map[string][]ir.Presence{}}

// NewRoster returns the empty roster.
func NewRoster() *Roster {
	return emptyRoster
}

// Tokens returns the roster's tokens in projection order.
func (r *Roster) Tokens() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

// Get returns the connection records held under token.
func (r *Roster) Get(token string) []ir.Presence {
	if r == nil {
		return nil
	}
	return slices.Clone(r.entries[token])
}

// Len returns the number of connection records.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.flat)
}

// Presences returns every connection record, flattened in token order.
func (r *Roster) Presences() []ir.Presence {
	if r == nil {
		return nil
	}
	return slices.Clone(r.flat)
}

// Users projects the roster to one user object per connection record.
func (r *Roster) Users() []ir.Object {
	if r == nil {
		return nil
	}
	users := make([]ir.Object, len(r.flat))
	for i, p := range r.flat {
		users[i] = p.User
	}
	return users
}

func newRoster(order []string, entries map[string][]ir.Presence) *Roster {
	r := &Roster{order: order, entries: entries}
	for _, token := range order {
		r.flat = append(r.flat, entries[token]...)
	}
	return r
}

// SyncState replaces the roster with an authoritative snapshot.
// Prior local state is discarded; this is a full resync, not a diff.
// Every record of the snapshot is kept, identical ones included.
func SyncState(r *Roster, state State) *Roster {
	tokens := state.Tokens()
	entries := make(map[string][]ir.Presence, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, token := range tokens {
		records := state[token]
		if len(records) == 0 {
			continue
		}
		list := make([]ir.Presence, 0, len(records))
		for _, rec := range records {
			list = append(list, ir.PresenceFromRecord(token, rec))
		}
		entries[token] = list
		order = append(order, token)
	}
	return newRoster(order, entries)
}

// SyncDiff merges joins and then removes leaves.
//
// A joined record replaces the existing record with the same connection key
// or is appended to its token. A left record is removed by connection key; a
// token left with zero records disappears. When nothing changes the input
// roster is returned as is.
func SyncDiff(r *Roster, diff Diff) *Roster {
	if r == nil {
		r = emptyRoster
	}

	var entries map[string][]ir.Presence
	var order []string
	write := func() {
		if entries != nil {
			return
		}
		entries = make(map[string][]ir.Presence, len(r.entries)+len(diff.Joins))
		for token, list := range r.entries {
			entries[token] = list
		}
		order = slices.Clone(r.order)
	}
	current := func(token string) []ir.Presence {
		if entries != nil {
			return entries[token]
		}
		return r.entries[token]
	}

	for _, token := range diff.Joins.Tokens() {
		list := current(token)
		next := list
		for _, rec := range diff.Joins[token] {
			next = upsert(next, ir.PresenceFromRecord(token, rec))
		}
		if samePresences(list, next) {
			continue
		}
		write()
		if _, ok := entries[token]; !ok {
			order = append(order, token)
		}
		entries[token] = next
	}

	for _, token := range diff.Leaves.Tokens() {
		list := current(token)
		if len(list) == 0 {
			continue
		}
		next := list
		for _, rec := range diff.Leaves[token] {
			next = remove(next, ir.PresenceFromRecord(token, rec).Key())
		}
		if len(next) == len(list) {
			continue
		}
		write()
		if len(next) == 0 {
			delete(entries, token)
			order = slices.DeleteFunc(order, func(t string) bool { return t == token })
			continue
		}
		entries[token] = next
	}

	if entries == nil {
		return r
	}
	return newRoster(order, entries)
}

// upsert returns list with p replacing the record sharing its key, or appended.
// The input slice is never written to.
func upsert(list []ir.Presence, p ir.Presence) []ir.Presence {
	key := p.Key()
	for i, existing := range list {
		if existing.Key() == key {
			if ir.Equal(existing.Raw(), p.Raw()) {
				return list
			}
			out := slices.Clone(list)
			out[i] = p
			return out
		}
	}
	out := make([]ir.Presence, len(list), len(list)+1)
	copy(out, list)
	return append(out, p)
}

func remove(list []ir.Presence, key string) []ir.Presence {
	for i, existing := range list {
		if existing.Key() == key {
			out := make([]ir.Presence, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}

func samePresences(a, b []ir.Presence) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
