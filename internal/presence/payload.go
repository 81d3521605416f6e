package presence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/retrosync/internal/ir"
)

// State is a token → connection records mapping, as carried by
// presence_state and by each side of a presence_diff.
type State map[string][]ir.Object

// Tokens returns the mapping's tokens in lexical order.
func (s State) Tokens() []string {
	tokens := make([]string, 0, len(s))
	for token := range s {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	return tokens
}

// Diff is a presence_diff payload.
type Diff struct {
	Joins  State
	Leaves State
}

// JoinedUsers returns the user of every joined record, in token order.
func (d Diff) JoinedUsers() []ir.Object {
	var users []ir.Object
	for _, token := range d.Joins.Tokens() {
		for _, record := range d.Joins[token] {
			users = append(users, ir.PresenceFromRecord(token, record).User)
		}
	}
	return users
}

// DecodeState decodes a presence_state payload.
//
// Each token may map to a list of records, a single record, or a
// {"metas": [...]} envelope.
func DecodeState(data json.RawMessage) (State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode presence state: %w", err)
	}
	return decodeEntries(raw)
}

// DecodeDiff decodes a presence_diff payload.
// A missing joins or leaves key is treated as empty for that side.
func DecodeDiff(data json.RawMessage) (Diff, error) {
	var raw struct {
		Joins  map[string]json.RawMessage `json:"joins"`
		Leaves map[string]json.RawMessage `json:"leaves"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Diff{}, fmt.Errorf("decode presence diff: %w", err)
	}

	joins, err := decodeEntries(raw.Joins)
	if err != nil {
		return Diff{}, fmt.Errorf("decode presence diff joins: %w", err)
	}
	leaves, err := decodeEntries(raw.Leaves)
	if err != nil {
		return Diff{}, fmt.Errorf("decode presence diff leaves: %w", err)
	}
	return Diff{Joins: joins, Leaves: leaves}, nil
}

func decodeEntries(raw map[string]json.RawMessage) (State, error) {
	state := make(State, len(raw))
	for token, entry := range raw {
		records, err := decodeRecords(entry)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", token, err)
		}
		state[token] = records
	}
	return state, nil
}

func decodeRecords(data json.RawMessage) ([]ir.Object, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var list []ir.Object
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var obj ir.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if metas, ok := obj["metas"].(ir.Array); ok && len(obj) == 1 {
		list := make([]ir.Object, 0, len(metas))
		for i, m := range metas {
			rec, ok := m.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("metas[%d]: expected object, got %T", i, m)
			}
			list = append(list, rec)
		}
		return list, nil
	}
	return []ir.Object{obj}, nil
}
