package ir

import (
	"encoding/json"
	"fmt"
)

// Retro is the session-scoped retro configuration.
// It is read-only to the sync layer and replaced only by bootstrap.
type Retro struct {
	FacilitatorID int64  `json:"facilitator_id"`
	Attrs         Object `json:"-"` // every attribute, facilitator_id included
}

// RetroFromObject builds a Retro from its attribute record.
func RetroFromObject(obj Object) *Retro {
	r := &Retro{Attrs: obj.Clone()}
	if id, ok := obj.Int("facilitator_id"); ok {
		r.FacilitatorID = id
	}
	return r
}

// Object returns the retro's attribute record.
func (r *Retro) Object() Object {
	if r == nil {
		return Object{}
	}
	out := r.Attrs.Clone()
	out["facilitator_id"] = Int(r.FacilitatorID)
	return out
}

// Snapshot is the bootstrap payload consumed once at session start.
type Snapshot struct {
	Users []Object
	Ideas []Object
	Retro *Retro
}

type snapshotJSON struct {
	Users []Object `json:"users"`
	Ideas []Object `json:"ideas"`
	Retro Object   `json:"retro"`
}

// UnmarshalJSON decodes {users, ideas, retro}.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Users = raw.Users
	s.Ideas = raw.Ideas
	s.Retro = nil
	if raw.Retro != nil {
		s.Retro = RetroFromObject(raw.Retro)
	}
	return nil
}

// MarshalJSON encodes the snapshot with the same keys it was decoded from.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.Object().MarshalJSON()
}

// Object converts the snapshot into a single attribute record.
func (s Snapshot) Object() Object {
	users := make(Array, len(s.Users))
	for i, u := range s.Users {
		users[i] = u
	}
	ideas := make(Array, len(s.Ideas))
	for i, idea := range s.Ideas {
		ideas[i] = idea
	}
	obj := Object{"users": users, "ideas": ideas}
	if s.Retro != nil {
		obj["retro"] = s.Retro.Object()
	}
	return obj
}

// SnapshotFromObject is the inverse of Snapshot.Object.
func SnapshotFromObject(obj Object) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.Users, err = objectList(obj["users"]); err != nil {
		return s, fmt.Errorf("users: %w", err)
	}
	if s.Ideas, err = objectList(obj["ideas"]); err != nil {
		return s, fmt.Errorf("ideas: %w", err)
	}
	if retro, ok := obj.Object("retro"); ok {
		s.Retro = RetroFromObject(retro)
	}
	return s, nil
}

// Validate checks the snapshot's entity ids. Returns all errors, not just the first.
func (s Snapshot) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateIDs("users", s.Users)...)
	errs = append(errs, validateIDs("ideas", s.Ideas)...)
	return errs
}

func validateIDs(field string, records []Object) []ValidationError {
	var errs []ValidationError
	seen := make(map[int64]bool, len(records))
	for i, rec := range records {
		id, ok := rec.ID()
		if !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].id", field, i),
				Message: "missing integer id",
			})
			continue
		}
		if seen[id] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].id", field, i),
				Message: fmt.Sprintf("duplicate id %d", id),
			})
		}
		seen[id] = true
	}
	return errs
}

func objectList(v Value) ([]Object, error) {
	switch val := v.(type) {
	case nil, Null:
		return nil, nil
	case Array:
		out := make([]Object, 0, len(val))
		for i, elem := range val {
			obj, ok := elem.(Object)
			if !ok {
				return nil, fmt.Errorf("[%d]: expected object, got %T", i, elem)
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

// Presence is one live connection record.
//
// A token maps to one or more presences when the same connection reports
// several metas; a user maps to one presence per open connection.
type Presence struct {
	Token string
	User  Object // the underlying user as reported by the server
	Meta  Object // the connection record minus "user" (online_at, is_typing, phx_ref, ...)
}

// PresenceFromRecord splits a raw connection record into user and meta.
func PresenceFromRecord(token string, record Object) Presence {
	user, _ := record.Object("user")
	if user == nil {
		user = Object{}
		if id, ok := record.Int("user_id"); ok {
			user["id"] = Int(id)
		}
	}
	return Presence{
		Token: token,
		User:  user,
		Meta:  record.Without("user"),
	}
}

// UserID returns the id of the presence's user.
func (p Presence) UserID() (int64, bool) {
	if id, ok := p.User.ID(); ok {
		return id, true
	}
	return p.Meta.Int("user_id")
}

// Record returns the normalized presence entry: {token, user_id, ...meta}.
func (p Presence) Record() Object {
	out := p.Meta.Clone()
	out["token"] = String(p.Token)
	if id, ok := p.UserID(); ok {
		out["user_id"] = Int(id)
	}
	return out
}

// Raw returns the connection record as the server sent it.
func (p Presence) Raw() Object {
	out := p.Meta.Clone()
	out["user"] = p.User
	return out
}

// Key identifies the connection within its token.
func (p Presence) Key() string {
	return ConnectionKey(p.Raw())
}

// Idea categories.
const (
	CategoryHappy      = "happy"
	CategorySad        = "sad"
	CategoryConfused   = "confused"
	CategoryActionItem = "action-item"
)

// ValidCategories lists every category an idea may carry.
var ValidCategories = map[string]bool{
	CategoryHappy:      true,
	CategorySad:        true,
	CategoryConfused:   true,
	CategoryActionItem: true,
}
