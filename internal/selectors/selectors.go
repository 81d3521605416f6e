package selectors

import (
	"encoding/json"
	"sync"

	"github.com/roach88/retrosync/internal/entity"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/presence"
	"github.com/roach88/retrosync/internal/session"
)

// Slices are the store slices selectors read from.
type Slices struct {
	Ideas  *entity.IdeaList
	Users  *entity.UserIndex
	Roster *presence.Roster
	Retro  *ir.Retro
}

// UserPresence is a presence joined with its user.
// Its attributes are shared and must not be modified.
type UserPresence struct {
	attrs ir.Object
}

// Attrs returns the joined attribute record.
func (p *UserPresence) Attrs() ir.Object {
	return p.attrs
}

// ID returns the user id.
func (p *UserPresence) ID() (int64, bool) {
	return p.attrs.ID()
}

// Token returns the connection token.
func (p *UserPresence) Token() string {
	token, _ := p.attrs.String("token")
	return token
}

// Name returns the user's name, if any.
func (p *UserPresence) Name() string {
	name, _ := p.attrs.String("name")
	return name
}

// IsFacilitator reports whether the user facilitates the retro.
func (p *UserPresence) IsFacilitator() bool {
	return p.attrs.Bool("is_facilitator")
}

// IsTyping reports the connection's typing state.
func (p *UserPresence) IsTyping() bool {
	return p.attrs.Bool("is_typing")
}

// MarshalJSON encodes the joined attributes.
func (p *UserPresence) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.attrs)
}

// UserByID resolves a user by id in O(1).
func UserByID(users *entity.UserIndex, id int64) (ir.Object, bool) {
	return users.Get(id)
}

// joinPresence merges a presence entry with its user: the user_id foreign key
// is dropped, user attributes are laid over the presence's, and
// is_facilitator is attached.
func joinPresence(p ir.Presence, users *entity.UserIndex, retro *ir.Retro) *UserPresence {
	attrs := p.Record().Without("user_id")

	user := p.User
	if id, ok := p.UserID(); ok {
		if stored, ok := users.Get(id); ok {
			user = stored
		}
	}
	attrs = attrs.Merge(user)

	isFacilitator := false
	if id, ok := attrs.ID(); ok && retro != nil {
		isFacilitator = id == retro.FacilitatorID
	}
	attrs["is_facilitator"] = ir.Bool(isFacilitator)

	return &UserPresence{attrs: attrs}
}

type presenceKey struct {
	users  *entity.UserIndex
	roster *presence.Roster
	retro  *ir.Retro
}

// Selectors holds memoization state for one client session.
// Safe for concurrent use.
type Selectors struct {
	token string

	mu         sync.Mutex
	presences  memo[presenceKey, []*UserPresence]
	current    memo[presenceKey, *UserPresence]
	byCategory memo[*entity.IdeaList, map[string][]ir.Object]
}

// New returns selectors bound to the session's token.
func New(s session.Session) *Selectors {
	return &Selectors{token: s.Token}
}

// UserPresences joins every presence with its user, in roster order.
func (s *Selectors) UserPresences(in Slices) []*UserPresence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPresences(in)
}

func (s *Selectors) userPresences(in Slices) []*UserPresence {
	key := presenceKey{users: in.Users, roster: in.Roster, retro: in.Retro}
	return s.presences.get(key, func() []*UserPresence {
		list := in.Roster.Presences()
		out := make([]*UserPresence, len(list))
		for i, p := range list {
			out[i] = joinPresence(p, in.Users, in.Retro)
		}
		return out
	})
}

// CurrentUserPresence returns this client's own joined presence.
//
// When the roster no longer holds this client's token, the last computed
// result is returned rather than nil. Callers that need to detect the
// client dropping off the roster must check the roster directly.
func (s *Selectors) CurrentUserPresence(in Slices) *UserPresence {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := presenceKey{users: in.Users, roster: in.Roster, retro: in.Retro}
	previous := s.current.result
	return s.current.get(key, func() *UserPresence {
		for _, p := range in.Roster.Presences() {
			if p.Token == s.token {
				return joinPresence(p, in.Users, in.Retro)
			}
		}
		return previous
	})
}

// IdeasByCategory groups ideas by their category attribute, preserving order.
// Ideas with no category are grouped under "".
func (s *Selectors) IdeasByCategory(ideas *entity.IdeaList) map[string][]ir.Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.byCategory.get(ideas, func() map[string][]ir.Object {
		out := make(map[string][]ir.Object)
		for _, idea := range ideas.All() {
			category, _ := idea.String("category")
			out[category] = append(out[category], idea)
		}
		return out
	})
}
