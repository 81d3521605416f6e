package entity

import (
	"slices"

	"github.com/roach88/retrosync/internal/ir"
)

// UserIndex is an immutable mapping of user id to user record.
type UserIndex struct {
	byID map[int64]ir.Object
}

var emptyUsers = &UserIndex{byID: map[int64]ir.Object{}}

// NewUserIndex keys the given users by id. Records without an id are skipped.
func NewUserIndex(users ...ir.Object) *UserIndex {
	if len(users) == 0 {
		return emptyUsers
	}
	byID := make(map[int64]ir.Object, len(users))
	for _, u := range users {
		if id, ok := u.ID(); ok {
			byID[id] = u
		}
	}
	return &UserIndex{byID: byID}
}

// Get returns the user with the given id in O(1).
func (u *UserIndex) Get(id int64) (ir.Object, bool) {
	if u == nil {
		return nil, false
	}
	user, ok := u.byID[id]
	return user, ok
}

// Len returns the number of users. A nil index is empty.
func (u *UserIndex) Len() int {
	if u == nil {
		return 0
	}
	return len(u.byID)
}

// IDs returns every user id in ascending order.
func (u *UserIndex) IDs() []int64 {
	if u == nil {
		return nil
	}
	ids := make([]int64, 0, len(u.byID))
	for id := range u.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// All returns every user ordered by id.
func (u *UserIndex) All() []ir.Object {
	ids := u.IDs()
	out := make([]ir.Object, len(ids))
	for i, id := range ids {
		out[i] = u.byID[id]
	}
	return out
}

// ReduceUsers applies an action to the user index.
// A nil index is treated as the initial (empty) index.
func ReduceUsers(u *UserIndex, a ir.Action) *UserIndex {
	if u == nil {
		u = emptyUsers
	}

	switch a.Type {
	case ir.ActionSetInitialState:
		if a.Snapshot == nil {
			return u
		}
		return NewUserIndex(a.Snapshot.Users...)

	case ir.ActionSetPresences, ir.ActionSyncPresenceDiff:
		return mergeUsers(u, a.Users)

	case ir.ActionUserUpdateCommitted:
		id, ok := a.Record.ID()
		if !ok {
			return u
		}
		existing, ok := u.byID[id]
		if !ok {
			return u
		}
		next := u.clone()
		next.byID[id] = existing.Merge(a.Record)
		return next

	default:
		return u
	}
}

// mergeUsers upserts each user, merging into existing records.
func mergeUsers(u *UserIndex, users []ir.Object) *UserIndex {
	var next *UserIndex
	for _, user := range users {
		id, ok := user.ID()
		if !ok {
			continue
		}
		if next == nil {
			next = u.clone()
		}
		if existing, ok := next.byID[id]; ok {
			next.byID[id] = existing.Merge(user)
		} else {
			next.byID[id] = user
		}
	}
	if next == nil {
		return u
	}
	return next
}

func (u *UserIndex) clone() *UserIndex {
	byID := make(map[int64]ir.Object, len(u.byID)+1)
	for id, user := range u.byID {
		byID[id] = user
	}
	return &UserIndex{byID: byID}
}
