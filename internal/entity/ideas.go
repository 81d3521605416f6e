package entity

import (
	"github.com/roach88/retrosync/internal/ir"
)

// DeletionSubmittedKey is the transient flag set while a deletion is in flight.
const DeletionSubmittedKey = "deletionSubmitted"

// IdeaList is an immutable ordered collection of ideas.
type IdeaList struct {
	items []ir.Object
}

var emptyIdeas = &IdeaList{}

// NewIdeaList builds a list holding the given ideas in order.
func NewIdeaList(ideas ...ir.Object) *IdeaList {
	if len(ideas) == 0 {
		return emptyIdeas
	}
	items := make([]ir.Object, len(ideas))
	copy(items, ideas)
	return &IdeaList{items: items}
}

// Len returns the number of ideas. A nil list is empty.
func (l *IdeaList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the idea at position i.
func (l *IdeaList) At(i int) ir.Object {
	return l.items[i]
}

// All returns the ideas in order. The returned slice is a copy; the records
// themselves are shared and must not be modified.
func (l *IdeaList) All() []ir.Object {
	if l == nil {
		return nil
	}
	out := make([]ir.Object, len(l.items))
	copy(out, l.items)
	return out
}

// Find returns the idea with the given id.
func (l *IdeaList) Find(id int64) (ir.Object, bool) {
	i := l.index(id)
	if i < 0 {
		return nil, false
	}
	return l.items[i], true
}

func (l *IdeaList) index(id int64) int {
	if l == nil {
		return -1
	}
	for i, idea := range l.items {
		if ideaID, ok := idea.ID(); ok && ideaID == id {
			return i
		}
	}
	return -1
}

// replace returns a new list with position i swapped for idea.
func (l *IdeaList) replace(i int, idea ir.Object) *IdeaList {
	items := make([]ir.Object, len(l.items))
	copy(items, l.items)
	items[i] = idea
	return &IdeaList{items: items}
}

// ReduceIdeas applies an action to the idea list.
// A nil list is treated as the initial (empty) list.
func ReduceIdeas(l *IdeaList, a ir.Action) *IdeaList {
	if l == nil {
		l = emptyIdeas
	}

	switch a.Type {
	case ir.ActionSetInitialState:
		if a.Snapshot == nil {
			return l
		}
		return NewIdeaList(a.Snapshot.Ideas...)

	case ir.ActionIdeaSubmissionCommitted:
		if a.Record == nil {
			return l
		}
		// The submitter sees both its ack and the broadcast; keep ids unique.
		if id, ok := a.Record.ID(); ok {
			if i := l.index(id); i >= 0 {
				return l.replace(i, l.items[i].Merge(a.Record))
			}
		}
		items := make([]ir.Object, len(l.items), len(l.items)+1)
		copy(items, l.items)
		return &IdeaList{items: append(items, a.Record)}

	case ir.ActionIdeaUpdateCommitted:
		i := l.index(a.ID)
		if i < 0 || len(a.Record) == 0 {
			return l
		}
		return l.replace(i, l.items[i].Merge(a.Record))

	case ir.ActionIdeaDeletionRequested:
		return setDeletionSubmitted(l, a.ID, true)

	case ir.ActionIdeaDeletionRejected:
		return setDeletionSubmitted(l, a.ID, false)

	case ir.ActionIdeaDeletionCommitted:
		i := l.index(a.ID)
		if i < 0 {
			return l
		}
		items := make([]ir.Object, 0, len(l.items)-1)
		items = append(items, l.items[:i]...)
		items = append(items, l.items[i+1:]...)
		return &IdeaList{items: items}

	default:
		return l
	}
}

func setDeletionSubmitted(l *IdeaList, id int64, pending bool) *IdeaList {
	i := l.index(id)
	if i < 0 {
		return l
	}
	return l.replace(i, l.items[i].Merge(ir.Object{DeletionSubmittedKey: ir.Bool(pending)}))
}
