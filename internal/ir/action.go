package ir

import (
	"fmt"
	"strings"
)

// ActionType names a state transition.
type ActionType string

// Action types. Values are kept stable because they are journaled.
const (
	ActionSetInitialState  ActionType = "SET_INITIAL_STATE"
	ActionSetPresences     ActionType = "SET_PRESENCES"
	ActionSyncPresenceDiff ActionType = "SYNC_PRESENCE_DIFF"

	ActionIdeaSubmissionCommitted ActionType = "IDEA_SUBMISSION_COMMITTED"
	ActionIdeaSubmissionRejected  ActionType = "IDEA_SUBMISSION_REJECTED"
	ActionIdeaUpdateCommitted     ActionType = "IDEA_UPDATE_COMMITTED"
	ActionIdeaUpdateRejected      ActionType = "IDEA_UPDATE_REJECTED"
	ActionIdeaDeletionRequested   ActionType = "IDEA_DELETION_REQUESTED"
	ActionIdeaDeletionCommitted   ActionType = "IDEA_DELETION_COMMITTED"
	ActionIdeaDeletionRejected    ActionType = "IDEA_DELETION_REJECTED"

	ActionUserUpdateCommitted ActionType = "USER_UPDATE_COMMITTED"
	ActionUserUpdateRejected  ActionType = "USER_UPDATE_REJECTED"
)

// Action is a record describing one state transition.
//
// Which fields are meaningful depends on Type:
//   - SET_INITIAL_STATE: Snapshot
//   - SET_PRESENCES, SYNC_PRESENCE_DIFF: Users (all roster users, or joined users)
//   - *_SUBMISSION_COMMITTED: Record (the server-canonical idea)
//   - IDEA_UPDATE_COMMITTED: ID, Record (attribute subset)
//   - USER_UPDATE_COMMITTED: Record (carries its own id)
//   - IDEA_DELETION_*: ID
//   - *_REJECTED: MutationID, Reason (server failure payload), ID when known
type Action struct {
	Seq        int64
	Type       ActionType
	ID         int64
	Record     Object
	Snapshot   *Snapshot
	Users      []Object
	MutationID string
	Reason     Object
}

// SetInitialState builds a bootstrap action.
func SetInitialState(s Snapshot) Action {
	return Action{Type: ActionSetInitialState, Snapshot: &s}
}

// SetPresences carries every user on a freshly synced roster.
func SetPresences(users []Object) Action {
	return Action{Type: ActionSetPresences, Users: users}
}

// SyncPresenceDiff carries the users that joined in a presence diff.
func SyncPresenceDiff(joined []Object) Action {
	return Action{Type: ActionSyncPresenceDiff, Users: joined}
}

// IdeaSubmissionCommitted appends (or merges) a server-canonical idea.
func IdeaSubmissionCommitted(idea Object) Action {
	id, _ := idea.ID()
	return Action{Type: ActionIdeaSubmissionCommitted, ID: id, Record: idea}
}

// IdeaUpdateCommitted merges attrs into the idea with the given id.
func IdeaUpdateCommitted(id int64, attrs Object) Action {
	return Action{Type: ActionIdeaUpdateCommitted, ID: id, Record: attrs}
}

// IdeaDeletionRequested flags an idea as pending deletion.
func IdeaDeletionRequested(id int64) Action {
	return Action{Type: ActionIdeaDeletionRequested, ID: id}
}

// IdeaDeletionCommitted removes an idea.
func IdeaDeletionCommitted(id int64) Action {
	return Action{Type: ActionIdeaDeletionCommitted, ID: id}
}

// IdeaDeletionRejected clears an idea's pending-deletion flag.
func IdeaDeletionRejected(id int64) Action {
	return Action{Type: ActionIdeaDeletionRejected, ID: id}
}

// UserUpdateCommitted merges an updated user into the user index.
func UserUpdateCommitted(user Object) Action {
	id, _ := user.ID()
	return Action{Type: ActionUserUpdateCommitted, ID: id, Record: user}
}

// Rejected builds a rejection action of the given type.
func Rejected(t ActionType, mutationID string, id int64, reason Object) Action {
	return Action{Type: t, ID: id, MutationID: mutationID, Reason: reason}
}

// IsRejection reports whether t is one of the *_REJECTED types.
func (t ActionType) IsRejection() bool {
	return strings.HasSuffix(string(t), "_REJECTED")
}

// Payload flattens the action's type-specific fields into one record.
// It is the journaled and hashed form of the action.
func (a Action) Payload() (Object, error) {
	obj := Object{}
	switch a.Type {
	case ActionSetInitialState:
		if a.Snapshot == nil {
			return nil, fmt.Errorf("%s: missing snapshot", a.Type)
		}
		obj["initial_state"] = a.Snapshot.Object()
	case ActionSetPresences, ActionSyncPresenceDiff:
		users := make(Array, len(a.Users))
		for i, u := range a.Users {
			users[i] = u
		}
		obj["users"] = users
	default:
		if a.ID != 0 {
			obj["id"] = Int(a.ID)
		}
		if a.Record != nil {
			obj["record"] = a.Record
		}
		if a.MutationID != "" {
			obj["mutation_id"] = String(a.MutationID)
		}
		if a.Reason != nil {
			obj["reason"] = a.Reason
		}
	}
	return obj, nil
}

// ActionFromPayload rebuilds an action from its journaled form.
func ActionFromPayload(t ActionType, seq int64, payload Object) (Action, error) {
	a := Action{Type: t, Seq: seq}
	switch t {
	case ActionSetInitialState:
		state, ok := payload.Object("initial_state")
		if !ok {
			return a, fmt.Errorf("%s: missing initial_state", t)
		}
		snap, err := SnapshotFromObject(state)
		if err != nil {
			return a, fmt.Errorf("%s: %w", t, err)
		}
		a.Snapshot = &snap
	case ActionSetPresences, ActionSyncPresenceDiff:
		users, err := objectList(payload["users"])
		if err != nil {
			return a, fmt.Errorf("%s: users: %w", t, err)
		}
		a.Users = users
	default:
		a.ID, _ = payload.Int("id")
		a.Record, _ = payload.Object("record")
		a.MutationID, _ = payload.String("mutation_id")
		a.Reason, _ = payload.Object("reason")
	}
	return a, nil
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateIdeaCandidate checks a candidate idea before it is pushed.
// Returns all errors (not fail-fast).
func ValidateIdeaCandidate(idea Object) []ValidationError {
	var errs []ValidationError

	body, ok := idea.String("body")
	if !ok || strings.TrimSpace(body) == "" {
		errs = append(errs, ValidationError{
			Field:   "body",
			Message: "body is required",
		})
	}

	category, ok := idea.String("category")
	if !ok || !ValidCategories[category] {
		errs = append(errs, ValidationError{
			Field:   "category",
			Message: fmt.Sprintf("invalid category %q, must be one of: happy, sad, confused, action-item", category),
		})
	}

	return errs
}
