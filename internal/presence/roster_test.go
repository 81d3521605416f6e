package presence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/ir"
)

func conn(userID int64, ref string) ir.Object {
	return ir.Obj(
		ir.O("user", ir.Obj(ir.O("id", ir.Int(userID)))),
		ir.O("phx_ref", ir.String(ref)),
	)
}

func userIDs(r *Roster) []int64 {
	var ids []int64
	for _, u := range r.Users() {
		id, _ := u.ID()
		ids = append(ids, id)
	}
	return ids
}

func TestSyncDiff_JoinIntoEmptyRoster(t *testing.T) {
	diff, err := DecodeDiff(json.RawMessage(`{"joins":{"T1":{"user":{"id":9}}},"leaves":{}}`))
	require.NoError(t, err)

	got := SyncDiff(NewRoster(), diff)

	users := got.Users()
	require.Len(t, users, 1)
	id, ok := users[0].ID()
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestSyncState_ReplacesEverything(t *testing.T) {
	start := SyncState(NewRoster(), State{"OLD": {conn(1, "a")}})

	got := SyncState(start, State{
		"B": {conn(3, "c")},
		"A": {conn(2, "b")},
	})

	assert.Equal(t, []string{"A", "B"}, got.Tokens())
	assert.Equal(t, []int64{2, 3}, userIDs(got))
	assert.Empty(t, got.Get("OLD"))
	assert.Equal(t, []int64{1}, userIDs(start), "previous roster is untouched")
}

func TestSyncState_MultipleConnectionsForOneUser(t *testing.T) {
	got := SyncState(NewRoster(), State{
		"T1": {conn(7, "tab-1"), conn(7, "tab-2")},
		"T2": {conn(7, "phone")},
	})

	assert.Equal(t, 3, got.Len())
	assert.Equal(t, []int64{7, 7, 7}, userIDs(got))
}

func TestSyncState_KeepsIdenticalRecords(t *testing.T) {
	state, err := DecodeState(json.RawMessage(`{"T1":[{"user":{"id":9},"online_at":1},{"user":{"id":9},"online_at":1}]}`))
	require.NoError(t, err)

	got := SyncState(NewRoster(), state)

	assert.Equal(t, 2, got.Len())
	assert.Equal(t, []int64{9, 9}, userIDs(got))

	// A leave removes one matching record at a time.
	once := SyncDiff(got, Diff{Leaves: State{"T1": {state["T1"][0]}}})
	assert.Equal(t, 1, once.Len())
	assert.Equal(t, []string{"T1"}, once.Tokens())
}

func TestSyncDiff_JoinAddsRecordToExistingToken(t *testing.T) {
	start := SyncState(NewRoster(), State{"T1": {conn(1, "a")}})

	got := SyncDiff(start, Diff{Joins: State{"T1": {conn(1, "b")}}})

	assert.Len(t, got.Get("T1"), 2)
	assert.Len(t, start.Get("T1"), 1)
}

func TestSyncDiff_JoinWithSameRefReplaces(t *testing.T) {
	start := SyncState(NewRoster(), State{"T1": {conn(1, "a")}})

	updated := conn(1, "a")
	updated["is_typing"] = ir.Bool(true)
	got := SyncDiff(start, Diff{Joins: State{"T1": {updated}}})

	records := got.Get("T1")
	require.Len(t, records, 1)
	assert.True(t, records[0].Meta.Bool("is_typing"))
}

func TestSyncDiff_LeaveRemovesRecordThenToken(t *testing.T) {
	start := SyncState(NewRoster(), State{"T1": {conn(1, "a"), conn(1, "b")}, "T2": {conn(2, "c")}})

	oneLeft := SyncDiff(start, Diff{Leaves: State{"T1": {conn(1, "a")}}})
	require.Len(t, oneLeft.Get("T1"), 1)
	assert.Equal(t, []string{"T1", "T2"}, oneLeft.Tokens())

	gone := SyncDiff(oneLeft, Diff{Leaves: State{"T1": {conn(1, "b")}}})
	assert.Empty(t, gone.Get("T1"))
	assert.Equal(t, []string{"T2"}, gone.Tokens())
	assert.Equal(t, []int64{2}, userIDs(gone))
}

func TestSyncDiff_LeaveWithoutRefMatchesByContent(t *testing.T) {
	rec := ir.Obj(ir.O("user", ir.Obj(ir.O("id", ir.Int(9)))), ir.O("online_at", ir.Int(10)))
	start := SyncDiff(NewRoster(), Diff{Joins: State{"T1": {rec}}})

	got := SyncDiff(start, Diff{Leaves: State{"T1": {rec.Clone()}}})

	assert.Equal(t, 0, got.Len())
}

func TestSyncDiff_NoChangeReturnsSameRoster(t *testing.T) {
	start := SyncState(NewRoster(), State{"T1": {conn(1, "a")}})

	assert.Same(t, start, SyncDiff(start, Diff{}))
	assert.Same(t, start, SyncDiff(start, Diff{Leaves: State{"NOPE": {conn(5, "z")}}}))
	assert.Same(t, start, SyncDiff(start, Diff{Joins: State{"T1": {conn(1, "a")}}}))
}

func TestSyncDiff_NewTokensAppendInLexicalOrder(t *testing.T) {
	start := SyncState(NewRoster(), State{"M": {conn(1, "a")}})

	got := SyncDiff(start, Diff{Joins: State{"Z": {conn(3, "c")}, "A": {conn(2, "b")}}})

	assert.Equal(t, []string{"M", "A", "Z"}, got.Tokens())
	assert.Equal(t, []int64{1, 2, 3}, userIDs(got))
}

func TestSyncDiff_SharesUntouchedTokens(t *testing.T) {
	start := SyncState(NewRoster(), State{"T1": {conn(1, "a")}, "T2": {conn(2, "b")}})

	got := SyncDiff(start, Diff{Joins: State{"T3": {conn(3, "c")}}})

	assert.Same(t, &start.entries["T1"][0], &got.entries["T1"][0])
}
