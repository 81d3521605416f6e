package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUnmarshal(t *testing.T) {
	var snap Snapshot
	err := json.Unmarshal([]byte(`{
		"users": [{"id": 5, "name": "Timmy"}, {"id": 3, "name": "Hilary"}],
		"ideas": [{"id": 1, "body": "x", "category": "happy"}],
		"retro": {"facilitator_id": 3, "stage": "idea-generation"}
	}`), &snap)
	require.NoError(t, err)

	assert.Len(t, snap.Users, 2)
	assert.Len(t, snap.Ideas, 1)
	require.NotNil(t, snap.Retro)
	assert.Equal(t, int64(3), snap.Retro.FacilitatorID)
	assert.Equal(t, String("idea-generation"), snap.Retro.Attrs["stage"])
	assert.Empty(t, snap.Validate())
}

func TestSnapshotValidate(t *testing.T) {
	snap := Snapshot{
		Users: []Object{Obj(O("id", Int(1))), Obj(O("id", Int(1)))},
		Ideas: []Object{Obj(O("body", String("no id")))},
	}

	errs := snap.Validate()
	require.Len(t, errs, 2)
	assert.Equal(t, "users[1].id", errs[0].Field)
	assert.Equal(t, "ideas[0].id", errs[1].Field)
}

func TestPresenceFromRecord(t *testing.T) {
	p := PresenceFromRecord("T1", Obj(
		O("user", Obj(O("id", Int(9)), O("name", String("Kevin")))),
		O("online_at", Int(15)),
		O("is_typing", Bool(false)),
	))

	id, ok := p.UserID()
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, Obj(
		O("token", String("T1")),
		O("user_id", Int(9)),
		O("online_at", Int(15)),
		O("is_typing", Bool(false)),
	), p.Record())
}

func TestPresenceFromRecord_UserIDOnly(t *testing.T) {
	p := PresenceFromRecord("T2", Obj(O("user_id", Int(4))))

	id, ok := p.UserID()
	require.True(t, ok)
	assert.Equal(t, int64(4), id)
}
