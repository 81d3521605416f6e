package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Bootstrap only"
bootstrap:
  users: [{id: 1, name: Alice}]
  ideas: []
  retro: {facilitator_id: 1}
assertions:
  - type: idea_order
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
session:
  token: tok-a
  user_id: 1
bootstrap:
  users: [{id: 1, name: Alice}]
  ideas: []
  retro: {facilitator_id: 1}
steps:
  - submit_idea: {body: Hello, category: happy}
    reply:
      status: ok
      response: {id: 5, body: Hello, category: happy}
  - delete_idea: 5
assertions:
  - type: action_count
    action: IDEA_SUBMISSION_COMMITTED
    count: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "tok-a", scenario.Session.Token)
	assert.Equal(t, int64(1), scenario.Session.UserID)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "submit_idea", scenario.Steps[0].kind())
	assert.Equal(t, "ok", scenario.Steps[0].Reply.Status)
	assert.Equal(t, "delete_idea", scenario.Steps[1].kind())
	assert.Equal(t, int64(5), *scenario.Steps[1].DeleteIdea)
	assert.Nil(t, scenario.Steps[1].Reply)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Minimal(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Empty(t, scenario.Steps)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nbootstrap: {}\nassertions: [{type: idea_order}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing bootstrap",
			yaml:    "name: n\ndescription: d\nassertions: [{type: idea_order}]\n",
			wantErr: "bootstrap is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nsteps: [{}]\nassertions: [{type: idea_order}]\n",
			wantErr: "exactly one event is required",
		},
		{
			name:    "two events in one step",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nsteps: [{delete_idea: 1, presence_state: {}}]\nassertions: [{type: idea_order}]\n",
			wantErr: "exactly one event is required",
		},
		{
			name:    "reply on presence",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nsteps: [{presence_state: {}, reply: {status: ok}}]\nassertions: [{type: idea_order}]\n",
			wantErr: "reply is only valid on a mutation",
		},
		{
			name:    "bad reply status",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nsteps: [{delete_idea: 1, reply: {status: maybe}}]\nassertions: [{type: idea_order}]\n",
			wantErr: "status must be ok or error",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nassertions: [{type: vibes}]\n",
			wantErr: "unknown type",
		},
		{
			name:    "action_count without count",
			yaml:    "name: n\ndescription: d\nbootstrap: {}\nassertions: [{type: action_count, action: X}]\n",
			wantErr: "requires action and count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
