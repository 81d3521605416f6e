package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateCommand_ValidJSON(t *testing.T) {
	path := writeFile(t, "snapshot.json", bootstrapJSON)

	out, err := execute(t, NewValidateCommand, &RootOptions{Format: "text"}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot valid (2 users, 1 ideas)")
}

func TestValidateCommand_ValidYAML(t *testing.T) {
	path := writeFile(t, "snapshot.yaml", `
users:
  - {id: 1, name: Alice, avatar: a.png}
ideas:
  - {id: 3, body: Pair more, category: action-item, user_id: 1}
retro: {facilitator_id: 1, stage: voting}
`)

	out, err := execute(t, NewValidateCommand, &RootOptions{Format: "json"}, path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Ideas)
}

func TestValidateSnapshot_SchemaErrors(t *testing.T) {
	tests := []struct {
		name     string
		snapshot string
		wantPath string
	}{
		{"missing user id", `{"users": [{"name": "x"}], "ideas": []}`, "users.0.id"},
		{"string id", `{"users": [{"id": "1"}], "ideas": []}`, "users.0.id"},
		{"unknown category", `{"users": [], "ideas": [{"id": 1, "category": "angry"}]}`, "ideas.0.category"},
		{"unknown top-level key", `{"users": [], "ideas": [], "votes": []}`, "votes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSnapshot([]byte(tt.snapshot), "snapshot.json")
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)

			found := false
			for _, e := range result.Errors {
				if strings.HasSuffix(e.Path, tt.wantPath) {
					found = true
				}
			}
			assert.True(t, found, "no error at %s: %v", tt.wantPath, result.Errors)
		})
	}
}

func TestValidateSnapshot_DuplicateIDs(t *testing.T) {
	result := ValidateSnapshot([]byte(`{"users": [{"id": 1}, {"id": 1}], "ideas": []}`), "snapshot.json")
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "users[1].id", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "duplicate id 1")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeFile(t, "snapshot.json", `{"users": [{"id": 1}, {"id": 1}], "ideas": []}`)

	out, err := execute(t, NewValidateCommand, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
	assert.Contains(t, out, "users[1].id: duplicate id 1")
}

func TestValidateCommand_Unreadable(t *testing.T) {
	_, err := execute(t, NewValidateCommand, &RootOptions{Format: "text"}, filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	path := writeFile(t, "broken.json", `{"users": [`)
	_, err = execute(t, NewValidateCommand, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
