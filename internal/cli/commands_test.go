package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/session"
)

func newRunner(t *testing.T, format string, actionItems bool) (*commandRunner, *bytes.Buffer) {
	t.Helper()
	eng := engine.New()
	require.NoError(t, eng.Bootstrap(json.RawMessage(`{
		"users": [{"id": 1}],
		"ideas": [
			{"id": 10, "body": "Ship it", "category": "happy"},
			{"id": 11, "body": "Flaky CI", "category": "sad"},
			{"id": 12, "body": "Pair more", "category": "happy"},
			{"id": 13, "body": "No category"}
		]
	}`)))
	require.Empty(t, eng.Drain(context.Background()))

	out := &bytes.Buffer{}
	sess := session.New("tok-a", "42")
	return &commandRunner{
		session:     sess,
		selectors:   selectors.New(sess),
		state:       eng.State,
		formatter:   &OutputFormatter{Format: format, Writer: out},
		actionItems: actionItems,
	}, out
}

func TestSubmission_Category(t *testing.T) {
	tests := []struct {
		name        string
		actionItems bool
		rest        string
		category    string
		body        string
		wantErr     string
	}{
		{"explicit", false, "sad Flaky CI", "sad", "Flaky CI", ""},
		{"default", false, "Flaky CI", "happy", "Flaky CI", ""},
		{"default action item", true, "Write runbook", "action-item", "Write runbook", ""},
		{"explicit action item", true, "action-item Write runbook", "action-item", "Write runbook", ""},
		{"action item not offered", false, "action-item Write runbook", "", "", `category "action-item" is not offered`},
		{"feeling not offered", true, "happy Nice", "", "", `category "happy" is not offered`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, _ := newRunner(t, "text", tt.actionItems)
			category, body, err := runner.submission(tt.rest)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestIdeasCommand_Text(t *testing.T) {
	runner, out := newRunner(t, "text", false)

	runner.run(context.Background(), "ideas")

	assert.Equal(t, "ideas seq=1: uncategorized=1, happy=2, sad=1\n", out.String())
}

func TestIdeasCommand_JSON(t *testing.T) {
	runner, out := newRunner(t, "json", false)

	runner.run(context.Background(), "ideas")

	var got struct {
		Seq        int64                       `json:"seq"`
		Categories map[string][]map[string]any `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, int64(1), got.Seq)
	require.Len(t, got.Categories["happy"], 2)
	assert.Equal(t, "Ship it", got.Categories["happy"][0]["body"])
	assert.Equal(t, "Pair more", got.Categories["happy"][1]["body"])
}
