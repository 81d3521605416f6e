package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrosync/internal/coordinator"
	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/journal"
	"github.com/roach88/retrosync/internal/session"
	"github.com/roach88/retrosync/internal/transport"
)

const bootstrapJSON = `{
	"users": [{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}],
	"ideas": [{"id": 10, "body": "Ship it", "category": "happy", "user_id": 1}],
	"retro": {"facilitator_id": 1}
}`

// seedJournal writes a short session into a journal file: a bootstrap, a
// committed submission, a rejected deletion and a committed user update.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retro.db")
	ctx := context.Background()

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ch := transport.NewLoopback(json.RawMessage(bootstrapJSON))
	ch.Script(coordinator.EventIdeaSubmitted, transport.Settlement{
		Status:  transport.StatusOK,
		Payload: json.RawMessage(`{"id": 11, "body": "More tests", "category": "sad", "user_id": 1}`),
	})
	ch.Script(coordinator.EventIdeaDeleted, transport.Settlement{
		Status:  transport.StatusError,
		Payload: json.RawMessage(`{"reason": "forbidden"}`),
	})
	ch.Script(coordinator.EventUserEdited, transport.Settlement{Status: transport.StatusOK})

	eng := engine.New(engine.WithJournal(j))
	coord := coordinator.New(session.Session{Token: "tok-a", UserID: 1}, ch, eng,
		coordinator.WithIDGenerator(&coordinator.SequenceGenerator{Prefix: "m"}),
		coordinator.WithRecorder(j),
	)

	reply, err := ch.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap(reply))
	require.Empty(t, eng.Drain(ctx))

	_, err = coord.SubmitIdea(ctx, ir.Obj(ir.O("body", ir.String("More tests")), ir.O("category", ir.String("sad"))))
	require.NoError(t, err)
	require.Empty(t, eng.Drain(ctx))

	err = coord.DeleteIdea(ctx, 10)
	require.True(t, coordinator.IsDeletionRejected(err))
	require.Empty(t, eng.Drain(ctx))

	require.NoError(t, coord.UpdateUser(ctx, 2, ir.Obj(ir.O("name", ir.String("Robert")))))
	require.Empty(t, eng.Drain(ctx))

	return path
}

// execute runs a command built by newCmd with args and returns its stdout.
func execute(t *testing.T, newCmd func(*RootOptions) *cobra.Command, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
