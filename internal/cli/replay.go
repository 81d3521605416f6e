package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Actions       int            `json:"actions"`
	LastSeq       int64          `json:"last_seq"`
	Ideas         int            `json:"ideas"`
	Users         int            `json:"users"`
	Settlements   int            `json:"settlements"`
	ByType        map[string]int `json:"by_type"`
	Fingerprint   string         `json:"fingerprint"`
	Deterministic bool           `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the store from a journal and verify determinism",
		Long: `Rebuild the idea and user stores from a journal written by join --db.

The journal is read and reduced twice; both runs must produce the same
state fingerprint. The roster is not rebuilt: presence is live state and
is resynced on every join.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed, or the journal is inconsistent
  2 - Command error (journal not found, etc.)

Examples:
  retrosync replay --db ./retro.db
  retrosync replay --db ./retro.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadAndResolve(rootOpts, cmd); err != nil {
				return err
			}
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if opts.Database == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}
	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	first, err := replayOnce(ctx, j)
	if err != nil {
		return WrapExitError(ExitFailure, "journal is inconsistent", err)
	}
	formatter.VerboseLog("First replay: %d actions, fingerprint %s", first.Actions, first.Fingerprint)

	second, err := replayOnce(ctx, j)
	if err != nil {
		return WrapExitError(ExitFailure, "journal is inconsistent", err)
	}
	formatter.VerboseLog("Second replay: %d actions, fingerprint %s", second.Actions, second.Fingerprint)

	settlements, err := j.ReadSettlements(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read settlements", err)
	}

	result := first
	result.Settlements = len(settlements)
	result.Deterministic = first.Fingerprint == second.Fingerprint && first.Actions == second.Actions

	if opts.Format == "json" {
		if err := outputReplayJSON(cmd, result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay is not deterministic")
	}
	return nil
}

// replayOnce reads the journal and reduces it into a fresh state.
func replayOnce(ctx context.Context, j *journal.Journal) (ReplayResult, error) {
	actions, err := j.ReadActions(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	state, err := engine.Replay(actions)
	if err != nil {
		return ReplayResult{}, err
	}
	fingerprint, err := engine.Fingerprint(state)
	if err != nil {
		return ReplayResult{}, err
	}

	byType := make(map[string]int)
	for _, a := range actions {
		byType[string(a.Type)]++
	}

	return ReplayResult{
		Actions:     len(actions),
		LastSeq:     state.Seq,
		Ideas:       state.Ideas.Len(),
		Users:       state.Users.Len(),
		ByType:      byType,
		Fingerprint: fingerprint,
	}, nil
}

func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()
	if result.Actions == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return
	}

	fmt.Fprintf(w, "Replayed %d actions (last seq %d)\n", result.Actions, result.LastSeq)
	fmt.Fprintf(w, "  ideas: %d\n", result.Ideas)
	fmt.Fprintf(w, "  users: %d\n", result.Users)
	fmt.Fprintf(w, "  settlements: %d\n", result.Settlements)
	fmt.Fprintf(w, "  fingerprint: %s\n", result.Fingerprint)
	if result.Deterministic {
		fmt.Fprintln(w, "Deterministic: yes")
	} else {
		fmt.Fprintln(w, "Deterministic: NO")
	}
}
