package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cobra"

	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Mutation string // optional - only actions of one mutation
	Where    string // optional - expr filter over each action
	Limit    int    // optional - keep the last N actions
}

// TraceEvent is one journaled action in the timeline.
type TraceEvent struct {
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"`
	ID         int64     `json:"id,omitempty"`
	MutationID string    `json:"mutation_id,omitempty"`
	Record     ir.Object `json:"record,omitempty"`
	Reason     ir.Object `json:"reason,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline    []TraceEvent         `json:"timeline"`
	Settlements []journal.Settlement `json:"settlements"`
	Stats       TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalActions int `json:"total_actions"`
	Shown        int `json:"shown"`
	Commits      int `json:"commits"`
	Rejections   int `json:"rejections"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journaled actions and push settlements",
		Long: `List the actions and push settlements recorded by join --db.

--where filters actions with an expression over seq, type, id,
mutation_id, rejected and record (the action's record as a map).

Examples:
  retrosync trace --db ./retro.db
  retrosync trace --db ./retro.db --limit 20
  retrosync trace --db ./retro.db --mutation 0190c1a2-...
  retrosync trace --db ./retro.db --where 'rejected || type == "IDEA_DELETION_REQUESTED"'
  retrosync trace --db ./retro.db --where 'record.category == "sad"' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadAndResolve(rootOpts, cmd); err != nil {
				return err
			}
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	cmd.Flags().StringVar(&opts.Mutation, "mutation", "", "only actions of this mutation id")
	cmd.Flags().StringVar(&opts.Where, "where", "", "filter expression, e.g. 'seq > 10 && rejected'")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the last N matching actions")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if opts.Database == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	var filter *vm.Program
	if opts.Where != "" {
		program, err := compileFilter(opts.Where)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --where expression", err)
		}
		filter = program
	}

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	var actions []ir.Action
	if opts.Mutation != "" {
		actions, err = j.ReadMutation(ctx, opts.Mutation)
	} else {
		actions, err = j.ReadActions(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read actions", err)
	}

	settlements, err := j.ReadSettlements(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read settlements", err)
	}
	if opts.Mutation != "" {
		var matched []journal.Settlement
		for _, s := range settlements {
			if s.MutationID == opts.Mutation {
				matched = append(matched, s)
			}
		}
		settlements = matched
	}

	result := TraceResult{
		Timeline:    []TraceEvent{},
		Settlements: settlements,
		Stats:       TraceStats{TotalActions: len(actions)},
	}
	if result.Settlements == nil {
		result.Settlements = []journal.Settlement{}
	}

	for _, a := range actions {
		if filter != nil {
			ok, err := matchFilter(filter, a)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("--where failed on seq %d", a.Seq), err)
			}
			if !ok {
				continue
			}
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:        a.Seq,
			Type:       string(a.Type),
			ID:         a.ID,
			MutationID: a.MutationID,
			Record:     a.Record,
			Reason:     a.Reason,
		})
	}

	if opts.Limit > 0 && len(result.Timeline) > opts.Limit {
		result.Timeline = result.Timeline[len(result.Timeline)-opts.Limit:]
	}

	for _, event := range result.Timeline {
		if event.MutationID == "" {
			continue
		}
		if ir.ActionType(event.Type).IsRejection() {
			result.Stats.Rejections++
		} else {
			result.Stats.Commits++
		}
	}
	result.Stats.Shown = len(result.Timeline)

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: result})
	}
	outputTraceText(cmd, result)
	return nil
}

// filterEnv is the environment --where expressions are checked against.
func filterEnv(a ir.Action) (map[string]any, error) {
	record := map[string]any{}
	if a.Record != nil {
		data, err := a.Record.MarshalJSON()
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"seq":         a.Seq,
		"type":        string(a.Type),
		"id":          a.ID,
		"mutation_id": a.MutationID,
		"rejected":    a.Type.IsRejection(),
		"record":      record,
	}, nil
}

func compileFilter(where string) (*vm.Program, error) {
	sample, err := filterEnv(ir.Action{})
	if err != nil {
		return nil, err
	}
	return expr.Compile(where, expr.Env(sample), expr.AsBool())
}

func matchFilter(program *vm.Program, a ir.Action) (bool, error) {
	env, err := filterEnv(a)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func outputTraceText(cmd *cobra.Command, result TraceResult) {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No actions found.")
	} else {
		fmt.Fprintln(w, "Actions:")
		for _, event := range result.Timeline {
			line := fmt.Sprintf("  [%d] %s", event.Seq, event.Type)
			if event.ID != 0 {
				line += fmt.Sprintf(" id=%d", event.ID)
			}
			if event.MutationID != "" {
				line += " mutation=" + event.MutationID
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(result.Settlements) > 0 {
		fmt.Fprintln(w, "\nSettlements:")
		for _, s := range result.Settlements {
			fmt.Fprintf(w, "  [%d] %s %s %s\n", s.Seq, s.MutationID, s.Event, s.Status)
		}
	}

	fmt.Fprintf(w, "\n%d of %d actions shown, %d commits, %d rejections\n",
		result.Stats.Shown, result.Stats.TotalActions, result.Stats.Commits, result.Stats.Rejections)
}

// openExistingJournal opens a journal file that must already exist;
// journal.Open would otherwise create an empty one.
func openExistingJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}
