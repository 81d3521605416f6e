package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/retrosync/internal/coordinator"
	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/journal"
	"github.com/roach88/retrosync/internal/notify"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/session"
	"github.com/roach88/retrosync/internal/transport"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	URL         string
	Retro       string
	Token       string
	Database    string
	NATSURL     string
	Heartbeat   time.Duration
	Duration    time.Duration // leave after this long; 0 runs until interrupted
	Stdin       bool          // read mutation commands from stdin
	PushTimeout time.Duration
	ActionItems bool // offer only the action-item category to submit
}

// liveChannel is a joined channel that can report and cause disconnection.
type liveChannel interface {
	transport.Channel
	Done() <-chan struct{}
	Close() error
}

// dialChannel opens the channel for a session. Tests replace it.
var dialChannel = func(ctx context.Context, url, topic string, params map[string]string, settings *transport.PhoenixSettings) (liveChannel, error) {
	return transport.Dial(ctx, url, topic, params, settings)
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a retro and follow its roster",
		Long: `Join a retro channel, bootstrap from the join reply and keep the
local store in sync with presence events and peer broadcasts.

Every roster change is printed. With --stdin, lines read from standard
input are sent as mutations:

  submit [category] <body...>
  edit <idea-id> <body...>
  delete <idea-id>
  rename <name...>
  ideas

submit without a category uses happy, or action-item with --action-items.
ideas prints the current ideas grouped by category.

Settings may also come from --config or RETROSYNC_URL, RETROSYNC_RETRO,
RETROSYNC_TOKEN, RETROSYNC_DB, RETROSYNC_NATS_URL and RETROSYNC_HEARTBEAT.

Examples:
  retrosync join --url ws://localhost:4000/socket/websocket --retro 42 --token abc
  retrosync join --retro 42 --db ./retro.db --nats-url nats://localhost:4222
  retrosync join --config retro.yaml --stdin --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadAndResolve(rootOpts, cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "socket endpoint, e.g. ws://host/socket/websocket")
	cmd.Flags().StringVar(&opts.Retro, "retro", "", "retro id to join")
	cmd.Flags().StringVar(&opts.Token, "token", "", "session token")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal applied actions to this SQLite file")
	cmd.Flags().StringVar(&opts.NATSURL, "nats-url", "", "publish roster changes to this NATS server")
	cmd.Flags().DurationVar(&opts.Heartbeat, "heartbeat", 30*time.Second, "heartbeat interval")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "leave after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&opts.Stdin, "stdin", false, "read mutation commands from stdin")
	cmd.Flags().BoolVar(&opts.ActionItems, "action-items", false, "submit action items instead of happy/sad/confused ideas")
	cmd.Flags().DurationVar(&opts.PushTimeout, "push-timeout", 10*time.Second, "how long a command waits for its reply; a later reply is still applied")

	return cmd
}

func runJoin(ctx context.Context, opts *JoinOptions, cmd *cobra.Command) error {
	required := []struct{ flag, value string }{
		{"url", opts.URL},
		{"retro", opts.Retro},
	}
	for _, r := range required {
		if r.value == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("--%s is required", r.flag))
		}
	}
	sess := session.New(opts.Token, opts.Retro)
	if !sess.Valid() {
		return NewExitError(ExitCommandError, "--token is required")
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sel := selectors.New(sess)

	var engOpts []engine.Option
	var coordOpts []coordinator.Option
	if opts.Database != "" {
		j, err := journal.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()

		last, err := j.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		formatter.VerboseLog("Journal %s continues after seq %d", opts.Database, last)
		engOpts = append(engOpts, engine.WithJournal(j), engine.WithClock(engine.NewClockAt(last)))
		coordOpts = append(coordOpts, coordinator.WithRecorder(j))
	}

	eng := engine.New(engOpts...)
	eng.Subscribe(notify.New(&rosterPrinter{formatter: formatter}, sess.RetroID, sel).Observe)

	if opts.NATSURL != "" {
		nc, err := notify.Connect(opts.NATSURL, "retrosync-"+sess.RetroID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to NATS", err)
		}
		defer nc.Close()
		eng.Subscribe(notify.New(nc, sess.RetroID, sel).Observe)
	}

	settings := transport.DefaultPhoenixSettings()
	settings.HeartbeatInterval = opts.Heartbeat
	ch, err := dialChannel(ctx, opts.URL, sess.Topic(), map[string]string{"token": sess.Token}, settings)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer ch.Close()

	// Handlers must be in place before the join reply so the first
	// presence_state is not missed.
	eng.Attach(ch)

	reply, err := ch.Join(ctx)
	if err != nil {
		if transport.IsJoinError(err) {
			_ = formatter.Error(ErrCodeJoinRefused, "join refused", err.Error())
			return WrapExitError(ExitCommandError, "join refused", err)
		}
		return WrapExitError(ExitCommandError, "failed to join", err)
	}
	if err := eng.Bootstrap(reply); err != nil {
		_ = formatter.Error(ErrCodeInvalidSnapshot, "invalid join reply", err.Error())
		return WrapExitError(ExitFailure, "invalid join reply", err)
	}
	slog.Info("joined", "topic", sess.Topic(), "user_id", sess.UserID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- eng.Run(runCtx)
	}()

	if opts.Stdin {
		coord := coordinator.New(sess, ch, eng, append(coordOpts, coordinator.OnRejection(func(r *coordinator.RejectionError) {
			slog.Warn("mutation rejected", "mutation_id", r.MutationID, "code", r.Code, "reason", r.Reason)
		}))...)
		go readCommands(runCtx, cmd.InOrStdin(), &commandRunner{
			coord:       coord,
			session:     sess,
			selectors:   sel,
			state:       eng.State,
			formatter:   formatter,
			timeout:     opts.PushTimeout,
			actionItems: opts.ActionItems,
		})
	}

	var timeout <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var exitErr error
	select {
	case <-ctx.Done():
		slog.Info("leaving", "reason", ctx.Err())
	case <-timeout:
		slog.Info("leaving", "reason", "duration elapsed")
	case <-ch.Done():
		exitErr = NewExitError(ExitCommandError, "connection closed by server")
		_ = formatter.Error(ErrCodeDisconnected, "connection closed by server", nil)
	}

	// Let Run apply what is already queued before returning.
	eng.Stop()
	if err := <-runDone; err != nil {
		slog.Warn("engine stopped", "error", err)
	}

	return exitErr
}

// rosterPrinter writes every roster change published by a notify.Notifier.
type rosterPrinter struct {
	formatter *OutputFormatter
}

func (p *rosterPrinter) Publish(_ string, data []byte) error {
	if p.formatter.Format == "json" {
		return p.formatter.Event(json.RawMessage(data), "")
	}

	var msg struct {
		Seq       int64 `json:"seq"`
		Presences []struct {
			Name          string `json:"name"`
			Token         string `json:"token"`
			IsFacilitator bool   `json:"is_facilitator"`
			IsTyping      bool   `json:"is_typing"`
		} `json:"presences"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	names := make([]string, 0, len(msg.Presences))
	for _, presence := range msg.Presences {
		name := presence.Name
		if name == "" {
			name = presence.Token
		}
		var tags []string
		if presence.IsFacilitator {
			tags = append(tags, "facilitator")
		}
		if presence.IsTyping {
			tags = append(tags, "typing")
		}
		if len(tags) > 0 {
			name += " (" + strings.Join(tags, ", ") + ")"
		}
		names = append(names, name)
	}
	return p.formatter.Event(nil, fmt.Sprintf("roster seq=%d: %s", msg.Seq, strings.Join(names, ", ")))
}
