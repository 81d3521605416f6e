package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/retrosync/internal/coordinator"
	"github.com/roach88/retrosync/internal/engine"
	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/selectors"
	"github.com/roach88/retrosync/internal/session"
)

// commandRunner turns stdin lines into coordinator mutations.
type commandRunner struct {
	coord       *coordinator.Coordinator
	session     session.Session
	selectors   *selectors.Selectors
	state       func() engine.State
	formatter   *OutputFormatter
	timeout     time.Duration
	actionItems bool
}

// MutationResult is printed for every command line.
type MutationResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// readCommands starts one mutation per non-empty line until r is exhausted
// or ctx is done. Mutations do not wait for each other; each result is
// printed when its push settles. readCommands returns once every started
// mutation has finished.
func readCommands(ctx context.Context, r io.Reader, runner *commandRunner) {
	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.run(ctx, line)
		}()
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("stdin read failed", "error", err)
	}
}

func (c *commandRunner) run(ctx context.Context, line string) {
	if line == "ideas" {
		c.printIdeas()
		return
	}

	result := MutationResult{Command: line, OK: true}
	if err := c.exec(ctx, line); err != nil {
		result.OK = false
		result.Error = err.Error()
	}

	text := "ok: " + line
	if !result.OK {
		text = "failed: " + line + ": " + result.Error
	}
	if err := c.formatter.Event(result, text); err != nil {
		slog.Warn("write mutation result", "error", err)
	}
}

func (c *commandRunner) exec(ctx context.Context, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch verb {
	case "submit":
		category, body, err := c.submission(rest)
		if err != nil {
			return err
		}
		_, err = c.coord.SubmitIdea(ctx, ir.Obj(
			ir.O("category", ir.String(category)),
			ir.O("body", ir.String(body)),
		))
		return err

	case "edit":
		idText, body, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		if err != nil {
			return err
		}
		return c.coord.EditIdea(ctx, id, ir.Obj(ir.O("body", ir.String(strings.TrimSpace(body)))))

	case "delete":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		return c.coord.DeleteIdea(ctx, id)

	case "rename":
		if c.session.UserID == 0 {
			return fmt.Errorf("rename: session token does not carry a user id")
		}
		if rest == "" {
			return fmt.Errorf("rename: name is required")
		}
		return c.coord.UpdateUser(ctx, c.session.UserID, ir.Obj(ir.O("name", ir.String(rest))))

	default:
		return fmt.Errorf("unknown command %q (want submit, edit, delete, rename or ideas)", verb)
	}
}

// submission splits "[category] body". A leading word that names a category
// must be one currently offered; without one the default category is used.
func (c *commandRunner) submission(rest string) (string, string, error) {
	options := selectors.CategoryOptions(c.actionItems)
	first, body, _ := strings.Cut(rest, " ")
	if ir.ValidCategories[first] {
		if !slices.Contains(options, first) {
			return "", "", fmt.Errorf("category %q is not offered (choose from %s)", first, strings.Join(options, ", "))
		}
		return first, strings.TrimSpace(body), nil
	}
	return selectors.DefaultCategory(c.actionItems), rest, nil
}

// CategoryIdeas is printed by the ideas command.
type CategoryIdeas struct {
	Seq        int64                  `json:"seq"`
	Categories map[string][]ir.Object `json:"categories"`
}

func (c *commandRunner) printIdeas() {
	s := c.state()
	grouped := c.selectors.IdeasByCategory(s.Ideas)

	categories := make([]string, 0, len(grouped))
	for category := range grouped {
		categories = append(categories, category)
	}
	slices.Sort(categories)

	parts := make([]string, 0, len(categories))
	for _, category := range categories {
		name := category
		if name == "" {
			name = "uncategorized"
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, len(grouped[category])))
	}
	text := fmt.Sprintf("ideas seq=%d: %s", s.Seq, strings.Join(parts, ", "))
	if err := c.formatter.Event(CategoryIdeas{Seq: s.Seq, Categories: grouped}, text); err != nil {
		slog.Warn("write ideas", "error", err)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid idea id %q", s)
	}
	return id, nil
}
