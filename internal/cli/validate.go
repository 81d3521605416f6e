package cli

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/retrosync/internal/ir"
)

//go:embed snapshot.cue
var snapshotSchema string

// SnapshotError is one problem found in a snapshot.
type SnapshotError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool            `json:"valid"`
	Users  int             `json:"users"`
	Ideas  int             `json:"ideas"`
	Errors []SnapshotError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <snapshot.json|snapshot.yaml>",
		Short: "Validate a bootstrap snapshot",
		Long: `Validate a bootstrap snapshot ({users, ideas, retro}) against the
embedded schema, then check that user and idea ids are unique.

Exit codes:
  0 - Snapshot is valid
  1 - Snapshot is invalid
  2 - Command error (file not found, unparseable input)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := readSnapshotJSON(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	formatter.VerboseLog("Read %d bytes from %s", len(data), path)

	result := ValidateSnapshot(data, filepath.Base(path))

	if !result.Valid {
		if err := formatter.Error(ErrCodeInvalidSnapshot, fmt.Sprintf("snapshot invalid: %d error(s)", len(result.Errors)), result.Errors); err != nil {
			return err
		}
		if opts.Format != "json" {
			for _, e := range result.Errors {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Path, e.Message)
			}
		}
		return NewExitError(ExitFailure, "snapshot invalid")
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("✓ Snapshot valid (%d users, %d ideas)", result.Users, result.Ideas))
}

// readSnapshotJSON reads a JSON or YAML snapshot and returns it as JSON.
func readSnapshotJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		return json.Marshal(doc)
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("parse JSON: invalid document")
		}
		return data, nil
	}
}

// ValidateSnapshot checks a JSON snapshot against the schema and for
// duplicate ids. Returns all errors, not just the first.
func ValidateSnapshot(data []byte, filename string) ValidationResult {
	ctx := cuecontext.New()
	schema := ctx.CompileString(snapshotSchema, cue.Filename("snapshot.cue"))
	if err := schema.Err(); err != nil {
		return ValidationResult{Errors: []SnapshotError{{Path: "schema", Message: err.Error()}}}
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	unified := schema.LookupPath(cue.ParsePath("#Snapshot")).Unify(doc)

	var errs []SnapshotError
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			path := strings.Join(e.Path(), ".")
			if path == "" {
				path = "snapshot"
			}
			errs = append(errs, SnapshotError{Path: path, Message: fmt.Sprintf(format, args...)})
		}
		return ValidationResult{Errors: errs}
	}

	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ValidationResult{Errors: []SnapshotError{{Path: "snapshot", Message: err.Error()}}}
	}
	for _, e := range snap.Validate() {
		errs = append(errs, SnapshotError{Path: e.Field, Message: e.Message})
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Users:  len(snap.Users),
		Ideas:  len(snap.Ideas),
		Errors: errs,
	}
}
