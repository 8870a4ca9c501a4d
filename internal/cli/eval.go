package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lithoslog/lithos/internal/engine"
	"github.com/lithoslog/lithos/internal/value"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	SchemaDir  string
	RecordPath string
	DBPath     string
	InstanceID string
	Sets       []string
}

// EvalResult is the eval command's output payload.
type EvalResult struct {
	InstanceID string            `json:"instance_id"`
	Changes    []FieldChangeView `json:"changes"`
	Failed     []FieldErrorView  `json:"failed,omitempty"`
}

// FieldChangeView is the display form of one field change.
type FieldChangeView struct {
	FieldID string `json:"field_id"`
	Before  any    `json:"before,omitempty"`
	After   any    `json:"after,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// FieldErrorView is the display form of one per-field failure.
type FieldErrorView struct {
	FieldID string `json:"field_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval --schema <dir> --set field=value [--set ...]",
		Short: "Apply edits and print the resulting change set",
		Long: `Apply one or more field edits to an instance and print every value,
visibility, and enablement change the cascade produced.

The instance starts from the record file (or the stored instance when
--db and --instance are given); edits run in the order the --set flags
appear, each one a full cascade.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SchemaDir, "schema", "", "schema pack directory (required)")
	cmd.Flags().StringVar(&opts.RecordPath, "record", "", "YAML record file with initial raw values")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "instance id in the database")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "field edit as field=value (repeatable)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runEval(rootOpts *RootOptions, opts *EvalOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if len(opts.Sets) == 0 {
		_ = formatter.Error(ErrCodeBadSet, "at least one --set is required", nil)
		return NewExitError(ExitCommandError, "at least one --set is required")
	}

	session, err := openSession(cmd, opts.SchemaDir, opts.RecordPath, opts.DBPath, opts.InstanceID, formatter)
	if err != nil {
		return err
	}
	defer session.close()

	eng := engine.New()
	result := EvalResult{InstanceID: session.inst.ID}

	for _, setArg := range opts.Sets {
		fieldID, v, err := ParseSetArg(setArg, session.schema)
		if err != nil {
			_ = formatter.Error(ErrCodeBadSet, err.Error(), nil)
			return NewExitError(ExitCommandError, err.Error())
		}

		formatter.VerboseLog("Applying edit %s = %s", fieldID, value.Canonical(v))
		cs, err := eng.ApplyEdit(session.inst, fieldID, v)
		if err != nil {
			_ = formatter.Error(ErrCodePassFailed, err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}

		appendChangeSet(&result, cs)
	}

	if err := session.save(); err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	return outputEvalResult(formatter, result)
}

func appendChangeSet(result *EvalResult, cs *engine.ChangeSet) {
	for _, ch := range cs.Changes {
		view := FieldChangeView{FieldID: ch.FieldID}
		if ch.ValueChanged {
			view.Before = renderValue(ch.Before)
			view.After = renderValue(ch.After)
		}
		if ch.VisibilityChanged {
			visible := ch.Visible
			view.Visible = &visible
		}
		if ch.EnablementChanged {
			enabled := ch.Enabled
			view.Enabled = &enabled
		}
		result.Changes = append(result.Changes, view)
	}
	for _, fieldID := range sortedFailureKeys(cs.Failed) {
		rerr := cs.Failed[fieldID]
		result.Failed = append(result.Failed, FieldErrorView{
			FieldID: fieldID,
			Code:    string(rerr.Code),
			Message: rerr.Message,
		})
	}
}

func outputEvalResult(formatter *OutputFormatter, result EvalResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(result.Changes) == 0 {
		fmt.Fprintln(formatter.Writer, "no changes")
	}
	for _, ch := range result.Changes {
		switch {
		case ch.Before != nil || ch.After != nil:
			fmt.Fprintf(formatter.Writer, "%s: %s -> %s\n",
				ch.FieldID, renderText(ch.Before), renderText(ch.After))
		case ch.Visible != nil:
			fmt.Fprintf(formatter.Writer, "%s: visible=%v\n", ch.FieldID, *ch.Visible)
		case ch.Enabled != nil:
			fmt.Fprintf(formatter.Writer, "%s: enabled=%v\n", ch.FieldID, *ch.Enabled)
		}
	}
	for _, f := range result.Failed {
		fmt.Fprintf(formatter.Writer, "failed %s [%s]: %s\n", f.FieldID, f.Code, f.Message)
	}
	return nil
}

// renderValue converts an engine value to its JSON display form. Numbers
// render as canonical strings so no precision is lost in the output.
func renderValue(v value.Value) any {
	switch t := v.(type) {
	case nil, value.Null:
		return nil
	case value.Bool:
		return bool(t)
	default:
		return value.Canonical(v)
	}
}

func renderText(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}

func sortedFailureKeys(failed map[string]*engine.RuntimeError) []string {
	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func newInstanceID() string {
	return uuid.NewString()
}
