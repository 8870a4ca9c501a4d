package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lithoslog/lithos/internal/engine"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	SchemaDir  string
	RecordPath string
	DBPath     string
	InstanceID string
}

// ResolvedField is one row of the resolve output.
type ResolvedField struct {
	FieldID string `json:"field_id"`
	Value   any    `json:"value"`
	Source  string `json:"source"` // "override", "formula", or "raw"
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
}

// ResolveResult is the resolve command's output payload.
type ResolveResult struct {
	InstanceID string          `json:"instance_id"`
	Fields     []ResolvedField `json:"fields"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve --schema <dir>",
		Short: "Print the authoritative value of every field",
		Long: `Resolve every field of an instance through the fixed priority order:
active override, then formula value, then raw value. This is the value
set a document generation would use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SchemaDir, "schema", "", "schema pack directory (required)")
	cmd.Flags().StringVar(&opts.RecordPath, "record", "", "YAML record file with raw values")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "instance id in the database")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runResolve(rootOpts *RootOptions, opts *ResolveOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	session, err := openSession(cmd, opts.SchemaDir, opts.RecordPath, opts.DBPath, opts.InstanceID, formatter)
	if err != nil {
		return err
	}
	defer session.close()

	inst := session.inst
	result := ResolveResult{InstanceID: inst.ID}
	for _, fieldID := range inst.Snapshot.FieldIDs() {
		fv := inst.Snapshot.Get(fieldID)
		override := inst.Overrides.Get(fieldID)
		resolved := engine.ResolveValue(fv, override)

		source := "raw"
		switch {
		case override != nil && override.Active():
			source = "override"
		case fv.FormulaDerived:
			source = "formula"
		}

		result.Fields = append(result.Fields, ResolvedField{
			FieldID: fieldID,
			Value:   renderValue(resolved),
			Source:  source,
			Visible: fv.Visible,
			Enabled: fv.Enabled,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	for _, f := range result.Fields {
		flags := ""
		if !f.Visible {
			flags += " [hidden]"
		}
		if !f.Enabled {
			flags += " [disabled]"
		}
		fmt.Fprintf(formatter.Writer, "%s = %s (%s)%s\n", f.FieldID, renderText(f.Value), f.Source, flags)
	}
	return nil
}
