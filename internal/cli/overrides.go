package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lithoslog/lithos/internal/engine"
)

// OverrideOptions holds flags shared by the overrides subcommands.
type OverrideOptions struct {
	SchemaDir  string
	DBPath     string
	InstanceID string
}

// OverrideView is the display form of one override record.
type OverrideView struct {
	ID            string `json:"id"`
	FieldID       string `json:"field_id"`
	SystemValue   any    `json:"system_value"`
	ObservedValue any    `json:"observed_value"`
	State         string `json:"state"`
}

// ConflictView is the display form of one conflict record.
type ConflictView struct {
	FieldID    string `json:"field_id"`
	Candidates []any  `json:"candidates"`
}

// NewOverridesCommand creates the overrides command group.
func NewOverridesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OverrideOptions{}

	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Inspect and drive the document override lifecycle",
		Long: `Manage overrides recorded for a stored instance: list them, observe
externally edited document values, accept pending overrides, and clean
up after a successful document generation.`,
	}

	cmd.PersistentFlags().StringVar(&opts.SchemaDir, "schema", "", "schema pack directory (required)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (required)")
	cmd.PersistentFlags().StringVar(&opts.InstanceID, "instance", "", "instance id in the database (required)")
	_ = cmd.MarkPersistentFlagRequired("schema")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("instance")

	cmd.AddCommand(newOverridesListCommand(rootOpts, opts))
	cmd.AddCommand(newOverridesObserveCommand(rootOpts, opts))
	cmd.AddCommand(newOverridesAcceptCommand(rootOpts, opts))
	cmd.AddCommand(newOverridesCleanupCommand(rootOpts, opts))

	return cmd
}

func newOverridesListCommand(rootOpts *RootOptions, opts *OverrideOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List override and conflict records",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverrideSession(rootOpts, opts, cmd, false, func(s *session, formatter *OutputFormatter) error {
				payload := struct {
					InstanceID string         `json:"instance_id"`
					Overrides  []OverrideView `json:"overrides"`
					Conflicts  []ConflictView `json:"conflicts,omitempty"`
				}{InstanceID: s.inst.ID}

				for _, o := range s.inst.Overrides.All() {
					payload.Overrides = append(payload.Overrides, overrideView(o))
				}
				for _, c := range s.inst.Overrides.Conflicts() {
					view := ConflictView{FieldID: c.FieldID}
					for _, candidate := range c.Candidates {
						view.Candidates = append(view.Candidates, renderValue(candidate))
					}
					payload.Conflicts = append(payload.Conflicts, view)
				}

				if formatter.Format == "json" {
					return formatter.Success(payload)
				}
				if len(payload.Overrides) == 0 {
					fmt.Fprintln(formatter.Writer, "no overrides")
				}
				for _, o := range payload.Overrides {
					fmt.Fprintf(formatter.Writer, "%s: %s -> %s [%s]\n",
						o.FieldID, renderText(o.SystemValue), renderText(o.ObservedValue), o.State)
				}
				for _, c := range payload.Conflicts {
					fmt.Fprintf(formatter.Writer, "conflict %s: %d candidate(s)\n", c.FieldID, len(c.Candidates))
				}
				return nil
			})
		},
	}
}

func newOverridesObserveCommand(rootOpts *RootOptions, opts *OverrideOptions) *cobra.Command {
	var fieldID, text string

	cmd := &cobra.Command{
		Use:           "observe --field <id> --value <text>",
		Short:         "Record an externally observed document value",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverrideSession(rootOpts, opts, cmd, true, func(s *session, formatter *OutputFormatter) error {
				f := s.schema.Field(fieldID)
				if f == nil {
					_ = formatter.Error(ErrCodeBadSet, fmt.Sprintf("field %q is not in schema %q", fieldID, s.schema.Name), nil)
					return NewExitError(ExitCommandError, "unknown field "+fieldID)
				}
				observed, err := coerceValue(text, f.Type)
				if err != nil {
					_ = formatter.Error(ErrCodeBadSet, err.Error(), nil)
					return NewExitError(ExitCommandError, err.Error())
				}

				eng := engine.New()
				o, conflict, err := eng.ObserveDocumentValue(s.inst, fieldID, observed)
				if err != nil {
					_ = formatter.Error(ErrCodePassFailed, err.Error(), nil)
					return NewExitError(ExitFailure, err.Error())
				}

				switch {
				case conflict != nil:
					return formatter.Success(fmt.Sprintf("conflict on %s with %d candidate(s)", fieldID, len(conflict.Candidates)))
				case o == nil:
					return formatter.Success("no divergence, nothing recorded")
				default:
					return formatter.Success(fmt.Sprintf("override %s on %s [%s]", o.ID, fieldID, o.State))
				}
			})
		},
	}

	cmd.Flags().StringVar(&fieldID, "field", "", "field id (required)")
	cmd.Flags().StringVar(&text, "value", "", "observed value text (required)")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newOverridesAcceptCommand(rootOpts *RootOptions, opts *OverrideOptions) *cobra.Command {
	var fieldID string

	cmd := &cobra.Command{
		Use:           "accept --field <id>",
		Short:         "Validate and apply a pending override",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverrideSession(rootOpts, opts, cmd, true, func(s *session, formatter *OutputFormatter) error {
				eng := engine.New()
				cs, err := eng.AcceptOverride(s.inst, fieldID)
				if err != nil {
					_ = formatter.Error(ErrCodePassFailed, err.Error(), nil)
					return NewExitError(ExitFailure, err.Error())
				}

				o := s.inst.Overrides.Get(fieldID)
				if o != nil && o.State == engine.StateInvalid {
					return formatter.Success(fmt.Sprintf("override on %s rejected by validation [INVALID]", fieldID))
				}

				result := EvalResult{InstanceID: s.inst.ID}
				appendChangeSet(&result, cs)
				return outputEvalResult(formatter, result)
			})
		},
	}

	cmd.Flags().StringVar(&fieldID, "field", "", "field id (required)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newOverridesCleanupCommand(rootOpts *RootOptions, opts *OverrideOptions) *cobra.Command {
	var markGenerated bool

	cmd := &cobra.Command{
		Use:           "cleanup",
		Short:         "Run post-generation override cleanup",
		Long:          "Transitions synced overrides on formula fields to SYNCED_FORMULA, removes synced overrides on plain fields, and clears conflicts. With --mark-generated, accepted overrides are first marked synced.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverrideSession(rootOpts, opts, cmd, true, func(s *session, formatter *OutputFormatter) error {
				eng := engine.New()
				if markGenerated {
					if err := eng.MarkGenerated(s.inst); err != nil {
						_ = formatter.Error(ErrCodePassFailed, err.Error(), nil)
						return NewExitError(ExitFailure, err.Error())
					}
				}
				removed := eng.CleanupAfterGeneration(s.inst)
				return formatter.Success(fmt.Sprintf("cleanup removed %d override(s)", len(removed)))
			})
		},
	}

	cmd.Flags().BoolVar(&markGenerated, "mark-generated", false, "mark accepted overrides synced before cleanup")
	return cmd
}

// withOverrideSession opens the session, runs fn, and saves the instance
// when the subcommand mutates it.
func withOverrideSession(rootOpts *RootOptions, opts *OverrideOptions, cmd *cobra.Command, mutates bool, fn func(*session, *OutputFormatter) error) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	s, err := openSession(cmd, opts.SchemaDir, "", opts.DBPath, opts.InstanceID, formatter)
	if err != nil {
		return err
	}
	defer s.close()

	if err := fn(s, formatter); err != nil {
		return err
	}
	if mutates {
		if err := s.save(); err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return NewExitError(ExitCommandError, err.Error())
		}
	}
	return nil
}

func overrideView(o *engine.Override) OverrideView {
	return OverrideView{
		ID:            o.ID,
		FieldID:       o.FieldID,
		SystemValue:   renderValue(o.SystemValue),
		ObservedValue: renderValue(o.ObservedValue),
		State:         string(o.State),
	}
}
