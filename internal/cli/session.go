package cli

import (
	"context"
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lithoslog/lithos/internal/engine"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/store"
)

// session bundles the schema, instance, and optional store behind a
// command invocation. Commands run against the instance and call save
// once at the end; without --db the instance is ephemeral.
type session struct {
	ctx    context.Context
	schema *schema.Schema
	inst   *engine.Instance
	st     *store.Store
}

// openSession loads the schema, opens the store when a database path is
// given, and produces the instance to operate on: the stored one when it
// exists, a fresh one otherwise. Record values are hydrated last, without
// triggering any cascade.
func openSession(cmd *cobra.Command, schemaDir, recordPath, dbPath, instanceID string, formatter *OutputFormatter) (*session, error) {
	s := &session{ctx: cmd.Context()}

	sc, err := LoadSchemaDir(schemaDir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		} else {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		}
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	s.schema = sc

	if dbPath != "" {
		if instanceID == "" {
			_ = formatter.Error(ErrCodeStore, "--db requires --instance", nil)
			return nil, NewExitError(ExitCommandError, "--db requires --instance")
		}
		st, err := store.Open(dbPath)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return nil, NewExitError(ExitCommandError, err.Error())
		}
		s.st = st

		inst, err := st.LoadInstance(s.ctx, instanceID, sc)
		switch {
		case errors.Is(err, store.ErrNotFound):
			formatter.VerboseLog("Instance %s not found, creating it", instanceID)
			inst, err = engine.NewInstance(instanceID, sc)
			if err != nil {
				s.close()
				_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
				return nil, NewExitError(ExitCommandError, err.Error())
			}
		case err != nil:
			s.close()
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return nil, NewExitError(ExitCommandError, err.Error())
		}
		s.inst = inst
	} else {
		inst, err := engine.NewInstance(newInstanceID(), sc)
		if err != nil {
			_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
			return nil, NewExitError(ExitCommandError, err.Error())
		}
		s.inst = inst
	}

	if recordPath != "" {
		values, err := LoadRecord(recordPath, sc)
		if err != nil {
			s.close()
			var loadErr *LoadError
			if errors.As(err, &loadErr) {
				_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			} else {
				_ = formatter.Error(ErrCodeBadRecord, err.Error(), nil)
			}
			return nil, NewExitError(ExitCommandError, err.Error())
		}
		if rerr := s.inst.LoadValues(values); rerr != nil {
			s.close()
			_ = formatter.Error(ErrCodeBadRecord, rerr.Error(), nil)
			return nil, NewExitError(ExitCommandError, rerr.Error())
		}
	}

	return s, nil
}

// save persists the instance when a store is attached.
func (s *session) save() error {
	if s.st == nil {
		return nil
	}
	return s.st.SaveInstance(s.ctx, s.inst)
}

func (s *session) close() {
	if s.st != nil {
		_ = s.st.Close()
	}
}

func sortStrings(ss []string) {
	sort.Strings(ss)
}
