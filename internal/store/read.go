package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lithoslog/lithos/internal/engine"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// ErrNotFound is returned when no instance exists for the requested id.
var ErrNotFound = errors.New("instance not found")

// InstanceInfo is one row of the instance listing.
type InstanceInfo struct {
	ID         string
	SchemaName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListInstances returns metadata for every stored instance, newest first.
func (s *Store) ListInstances(ctx context.Context) ([]InstanceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_name, created_at, updated_at
		FROM instances ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []InstanceInfo
	for rows.Next() {
		var info InstanceInfo
		var created, updated string
		if err := rows.Scan(&info.ID, &info.SchemaName, &created, &updated); err != nil {
			return nil, fmt.Errorf("list instances: scan: %w", err)
		}
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("list instances: created_at: %w", err)
		}
		if info.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("list instances: updated_at: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// LoadInstance rehydrates an instance against its schema: field values
// and presentation flags, override records, and conflict candidates. No
// cascade runs during hydration; the stored values are authoritative.
//
// The caller supplies the compiled schema. A stored schema_name that does
// not match it is an error; the store does not persist schemas.
func (s *Store) LoadInstance(ctx context.Context, instanceID string, sc *schema.Schema) (*engine.Instance, error) {
	var schemaName string
	err := s.db.QueryRowContext(ctx,
		"SELECT schema_name FROM instances WHERE id = ?", instanceID).Scan(&schemaName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if schemaName != sc.Name {
		return nil, fmt.Errorf("load instance: stored schema %q does not match %q", schemaName, sc.Name)
	}

	inst, err := engine.NewInstance(instanceID, sc)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}

	if err := s.loadFieldValues(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.loadOverrides(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.loadConflicts(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Store) loadFieldValues(ctx context.Context, inst *engine.Instance) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_id, kind, value, formula_derived, visible, enabled
		FROM field_values WHERE instance_id = ?
	`, inst.ID)
	if err != nil {
		return fmt.Errorf("load field values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fieldID, kind, text string
		var formulaDerived, visible, enabled int
		if err := rows.Scan(&fieldID, &kind, &text, &formulaDerived, &visible, &enabled); err != nil {
			return fmt.Errorf("load field values: scan: %w", err)
		}

		// Fields dropped from the schema since the save are skipped;
		// fields added since keep their fresh defaults.
		fv := inst.Snapshot.Get(fieldID)
		if fv == nil {
			continue
		}

		v, err := decodeValue(kind, text)
		if err != nil {
			return fmt.Errorf("load field values: field %s: %w", fieldID, err)
		}
		fv.Raw = v
		fv.Visible = visible != 0
		fv.Enabled = enabled != 0
	}
	return rows.Err()
}

func (s *Store) loadOverrides(ctx context.Context, inst *engine.Instance) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, field_id, system_kind, system_value,
		       observed_kind, observed_value, state, use_in_generation,
		       created_at, updated_at
		FROM overrides WHERE instance_id = ?
	`, inst.ID)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o engine.Override
		var sysKind, sysText, obsKind, obsText, state, created, updated string
		var useInGen int
		if err := rows.Scan(&o.ID, &o.FieldID, &sysKind, &sysText,
			&obsKind, &obsText, &state, &useInGen, &created, &updated); err != nil {
			return fmt.Errorf("load overrides: scan: %w", err)
		}

		if o.SystemValue, err = decodeValue(sysKind, sysText); err != nil {
			return fmt.Errorf("load overrides: field %s: %w", o.FieldID, err)
		}
		if o.ObservedValue, err = decodeValue(obsKind, obsText); err != nil {
			return fmt.Errorf("load overrides: field %s: %w", o.FieldID, err)
		}
		o.State = engine.OverrideState(state)
		o.UseInGeneration = useInGen != 0
		if o.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return fmt.Errorf("load overrides: created_at: %w", err)
		}
		if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return fmt.Errorf("load overrides: updated_at: %w", err)
		}

		inst.Overrides.Put(&o)
	}
	return rows.Err()
}

func (s *Store) loadConflicts(ctx context.Context, inst *engine.Instance) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_id, kind, value
		FROM conflicts WHERE instance_id = ?
		ORDER BY field_id, position
	`, inst.ID)
	if err != nil {
		return fmt.Errorf("load conflicts: %w", err)
	}
	defer rows.Close()

	byField := make(map[string]*engine.Conflict)
	var order []string
	for rows.Next() {
		var fieldID, kind, text string
		if err := rows.Scan(&fieldID, &kind, &text); err != nil {
			return fmt.Errorf("load conflicts: scan: %w", err)
		}
		v, err := decodeValue(kind, text)
		if err != nil {
			return fmt.Errorf("load conflicts: field %s: %w", fieldID, err)
		}
		c := byField[fieldID]
		if c == nil {
			c = &engine.Conflict{FieldID: fieldID}
			byField[fieldID] = c
			order = append(order, fieldID)
		}
		c.Candidates = append(c.Candidates, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fieldID := range order {
		inst.Overrides.PutConflict(byField[fieldID])
	}
	return nil
}

// RawValues returns the stored raw values for an instance, keyed by field
// id. Used by callers that need values without building a full instance.
func (s *Store) RawValues(ctx context.Context, instanceID string) (map[string]value.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_id, kind, value FROM field_values WHERE instance_id = ?
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("raw values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]value.Value)
	for rows.Next() {
		var fieldID, kind, text string
		if err := rows.Scan(&fieldID, &kind, &text); err != nil {
			return nil, fmt.Errorf("raw values: scan: %w", err)
		}
		v, err := decodeValue(kind, text)
		if err != nil {
			return nil, fmt.Errorf("raw values: field %s: %w", fieldID, err)
		}
		out[fieldID] = v
	}
	return out, rows.Err()
}
