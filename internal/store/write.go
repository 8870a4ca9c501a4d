package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lithoslog/lithos/internal/engine"
)

// SaveInstance writes an instance's full state in one transaction: the
// instance row, every field value, every override, and every conflict.
// Prior rows for the instance are replaced wholesale; the saved state is
// exactly the in-memory state, which is what makes load-after-save a
// faithful rehydration.
func (s *Store) SaveInstance(ctx context.Context, inst *engine.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save instance: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO instances (id, schema_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, inst.ID, inst.Schema.Name, now, now)
	if err != nil {
		return fmt.Errorf("save instance: upsert instance: %w", err)
	}

	for _, table := range []string{"field_values", "overrides", "conflicts"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE instance_id = ?", table), inst.ID); err != nil {
			return fmt.Errorf("save instance: clear %s: %w", table, err)
		}
	}

	for _, fieldID := range inst.Snapshot.FieldIDs() {
		fv := inst.Snapshot.Get(fieldID)
		kind, text := encodeValue(fv.Raw)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO field_values
			(instance_id, field_id, kind, value, formula_derived, visible, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, inst.ID, fieldID, kind, text,
			boolInt(fv.FormulaDerived), boolInt(fv.Visible), boolInt(fv.Enabled))
		if err != nil {
			return fmt.Errorf("save instance: field %s: %w", fieldID, err)
		}
	}

	for _, o := range inst.Overrides.All() {
		sysKind, sysText := encodeValue(o.SystemValue)
		obsKind, obsText := encodeValue(o.ObservedValue)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO overrides
			(id, instance_id, field_id, system_kind, system_value,
			 observed_kind, observed_value, state, use_in_generation,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, inst.ID, o.FieldID, sysKind, sysText, obsKind, obsText,
			string(o.State), boolInt(o.UseInGeneration),
			o.CreatedAt.UTC().Format(time.RFC3339Nano),
			o.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("save instance: override %s: %w", o.FieldID, err)
		}
	}

	for _, c := range inst.Overrides.Conflicts() {
		for pos, candidate := range c.Candidates {
			kind, text := encodeValue(candidate)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO conflicts (instance_id, field_id, position, kind, value)
				VALUES (?, ?, ?, ?, ?)
			`, inst.ID, c.FieldID, pos, kind, text)
			if err != nil {
				return fmt.Errorf("save instance: conflict %s: %w", c.FieldID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save instance: commit: %w", err)
	}
	return nil
}

// DeleteInstance removes an instance and, through foreign keys, its field
// values, overrides, and conflicts.
func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", instanceID)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
