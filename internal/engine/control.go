package engine

import (
	"fmt"
	"log/slog"

	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// DefaultMaxDepth is the maximum number of chained VALUE_SET hops in one
// control propagation pass. Exceeding it is a reported error, not a
// silent truncation: a deeper chain indicates malformed or cyclic
// authoring.
const DefaultMaxDepth = 10

// controlOutcome records what a control propagation pass did to the
// working snapshot.
type controlOutcome struct {
	// valueSet lists targets whose raw value changed through VALUE_SET
	// effects, in application order. Each of these is resubmitted to the
	// formula scheduler as a changed field.
	valueSet []string
}

// propagateControls applies the control rules sourced at fieldID against
// the working snapshot and recurses through VALUE_SET chains.
//
// Only a VALUE_SET effect produces a new changed field and recurses;
// VISIBILITY and ENABLE are leaf effects applied independently per
// affected field. The initiating edit is depth 0 and each chained
// VALUE_SET hop increments the depth; a hop past maxDepth fails the
// whole pass.
//
// A VALUE_SET that leaves the target's value unchanged neither records a
// change nor recurses, so same-value rule cycles terminate naturally.
func propagateControls(
	inst *Instance,
	working value.Snapshot,
	fieldID string,
	depth, maxDepth int,
	out *controlOutcome,
) *RuntimeError {
	sourceValue := working.Raw(fieldID)

	for _, rule := range inst.Controls[fieldID] {
		effectValue, ok := rule.Lookup(sourceValue)
		if !ok {
			continue
		}

		target := working.Get(rule.Target)
		if target == nil {
			return NewUnknownFieldError(rule.Target)
		}

		switch rule.Effect {
		case schema.EffectVisibility:
			flag, err := effectBool(rule, effectValue)
			if err != nil {
				return err
			}
			target.Visible = flag

		case schema.EffectEnable:
			flag, err := effectBool(rule, effectValue)
			if err != nil {
				return err
			}
			target.Enabled = flag

		case schema.EffectValueSet:
			if target.FormulaDerived {
				return &RuntimeError{
					Code:    ErrCodeEditForbidden,
					Message: "VALUE_SET target is formula-derived",
					FieldID: rule.Target,
				}
			}
			if value.Equal(target.Raw, effectValue) {
				continue
			}

			hop := depth + 1
			if hop > maxDepth {
				return NewDepthError(rule.Target, hop, maxDepth)
			}

			slog.Debug("control VALUE_SET applied",
				"source", rule.Source,
				"target", rule.Target,
				"depth", hop,
			)

			target.Raw = effectValue
			out.valueSet = append(out.valueSet, rule.Target)

			if err := propagateControls(inst, working, rule.Target, hop, maxDepth, out); err != nil {
				return err
			}
		}
	}

	return nil
}

func effectBool(rule schema.ControlRule, v value.Value) (bool, *RuntimeError) {
	b, ok := v.(value.Bool)
	if !ok {
		return false, &RuntimeError{
			Code: ErrCodeEvaluationFailed,
			Message: fmt.Sprintf("%s effect requires a bool mapping value, got %s",
				rule.Effect, value.KindOf(v)),
			FieldID: rule.Target,
		}
	}
	return bool(b), nil
}
