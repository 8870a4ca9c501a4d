package engine

import (
	"log/slog"

	"github.com/lithoslog/lithos/internal/formula"
	"github.com/lithoslog/lithos/internal/graph"
	"github.com/lithoslog/lithos/internal/value"
)

// RecomputeResult is the outcome of one recompute pass.
type RecomputeResult struct {
	// Values holds the newly computed value per formula field.
	Values map[string]value.Value

	// Failed holds the per-field error for formula fields that could
	// not be evaluated. Failed fields keep their last-known value.
	Failed map[string]*RuntimeError
}

// Recompute evaluates every formula field transitively dependent on the
// changed fields, in topological order, feeding each result back into
// the working snapshot used by subsequent evaluations in the same pass.
//
// The input snapshot is not mutated; callers apply Values themselves.
// Determinism: identical (changed, snapshot) inputs always produce
// identical results, which is what makes undo-by-recomputation valid.
//
// Failure semantics: a single field's evaluation failure does not abort
// the pass. The field is reported in Failed and fields downstream of it
// are failed as well rather than evaluated against a stale input;
// independent fields continue normally. Fields inside a dependency cycle
// are never evaluated and fail with a structural error.
//
// skip lists formula fields excluded from this pass. It carries the one
// case where a formula field's raw value was just set from outside the
// scheduler (override acceptance) and must not be immediately
// recomputed over.
func Recompute(
	g *graph.Graph,
	asts map[string]formula.Node,
	snap value.Snapshot,
	changed []string,
	skip map[string]bool,
) RecomputeResult {
	result := RecomputeResult{
		Values: make(map[string]value.Value),
		Failed: make(map[string]*RuntimeError),
	}

	working := snap.Clone()

	for _, fieldID := range g.Affected(changed) {
		if skip[fieldID] {
			continue
		}

		if g.IsCyclic(fieldID) {
			result.Failed[fieldID] = NewCycleError(fieldID)
			continue
		}

		if failedDep := firstFailedDependency(g, fieldID, result.Failed); failedDep != "" {
			result.Failed[fieldID] = &RuntimeError{
				Code:    ErrCodeEvaluationFailed,
				Message: "dependency failed in this pass",
				FieldID: fieldID,
				Details: map[string]string{"dependency": failedDep},
			}
			continue
		}

		computed, evalErr := formula.Evaluate(asts[fieldID], working)
		if evalErr != nil {
			slog.Debug("formula evaluation failed",
				"field_id", fieldID,
				"eval_code", string(evalErr.Code),
				"error", evalErr.Message,
			)
			result.Failed[fieldID] = NewEvalError(fieldID, evalErr)
			continue
		}

		working.SetRaw(fieldID, computed)
		result.Values[fieldID] = computed
	}

	return result
}

// firstFailedDependency returns the id of a dependency that already
// failed in this pass, or "" if all dependencies are clean.
func firstFailedDependency(g *graph.Graph, fieldID string, failed map[string]*RuntimeError) string {
	for _, dep := range g.Dependencies(fieldID) {
		if _, ok := failed[dep]; ok {
			return dep
		}
	}
	return ""
}
