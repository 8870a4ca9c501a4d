package engine

import (
	"github.com/lithoslog/lithos/internal/formula"
	"github.com/lithoslog/lithos/internal/graph"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// FieldValidator classifies candidate values for a field. It is the
// collaborator the override reconciler invokes to decide the
// PENDING -> ACCEPTED vs INVALID transition. schema.Validator is the
// default implementation.
type FieldValidator interface {
	Check(fieldID string, candidate value.Value) error
}

// Instance bundles everything the engine needs for one entity instance:
// the schema, the field-value snapshot, the parsed formulas and their
// dependency graph, the control-rule index, and the override records.
//
// The engine holds no state of its own; every call takes an Instance.
// The caller serializes access - one edit-triggered pass at a time.
type Instance struct {
	ID       string
	Schema   *schema.Schema
	Snapshot value.Snapshot

	Graph    *graph.Graph
	ASTs     map[string]formula.Node
	Controls map[string][]schema.ControlRule

	Overrides *OverrideSet
	Validator FieldValidator

	// CycleErr holds the authoring diagnostic from graph build, if any.
	// Cyclic fields are excluded from evaluation and reported failed.
	CycleErr *graph.CycleError
}

// NewInstance creates a fresh instance for a schema with all fields at
// their defaults. Formula parse failures abort instance creation: a
// field with malformed formula text never enters the dependency graph.
func NewInstance(id string, s *schema.Schema) (*Instance, error) {
	asts, err := s.FormulaASTs()
	if err != nil {
		return nil, err
	}

	deps := make(map[string][]string, len(asts))
	for fieldID, node := range asts {
		deps[fieldID] = formula.Dependencies(node)
	}
	g, cycleErr := graph.Build(deps)

	return &Instance{
		ID:        id,
		Schema:    s,
		Snapshot:  s.NewInstance(),
		Graph:     g,
		ASTs:      asts,
		Controls:  s.ControlsBySource(),
		Overrides: NewOverrideSet(),
		Validator: schema.NewValidator(s),
		CycleErr:  cycleErr,
	}, nil
}

// LoadValues installs raw values into the snapshot without triggering
// any cascade. Used when hydrating an instance from a record file or
// the store; callers that want cascades submit edits instead.
func (inst *Instance) LoadValues(values map[string]value.Value) *RuntimeError {
	for fieldID, v := range values {
		if inst.Schema.Field(fieldID) == nil {
			return NewUnknownFieldError(fieldID)
		}
		inst.Snapshot.SetRaw(fieldID, v)
	}
	return nil
}
