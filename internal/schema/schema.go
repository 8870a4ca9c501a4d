// Package schema defines the field, formula, and control-rule definitions
// the engine evaluates. Definitions are assembled once per schema load
// (by the compiler or tests) and are read-only during evaluation.
package schema

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lithoslog/lithos/internal/formula"
	"github.com/lithoslog/lithos/internal/graph"
	"github.com/lithoslog/lithos/internal/value"
)

// FieldType is the closed set of scalar field types.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
)

// ValidFieldType reports whether t is a known field type.
func ValidFieldType(t FieldType) bool {
	return t == TypeString || t == TypeNumber || t == TypeBool
}

// Field is one field definition.
//
// A non-empty Formula marks the field as formula-derived: its value is
// maintained by the scheduler and it is never a manual-edit target for
// dependency resolution.
type Field struct {
	ID      string
	Label   string
	Type    FieldType
	Formula string // Expression text; empty for plain input fields

	// Constraints, enforced by Validator.
	Required  bool
	Min       *decimal.Decimal // Numeric lower bound, inclusive
	Max       *decimal.Decimal // Numeric upper bound, inclusive
	MaxLength int              // String length cap; 0 means unbounded
	Pattern   string           // Anchored regular expression for strings

	// Initial presentation state; control rules mutate the per-instance
	// copies, never these defaults.
	Visible bool
	Enabled bool
}

// IsFormula reports whether the field is formula-derived.
func (f *Field) IsFormula() bool {
	return f.Formula != ""
}

// EffectType is the closed set of control-rule effects.
type EffectType string

const (
	EffectValueSet   EffectType = "VALUE_SET"
	EffectVisibility EffectType = "VISIBILITY"
	EffectEnable     EffectType = "ENABLE"
)

// ValidEffectType reports whether t is a known effect type.
func ValidEffectType(t EffectType) bool {
	return t == EffectValueSet || t == EffectVisibility || t == EffectEnable
}

// ControlRule declares that a source field's value drives an effect on a
// target field. The mapping table is keyed by the canonical encoding of
// the source value; an exact-match entry wins over the default.
type ControlRule struct {
	Source  string
	Target  string
	Effect  EffectType
	Mapping map[string]value.Value
	Default value.Value // nil when no default entry is declared
}

// Lookup resolves the effect value for a source value. The second result
// is false when neither an exact match nor a default applies, in which
// case the rule does not fire.
func (r *ControlRule) Lookup(source value.Value) (value.Value, bool) {
	if v, ok := r.Mapping[value.Canonical(source)]; ok {
		return v, true
	}
	if r.Default != nil {
		return r.Default, true
	}
	return nil, false
}

// Schema is one complete schema: field definitions plus control rules.
type Schema struct {
	Name     string
	Fields   map[string]*Field
	Order    []string // Field ids in declaration order
	Controls []ControlRule
}

// Field returns the definition for id, or nil.
func (s *Schema) Field(id string) *Field {
	return s.Fields[id]
}

// ControlsBySource returns control rules indexed by source field, rule
// order preserved within each source. The index is rebuilt per call;
// callers that evaluate repeatedly hold on to the result.
func (s *Schema) ControlsBySource() map[string][]ControlRule {
	idx := make(map[string][]ControlRule)
	for _, rule := range s.Controls {
		idx[rule.Source] = append(idx[rule.Source], rule)
	}
	return idx
}

// FormulaASTs parses every formula field's expression through the shared
// AST cache. A ParseError names the owning field; per the error contract
// the field must not enter the dependency graph until the text is fixed.
func (s *Schema) FormulaASTs() (map[string]formula.Node, error) {
	asts := make(map[string]formula.Node)
	for _, id := range s.sortedFieldIDs() {
		f := s.Fields[id]
		if !f.IsFormula() {
			continue
		}
		node, perr := formula.ParseCached(f.Formula)
		if perr != nil {
			return nil, fmt.Errorf("field %q: %w", id, perr)
		}
		asts[id] = node
	}
	return asts, nil
}

// BuildGraph parses all formulas and builds the dependency graph.
// The CycleError, when non-nil, is an authoring diagnostic; the graph is
// still usable with cyclic fields excluded from evaluation.
func (s *Schema) BuildGraph() (*graph.Graph, *graph.CycleError, error) {
	asts, err := s.FormulaASTs()
	if err != nil {
		return nil, nil, err
	}
	deps := make(map[string][]string, len(asts))
	for id, node := range asts {
		deps[id] = formula.Dependencies(node)
	}
	g, cycleErr := graph.Build(deps)
	return g, cycleErr, nil
}

// NewInstance creates a fresh field-value snapshot for this schema, with
// every field at null and presentation flags at their declared defaults.
func (s *Schema) NewInstance() value.Snapshot {
	snap := make(value.Snapshot, len(s.Fields))
	for id, f := range s.Fields {
		snap[id] = &value.FieldValue{
			FieldID:        id,
			Raw:            value.Null{},
			FormulaDerived: f.IsFormula(),
			Visible:        f.Visible,
			Enabled:        f.Enabled,
		}
	}
	return snap
}

func (s *Schema) sortedFieldIDs() []string {
	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
