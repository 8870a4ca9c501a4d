package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// CompileSchema parses a CUE value into a schema.Schema.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The CUE value should be the schema struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`schema: { name: "spt_log", fields: {...} }`)
//	s, err := CompileSchema(v.LookupPath(cue.ParsePath("schema")))
func CompileSchema(v cue.Value) (*schema.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &schema.Schema{
		Fields: make(map[string]*schema.Field),
	}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{
			Field:   "name",
			Message: "schema name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	s.Name = name

	if err := parseFields(v, s); err != nil {
		return nil, err
	}
	if len(s.Fields) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     v.Pos(),
		}
	}

	controls, err := parseControls(v)
	if err != nil {
		return nil, err
	}
	s.Controls = controls

	return s, nil
}

// parseFields extracts field definitions. Declaration order in the CUE
// source becomes the schema's display order.
func parseFields(v cue.Value, s *schema.Schema) error {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return &CompileError{
			Field:   "fields",
			Message: "fields block is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		fieldID := iter.Selector().Unquoted()
		fieldVal := iter.Value()

		if _, exists := s.Fields[fieldID]; exists {
			return &CompileError{
				Field:   fieldID,
				Message: "duplicate field id",
				Pos:     fieldVal.Pos(),
			}
		}

		f, err := parseField(fieldID, fieldVal)
		if err != nil {
			return err
		}
		s.Fields[fieldID] = f
		s.Order = append(s.Order, fieldID)
	}

	return nil
}

func parseField(fieldID string, v cue.Value) (*schema.Field, error) {
	f := &schema.Field{
		ID:      fieldID,
		Visible: true,
		Enabled: true,
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return nil, &CompileError{
			Field:   fieldID + ".type",
			Message: "field type is required",
			Pos:     v.Pos(),
		}
	}
	typeStr, err := typeVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	f.Type = schema.FieldType(typeStr)
	if !schema.ValidFieldType(f.Type) {
		return nil, &CompileError{
			Field:   fieldID + ".type",
			Message: fmt.Sprintf("invalid field type %q, must be string, number, or bool", typeStr),
			Pos:     typeVal.Pos(),
		}
	}

	if f.Label, err = optionalString(v, "label"); err != nil {
		return nil, err
	}
	if f.Formula, err = optionalString(v, "formula"); err != nil {
		return nil, err
	}
	if f.Pattern, err = optionalString(v, "pattern"); err != nil {
		return nil, err
	}

	if f.Required, err = optionalBool(v, "required", false); err != nil {
		return nil, err
	}
	if f.Visible, err = optionalBool(v, "visible", true); err != nil {
		return nil, err
	}
	if f.Enabled, err = optionalBool(v, "enabled", true); err != nil {
		return nil, err
	}

	if f.Min, err = optionalDecimal(v, "min"); err != nil {
		return nil, err
	}
	if f.Max, err = optionalDecimal(v, "max"); err != nil {
		return nil, err
	}

	maxLenVal := v.LookupPath(cue.ParsePath("max_length"))
	if maxLenVal.Exists() {
		n, err := maxLenVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		f.MaxLength = int(n)
	}

	return f, nil
}

// parseControls extracts the control rule list. Controls are optional.
func parseControls(v cue.Value) ([]schema.ControlRule, error) {
	controlsVal := v.LookupPath(cue.ParsePath("controls"))
	if !controlsVal.Exists() {
		return nil, nil
	}

	iter, err := controlsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rules []schema.ControlRule
	for i := 0; iter.Next(); i++ {
		rule, err := parseControl(i, iter.Value())
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseControl(index int, v cue.Value) (schema.ControlRule, error) {
	var rule schema.ControlRule
	path := fmt.Sprintf("controls[%d]", index)

	for _, req := range []struct {
		name string
		dst  *string
	}{
		{"source", &rule.Source},
		{"target", &rule.Target},
	} {
		val := v.LookupPath(cue.ParsePath(req.name))
		if !val.Exists() {
			return rule, &CompileError{
				Field:   path + "." + req.name,
				Message: req.name + " is required",
				Pos:     v.Pos(),
			}
		}
		str, err := val.String()
		if err != nil {
			return rule, formatCUEError(err)
		}
		*req.dst = str
	}

	effectVal := v.LookupPath(cue.ParsePath("effect"))
	if !effectVal.Exists() {
		return rule, &CompileError{
			Field:   path + ".effect",
			Message: "effect is required",
			Pos:     v.Pos(),
		}
	}
	effectStr, err := effectVal.String()
	if err != nil {
		return rule, formatCUEError(err)
	}
	rule.Effect = schema.EffectType(effectStr)
	if !schema.ValidEffectType(rule.Effect) {
		return rule, &CompileError{
			Field:   path + ".effect",
			Message: fmt.Sprintf("invalid effect %q, must be VALUE_SET, VISIBILITY, or ENABLE", effectStr),
			Pos:     effectVal.Pos(),
		}
	}

	mappingVal := v.LookupPath(cue.ParsePath("mapping"))
	if mappingVal.Exists() {
		rule.Mapping = make(map[string]value.Value)
		mapIter, err := mappingVal.Fields()
		if err != nil {
			return rule, formatCUEError(err)
		}
		for mapIter.Next() {
			key := mapIter.Selector().Unquoted()
			mapped, err := parseScalar(mapIter.Value())
			if err != nil {
				return rule, err
			}
			rule.Mapping[key] = mapped
		}
	}

	defaultVal := v.LookupPath(cue.ParsePath("default"))
	if defaultVal.Exists() {
		d, err := parseScalar(defaultVal)
		if err != nil {
			return rule, err
		}
		rule.Default = d
	}

	if rule.Mapping == nil && rule.Default == nil {
		return rule, &CompileError{
			Field:   path,
			Message: "control rule needs a mapping or a default",
			Pos:     v.Pos(),
		}
	}

	return rule, nil
}

// parseScalar converts a concrete CUE scalar into an engine value.
// Numbers go through their JSON rendering so that decimal literals
// survive exactly; no binary float conversion happens on the way.
func parseScalar(v cue.Value) (value.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Str(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Bool(b), nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return nil, &CompileError{
				Field:   "value",
				Message: fmt.Sprintf("unparseable number literal %s", raw),
				Pos:     v.Pos(),
			}
		}
		return value.Num{D: d}, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind %v, must be a scalar", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func optionalString(v cue.Value, name string) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, name string, def bool) (bool, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return def, nil
	}
	b, err := val.Bool()
	if err != nil {
		return def, formatCUEError(err)
	}
	return b, nil
}

func optionalDecimal(v cue.Value, name string) (*decimal.Decimal, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return nil, nil
	}
	parsed, err := parseScalar(val)
	if err != nil {
		return nil, err
	}
	num, ok := parsed.(value.Num)
	if !ok {
		return nil, &CompileError{
			Field:   name,
			Message: "must be a number",
			Pos:     val.Pos(),
		}
	}
	return &num.D, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
