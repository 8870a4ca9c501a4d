package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"

	"github.com/lithoslog/lithos/internal/value"
)

// ConstraintError reports a field constraint violation. It drives the
// override PENDING -> INVALID transition and is a domain result, not an
// exception.
type ConstraintError struct {
	FieldID    string
	Constraint string // The violated constraint, e.g. "required", "min=0"
	Message    string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("field %q violates %s: %s", e.FieldID, e.Constraint, e.Message)
}

// Validator checks candidate values against a schema's field constraints.
// Length constraints are delegated to go-playground/validator var-tags,
// numeric bounds compare as decimals, and patterns are compiled once and
// cached.
type Validator struct {
	schema   *Schema
	validate *validator.Validate

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a validator for the given schema.
func NewValidator(s *Schema) *Validator {
	return &Validator{
		schema:   s,
		validate: validator.New(),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Check validates a candidate value for a field. A nil return means the
// value passes all declared constraints.
func (v *Validator) Check(fieldID string, candidate value.Value) error {
	f := v.schema.Field(fieldID)
	if f == nil {
		return &ConstraintError{FieldID: fieldID, Constraint: "known-field", Message: "field not defined in schema"}
	}

	if value.IsEmpty(candidate) {
		if f.Required {
			return &ConstraintError{FieldID: fieldID, Constraint: "required", Message: "value is required"}
		}
		return nil
	}

	if err := v.checkType(f, candidate); err != nil {
		return err
	}

	switch val := candidate.(type) {
	case value.Num:
		// Bounds compare as decimals; a float tag check would round at
		// the bound.
		if f.Min != nil && val.D.LessThan(*f.Min) {
			return boundError(f, val)
		}
		if f.Max != nil && val.D.GreaterThan(*f.Max) {
			return boundError(f, val)
		}
	case value.Str:
		if f.MaxLength > 0 {
			tag := fmt.Sprintf("max=%d", f.MaxLength)
			if err := v.validate.Var(string(val), tag); err != nil {
				return &ConstraintError{
					FieldID:    fieldID,
					Constraint: tag,
					Message:    fmt.Sprintf("string longer than %d characters", f.MaxLength),
				}
			}
		}
		if f.Pattern != "" {
			re, err := v.pattern(f.Pattern)
			if err != nil {
				return err
			}
			if !re.MatchString(string(val)) {
				return &ConstraintError{
					FieldID:    fieldID,
					Constraint: "pattern",
					Message:    fmt.Sprintf("value does not match %q", f.Pattern),
				}
			}
		}
	}

	return nil
}

func (v *Validator) checkType(f *Field, candidate value.Value) error {
	want := map[FieldType]value.Kind{
		TypeString: value.KindString,
		TypeNumber: value.KindNumber,
		TypeBool:   value.KindBool,
	}[f.Type]

	if value.KindOf(candidate) != want {
		return &ConstraintError{
			FieldID:    f.ID,
			Constraint: "type",
			Message:    fmt.Sprintf("expected %s, got %s", f.Type, value.KindOf(candidate)),
		}
	}
	return nil
}

// pattern returns the compiled, anchored regexp for a pattern string.
func (v *Validator) pattern(p string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if re, ok := v.patterns[p]; ok {
		return re, nil
	}
	anchored := p
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^" + anchored
	}
	if !strings.HasSuffix(anchored, "$") {
		anchored += "$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", p, err)
	}
	v.patterns[p] = re
	return re, nil
}

func numericTag(f *Field) string {
	var parts []string
	if f.Min != nil {
		parts = append(parts, "gte="+f.Min.String())
	}
	if f.Max != nil {
		parts = append(parts, "lte="+f.Max.String())
	}
	return strings.Join(parts, ",")
}

func boundError(f *Field, val value.Num) error {
	bounds := ""
	if f.Min != nil {
		bounds = ">= " + f.Min.String()
	}
	if f.Max != nil {
		if bounds != "" {
			bounds += " and "
		}
		bounds += "<= " + f.Max.String()
	}
	return &ConstraintError{
		FieldID:    f.ID,
		Constraint: numericTag(f),
		Message:    fmt.Sprintf("value %s out of range (must be %s)", val.D.String(), bounds),
	}
}
