package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lithoslog/lithos/internal/formula"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// Validation error codes (E100-E199)
const (
	// Schema errors (E100-E109)
	ErrSchemaNameEmpty   = "E100" // schema name is required
	ErrSchemaNoFields    = "E101" // at least one field required
	ErrInvalidFieldType  = "E102" // invalid field type
	ErrBadFormula        = "E103" // formula does not parse
	ErrUnknownFormulaRef = "E104" // formula references an undefined field
	ErrFormulaSelfRef    = "E105" // formula references its own field
	ErrBadPattern        = "E106" // pattern is not a valid regular expression
	ErrBadBounds         = "E107" // min greater than max
	ErrBoundsOnNonNumber = "E108" // min/max on a non-number field

	// Control rule errors (E110-E119)
	ErrUnknownControlField   = "E110" // control source or target not defined
	ErrInvalidEffect         = "E111" // invalid effect type
	ErrValueSetFormulaTarget = "E112" // VALUE_SET targets a formula-derived field
	ErrEffectValueNotBool    = "E113" // VISIBILITY/ENABLE mapping value not bool
	ErrControlSelfTarget     = "E114" // rule targets its own source field
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled schema against authoring rules.
// Returns all errors found (does not fail-fast).
func Validate(s *schema.Schema) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "schema name is required and must be non-empty",
			Code:    ErrSchemaNameEmpty,
		})
	}

	if len(s.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   "fields",
			Message: "at least one field is required",
			Code:    ErrSchemaNoFields,
		})
	}

	for _, fieldID := range s.Order {
		errs = append(errs, validateField(s, s.Fields[fieldID])...)
	}

	for i, rule := range s.Controls {
		errs = append(errs, validateControl(s, i, rule)...)
	}

	return errs
}

func validateField(s *schema.Schema, f *schema.Field) []ValidationError {
	var errs []ValidationError

	if !schema.ValidFieldType(f.Type) {
		errs = append(errs, ValidationError{
			Field:   f.ID + ".type",
			Message: fmt.Sprintf("invalid type %q, must be string, number, or bool", f.Type),
			Code:    ErrInvalidFieldType,
		})
	}

	if f.IsFormula() {
		node, perr := formula.Parse(f.Formula)
		if perr != nil {
			errs = append(errs, ValidationError{
				Field:   f.ID + ".formula",
				Message: perr.Error(),
				Code:    ErrBadFormula,
			})
		} else {
			for _, dep := range formula.Dependencies(node) {
				if dep == f.ID {
					errs = append(errs, ValidationError{
						Field:   f.ID + ".formula",
						Message: "formula references its own field",
						Code:    ErrFormulaSelfRef,
					})
					continue
				}
				if _, ok := s.Fields[dep]; !ok {
					errs = append(errs, ValidationError{
						Field:   f.ID + ".formula",
						Message: fmt.Sprintf("formula references undefined field %q", dep),
						Code:    ErrUnknownFormulaRef,
					})
				}
			}
		}
	}

	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   f.ID + ".pattern",
				Message: fmt.Sprintf("invalid pattern: %v", err),
				Code:    ErrBadPattern,
			})
		}
	}

	if (f.Min != nil || f.Max != nil) && f.Type != schema.TypeNumber {
		errs = append(errs, ValidationError{
			Field:   f.ID,
			Message: fmt.Sprintf("min/max bounds require a number field, got %s", f.Type),
			Code:    ErrBoundsOnNonNumber,
		})
	}
	if f.Min != nil && f.Max != nil && f.Min.GreaterThan(*f.Max) {
		errs = append(errs, ValidationError{
			Field:   f.ID,
			Message: fmt.Sprintf("min %s is greater than max %s", f.Min, f.Max),
			Code:    ErrBadBounds,
		})
	}

	return errs
}

func validateControl(s *schema.Schema, index int, rule schema.ControlRule) []ValidationError {
	var errs []ValidationError
	path := fmt.Sprintf("controls[%d]", index)

	if _, ok := s.Fields[rule.Source]; !ok {
		errs = append(errs, ValidationError{
			Field:   path + ".source",
			Message: fmt.Sprintf("source field %q is not defined", rule.Source),
			Code:    ErrUnknownControlField,
		})
	}
	target, targetKnown := s.Fields[rule.Target]
	if !targetKnown {
		errs = append(errs, ValidationError{
			Field:   path + ".target",
			Message: fmt.Sprintf("target field %q is not defined", rule.Target),
			Code:    ErrUnknownControlField,
		})
	}

	if !schema.ValidEffectType(rule.Effect) {
		errs = append(errs, ValidationError{
			Field:   path + ".effect",
			Message: fmt.Sprintf("invalid effect %q, must be VALUE_SET, VISIBILITY, or ENABLE", rule.Effect),
			Code:    ErrInvalidEffect,
		})
		return errs
	}

	if rule.Source == rule.Target {
		errs = append(errs, ValidationError{
			Field:   path + ".target",
			Message: "rule targets its own source field",
			Code:    ErrControlSelfTarget,
		})
	}

	switch rule.Effect {
	case schema.EffectValueSet:
		if targetKnown && target.IsFormula() {
			errs = append(errs, ValidationError{
				Field:   path + ".target",
				Message: fmt.Sprintf("VALUE_SET cannot target formula-derived field %q", rule.Target),
				Code:    ErrValueSetFormulaTarget,
			})
		}
	case schema.EffectVisibility, schema.EffectEnable:
		for key, mapped := range rule.Mapping {
			if _, ok := mapped.(value.Bool); !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.mapping[%q]", path, key),
					Message: fmt.Sprintf("%s effect requires bool values, got %s", rule.Effect, value.KindOf(mapped)),
					Code:    ErrEffectValueNotBool,
				})
			}
		}
		if rule.Default != nil {
			if _, ok := rule.Default.(value.Bool); !ok {
				errs = append(errs, ValidationError{
					Field:   path + ".default",
					Message: fmt.Sprintf("%s effect requires a bool default, got %s", rule.Effect, value.KindOf(rule.Default)),
					Code:    ErrEffectValueNotBool,
				})
			}
		}
	}

	return errs
}
