package value

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a sealed interface over the scalar types a field can hold.
// Only Null, Str, Num, and Bool implement it.
//
// Numbers are always decimals, never binary floats. Decimal arithmetic is
// exact for the operations the formula evaluator performs, which keeps
// recompute results bit-identical across passes.
type Value interface {
	kind() Kind
}

// Kind identifies the concrete type of a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Null represents an empty field value.
type Null struct{}

func (Null) kind() Kind { return KindNull }

// Str is a string field value.
type Str string

func (Str) kind() Kind { return KindString }

// Num is a numeric field value backed by a decimal.
type Num struct {
	D decimal.Decimal
}

func (Num) kind() Kind { return KindNumber }

// Bool is a boolean field value.
type Bool bool

func (Bool) kind() Kind { return KindBool }

// KindOf returns the kind of v. A nil Value is treated as null.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.kind()
}

// NewStr creates a string value.
func NewStr(s string) Str { return Str(s) }

// NewBool creates a boolean value.
func NewBool(b bool) Bool { return Bool(b) }

// NewNum creates a numeric value from a decimal.
func NewNum(d decimal.Decimal) Num { return Num{D: d} }

// NewNumInt creates a numeric value from an int64.
func NewNumInt(n int64) Num { return Num{D: decimal.NewFromInt(n)} }

// NewNumString parses a decimal literal into a numeric value.
func NewNumString(s string) (Num, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Num{}, fmt.Errorf("parse number %q: %w", s, err)
	}
	return Num{D: d}, nil
}

// IsEmpty reports whether v is null or a blank string.
// This is the emptiness notion used by is_empty and coalesce.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case Str:
		return strings.TrimSpace(string(val)) == ""
	default:
		return false
	}
}

// Equal compares two values for semantic equality.
// Numbers compare by decimal value, so 10 and 10.0 are equal.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil, Null:
		return true
	case Str:
		return av == b.(Str)
	case Num:
		return av.D.Equal(b.(Num).D)
	case Bool:
		return av == b.(Bool)
	default:
		return false
	}
}

// Canonical returns the canonical string encoding of a value.
//
// This encoding keys control-rule mapping tables and serializes values for
// storage, so it must be stable: numbers render without trailing zeros
// ("10", not "10.0"), booleans render as "true"/"false", null renders as
// the empty string.
func Canonical(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case Str:
		return string(val)
	case Num:
		// decimal.String keeps the stored scale ("1.50"), which would make
		// equal numbers canonicalize differently. Trim to the plain form.
		s := val.D.String()
		if strings.Contains(s, ".") {
			s = strings.TrimRight(s, "0")
			s = strings.TrimRight(s, ".")
		}
		return s
	case Bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// FromAny converts a decoded YAML/JSON scalar into a Value.
// Rejects composite types; the engine deals in scalars only.
func FromAny(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return Str(v), nil
	case bool:
		return Bool(v), nil
	case int:
		return NewNumInt(int64(v)), nil
	case int64:
		return NewNumInt(v), nil
	case float64:
		return Num{D: decimal.NewFromFloat(v)}, nil
	case json.Number:
		return NewNumString(string(v))
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", raw)
	}
}

// MarshalJSON encodes a value as a tagged JSON object so the kind survives
// a round-trip through the store.
func MarshalJSON(v Value) ([]byte, error) {
	type tagged struct {
		Kind  Kind   `json:"kind"`
		Value string `json:"value"`
	}
	return json.Marshal(tagged{Kind: KindOf(v), Value: Canonical(v)})
}

// UnmarshalJSON decodes a value previously encoded by MarshalJSON.
func UnmarshalJSON(data []byte) (Value, error) {
	var tagged struct {
		Kind  Kind   `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	switch tagged.Kind {
	case KindNull, "":
		return Null{}, nil
	case KindString:
		return Str(tagged.Value), nil
	case KindNumber:
		return NewNumString(tagged.Value)
	case KindBool:
		return Bool(tagged.Value == "true"), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", tagged.Kind)
	}
}
