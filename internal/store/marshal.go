package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lithoslog/lithos/internal/value"
)

// encodeValue renders a value as a (kind, text) column pair. The text is
// the canonical encoding, which round-trips exactly for every kind.
func encodeValue(v value.Value) (kind, text string) {
	return string(value.KindOf(v)), value.Canonical(v)
}

// decodeValue rebuilds a value from its column pair.
func decodeValue(kind, text string) (value.Value, error) {
	switch value.Kind(kind) {
	case value.KindNull:
		return value.Null{}, nil
	case value.KindString:
		return value.Str(text), nil
	case value.KindBool:
		switch text {
		case "true":
			return value.Bool(true), nil
		case "false":
			return value.Bool(false), nil
		}
		return nil, fmt.Errorf("decode value: bad bool text %q", text)
	case value.KindNumber:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("decode value: bad number text %q: %w", text, err)
		}
		return value.Num{D: d}, nil
	}
	return nil, fmt.Errorf("decode value: unknown kind %q", kind)
}
