package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lithoslog/lithos/internal/value"
)

// EvalErrorCode categorizes evaluation failures.
type EvalErrorCode string

const (
	ErrCodeMissingField    EvalErrorCode = "MISSING_FIELD"
	ErrCodeTypeMismatch    EvalErrorCode = "TYPE_MISMATCH"
	ErrCodeUnknownFunction EvalErrorCode = "UNKNOWN_FUNCTION"
	ErrCodeBadArity        EvalErrorCode = "BAD_ARITY"
	ErrCodeDivisionByZero  EvalErrorCode = "DIVISION_BY_ZERO"
)

// EvalError reports a runtime evaluation failure. Evaluation fails
// closed: the error is returned to the caller, never thrown, and the
// field keeps its last valid value.
type EvalError struct {
	Code    EvalErrorCode
	Message string
	FieldID string // Referenced field, for MISSING_FIELD
}

func (e *EvalError) Error() string {
	if e.FieldID != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.FieldID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Case folders for upper/lower. Und gives locale-independent folding,
// which keeps evaluation deterministic regardless of host locale.
var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

// Evaluate computes an AST against a snapshot of field values.
//
// Evaluation is pure: no I/O, no external calls, no mutation of the
// snapshot. Arithmetic requires numeric operands; anything else is a
// typed failure, never a silent coercion to zero.
func Evaluate(n Node, snap value.Snapshot) (value.Value, *EvalError) {
	switch node := n.(type) {
	case *NumberLit:
		return value.NewNum(node.Value), nil

	case *StringLit:
		return value.NewStr(node.Value), nil

	case *BoolLit:
		return value.NewBool(node.Value), nil

	case *Ref:
		if !snap.Has(node.FieldID) {
			return nil, &EvalError{
				Code:    ErrCodeMissingField,
				Message: "referenced field not in snapshot",
				FieldID: node.FieldID,
			}
		}
		return snap.Raw(node.FieldID), nil

	case *Unary:
		operand, err := Evaluate(node.Operand, snap)
		if err != nil {
			return nil, err
		}
		num, nerr := asNumber(operand, "unary '-'")
		if nerr != nil {
			return nil, nerr
		}
		return value.NewNum(num.Neg()), nil

	case *Binary:
		return evalBinary(node, snap)

	case *Call:
		return evalCall(node, snap)
	}

	return nil, &EvalError{Code: ErrCodeTypeMismatch, Message: fmt.Sprintf("unknown AST node %T", n)}
}

func evalBinary(node *Binary, snap value.Snapshot) (value.Value, *EvalError) {
	leftVal, err := Evaluate(node.Left, snap)
	if err != nil {
		return nil, err
	}
	rightVal, err := Evaluate(node.Right, snap)
	if err != nil {
		return nil, err
	}

	opName := fmt.Sprintf("operator %q", string(node.Op))
	left, err := asNumber(leftVal, opName)
	if err != nil {
		return nil, err
	}
	right, err := asNumber(rightVal, opName)
	if err != nil {
		return nil, err
	}

	switch node.Op {
	case OpAdd:
		return value.NewNum(left.Add(right)), nil
	case OpSub:
		return value.NewNum(left.Sub(right)), nil
	case OpMul:
		return value.NewNum(left.Mul(right)), nil
	case OpDiv:
		if right.IsZero() {
			return nil, &EvalError{Code: ErrCodeDivisionByZero, Message: "division by zero"}
		}
		return value.NewNum(left.Div(right)), nil
	}
	return nil, &EvalError{Code: ErrCodeTypeMismatch, Message: fmt.Sprintf("unknown operator %q", string(node.Op))}
}

func evalCall(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	switch node.Name {
	case "abs":
		num, err := evalOneNumber(node, snap)
		if err != nil {
			return nil, err
		}
		return value.NewNum(num.Abs()), nil

	case "min", "max":
		return evalMinMax(node, snap)

	case "round":
		return evalRound(node, snap)

	case "sum":
		nums, err := evalNumbers(node, snap, 0)
		if err != nil {
			return nil, err
		}
		total := decimal.Zero
		for _, n := range nums {
			total = total.Add(n)
		}
		return value.NewNum(total), nil

	case "pow":
		return evalPow(node, snap)

	case "upper", "lower", "strip":
		return evalStringFn(node, snap)

	case "concat":
		return evalConcat(node, snap)

	case "if_else":
		return evalIfElse(node, snap)

	case "is_empty":
		if len(node.Args) != 1 {
			return nil, arityError(node.Name, "exactly 1 argument", len(node.Args))
		}
		arg, err := Evaluate(node.Args[0], snap)
		if err != nil {
			return nil, err
		}
		return value.NewBool(value.IsEmpty(arg)), nil

	case "coalesce":
		return evalCoalesce(node, snap)
	}

	// Unreachable through Parse, which rejects unknown names. Kept for
	// ASTs constructed programmatically.
	return nil, &EvalError{
		Code:    ErrCodeUnknownFunction,
		Message: fmt.Sprintf("unknown function %q", node.Name),
	}
}

func evalMinMax(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	nums, err := evalNumbers(node, snap, 1)
	if err != nil {
		return nil, err
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if node.Name == "min" && n.LessThan(best) {
			best = n
		}
		if node.Name == "max" && n.GreaterThan(best) {
			best = n
		}
	}
	return value.NewNum(best), nil
}

// evalRound rounds half away from zero. round(x) rounds to an integer,
// round(x, places) to the given number of decimal places.
func evalRound(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	if len(node.Args) < 1 || len(node.Args) > 2 {
		return nil, arityError("round", "1 or 2 arguments", len(node.Args))
	}
	x, err := evalNumberArg(node, 0, snap)
	if err != nil {
		return nil, err
	}
	places := int64(0)
	if len(node.Args) == 2 {
		p, err := evalNumberArg(node, 1, snap)
		if err != nil {
			return nil, err
		}
		if !p.IsInteger() {
			return nil, &EvalError{Code: ErrCodeTypeMismatch, Message: "round places must be an integer"}
		}
		places = p.IntPart()
	}
	return value.NewNum(x.Round(int32(places))), nil
}

// evalPow requires an integer exponent: decimal exponentiation with a
// fractional exponent is not exact, and inexact results would break
// recompute determinism.
func evalPow(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	if len(node.Args) != 2 {
		return nil, arityError("pow", "exactly 2 arguments", len(node.Args))
	}
	base, err := evalNumberArg(node, 0, snap)
	if err != nil {
		return nil, err
	}
	exp, err := evalNumberArg(node, 1, snap)
	if err != nil {
		return nil, err
	}
	if !exp.IsInteger() {
		return nil, &EvalError{Code: ErrCodeTypeMismatch, Message: "pow exponent must be an integer"}
	}
	return value.NewNum(base.Pow(exp)), nil
}

func evalStringFn(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	if len(node.Args) != 1 {
		return nil, arityError(node.Name, "exactly 1 argument", len(node.Args))
	}
	arg, err := Evaluate(node.Args[0], snap)
	if err != nil {
		return nil, err
	}
	str, ok := arg.(value.Str)
	if !ok {
		return nil, &EvalError{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("%s expects a string, got %s", node.Name, value.KindOf(arg)),
		}
	}
	switch node.Name {
	case "upper":
		return value.NewStr(upperCaser.String(string(str))), nil
	case "lower":
		return value.NewStr(lowerCaser.String(string(str))), nil
	default: // strip
		return value.NewStr(strings.TrimSpace(string(str))), nil
	}
}

// evalConcat joins the canonical rendering of each argument. Null
// arguments are a type error: concatenating an empty field is almost
// always an authoring mistake, and failing closed surfaces it.
func evalConcat(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	var out []byte
	for _, argNode := range node.Args {
		arg, err := Evaluate(argNode, snap)
		if err != nil {
			return nil, err
		}
		if value.KindOf(arg) == value.KindNull {
			return nil, &EvalError{Code: ErrCodeTypeMismatch, Message: "concat argument is null"}
		}
		out = append(out, value.Canonical(arg)...)
	}
	return value.NewStr(string(out)), nil
}

// evalIfElse evaluates the condition, then only the selected branch.
// The unselected branch may reference missing fields without failing
// the formula.
func evalIfElse(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	if len(node.Args) != 3 {
		return nil, arityError("if_else", "exactly 3 arguments", len(node.Args))
	}
	cond, err := Evaluate(node.Args[0], snap)
	if err != nil {
		return nil, err
	}
	b, ok := cond.(value.Bool)
	if !ok {
		return nil, &EvalError{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("if_else condition must be a bool, got %s", value.KindOf(cond)),
		}
	}
	if bool(b) {
		return Evaluate(node.Args[1], snap)
	}
	return Evaluate(node.Args[2], snap)
}

// evalCoalesce returns the first non-empty argument, evaluating left to
// right and stopping at the first hit. All arguments empty yields null.
func evalCoalesce(node *Call, snap value.Snapshot) (value.Value, *EvalError) {
	for _, argNode := range node.Args {
		arg, err := Evaluate(argNode, snap)
		if err != nil {
			return nil, err
		}
		if !value.IsEmpty(arg) {
			return arg, nil
		}
	}
	return value.Null{}, nil
}

func evalOneNumber(node *Call, snap value.Snapshot) (decimal.Decimal, *EvalError) {
	if len(node.Args) != 1 {
		return decimal.Decimal{}, arityError(node.Name, "exactly 1 argument", len(node.Args))
	}
	return evalNumberArg(node, 0, snap)
}

func evalNumbers(node *Call, snap value.Snapshot, minArgs int) ([]decimal.Decimal, *EvalError) {
	if len(node.Args) < minArgs {
		return nil, arityError(node.Name, fmt.Sprintf("at least %d argument(s)", minArgs), len(node.Args))
	}
	nums := make([]decimal.Decimal, len(node.Args))
	for i := range node.Args {
		n, err := evalNumberArg(node, i, snap)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}
	return nums, nil
}

func evalNumberArg(node *Call, i int, snap value.Snapshot) (decimal.Decimal, *EvalError) {
	arg, err := Evaluate(node.Args[i], snap)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return asNumber(arg, node.Name)
}

func asNumber(v value.Value, context string) (decimal.Decimal, *EvalError) {
	num, ok := v.(value.Num)
	if !ok {
		return decimal.Decimal{}, &EvalError{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("%s expects a number, got %s", context, value.KindOf(v)),
		}
	}
	return num.D, nil
}

func arityError(name, want string, got int) *EvalError {
	return &EvalError{
		Code:    ErrCodeBadArity,
		Message: fmt.Sprintf("%s expects %s, got %d", name, want, got),
	}
}
