package formula

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Node is a sealed interface over formula AST node types.
// Only Ref, NumberLit, StringLit, BoolLit, Unary, Binary, and Call
// implement it.
type Node interface {
	node()
}

// Ref is a {{field_id}} reference.
type Ref struct {
	FieldID string
}

func (*Ref) node() {}

// NumberLit is a decimal number literal.
type NumberLit struct {
	Value decimal.Decimal
}

func (*NumberLit) node() {}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
}

func (*StringLit) node() {}

// BoolLit is a true/false literal.
type BoolLit struct {
	Value bool
}

func (*BoolLit) node() {}

// BinaryOp is an infix arithmetic operator.
type BinaryOp byte

const (
	OpAdd BinaryOp = '+'
	OpSub BinaryOp = '-'
	OpMul BinaryOp = '*'
	OpDiv BinaryOp = '/'
)

// Binary is an infix arithmetic expression.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (*Binary) node() {}

// Unary is a negation expression.
type Unary struct {
	Operand Node
}

func (*Unary) node() {}

// Call is an invocation of one of the whitelisted functions.
type Call struct {
	Name string
	Args []Node
}

func (*Call) node() {}

// Dependencies walks an AST and returns the set of field ids it reads,
// sorted lexicographically. The same walk serves control-rule conditions,
// which compile to the same AST type.
func Dependencies(n Node) []string {
	seen := make(map[string]bool)
	collectRefs(n, seen)

	deps := make([]string, 0, len(seen))
	for id := range seen {
		deps = append(deps, id)
	}
	sort.Strings(deps)
	return deps
}

func collectRefs(n Node, seen map[string]bool) {
	switch node := n.(type) {
	case *Ref:
		seen[node.FieldID] = true
	case *Unary:
		collectRefs(node.Operand, seen)
	case *Binary:
		collectRefs(node.Left, seen)
		collectRefs(node.Right, seen)
	case *Call:
		for _, arg := range node.Args {
			collectRefs(arg, seen)
		}
	}
}
