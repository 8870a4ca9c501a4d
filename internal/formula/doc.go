// Package formula implements the expression language for computed fields.
//
// A formula is text containing {{field_id}} references, literals, infix
// arithmetic, and calls drawn from a fixed function whitelist. Parse turns
// text into an AST, Dependencies extracts the fields an AST reads, and
// Evaluate computes it against a field snapshot.
//
// Evaluation is pure and fails closed: it never executes arbitrary code,
// never performs I/O, and returns a typed EvalError on any mismatch
// instead of coercing.
package formula
