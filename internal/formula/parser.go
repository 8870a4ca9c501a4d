package formula

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ParseError reports malformed formula text. It is surfaced at schema
// load time; a field with an unparseable formula never enters the
// dependency graph.
type ParseError struct {
	Expr    string // Original formula text
	Pos     int    // Byte offset of the error
	Message string
}

func (e *ParseError) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("parse %q at offset %d: %s", e.Expr, e.Pos, e.Message)
	}
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Message)
}

// Functions is the closed whitelist of callable function names.
// The evaluator rejects anything else; there is no extension point.
var Functions = map[string]bool{
	"abs":      true,
	"min":      true,
	"max":      true,
	"round":    true,
	"sum":      true,
	"pow":      true,
	"upper":    true,
	"lower":    true,
	"strip":    true,
	"concat":   true,
	"if_else":  true,
	"is_empty": true,
	"coalesce": true,
}

// Parse tokenizes and parses formula text into an AST.
//
// Grammar (nothing else is accepted - no loops, no imports, no
// arbitrary identifiers outside the function whitelist):
//
//	expr    = term { ("+" | "-") term }
//	term    = factor { ("*" | "/") factor }
//	factor  = "-" factor | primary
//	primary = NUMBER | STRING | "true" | "false" | REF
//	        | IDENT "(" [ expr { "," expr } ] ")" | "(" expr ")"
func Parse(text string) (Node, *ParseError) {
	p := &parser{lex: newLexer(text), src: text}
	if err := p.advance(); err != nil {
		return nil, err
	}

	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.typ != tokenEOF {
		return nil, p.errorf("unexpected %s after expression", p.tok.typ)
	}
	return node, nil
}

// astCache memoizes parsed formulas for the process lifetime. Schema
// formulas are parsed once and re-evaluated on every edit, so the cache
// is hit on every recompute pass.
var astCache = struct {
	sync.RWMutex
	byText map[string]Node
}{byText: make(map[string]Node)}

// ParseCached is Parse with a process-lifetime memo keyed by formula text.
// Parse failures are not cached; authoring fixes the text and retries.
func ParseCached(text string) (Node, *ParseError) {
	astCache.RLock()
	node, ok := astCache.byText[text]
	astCache.RUnlock()
	if ok {
		return node, nil
	}

	node, err := Parse(text)
	if err != nil {
		return nil, err
	}

	astCache.Lock()
	astCache.byText[text] = node
	astCache.Unlock()
	return node, nil
}

type parser struct {
	lex *lexer
	src string
	tok token
}

func (p *parser) advance() *ParseError {
	tok, err := p.lex.next()
	if err != nil {
		err.Expr = p.src
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Expr: p.src, Pos: p.tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseExpr() (Node, *ParseError) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokenPlus || p.tok.typ == tokenMinus {
		op := OpAdd
		if p.tok.typ == tokenMinus {
			op = OpSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, *ParseError) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokenStar || p.tok.typ == tokenSlash {
		op := OpMul
		if p.tok.typ == tokenSlash {
			op = OpDiv
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Node, *ParseError) {
	if p.tok.typ == tokenMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, *ParseError) {
	switch p.tok.typ {
	case tokenNumber:
		d, err := decimal.NewFromString(p.tok.lit)
		if err != nil {
			return nil, p.errorf("invalid number literal %q", p.tok.lit)
		}
		if perr := p.advance(); perr != nil {
			return nil, perr
		}
		return &NumberLit{Value: d}, nil

	case tokenString:
		lit := p.tok.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: lit}, nil

	case tokenRef:
		id := p.tok.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Ref{FieldID: id}, nil

	case tokenIdent:
		return p.parseIdent()

	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.typ != tokenRParen {
			return nil, p.errorf("expected ')' but found %s", p.tok.typ)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}

	return nil, p.errorf("expected expression but found %s", p.tok.typ)
}

// parseIdent handles the true/false keywords and function calls. Bare
// identifiers that are neither are rejected: field access goes through
// {{id}} references only.
func (p *parser) parseIdent() (Node, *ParseError) {
	name := p.tok.lit
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.typ != tokenLParen {
		switch name {
		case "true":
			return &BoolLit{Value: true}, nil
		case "false":
			return &BoolLit{Value: false}, nil
		}
		return nil, &ParseError{
			Expr:    p.src,
			Pos:     pos,
			Message: fmt.Sprintf("bare identifier %q; field references use {{%s}}", name, name),
		}
	}

	if !Functions[name] {
		return nil, &ParseError{
			Expr:    p.src,
			Pos:     pos,
			Message: fmt.Sprintf("unknown function %q", name),
		}
	}

	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []Node
	if p.tok.typ != tokenRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.typ != tokenComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.tok.typ != tokenRParen {
		return nil, p.errorf("expected ')' to close call to %q", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &Call{Name: name, Args: args}, nil
}
