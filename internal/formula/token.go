package formula

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenType classifies lexer output.
type tokenType int

const (
	tokenEOF tokenType = iota
	tokenRef           // {{field_id}}
	tokenIdent         // function name, true, false
	tokenNumber
	tokenString
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
	tokenComma
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "end of expression"
	case tokenRef:
		return "field reference"
	case tokenIdent:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenPlus:
		return "'+'"
	case tokenMinus:
		return "'-'"
	case tokenStar:
		return "'*'"
	case tokenSlash:
		return "'/'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenComma:
		return "','"
	default:
		return "unknown token"
	}
}

// token is one lexed unit with its byte offset in the source text.
type token struct {
	typ tokenType
	lit string
	pos int
}

// lexer tokenizes formula text. It is a straight single-pass scanner; the
// grammar has no lookahead requirements beyond one token.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// next returns the next token or a ParseError for unterminated or
// malformed input.
func (l *lexer) next() (token, *ParseError) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '{':
		return l.lexRef()
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(rune(c)):
		return l.lexIdent()
	}

	l.pos++
	switch c {
	case '+':
		return token{tokenPlus, "+", start}, nil
	case '-':
		return token{tokenMinus, "-", start}, nil
	case '*':
		return token{tokenStar, "*", start}, nil
	case '/':
		return token{tokenSlash, "/", start}, nil
	case '(':
		return token{tokenLParen, "(", start}, nil
	case ')':
		return token{tokenRParen, ")", start}, nil
	case ',':
		return token{tokenComma, ",", start}, nil
	}

	return token{}, &ParseError{
		Pos:     start,
		Message: fmt.Sprintf("unexpected character %q", string(c)),
	}
}

// lexRef scans a {{field_id}} reference.
func (l *lexer) lexRef() (token, *ParseError) {
	start := l.pos
	if !strings.HasPrefix(l.src[l.pos:], "{{") {
		return token{}, &ParseError{Pos: start, Message: "expected '{{' to open field reference"}
	}
	l.pos += 2

	end := strings.Index(l.src[l.pos:], "}}")
	if end < 0 {
		return token{}, &ParseError{Pos: start, Message: "unterminated field reference, missing '}}'"}
	}

	id := strings.TrimSpace(l.src[l.pos : l.pos+end])
	l.pos += end + 2

	if !isValidFieldID(id) {
		return token{}, &ParseError{
			Pos:     start,
			Message: fmt.Sprintf("invalid field id %q in reference", id),
		}
	}
	return token{tokenRef, id, start}, nil
}

// lexString scans a quoted literal. Both single and double quotes are
// accepted; there is no escaping, matching the closed grammar.
func (l *lexer) lexString(quote byte) (token, *ParseError) {
	start := l.pos
	l.pos++
	end := strings.IndexByte(l.src[l.pos:], quote)
	if end < 0 {
		return token{}, &ParseError{Pos: start, Message: "unterminated string literal"}
	}
	lit := l.src[l.pos : l.pos+end]
	l.pos += end + 1
	return token{tokenString, lit, start}, nil
}

func (l *lexer) lexNumber() (token, *ParseError) {
	start := l.pos
	seenDot := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '.' {
			if seenDot {
				return token{}, &ParseError{Pos: start, Message: "malformed number literal"}
			}
			seenDot = true
			l.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		l.pos++
	}
	lit := l.src[start:l.pos]
	if strings.HasSuffix(lit, ".") {
		return token{}, &ParseError{Pos: start, Message: "malformed number literal"}
	}
	return token{tokenNumber, lit, start}, nil
}

func (l *lexer) lexIdent() (token, *ParseError) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	return token{tokenIdent, l.src[start:l.pos], start}, nil
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isValidFieldID checks the identifier rules for field references:
// letters, digits, underscores, starting with a letter or underscore.
func isValidFieldID(id string) bool {
	if id == "" {
		return false
	}
	for i, r := range id {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if i > 0 && !isIdentPart(r) {
			return false
		}
	}
	return true
}
