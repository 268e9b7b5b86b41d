package clc

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  Pos

	// Integer literals.
	intVal      uint64
	intUnsigned bool
	intLong     bool

	// Floating point literals: single is set by the "f" suffix.
	floatVal float64
	single   bool
}

func (t token) is(punct string) bool {
	return t.kind == tokPunct && t.text == punct
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return "'" + t.text + "'"
}

// punctuators sorted so that longer ones are tried first.
var punctuators = []string{
	">>=", "<<=", "...",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"+", "-", "*", "/", "%", "<", ">", "=", "!", "~", "&", "|", "^", "?", ":", ";", ",", ".",
	"(", ")", "[", "]", "{", "}",
}

// lexer splits preprocessed text into tokens. Errors are reported to diags, and lexing continues after them.
type lexer struct {
	src   string
	off   int
	line  int
	col   int
	diags *Diagnostics
}

func newLexer(src string, diags *Diagnostics) *lexer {
	return &lexer{src: src, line: 1, col: 1, diags: diags}
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// all returns all tokens, terminated by a tokEOF.
func (l *lexer) all() []token {
	var tokens []token
	for {
		tok, ok := l.next()
		if !ok {
			continue
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			return tokens
		}
	}
}

// next returns the next token. It returns ok=false if it skipped an invalid character.
func (l *lexer) next() (token, bool) {
	for l.off < len(l.src) {
		c := l.src[l.off]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' {
			l.advance(1)
			continue
		}
		break
	}
	pos := Pos{Line: l.line, Col: l.col}
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: pos}, true
	}
	c := l.src[l.off]
	switch {
	case isIdentStart(c):
		start := l.off
		for l.off < len(l.src) && isIdentChar(l.src[l.off]) {
			l.advance(1)
		}
		return token{kind: tokIdent, text: l.src[start:l.off], pos: pos}, true

	case isDigit(c) || (c == '.' && l.off+1 < len(l.src) && isDigit(l.src[l.off+1])):
		return l.number(pos)

	case c == '\'':
		return l.charLiteral(pos)

	case c == '"':
		start := l.off
		l.advance(1)
		for l.off < len(l.src) && l.src[l.off] != '"' && l.src[l.off] != '\n' {
			if l.src[l.off] == '\\' {
				l.advance(1)
			}
			l.advance(1)
		}
		if l.off >= len(l.src) || l.src[l.off] != '"' {
			l.diags.errorf(pos, "missing terminating '\"' character")
			return token{}, false
		}
		l.advance(1)
		return token{kind: tokString, text: l.src[start:l.off], pos: pos}, true
	}

	for _, p := range punctuators {
		if strings.HasPrefix(l.src[l.off:], p) {
			l.advance(len(p))
			return token{kind: tokPunct, text: p, pos: pos}, true
		}
	}
	if c >= 0x80 {
		l.diags.errorf(pos, "non-ASCII characters are not allowed outside of comments")
	} else {
		l.diags.errorf(pos, "invalid character '%c' in source", c)
	}
	l.advance(1)
	return token{}, false
}

func (l *lexer) number(pos Pos) (token, bool) {
	start := l.off
	isFloat := false
	if strings.HasPrefix(l.src[l.off:], "0x") || strings.HasPrefix(l.src[l.off:], "0X") {
		l.advance(2)
		for l.off < len(l.src) && strings.IndexByte("0123456789abcdefABCDEF", l.src[l.off]) >= 0 {
			l.advance(1)
		}
	} else {
		for l.off < len(l.src) && isDigit(l.src[l.off]) {
			l.advance(1)
		}
		if l.off < len(l.src) && l.src[l.off] == '.' {
			isFloat = true
			l.advance(1)
			for l.off < len(l.src) && isDigit(l.src[l.off]) {
				l.advance(1)
			}
		}
		if l.off < len(l.src) && (l.src[l.off] == 'e' || l.src[l.off] == 'E') {
			isFloat = true
			l.advance(1)
			if l.off < len(l.src) && (l.src[l.off] == '+' || l.src[l.off] == '-') {
				l.advance(1)
			}
			if l.off >= len(l.src) || !isDigit(l.src[l.off]) {
				l.diags.errorf(pos, "exponent has no digits")
				return token{}, false
			}
			for l.off < len(l.src) && isDigit(l.src[l.off]) {
				l.advance(1)
			}
		}
	}
	digitsEnd := l.off
	for l.off < len(l.src) && isIdentChar(l.src[l.off]) {
		l.advance(1)
	}
	text := l.src[start:l.off]
	digits := l.src[start:digitsEnd]
	suffix := strings.ToLower(l.src[digitsEnd:l.off])
	tok := token{text: text, pos: pos}

	if isFloat {
		tok.kind = tokFloat
		switch suffix {
		case "":
		case "f":
			tok.single = true
		default:
			l.diags.errorf(pos, "invalid suffix '%s' on floating constant", l.src[digitsEnd:l.off])
			return token{}, false
		}
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			l.diags.errorf(pos, "invalid floating constant '%s'", text)
			return token{}, false
		}
		tok.floatVal = v
		return tok, true
	}

	tok.kind = tokInt
	switch suffix {
	case "":
	case "u":
		tok.intUnsigned = true
	case "l", "ll":
		tok.intLong = true
	case "ul", "lu", "ull", "llu":
		tok.intUnsigned = true
		tok.intLong = true
	case "f":
		// "1f" is not valid C, but it is common enough in kernels and accepted by most OpenCL compilers.
		tok.kind = tokFloat
		tok.single = true
		v, _ := strconv.ParseFloat(digits, 64)
		tok.floatVal = v
		return tok, true
	default:
		l.diags.errorf(pos, "invalid suffix '%s' on integer constant", l.src[digitsEnd:l.off])
		return token{}, false
	}
	v, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		l.diags.errorf(pos, "invalid integer constant '%s'", text)
		return token{}, false
	}
	tok.intVal = v
	return tok, true
}

var charEscapes = map[byte]uint64{
	'n': '\n', 't': '\t', 'r': '\r', '0': 0, '\\': '\\', '\'': '\'', '"': '"', 'a': 7, 'b': 8, 'f': 12, 'v': 11,
}

func (l *lexer) charLiteral(pos Pos) (token, bool) {
	start := l.off
	l.advance(1)
	if l.off >= len(l.src) || l.src[l.off] == '\n' {
		l.diags.errorf(pos, "missing terminating ' character")
		return token{}, false
	}
	var v uint64
	if l.src[l.off] == '\\' {
		l.advance(1)
		if l.off >= len(l.src) {
			l.diags.errorf(pos, "missing terminating ' character")
			return token{}, false
		}
		esc, found := charEscapes[l.src[l.off]]
		if !found {
			l.diags.errorf(pos, "unknown escape sequence '\\%c'", l.src[l.off])
		}
		v = esc
	} else {
		v = uint64(l.src[l.off])
	}
	l.advance(1)
	if l.off >= len(l.src) || l.src[l.off] != '\'' {
		l.diags.errorf(pos, "missing terminating ' character")
		return token{}, false
	}
	l.advance(1)
	return token{kind: tokInt, text: l.src[start:l.off], pos: pos, intVal: v}, true
}
