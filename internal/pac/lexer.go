package pac

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	offset int
	line   int
	column int
}

// operators longest first so "===" wins over "==".
var operators = []string{
	"===", "!==", "==", "!=", "<=", ">=", "&&", "||",
	"(", ")", "{", "}", ",", ";", ".", "!", "<", ">", "-",
}

type lexer struct {
	src    string
	pos    int
	line   int
	column int
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src, line: 1, column: 1}
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	start := token{offset: l.pos, line: l.line, column: l.column}
	if l.pos >= len(l.src) {
		start.kind = tokEOF
		return start, nil
	}

	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.advance(1)
		}
		start.kind = tokIdent
		start.text = l.src[start.offset:l.pos]
		return start, nil
	case c >= '0' && c <= '9':
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.advance(1)
		}
		start.kind = tokNumber
		start.text = l.src[start.offset:l.pos]
		return start, nil
	case c == '"' || c == '\'':
		text, err := l.readString(c)
		if err != nil {
			return token{}, err
		}
		start.kind = tokString
		start.text = text
		return start, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.advance(len(op))
			start.kind = tokPunct
			start.text = op
			return start, nil
		}
	}

	return token{}, l.errorf("unexpected character %q", c)
}

func (l *lexer) readString(quote byte) (string, error) {
	line, column := l.line, l.column
	l.advance(1)

	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.advance(1)
			return b.String(), nil
		case '\n':
			return "", &MalformedRuleError{Line: line, Column: column, Message: "unterminated string literal"}
		case '\\':
			if l.pos+1 >= len(l.src) {
				break
			}
			b.WriteByte(unescape(l.src[l.pos+1]))
			l.advance(2)
			continue
		}
		b.WriteByte(c)
		l.advance(1)
	}
	return "", &MalformedRuleError{Line: line, Column: column, Message: "unterminated string literal"}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		rest := l.src[l.pos:]
		switch {
		case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\r' || rest[0] == '\n':
			l.advance(1)
		case strings.HasPrefix(rest, "//"):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return l.errorf("unterminated block comment")
			}
			l.advance(end + 4)
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.pos++
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return &MalformedRuleError{
		Line:    l.line,
		Column:  l.column,
		Snippet: snippet(firstLine(l.src[l.pos:])),
		Message: fmt.Sprintf(format, args...),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
