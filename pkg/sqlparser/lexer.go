package sqlparser

import (
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// lexer walks raw SQL bytes and produces tokens. Comments are consumed
// here, which is what makes comment-only edits cosmetic by construction.
type lexer struct {
	src     string
	dialect Dialect
	pos     int
	line    int
	col     int
}

func newLexer(src string, dialect Dialect) *lexer {
	return &lexer{src: src, dialect: dialect, line: 1, col: 1}
}

func (l *lexer) errorf(format string, args ...any) error {
	return errdefs.Parsef(format, args...).
		WithDetail("line", l.line).
		WithDetail("col", l.col)
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(n int) byte {
	if l.pos+n >= len(l.src) {
		return 0
	}
	return l.src[l.pos+n]
}

func (l *lexer) advance() byte {
	ch := l.src[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		ch := l.peek()
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.advance()
		case ch == '-' && l.peekAt(1) == '-':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		case ch == '/' && l.peekAt(1) == '*':
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.src) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.errorf("unterminated block comment")
			}
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// next returns the next token. EOF is reported as TokenEOF, not an error.
func (l *lexer) next() (Token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	tok := Token{Line: l.line, Col: l.col}
	if l.pos >= len(l.src) {
		tok.Kind = TokenEOF
		return tok, nil
	}

	ch := l.peek()
	switch {
	case isIdentStart(ch):
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.peek()) {
			l.advance()
		}
		tok.Kind = TokenIdent
		tok.Text = l.src[start:l.pos]
		return tok, nil

	case isDigit(ch) || (ch == '.' && isDigit(l.peekAt(1))):
		return l.lexNumber(tok)

	case ch == '\'':
		return l.lexString(tok)

	case ch == '"':
		return l.lexQuotedIdent(tok, '"')

	case ch == '`':
		if l.dialect != DialectDatabricks {
			return Token{}, l.errorf("backquoted identifiers are not valid in dialect %s", l.dialect)
		}
		return l.lexQuotedIdent(tok, '`')

	default:
		return l.lexOperator(tok)
	}
}

func (l *lexer) lexNumber(tok Token) (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && l.peekAt(1) != '.' {
		l.advance()
		for l.pos < len(l.src) && isDigit(l.peek()) {
			l.advance()
		}
	}
	if ch := l.peek(); ch == 'e' || ch == 'E' {
		mark := l.pos
		l.advance()
		if ch := l.peek(); ch == '+' || ch == '-' {
			l.advance()
		}
		if !isDigit(l.peek()) {
			// Not an exponent after all, e.g. "1e" follows an alias.
			l.pos = mark
		} else {
			for l.pos < len(l.src) && isDigit(l.peek()) {
				l.advance()
			}
		}
	}
	tok.Kind = TokenNumber
	tok.Text = l.src[start:l.pos]
	return tok, nil
}

// lexString handles single-quoted literals with both '' and backslash
// escapes; both dialects accept both forms.
func (l *lexer) lexString(tok Token) (Token, error) {
	l.advance()
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.advance()
		switch {
		case ch == '\\' && l.pos < len(l.src):
			sb.WriteByte(ch)
			sb.WriteByte(l.advance())
		case ch == '\'':
			if l.peek() == '\'' {
				sb.WriteByte(ch)
				sb.WriteByte(l.advance())
				continue
			}
			tok.Kind = TokenString
			tok.Text = sb.String()
			return tok, nil
		default:
			sb.WriteByte(ch)
		}
	}
	return Token{}, l.errorf("unterminated string literal")
}

func (l *lexer) lexQuotedIdent(tok Token, quote byte) (Token, error) {
	l.advance()
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.advance()
		if ch == quote {
			if l.peek() == quote {
				sb.WriteByte(ch)
				l.advance()
				continue
			}
			tok.Kind = TokenQuotedIdent
			tok.Quoted = true
			tok.Text = sb.String()
			return tok, nil
		}
		sb.WriteByte(ch)
	}
	return Token{}, l.errorf("unterminated quoted identifier")
}

var twoCharOps = []string{"<=", ">=", "<>", "!=", "||", "::"}

func (l *lexer) lexOperator(tok Token) (Token, error) {
	if l.pos+1 < len(l.src) {
		two := l.src[l.pos : l.pos+2]
		for _, op := range twoCharOps {
			if two == op {
				l.advance()
				l.advance()
				tok.Kind = TokenOp
				tok.Text = op
				return tok, nil
			}
		}
	}
	ch := l.peek()
	switch ch {
	case '+', '-', '*', '/', '%', '(', ')', ',', '.', ';', '=', '<', '>':
		l.advance()
		tok.Kind = TokenOp
		tok.Text = string(ch)
		return tok, nil
	}
	return Token{}, l.errorf("unexpected character %q", string(ch))
}

// lexAll tokenizes the whole input up front; the parser works on the slice.
func lexAll(src string, dialect Dialect) ([]Token, error) {
	l := newLexer(src, dialect)
	var toks []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokenEOF {
			return toks, nil
		}
	}
}
