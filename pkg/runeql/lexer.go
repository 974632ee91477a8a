// Package runeql - lexer.
package runeql

import (
	"strings"
	"unicode"
)

// Lexer converts query source text into a lazy token stream.
//
// Tokens carry their source position. Whitespace, // line comments, and
// /* */ block comments are discarded, never emitted. Keywords are matched
// case-insensitively against the fixed keyword table; everything else that
// looks like a word is an identifier.
//
// The stream is restartable: Reset rewinds to the beginning of the input.
//
// Example:
//
//	lex := NewLexer(`MATCH (n:Topic) RETURN n`)
//	for {
//		tok, err := lex.Next()
//		if err != nil || tok.Kind == TokenEOF {
//			break
//		}
//		fmt.Println(tok)
//	}
type Lexer struct {
	input string
	pos   int // byte offset of the next rune
	line  int
	col   int
}

// NewLexer creates a lexer over the given source text.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pos = 0
	l.line = 1
	l.col = 1
}

// Tokens drains the stream into a slice ending with the EOF token. The
// slice is never empty: whitespace-only input yields a single EOF token.
func (l *Lexer) Tokens() ([]Token, error) {
	var out []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == TokenEOF {
			return out, nil
		}
	}
}

func (l *Lexer) position() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

// Next returns the next token, or a *LexicalError.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}

	start := l.position()
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: start}, nil
	}

	c := l.peek()
	switch {
	case isIdentStart(c):
		return l.lexWord(start), nil
	case c >= '0' && c <= '9':
		return l.lexNumber(start)
	case c == '\'' || c == '"':
		return l.lexString(start)
	case c == '$':
		return l.lexParameter(start)
	}

	l.advance()
	simple := func(kind TokenKind, lit string) (Token, error) {
		return Token{Kind: kind, Literal: lit, Pos: start}, nil
	}

	switch c {
	case '(':
		return simple(TokenLParen, "(")
	case ')':
		return simple(TokenRParen, ")")
	case '[':
		return simple(TokenLBracket, "[")
	case ']':
		return simple(TokenRBracket, "]")
	case '{':
		return simple(TokenLBrace, "{")
	case '}':
		return simple(TokenRBrace, "}")
	case ':':
		return simple(TokenColon, ":")
	case ',':
		return simple(TokenComma, ",")
	case ';':
		return simple(TokenSemicolon, ";")
	case '|':
		return simple(TokenPipe, "|")
	case '.':
		if l.peek() == '.' {
			l.advance()
			return simple(TokenDotDot, "..")
		}
		return simple(TokenDot, ".")
	case '=':
		return simple(TokenEq, "=")
	case '<':
		switch l.peek() {
		case '>':
			l.advance()
			return simple(TokenNeq, "<>")
		case '=':
			l.advance()
			return simple(TokenLte, "<=")
		}
		return simple(TokenLt, "<")
	case '>':
		if l.peek() == '=' {
			l.advance()
			return simple(TokenGte, ">=")
		}
		return simple(TokenGt, ">")
	case '!':
		if l.peek() == '=' {
			l.advance()
			return simple(TokenNeq, "!=")
		}
		return Token{}, &LexicalError{Pos: start, Msg: "unexpected character '!'"}
	case '+':
		if l.peek() == '=' {
			l.advance()
			return simple(TokenPlusEq, "+=")
		}
		return simple(TokenPlus, "+")
	case '-':
		return simple(TokenMinus, "-")
	case '*':
		return simple(TokenStar, "*")
	case '/':
		return simple(TokenSlash, "/")
	case '%':
		return simple(TokenPercent, "%")
	case '^':
		return simple(TokenCaret, "^")
	}

	return Token{}, &LexicalError{Pos: start, Msg: "unexpected character " + string(rune(c))}
}

// skipTrivia discards whitespace and comments. An unterminated block
// comment is a lexical error reporting the comment's start position.
func (l *Lexer) skipTrivia() error {
	for l.pos < len(l.input) {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekAt(1) == '/':
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekAt(1) == '*':
			start := l.position()
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.input) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return &LexicalError{Pos: start, Msg: "unterminated block comment"}
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) lexWord(start Position) Token {
	var sb strings.Builder
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		sb.WriteByte(l.advance())
	}
	word := sb.String()
	if IsKeyword(word) {
		return Token{Kind: TokenKeyword, Literal: strings.ToUpper(word), Pos: start}
	}
	return Token{Kind: TokenIdent, Literal: word, Pos: start}
}

// lexNumber lexes an integer or float literal. Anything containing a
// decimal point or an exponent is a float; everything else is an integer.
func (l *Lexer) lexNumber(start Position) (Token, error) {
	var sb strings.Builder
	isFloat := false

	for l.pos < len(l.input) && l.peek() >= '0' && l.peek() <= '9' {
		sb.WriteByte(l.advance())
	}
	// A '.' begins a fraction only when followed by a digit; `1..3` is a
	// range, not a malformed float.
	if l.peek() == '.' && l.peekAt(1) >= '0' && l.peekAt(1) <= '9' {
		isFloat = true
		sb.WriteByte(l.advance())
		for l.pos < len(l.input) && l.peek() >= '0' && l.peek() <= '9' {
			sb.WriteByte(l.advance())
		}
	}
	if c := l.peek(); c == 'e' || c == 'E' {
		next := l.peekAt(1)
		nextNext := l.peekAt(2)
		if next >= '0' && next <= '9' || ((next == '+' || next == '-') && nextNext >= '0' && nextNext <= '9') {
			isFloat = true
			sb.WriteByte(l.advance())
			if l.peek() == '+' || l.peek() == '-' {
				sb.WriteByte(l.advance())
			}
			for l.pos < len(l.input) && l.peek() >= '0' && l.peek() <= '9' {
				sb.WriteByte(l.advance())
			}
		}
	}

	kind := TokenInteger
	if isFloat {
		kind = TokenFloat
	}
	return Token{Kind: kind, Literal: sb.String(), Pos: start}, nil
}

// lexString lexes a single- or double-quoted string with backslash escapes.
func (l *Lexer) lexString(start Position) (Token, error) {
	quote := l.advance()
	var sb strings.Builder

	for l.pos < len(l.input) {
		c := l.advance()
		if c == quote {
			return Token{Kind: TokenString, Literal: sb.String(), Pos: start}, nil
		}
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if l.pos >= len(l.input) {
			break
		}
		esc := l.advance()
		switch esc {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '\\', '\'', '"':
			sb.WriteByte(esc)
		default:
			sb.WriteByte('\\')
			sb.WriteByte(esc)
		}
	}
	return Token{}, &LexicalError{Pos: start, Msg: "unterminated string literal"}
}

func (l *Lexer) lexParameter(start Position) (Token, error) {
	l.advance() // $
	if !isIdentStart(l.peek()) {
		return Token{}, &LexicalError{Pos: start, Msg: "expected parameter name after '$'"}
	}
	var sb strings.Builder
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		sb.WriteByte(l.advance())
	}
	return Token{Kind: TokenParameter, Literal: sb.String(), Pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
