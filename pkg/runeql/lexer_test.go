package runeql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, input string) []Token {
	t.Helper()
	tokens, err := NewLexer(input).Tokens()
	require.NoError(t, err)
	return tokens
}

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind == TokenEOF {
			break
		}
		out = append(out, tok.Kind)
	}
	return out
}

func TestLexerKeywordsCaseInsensitive(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"upper", "MATCH", "MATCH"},
		{"lower", "match", "MATCH"},
		{"mixed", "MaTcH", "MATCH"},
		{"return lower", "return", "RETURN"},
		{"distinct mixed", "Distinct", "DISTINCT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := lexAll(t, tt.input)
			require.Len(t, tokens, 2)
			assert.Equal(t, TokenKeyword, tokens[0].Kind)
			assert.Equal(t, tt.want, tokens[0].Literal)
		})
	}
}

func TestLexerIdentifiersAreNotKeywords(t *testing.T) {
	tokens := lexAll(t, "matching Match_2 _match")
	require.Len(t, tokens, 4)
	for _, tok := range tokens[:3] {
		assert.Equal(t, TokenIdent, tok.Kind, "literal %q", tok.Literal)
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
	}{
		{"0", TokenInteger},
		{"42", TokenInteger},
		{"3.14", TokenFloat},
		{"10.0", TokenFloat},
		{"1e5", TokenFloat},
		{"2.5e-3", TokenFloat},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens := lexAll(t, tt.input)
			require.Len(t, tokens, 2)
			assert.Equal(t, tt.kind, tokens[0].Kind)
			assert.Equal(t, tt.input, tokens[0].Literal)
		})
	}
}

func TestLexerRangeDoesNotLexAsFloat(t *testing.T) {
	// "1..3" must produce integer, range, integer so variable-length
	// bounds parse.
	tokens := lexAll(t, "1..3")
	assert.Equal(t, []TokenKind{TokenInteger, TokenDotDot, TokenInteger}, kinds(tokens))
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"double quoted", `"hello"`, "hello"},
		{"single quoted", `'hello'`, "hello"},
		{"escaped quote", `"say \"hi\""`, `say "hi"`},
		{"escaped newline", `"a\nb"`, "a\nb"},
		{"empty", `""`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := lexAll(t, tt.input)
			require.Len(t, tokens, 2)
			assert.Equal(t, TokenString, tokens[0].Kind)
			assert.Equal(t, tt.want, tokens[0].Literal)
		})
	}
}

func TestLexerComments(t *testing.T) {
	input := `MATCH // trailing comment
/* block
   comment */ (n)`
	tokens := lexAll(t, input)
	assert.Equal(t, []TokenKind{TokenKeyword, TokenLParen, TokenIdent, TokenRParen}, kinds(tokens))
}

func TestLexerOperators(t *testing.T) {
	tokens := lexAll(t, "= <> != < <= > >= + += - * / % ^ .. | ;")
	want := []TokenKind{
		TokenEq, TokenNeq, TokenNeq, TokenLt, TokenLte, TokenGt, TokenGte,
		TokenPlus, TokenPlusEq, TokenMinus, TokenStar, TokenSlash,
		TokenPercent, TokenCaret, TokenDotDot, TokenPipe, TokenSemicolon,
	}
	assert.Equal(t, want, kinds(tokens))
}

func TestLexerTokensEndWithSingleEOF(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t"},
		{"comment only", "// nothing here"},
		{"statement", "CREATE (a:A)"},
		{"trailing semicolon", "RETURN 1;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := lexAll(t, tt.input)
			require.NotEmpty(t, tokens)
			assert.Equal(t, TokenEOF, tokens[len(tokens)-1].Kind)
			for _, tok := range tokens[:len(tokens)-1] {
				assert.NotEqual(t, TokenEOF, tok.Kind)
			}
		})
	}
}

func TestLexerResetRestarts(t *testing.T) {
	l := NewLexer("MATCH (n) RETURN n.title")
	first, err := l.Tokens()
	require.NoError(t, err)

	l.Reset()
	second, err := l.Tokens()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLexerParameters(t *testing.T) {
	tokens := lexAll(t, "$name $p2")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenParameter, tokens[0].Kind)
	assert.Equal(t, "name", tokens[0].Literal)
	assert.Equal(t, "p2", tokens[1].Literal)
}

func TestLexerPositions(t *testing.T) {
	tokens := lexAll(t, "MATCH\n  (n)")
	require.GreaterOrEqual(t, len(tokens), 4)
	assert.Equal(t, Position{Line: 1, Column: 1, Offset: 0}, tokens[0].Pos)
	assert.Equal(t, 2, tokens[1].Pos.Line)
	assert.Equal(t, 3, tokens[1].Pos.Column)
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated string", `"abc`},
		{"unterminated single quoted", `'abc`},
		{"unterminated block comment", "MATCH /* nope"},
		{"stray character", "MATCH @"},
		{"bare bang", "a ! b"},
		{"empty parameter", "$ x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.input).Tokens()
			require.Error(t, err)
			var lexErr *LexicalError
			assert.ErrorAs(t, err, &lexErr)
		})
	}
}

func TestLexicalErrorReportsPosition(t *testing.T) {
	_, err := NewLexer("MATCH (n) @").Tokens()
	var lexErr *LexicalError
	require.ErrorAs(t, err, &lexErr)
	assert.Equal(t, 1, lexErr.Pos.Line)
	assert.Equal(t, 11, lexErr.Pos.Column)
}
