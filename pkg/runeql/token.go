// Package runeql implements the RuneQL graph query language: a Cypher-
// inspired language with pattern matching, filtering, projection,
// aggregation, and graph mutation over a property-graph store.
//
// The pipeline is text -> Lexer -> tokens -> Parser -> AST -> Executor,
// which drives the pattern matcher and expression evaluator against a
// storage.Engine and produces a result table or graph mutations.
package runeql

import (
	"fmt"
	"strings"
)

// TokenKind identifies a lexical token class.
type TokenKind int

const (
	// Special
	TokenEOF TokenKind = iota
	TokenIdent
	TokenKeyword
	TokenInteger
	TokenFloat
	TokenString
	TokenParameter // $name

	// Punctuation
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenColon     // :
	TokenComma     // ,
	TokenDot       // .
	TokenDotDot    // ..
	TokenSemicolon // ;
	TokenPipe      // |

	// Operators
	TokenEq      // =
	TokenNeq     // <> or !=
	TokenLt      // <
	TokenLte     // <=
	TokenGt      // >
	TokenGte     // >=
	TokenPlus    // +
	TokenPlusEq  // +=
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenCaret   // ^
)

// Position is a location in query source text. Line and Column are 1-based;
// Offset is the byte offset from the start of the input.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Token is one lexical unit: its kind, the literal text (for identifiers,
// keywords, and literals), and where it starts.
type Token struct {
	Kind    TokenKind
	Literal string
	Pos     Position
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return fmt.Sprintf("%q", t.Literal)
	default:
		return t.Literal
	}
}

// keywords is the fixed keyword table. Lookup is case-insensitive; any word
// not in the table lexes as an identifier.
var keywords = map[string]struct{}{
	"MATCH": {}, "WHERE": {}, "RETURN": {}, "CREATE": {}, "MERGE": {},
	"DELETE": {}, "DETACH": {}, "SET": {}, "REMOVE": {}, "ON": {},
	"ORDER": {}, "BY": {}, "ASC": {}, "DESC": {}, "LIMIT": {}, "SKIP": {},
	"DISTINCT": {}, "AND": {}, "OR": {}, "NOT": {}, "IN": {},
	"CONTAINS": {}, "STARTS": {}, "ENDS": {}, "WITH": {}, "AS": {},
	"CASE": {}, "WHEN": {}, "THEN": {}, "ELSE": {}, "END": {},
	"NULL": {}, "TRUE": {}, "FALSE": {}, "IS": {},
}

// IsKeyword reports whether word matches the keyword table, ignoring case.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}

// isKeywordToken reports whether t is the given keyword, ignoring case.
func (t Token) isKeyword(word string) bool {
	return t.Kind == TokenKeyword && strings.EqualFold(t.Literal, word)
}
