// Package runeql - error taxonomy.
//
// Every failure surfaced by the engine is one of five typed errors. All of
// them are recoverable at the submission boundary: the caller receives the
// typed error and the store is left exactly as it was before the submission
// began.
package runeql

import "fmt"

// LexicalError reports a malformed token (unterminated string or block
// comment, stray character). It aborts lexing and parsing.
type LexicalError struct {
	Pos Position
	Msg string
}

func (e *LexicalError) Error() string {
	return fmt.Sprintf("lexical error at %s: %s", e.Pos, e.Msg)
}

// SyntaxError reports a grammar violation with the offending token and a
// description of what was expected. Parsing does not recover; the whole
// query is rejected and no partial AST is returned.
type SyntaxError struct {
	Pos      Position
	Expected string
	Found    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

// EvaluationError reports a runtime expression failure: unknown identifier
// or function, property access on a non-entity, or a type mismatch in a
// context that requires success rather than null. It aborts the statement.
type EvaluationError struct {
	Msg string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error: %s", e.Msg)
}

func evalErrorf(format string, args ...any) *EvaluationError {
	return &EvaluationError{Msg: fmt.Sprintf(format, args...)}
}

// ConstraintError reports a violated structural constraint, such as deleting
// a node that still has incident relationships without DETACH.
type ConstraintError struct {
	Msg string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint error: %s", e.Msg)
}

// MergeAmbiguityError reports a MERGE whose pattern matched more than one
// binding set. The executor fails loudly rather than picking one.
type MergeAmbiguityError struct {
	Pattern string
	Matches int
}

func (e *MergeAmbiguityError) Error() string {
	return fmt.Sprintf("merge is ambiguous: pattern %s matched %d binding sets", e.Pattern, e.Matches)
}
