// Package runeql - abstract syntax tree.
//
// The AST is a closed set of tagged variants: one Go type per statement,
// pattern, and expression kind, each with named, typed fields. Parsing
// returns the tree directly; there is no global root, and the executor is
// handed the tree explicitly.
//
// Every node implements String() producing canonical RuneQL text, and
// parse(print(parse(q))) is structurally identical to parse(q).
package runeql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Query is a parsed submission: an ordered sequence of statements that
// execute in order and share bindings and mutations.
type Query struct {
	Statements []Statement
}

func (q *Query) String() string {
	parts := make([]string, len(q.Statements))
	for i, stmt := range q.Statements {
		parts[i] = stmt.String()
	}
	return strings.Join(parts, ";\n")
}

// Statement is one of: MatchStatement, CreateStatement, MergeStatement,
// DeleteStatement, SetStatement, RemoveStatement, ReturnStatement.
type Statement interface {
	fmt.Stringer
	stmtNode()
}

// MatchStatement is MATCH pattern [WHERE expr] [RETURN items ...].
type MatchStatement struct {
	Patterns []*PatternPart
	Where    Expr          // nil when absent
	Return   *ReturnClause // nil when absent
}

func (s *MatchStatement) stmtNode() {}

func (s *MatchStatement) String() string {
	var sb strings.Builder
	sb.WriteString("MATCH ")
	sb.WriteString(joinPatterns(s.Patterns))
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	if s.Return != nil {
		sb.WriteString(" ")
		sb.WriteString(s.Return.String())
	}
	return sb.String()
}

// CreateStatement is CREATE pattern. Every element is created fresh.
type CreateStatement struct {
	Patterns []*PatternPart
}

func (s *CreateStatement) stmtNode() {}

func (s *CreateStatement) String() string {
	return "CREATE " + joinPatterns(s.Patterns)
}

// MergeStatement is MERGE pattern [ON CREATE SET ...] [ON MATCH SET ...].
type MergeStatement struct {
	Pattern  *PatternPart
	OnCreate []SetItem
	OnMatch  []SetItem
}

func (s *MergeStatement) stmtNode() {}

func (s *MergeStatement) String() string {
	var sb strings.Builder
	sb.WriteString("MERGE ")
	sb.WriteString(s.Pattern.String())
	if len(s.OnCreate) > 0 {
		sb.WriteString(" ON CREATE SET ")
		sb.WriteString(joinSetItems(s.OnCreate))
	}
	if len(s.OnMatch) > 0 {
		sb.WriteString(" ON MATCH SET ")
		sb.WriteString(joinSetItems(s.OnMatch))
	}
	return sb.String()
}

// DeleteStatement is [DETACH] DELETE expr, ....
type DeleteStatement struct {
	Exprs  []Expr
	Detach bool
}

func (s *DeleteStatement) stmtNode() {}

func (s *DeleteStatement) String() string {
	parts := make([]string, len(s.Exprs))
	for i, e := range s.Exprs {
		parts[i] = e.String()
	}
	prefix := "DELETE "
	if s.Detach {
		prefix = "DETACH DELETE "
	}
	return prefix + strings.Join(parts, ", ")
}

// SetStatement is SET item, ....
type SetStatement struct {
	Items []SetItem
}

func (s *SetStatement) stmtNode() {}

func (s *SetStatement) String() string {
	return "SET " + joinSetItems(s.Items)
}

// SetItem is one assignment in SET or in MERGE's ON CREATE/ON MATCH.
//
// Property != "" is `var.prop = expr` (single property). Property == ""
// replaces the whole property map (`var = expr`), or merges into it when
// Merge is set (`var += expr`).
type SetItem struct {
	Variable string
	Property string
	Value    Expr
	Merge    bool
}

func (i SetItem) String() string {
	switch {
	case i.Property != "":
		return fmt.Sprintf("%s.%s = %s", i.Variable, i.Property, i.Value)
	case i.Merge:
		return fmt.Sprintf("%s += %s", i.Variable, i.Value)
	default:
		return fmt.Sprintf("%s = %s", i.Variable, i.Value)
	}
}

func joinSetItems(items []SetItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, ", ")
}

// RemoveStatement is REMOVE item, ....
type RemoveStatement struct {
	Items []RemoveItem
}

func (s *RemoveStatement) stmtNode() {}

func (s *RemoveStatement) String() string {
	parts := make([]string, len(s.Items))
	for i, item := range s.Items {
		parts[i] = item.String()
	}
	return "REMOVE " + strings.Join(parts, ", ")
}

// RemoveItem removes one property key (`var.prop`) or labels (`var:Label`).
type RemoveItem struct {
	Variable string
	Property string
	Labels   []string
}

func (i RemoveItem) String() string {
	if i.Property != "" {
		return i.Variable + "." + i.Property
	}
	return i.Variable + ":" + strings.Join(i.Labels, ":")
}

// ReturnStatement is a standalone RETURN projecting the current bindings.
type ReturnStatement struct {
	Return *ReturnClause
}

func (s *ReturnStatement) stmtNode() {}

func (s *ReturnStatement) String() string { return s.Return.String() }

// ReturnClause is RETURN [DISTINCT] items [ORDER BY ...] [SKIP n] [LIMIT n].
type ReturnClause struct {
	Distinct bool
	Items    []ReturnItem
	OrderBy  []OrderItem
	Skip     Expr // nil when absent
	Limit    Expr // nil when absent
}

func (r *ReturnClause) String() string {
	var sb strings.Builder
	sb.WriteString("RETURN ")
	if r.Distinct {
		sb.WriteString("DISTINCT ")
	}
	parts := make([]string, len(r.Items))
	for i, item := range r.Items {
		parts[i] = item.String()
	}
	sb.WriteString(strings.Join(parts, ", "))
	if len(r.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		orderParts := make([]string, len(r.OrderBy))
		for i, item := range r.OrderBy {
			orderParts[i] = item.String()
		}
		sb.WriteString(strings.Join(orderParts, ", "))
	}
	if r.Skip != nil {
		sb.WriteString(" SKIP ")
		sb.WriteString(r.Skip.String())
	}
	if r.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(r.Limit.String())
	}
	return sb.String()
}

// ReturnItem is one projected expression with an optional alias.
type ReturnItem struct {
	Expr  Expr
	Alias string
}

func (i ReturnItem) String() string {
	if i.Alias != "" {
		return i.Expr.String() + " AS " + i.Alias
	}
	return i.Expr.String()
}

// ColumnName is the result-table column name for this item: the alias when
// given, the printed expression otherwise.
func (i ReturnItem) ColumnName() string {
	if i.Alias != "" {
		return i.Alias
	}
	return i.Expr.String()
}

// OrderItem is one ORDER BY key. Ascending unless Descending.
type OrderItem struct {
	Expr       Expr
	Descending bool
}

func (i OrderItem) String() string {
	if i.Descending {
		return i.Expr.String() + " DESC"
	}
	return i.Expr.String()
}

// ---------------------------------------------------------------------------
// Patterns

// PatternPart is one comma-separated clause of a MATCH/CREATE/MERGE pattern:
// a chain of node patterns connected by relationship patterns. Nodes has
// exactly one more element than Rels; Rels[i] connects Nodes[i] to
// Nodes[i+1].
type PatternPart struct {
	Nodes []*NodePattern
	Rels  []*RelPattern
}

func (p *PatternPart) String() string {
	var sb strings.Builder
	sb.WriteString(p.Nodes[0].String())
	for i, rel := range p.Rels {
		sb.WriteString(rel.String())
		sb.WriteString(p.Nodes[i+1].String())
	}
	return sb.String()
}

func joinPatterns(parts []*PatternPart) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.String()
	}
	return strings.Join(out, ", ")
}

// NodePattern is `(var? (:Label)* ({props})?)`.
type NodePattern struct {
	Variable   string
	Labels     []string
	Properties map[string]Expr
}

func (n *NodePattern) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(n.Variable)
	for _, label := range n.Labels {
		sb.WriteString(":")
		sb.WriteString(label)
	}
	if len(n.Properties) > 0 {
		if n.Variable != "" || len(n.Labels) > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(printPropertyMap(n.Properties))
	}
	sb.WriteString(")")
	return sb.String()
}

// RelDirection is the declared direction of a relationship pattern.
type RelDirection int

const (
	// DirectionBoth matches a relationship in either orientation.
	DirectionBoth RelDirection = iota
	// DirectionOutgoing requires the left node to be the source.
	DirectionOutgoing
	// DirectionIncoming requires the right node to be the source.
	DirectionIncoming
)

// RelPattern is `-[var? (:TYPE)* (*min..max)? ({props})?]-` with an optional
// arrowhead on one side. MinHops/MaxHops are nil for an exact single hop;
// a nil MaxHops with non-nil variable-length marker means unbounded (capped
// at match time by the snapshot's node count).
type RelPattern struct {
	Variable   string
	Types      []string
	Direction  RelDirection
	Properties map[string]Expr

	// Variable-length range. VarLength is true for any `*` form.
	VarLength bool
	MinHops   *int
	MaxHops   *int
}

func (r *RelPattern) String() string {
	var sb strings.Builder
	if r.Direction == DirectionIncoming {
		sb.WriteString("<-")
	} else {
		sb.WriteString("-")
	}

	if r.Variable != "" || len(r.Types) > 0 || r.VarLength || len(r.Properties) > 0 {
		sb.WriteString("[")
		sb.WriteString(r.Variable)
		if len(r.Types) > 0 {
			sb.WriteString(":")
			sb.WriteString(strings.Join(r.Types, "|"))
		}
		if r.VarLength {
			sb.WriteString("*")
			if r.MinHops != nil {
				sb.WriteString(strconv.Itoa(*r.MinHops))
			}
			sb.WriteString("..")
			if r.MaxHops != nil {
				sb.WriteString(strconv.Itoa(*r.MaxHops))
			}
		}
		if len(r.Properties) > 0 {
			sb.WriteString(" ")
			sb.WriteString(printPropertyMap(r.Properties))
		}
		sb.WriteString("]")
	}

	if r.Direction == DirectionOutgoing {
		sb.WriteString("->")
	} else {
		sb.WriteString("-")
	}
	return sb.String()
}

func printPropertyMap(props map[string]Expr) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + props[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ---------------------------------------------------------------------------
// Expressions

// Expr is one of: Literal, Variable, Parameter, PropertyAccess, Unary,
// Binary, IsNull, ListExpr, MapExpr, FunctionCall, CaseExpr.
type Expr interface {
	fmt.Stringer
	exprNode()
}

// Literal is a constant: nil, bool, int64, float64, or string.
type Literal struct {
	Value any
}

func (e *Literal) exprNode() {}

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Variable references a bound pattern variable or alias.
type Variable struct {
	Name string
}

func (e *Variable) exprNode() {}

func (e *Variable) String() string { return e.Name }

// Parameter is `$name`, resolved from the submission's parameter map.
type Parameter struct {
	Name string
}

func (e *Parameter) exprNode() {}

func (e *Parameter) String() string { return "$" + e.Name }

// PropertyAccess is `subject.property`.
type PropertyAccess struct {
	Subject  Expr
	Property string
}

func (e *PropertyAccess) exprNode() {}

func (e *PropertyAccess) String() string {
	return e.Subject.String() + "." + e.Property
}

// Unary is NOT, unary minus, or unary plus.
type Unary struct {
	Op      string // "NOT", "-", "+"
	Operand Expr
}

func (e *Unary) exprNode() {}

func (e *Unary) String() string {
	if e.Op == "NOT" {
		return "NOT " + e.Operand.String()
	}
	return e.Op + e.Operand.String()
}

// Binary covers boolean connectives, comparisons, string predicates,
// membership, and arithmetic. Op is the canonical upper-case operator text.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *Binary) exprNode() {}

func (e *Binary) String() string {
	return "(" + e.Left.String() + " " + e.Op + " " + e.Right.String() + ")"
}

// IsNull is `expr IS NULL` / `expr IS NOT NULL`.
type IsNull struct {
	Operand Expr
	Negated bool
}

func (e *IsNull) exprNode() {}

func (e *IsNull) String() string {
	if e.Negated {
		return e.Operand.String() + " IS NOT NULL"
	}
	return e.Operand.String() + " IS NULL"
}

// ListExpr is `[e1, e2, ...]`.
type ListExpr struct {
	Items []Expr
}

func (e *ListExpr) exprNode() {}

func (e *ListExpr) String() string {
	parts := make([]string, len(e.Items))
	for i, item := range e.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MapExpr is `{k1: e1, k2: e2, ...}`.
type MapExpr struct {
	Entries map[string]Expr
}

func (e *MapExpr) exprNode() {}

func (e *MapExpr) String() string { return printPropertyMap(e.Entries) }

// FunctionCall is `name(args)`, `name(DISTINCT args)`, or `count(*)`.
type FunctionCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
}

func (e *FunctionCall) exprNode() {}

func (e *FunctionCall) String() string {
	if e.Star {
		return e.Name + "(*)"
	}
	parts := make([]string, len(e.Args))
	for i, arg := range e.Args {
		parts[i] = arg.String()
	}
	prefix := ""
	if e.Distinct {
		prefix = "DISTINCT "
	}
	return e.Name + "(" + prefix + strings.Join(parts, ", ") + ")"
}

// CaseExpr is a simple (with Input) or searched (Input nil) CASE.
type CaseExpr struct {
	Input Expr // nil for searched CASE
	Whens []CaseWhen
	Else  Expr // nil when absent
}

// CaseWhen is one WHEN condition THEN result arm.
type CaseWhen struct {
	When Expr
	Then Expr
}

func (e *CaseExpr) exprNode() {}

func (e *CaseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	if e.Input != nil {
		sb.WriteString(" ")
		sb.WriteString(e.Input.String())
	}
	for _, arm := range e.Whens {
		sb.WriteString(" WHEN ")
		sb.WriteString(arm.When.String())
		sb.WriteString(" THEN ")
		sb.WriteString(arm.Then.String())
	}
	if e.Else != nil {
		sb.WriteString(" ELSE ")
		sb.WriteString(e.Else.String())
	}
	sb.WriteString(" END")
	return sb.String()
}
