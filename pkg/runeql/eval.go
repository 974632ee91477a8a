// Package runeql - expression evaluation.
package runeql

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/orneryd/runedb/pkg/storage"
)

// binding maps pattern variables and aliases to their bound values for one
// result row.
type binding map[string]any

func (b binding) clone() binding {
	out := make(binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// evaluator computes expression values against a binding and the live
// transaction. Entities are re-read through the transaction on property
// access so a row always sees the submission's own earlier mutations.
type evaluator struct {
	tx     storage.Engine
	params map[string]any
}

func (ev *evaluator) eval(expr Expr, b binding) (any, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil

	case *Variable:
		v, ok := b[e.Name]
		if !ok {
			return nil, evalErrorf("unknown variable %q", e.Name)
		}
		return v, nil

	case *Parameter:
		v, ok := ev.params[e.Name]
		if !ok {
			return nil, evalErrorf("missing parameter $%s", e.Name)
		}
		return normalizeValue(v), nil

	case *PropertyAccess:
		return ev.evalPropertyAccess(e, b)

	case *Unary:
		return ev.evalUnary(e, b)

	case *Binary:
		return ev.evalBinary(e, b)

	case *IsNull:
		v, err := ev.eval(e.Operand, b)
		if err != nil {
			return nil, err
		}
		if e.Negated {
			return v != nil, nil
		}
		return v == nil, nil

	case *ListExpr:
		items := make([]any, len(e.Items))
		for i, item := range e.Items {
			v, err := ev.eval(item, b)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case *MapExpr:
		entries := make(map[string]any, len(e.Entries))
		for k, entry := range e.Entries {
			v, err := ev.eval(entry, b)
			if err != nil {
				return nil, err
			}
			entries[k] = v
		}
		return entries, nil

	case *FunctionCall:
		if isAggregateFunction(e.Name) {
			return nil, evalErrorf("aggregate function %s() is only allowed in RETURN items", e.Name)
		}
		return ev.callScalar(e, b)

	case *CaseExpr:
		return ev.evalCase(e, b)
	}
	return nil, evalErrorf("unsupported expression %T", expr)
}

// refresh re-reads a bound entity through the transaction so projections
// reflect mutations made by earlier statements. A deleted entity refreshes
// to null.
func (ev *evaluator) refresh(v any) any {
	switch entity := v.(type) {
	case *storage.Node:
		fresh, err := ev.tx.GetNode(entity.ID)
		if err != nil {
			return nil
		}
		return fresh
	case *storage.Edge:
		fresh, err := ev.tx.GetEdge(entity.ID)
		if err != nil {
			return nil
		}
		return fresh
	case []any:
		out := make([]any, len(entity))
		for i, item := range entity {
			out[i] = ev.refresh(item)
		}
		return out
	}
	return v
}

func (ev *evaluator) evalPropertyAccess(e *PropertyAccess, b binding) (any, error) {
	subject, err := ev.eval(e.Subject, b)
	if err != nil {
		return nil, err
	}
	switch s := subject.(type) {
	case nil:
		return nil, nil
	case *storage.Node:
		fresh, err := ev.tx.GetNode(s.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return normalizeValue(fresh.Properties[e.Property]), nil
	case *storage.Edge:
		fresh, err := ev.tx.GetEdge(s.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return normalizeValue(fresh.Properties[e.Property]), nil
	case map[string]any:
		return s[e.Property], nil
	}
	return nil, evalErrorf("type %s has no property %q", typeName(subject), e.Property)
}

func (ev *evaluator) evalUnary(e *Unary, b binding) (any, error) {
	v, err := ev.eval(e.Operand, b)
	if err != nil {
		return nil, err
	}
	return applyUnary(e.Op, v)
}

func applyUnary(op string, v any) (any, error) {
	switch op {
	case "NOT":
		if v == nil {
			return nil, nil
		}
		bv, ok := v.(bool)
		if !ok {
			return nil, evalErrorf("NOT requires a boolean, got %s", typeName(v))
		}
		return !bv, nil
	case "-":
		switch n := v.(type) {
		case nil:
			return nil, nil
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, evalErrorf("unary - requires a number, got %s", typeName(v))
	case "+":
		switch v.(type) {
		case nil:
			return nil, nil
		case int64, float64:
			return v, nil
		}
		return nil, evalErrorf("unary + requires a number, got %s", typeName(v))
	}
	return nil, evalErrorf("unknown unary operator %q", op)
}

func (ev *evaluator) evalBinary(e *Binary, b binding) (any, error) {
	// AND/OR short-circuit with ternary null logic.
	switch e.Op {
	case "AND":
		return ev.evalAnd(e, b)
	case "OR":
		return ev.evalOr(e, b)
	}

	left, err := ev.eval(e.Left, b)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(e.Right, b)
	if err != nil {
		return nil, err
	}
	return applyBinary(e.Op, left, right)
}

// applyBinary applies a non-connective operator to already-computed
// operands. AND and OR appear here only via the grouped projection path,
// which cannot short-circuit; the truth table is the same.
func applyBinary(op string, left, right any) (any, error) {
	switch op {
	case "AND", "OR":
		return applyConnective(op, left, right)
	case "=":
		if left == nil || right == nil {
			return nil, nil
		}
		return valuesEqual(left, right), nil
	case "<>", "!=":
		if left == nil || right == nil {
			return nil, nil
		}
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		if left == nil || right == nil {
			return nil, nil
		}
		cmp, ok := compareValues(left, right)
		if !ok {
			return nil, nil
		}
		switch op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "IN":
		return evalIn(left, right)
	case "CONTAINS", "STARTS WITH", "ENDS WITH":
		return evalStringPredicate(op, left, right), nil
	case "+", "-", "*", "/", "%", "^":
		return evalArithmetic(op, left, right)
	}
	return nil, evalErrorf("unknown operator %q", op)
}

func applyConnective(op string, left, right any) (any, error) {
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if (left != nil && !lok) || (right != nil && !rok) {
		return nil, evalErrorf("%s requires booleans", op)
	}
	if op == "AND" {
		if (lok && !lb) || (rok && !rb) {
			return false, nil
		}
		if left == nil || right == nil {
			return nil, nil
		}
		return true, nil
	}
	if (lok && lb) || (rok && rb) {
		return true, nil
	}
	if left == nil || right == nil {
		return nil, nil
	}
	return false, nil
}

func (ev *evaluator) evalAnd(e *Binary, b binding) (any, error) {
	left, err := ev.eval(e.Left, b)
	if err != nil {
		return nil, err
	}
	if lb, ok := left.(bool); ok && !lb {
		return false, nil
	}
	if left != nil {
		if _, ok := left.(bool); !ok {
			return nil, evalErrorf("AND requires booleans, got %s", typeName(left))
		}
	}
	right, err := ev.eval(e.Right, b)
	if err != nil {
		return nil, err
	}
	if rb, ok := right.(bool); ok && !rb {
		return false, nil
	}
	if right != nil {
		if _, ok := right.(bool); !ok {
			return nil, evalErrorf("AND requires booleans, got %s", typeName(right))
		}
	}
	if left == nil || right == nil {
		return nil, nil
	}
	return true, nil
}

func (ev *evaluator) evalOr(e *Binary, b binding) (any, error) {
	left, err := ev.eval(e.Left, b)
	if err != nil {
		return nil, err
	}
	if lb, ok := left.(bool); ok && lb {
		return true, nil
	}
	if left != nil {
		if _, ok := left.(bool); !ok {
			return nil, evalErrorf("OR requires booleans, got %s", typeName(left))
		}
	}
	right, err := ev.eval(e.Right, b)
	if err != nil {
		return nil, err
	}
	if rb, ok := right.(bool); ok && rb {
		return true, nil
	}
	if right != nil {
		if _, ok := right.(bool); !ok {
			return nil, evalErrorf("OR requires booleans, got %s", typeName(right))
		}
	}
	if left == nil || right == nil {
		return nil, nil
	}
	return false, nil
}

// evalIn tests list membership. A null needle or list yields null, and a
// miss against a list containing null is null rather than false.
func evalIn(needle, haystack any) (any, error) {
	if haystack == nil || needle == nil {
		return nil, nil
	}
	list, ok := haystack.([]any)
	if !ok {
		return nil, evalErrorf("IN requires a list, got %s", typeName(haystack))
	}
	sawNull := false
	for _, item := range list {
		if item == nil {
			sawNull = true
			continue
		}
		if valuesEqual(needle, item) {
			return true, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return false, nil
}

// evalStringPredicate handles CONTAINS, STARTS WITH, and ENDS WITH. Null
// or non-string operands do not match; the predicate yields null so the
// row is discarded rather than erroring.
func evalStringPredicate(op string, left, right any) any {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return nil
	}
	switch op {
	case "CONTAINS":
		return strings.Contains(ls, rs)
	case "STARTS WITH":
		return strings.HasPrefix(ls, rs)
	default:
		return strings.HasSuffix(ls, rs)
	}
}

// evalArithmetic applies the numeric operators. Nulls propagate. The only
// cross-type coercion is '+' with a string operand, which concatenates.
func evalArithmetic(op string, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}

	if op == "+" {
		if ls, ok := left.(string); ok {
			return ls + stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return stringify(left) + rs, nil
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				out := make([]any, 0, len(ll)+len(rl))
				out = append(out, ll...)
				out = append(out, rl...)
				return out, nil
			}
		}
	}

	if !isNumber(left) || !isNumber(right) {
		return nil, evalErrorf("cannot apply %s to %s and %s", op, typeName(left), typeName(right))
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			return li % ri, nil
		case "^":
			if ri >= 0 {
				return intPow(li, ri), nil
			}
			return math.Pow(float64(li), float64(ri)), nil
		}
	}

	lf, rf := asFloat(left), asFloat(right)
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, evalErrorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	case "^":
		return math.Pow(lf, rf), nil
	}
	return nil, evalErrorf("unknown operator %q", op)
}

func intPow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// stringify renders a value for '+' string concatenation.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return fmt.Sprintf("%t", s)
	case int64:
		return fmt.Sprintf("%d", s)
	case float64:
		return fmt.Sprintf("%v", s)
	}
	return formatValue(v)
}

func (ev *evaluator) evalCase(e *CaseExpr, b binding) (any, error) {
	var input any
	if e.Input != nil {
		v, err := ev.eval(e.Input, b)
		if err != nil {
			return nil, err
		}
		input = v
	}
	for _, arm := range e.Whens {
		when, err := ev.eval(arm.When, b)
		if err != nil {
			return nil, err
		}
		matched := false
		if e.Input != nil {
			matched = input != nil && when != nil && valuesEqual(input, when)
		} else if wb, ok := when.(bool); ok {
			matched = wb
		}
		if matched {
			return ev.eval(arm.Then, b)
		}
	}
	if e.Else != nil {
		return ev.eval(e.Else, b)
	}
	return nil, nil
}

// containsAggregate reports whether any aggregate function call appears in
// the expression tree. Used to decide between plain and grouped projection.
func containsAggregate(expr Expr) bool {
	switch e := expr.(type) {
	case *FunctionCall:
		if isAggregateFunction(e.Name) {
			return true
		}
		for _, arg := range e.Args {
			if containsAggregate(arg) {
				return true
			}
		}
	case *Unary:
		return containsAggregate(e.Operand)
	case *Binary:
		return containsAggregate(e.Left) || containsAggregate(e.Right)
	case *IsNull:
		return containsAggregate(e.Operand)
	case *PropertyAccess:
		return containsAggregate(e.Subject)
	case *ListExpr:
		for _, item := range e.Items {
			if containsAggregate(item) {
				return true
			}
		}
	case *MapExpr:
		for _, entry := range e.Entries {
			if containsAggregate(entry) {
				return true
			}
		}
	case *CaseExpr:
		if e.Input != nil && containsAggregate(e.Input) {
			return true
		}
		for _, arm := range e.Whens {
			if containsAggregate(arm.When) || containsAggregate(arm.Then) {
				return true
			}
		}
		if e.Else != nil && containsAggregate(e.Else) {
			return true
		}
	}
	return false
}
