// Package runeql - function library.
//
// Scalar functions are dispatched by lower-case name from a fixed registry.
// Aggregates (count, sum, avg, min, max, collect) are not in the registry;
// the projection layer folds them over grouped rows itself.
package runeql

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/runedb/pkg/storage"
)

var aggregateFunctions = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {}, "collect": {},
}

func isAggregateFunction(name string) bool {
	_, ok := aggregateFunctions[name]
	return ok
}

type scalarFunc func(ev *evaluator, args []any) (any, error)

var scalarFunctions = map[string]scalarFunc{
	"id":         fnID,
	"labels":     fnLabels,
	"type":       fnType,
	"properties": fnProperties,
	"keys":       fnKeys,
	"startnode":  fnStartNode,
	"endnode":    fnEndNode,
	"size":       fnSize,
	"length":     fnSize,
	"coalesce":   fnCoalesce,
	"head":       fnHead,
	"last":       fnLast,
	"range":      fnRange,
	"abs":        fnAbs,
	"tostring":   fnToString,
	"tointeger":  fnToInteger,
	"tofloat":    fnToFloat,
	"toupper":    fnToUpper,
	"tolower":    fnToLower,
	"trim":       fnTrim,
	"replace":    fnReplace,
	"split":      fnSplit,
	"substring":  fnSubstring,
}

func (ev *evaluator) callScalar(call *FunctionCall, b binding) (any, error) {
	fn, ok := scalarFunctions[call.Name]
	if !ok {
		return nil, evalErrorf("unknown function %s()", call.Name)
	}
	args := make([]any, len(call.Args))
	for i, arg := range call.Args {
		v, err := ev.eval(arg, b)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(ev, args)
}

func wantArgs(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return evalErrorf("%s() expects %d argument(s), got %d", name, min, len(args))
		}
		return evalErrorf("%s() expects %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func fnID(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("id", args, 1, 1); err != nil {
		return nil, err
	}
	switch e := args[0].(type) {
	case nil:
		return nil, nil
	case *storage.Node:
		return string(e.ID), nil
	case *storage.Edge:
		return string(e.ID), nil
	}
	return nil, evalErrorf("id() expects a node or relationship, got %s", typeName(args[0]))
}

func fnLabels(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("labels", args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	node, ok := args[0].(*storage.Node)
	if !ok {
		return nil, evalErrorf("labels() expects a node, got %s", typeName(args[0]))
	}
	fresh, err := ev.tx.GetNode(node.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	labels := make([]any, len(fresh.Labels))
	for i, label := range fresh.Labels {
		labels[i] = label
	}
	return labels, nil
}

func fnType(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("type", args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	edge, ok := args[0].(*storage.Edge)
	if !ok {
		return nil, evalErrorf("type() expects a relationship, got %s", typeName(args[0]))
	}
	return edge.Type, nil
}

func fnProperties(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("properties", args, 1, 1); err != nil {
		return nil, err
	}
	switch e := args[0].(type) {
	case nil:
		return nil, nil
	case *storage.Node:
		fresh, err := ev.tx.GetNode(e.ID)
		if err != nil {
			return nil, nil
		}
		return normalizeValue(fresh.Properties), nil
	case *storage.Edge:
		fresh, err := ev.tx.GetEdge(e.ID)
		if err != nil {
			return nil, nil
		}
		return normalizeValue(fresh.Properties), nil
	case map[string]any:
		return e, nil
	}
	return nil, evalErrorf("properties() expects a node, relationship, or map, got %s", typeName(args[0]))
}

func fnKeys(ev *evaluator, args []any) (any, error) {
	props, err := fnProperties(ev, args)
	if err != nil || props == nil {
		return nil, err
	}
	m, ok := props.(map[string]any)
	if !ok {
		return nil, evalErrorf("keys() expects a node, relationship, or map, got %s", typeName(args[0]))
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Sorted so results are deterministic across runs.
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func fnStartNode(ev *evaluator, args []any) (any, error) {
	return edgeEndpoint(ev, "startNode", args, true)
}

func fnEndNode(ev *evaluator, args []any) (any, error) {
	return edgeEndpoint(ev, "endNode", args, false)
}

func edgeEndpoint(ev *evaluator, name string, args []any, start bool) (any, error) {
	if err := wantArgs(name, args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	edge, ok := args[0].(*storage.Edge)
	if !ok {
		return nil, evalErrorf("%s() expects a relationship, got %s", name, typeName(args[0]))
	}
	id := edge.EndNode
	if start {
		id = edge.StartNode
	}
	node, err := ev.tx.GetNode(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return node, nil
}

func fnSize(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("size", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return int64(len(v)), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	}
	return nil, evalErrorf("size() expects a string, list, or map, got %s", typeName(args[0]))
}

func fnCoalesce(ev *evaluator, args []any) (any, error) {
	for _, arg := range args {
		if arg != nil {
			return arg, nil
		}
	}
	return nil, nil
}

func fnHead(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("head", args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, evalErrorf("head() expects a list, got %s", typeName(args[0]))
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func fnLast(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("last", args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, evalErrorf("last() expects a list, got %s", typeName(args[0]))
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func fnRange(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("range", args, 2, 3); err != nil {
		return nil, err
	}
	bounds := make([]int64, 0, 3)
	for _, arg := range args {
		n, ok := arg.(int64)
		if !ok {
			return nil, evalErrorf("range() expects integers, got %s", typeName(arg))
		}
		bounds = append(bounds, n)
	}
	step := int64(1)
	if len(bounds) == 3 {
		step = bounds[2]
	}
	if step == 0 {
		return nil, evalErrorf("range() step must not be zero")
	}
	var out []any
	if step > 0 {
		for i := bounds[0]; i <= bounds[1]; i += step {
			out = append(out, i)
		}
	} else {
		for i := bounds[0]; i >= bounds[1]; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

func fnAbs(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch n := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case float64:
		return math.Abs(n), nil
	}
	return nil, evalErrorf("abs() expects a number, got %s", typeName(args[0]))
}

func fnToString(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("toString", args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	switch v := args[0].(type) {
	case string, bool, int64, float64:
		return stringify(v), nil
	}
	return nil, evalErrorf("toString() expects a scalar, got %s", typeName(args[0]))
}

func fnToInteger(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("toInteger", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
				return int64(f), nil
			}
			return nil, nil
		}
		return n, nil
	}
	return nil, evalErrorf("toInteger() expects a number or string, got %s", typeName(args[0]))
}

func fnToFloat(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("toFloat", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	}
	return nil, evalErrorf("toFloat() expects a number or string, got %s", typeName(args[0]))
}

func fnToUpper(ev *evaluator, args []any) (any, error) {
	return stringUnary("toUpper", args, strings.ToUpper)
}

func fnToLower(ev *evaluator, args []any) (any, error) {
	return stringUnary("toLower", args, strings.ToLower)
}

func fnTrim(ev *evaluator, args []any) (any, error) {
	return stringUnary("trim", args, strings.TrimSpace)
}

func stringUnary(name string, args []any, fn func(string) string) (any, error) {
	if err := wantArgs(name, args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, evalErrorf("%s() expects a string, got %s", name, typeName(args[0]))
	}
	return fn(s), nil
}

func fnReplace(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("replace", args, 3, 3); err != nil {
		return nil, err
	}
	if args[0] == nil || args[1] == nil || args[2] == nil {
		return nil, nil
	}
	s, ok1 := args[0].(string)
	old, ok2 := args[1].(string)
	repl, ok3 := args[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, evalErrorf("replace() expects three strings")
	}
	return strings.ReplaceAll(s, old, repl), nil
}

func fnSplit(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("split", args, 2, 2); err != nil {
		return nil, err
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	s, ok1 := args[0].(string)
	sep, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, evalErrorf("split() expects two strings")
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, part := range parts {
		out[i] = part
	}
	return out, nil
}

func fnSubstring(ev *evaluator, args []any) (any, error) {
	if err := wantArgs("substring", args, 2, 3); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, evalErrorf("substring() expects a string, got %s", typeName(args[0]))
	}
	start, ok := args[1].(int64)
	if !ok || start < 0 {
		return nil, evalErrorf("substring() start must be a non-negative integer")
	}
	if start > int64(len(s)) {
		return "", nil
	}
	rest := s[start:]
	if len(args) == 3 {
		length, ok := args[2].(int64)
		if !ok || length < 0 {
			return nil, evalErrorf("substring() length must be a non-negative integer")
		}
		if length < int64(len(rest)) {
			rest = rest[:length]
		}
	}
	return rest, nil
}

// ---------------------------------------------------------------------------
// Aggregates

// evalGrouped evaluates a projection expression over one implicit group.
// Subtrees without aggregates are grouping keys, constant within the group,
// and evaluate against any representative row.
func (ev *evaluator) evalGrouped(expr Expr, group []binding) (any, error) {
	if !containsAggregate(expr) {
		return ev.eval(expr, group[0])
	}
	switch e := expr.(type) {
	case *FunctionCall:
		if isAggregateFunction(e.Name) {
			return ev.foldAggregate(e, group)
		}
		fn, ok := scalarFunctions[e.Name]
		if !ok {
			return nil, evalErrorf("unknown function %s()", e.Name)
		}
		args := make([]any, len(e.Args))
		for i, arg := range e.Args {
			v, err := ev.evalGrouped(arg, group)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(ev, args)
	case *Unary:
		v, err := ev.evalGrouped(e.Operand, group)
		if err != nil {
			return nil, err
		}
		return applyUnary(e.Op, v)
	case *Binary:
		left, err := ev.evalGrouped(e.Left, group)
		if err != nil {
			return nil, err
		}
		right, err := ev.evalGrouped(e.Right, group)
		if err != nil {
			return nil, err
		}
		return applyBinary(e.Op, left, right)
	case *IsNull:
		v, err := ev.evalGrouped(e.Operand, group)
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
			v, err := ev.evalGrouped(item, group)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	}
	return nil, evalErrorf("aggregate functions cannot appear inside %T", expr)
}

// foldAggregate folds one aggregate call over a group's rows. Null inputs
// are skipped; DISTINCT dedupes by canonical key before folding.
func (ev *evaluator) foldAggregate(call *FunctionCall, group []binding) (any, error) {
	if call.Star {
		if call.Name != "count" {
			return nil, evalErrorf("%s(*) is not a valid aggregate", call.Name)
		}
		return int64(len(group)), nil
	}
	if len(call.Args) != 1 {
		return nil, evalErrorf("%s() expects 1 argument, got %d", call.Name, len(call.Args))
	}

	var values []any
	var seen map[string]struct{}
	if call.Distinct {
		seen = make(map[string]struct{})
	}
	for _, row := range group {
		v, err := ev.eval(call.Args[0], row)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if call.Distinct {
			key := canonicalKey(v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		values = append(values, v)
	}

	switch call.Name {
	case "count":
		return int64(len(values)), nil
	case "collect":
		if values == nil {
			return []any{}, nil
		}
		return values, nil
	case "sum":
		return sumValues(call.Name, values)
	case "avg":
		if len(values) == 0 {
			return nil, nil
		}
		total, err := sumValues(call.Name, values)
		if err != nil {
			return nil, err
		}
		return asFloat(total) / float64(len(values)), nil
	case "min", "max":
		if len(values) == 0 {
			return nil, nil
		}
		best := values[0]
		for _, v := range values[1:] {
			cmp := orderCompare(v, best)
			if (call.Name == "min" && cmp < 0) || (call.Name == "max" && cmp > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, evalErrorf("unknown aggregate %s()", call.Name)
}

// sumValues adds numbers, staying integral until a float appears. An empty
// input sums to integer zero.
func sumValues(name string, values []any) (any, error) {
	var intSum int64
	var floatSum float64
	isFloat := false
	for _, v := range values {
		switch n := v.(type) {
		case int64:
			intSum += n
			floatSum += float64(n)
		case float64:
			isFloat = true
			floatSum += n
		default:
			return nil, evalErrorf("%s() expects numbers, got %s", name, typeName(v))
		}
	}
	if isFloat {
		return floatSum, nil
	}
	return intSum, nil
}
