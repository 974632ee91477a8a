// Package runeql - runtime value semantics.
//
// Query values are plain Go values: nil, bool, int64, float64, string,
// []any lists, map[string]any maps, and graph entities (*storage.Node,
// *storage.Edge). Integer and float are distinct types; arithmetic
// promotes to float only when either side is a float.
package runeql

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/orneryd/runedb/pkg/storage"
)

// isNumber reports whether v is an int64 or float64.
func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

// normalizeValue maps the widths JSON decoding and callers may hand us
// onto the engine's canonical types.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return v
}

// valuesEqual is the non-null equality relation used by '=', IN, DISTINCT,
// and grouping. Numbers compare across int/float; lists and maps compare
// element-wise; entities compare by identity.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		if ai, aok := a.(int64); aok {
			if bi, bok := b.(int64); bok {
				return ai == bi
			}
		}
		return asFloat(a) == asFloat(b)
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !valuesEqual(v, other) {
				return false
			}
		}
		return true
	case *storage.Node:
		bv, ok := b.(*storage.Node)
		return ok && av.ID == bv.ID
	case *storage.Edge:
		bv, ok := b.(*storage.Edge)
		return ok && av.ID == bv.ID
	}
	return false
}

// compareValues orders two non-null values. The second return is false
// when the values are incomparable (different kinds, or a kind with no
// ordering), in which case the comparison result is null.
func compareValues(a, b any) (int, bool) {
	if isNumber(a) && isNumber(b) {
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case !ab && bb:
				return -1, true
			case ab && !bb:
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

// sortRank buckets values for ORDER BY so incomparable kinds still sort
// deterministically. Nulls rank last in ascending order.
func sortRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int64, float64:
		return 1
	case string:
		return 2
	case []any:
		return 3
	case map[string]any:
		return 4
	case *storage.Node:
		return 5
	case *storage.Edge:
		return 6
	case nil:
		return 7
	}
	return 8
}

// orderCompare is the total order used by ORDER BY: rank buckets first,
// comparable values within a bucket, and a canonical-key tiebreak for
// kinds with no natural order.
func orderCompare(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return strings.Compare(canonicalKey(a), canonicalKey(b))
}

// canonicalKey renders a value as a deterministic string for DISTINCT and
// grouping. Map keys are emitted sorted; cross-width numbers collapse to
// one key so 2 and 2.0 group together.
func canonicalKey(v any) string {
	var sb strings.Builder
	writeCanonicalKey(&sb, v)
	return sb.String()
}

func writeCanonicalKey(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("~")
	case bool:
		fmt.Fprintf(sb, "b:%t", val)
	case int64:
		// Collapse to the float rendering so 2 and 2.0 share a key.
		if val == int64(float64(val)) {
			fmt.Fprintf(sb, "n:%g", float64(val))
		} else {
			fmt.Fprintf(sb, "n:%d", val)
		}
	case float64:
		fmt.Fprintf(sb, "n:%g", val)
	case string:
		fmt.Fprintf(sb, "s:%q", val)
	case []any:
		sb.WriteString("l:[")
		for i, item := range val {
			if i > 0 {
				sb.WriteString(",")
			}
			writeCanonicalKey(sb, item)
		}
		sb.WriteString("]")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("m:{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(sb, "%q=", k)
			writeCanonicalKey(sb, val[k])
		}
		sb.WriteString("}")
	case *storage.Node:
		fmt.Fprintf(sb, "N:%s", val.ID)
	case *storage.Edge:
		fmt.Fprintf(sb, "E:%s", val.ID)
	default:
		fmt.Fprintf(sb, "?:%v", val)
	}
}

// truthValue reports whether a predicate result keeps its row. Only
// boolean true passes; null, false, and non-boolean values all reject.
func truthValue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case *storage.Node:
		return "node"
	case *storage.Edge:
		return "relationship"
	}
	return fmt.Sprintf("%T", v)
}

// formatValue renders a value for result tables and the shell.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return fmt.Sprintf("%.1f", val)
		}
		return fmt.Sprintf("%v", val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *storage.Node:
		var sb strings.Builder
		sb.WriteString("(")
		sb.WriteString(string(val.ID))
		for _, label := range val.Labels {
			sb.WriteString(":")
			sb.WriteString(label)
		}
		if len(val.Properties) > 0 {
			sb.WriteString(" ")
			sb.WriteString(formatValue(val.Properties))
		}
		sb.WriteString(")")
		return sb.String()
	case *storage.Edge:
		var sb strings.Builder
		sb.WriteString("[")
		sb.WriteString(string(val.ID))
		sb.WriteString(":")
		sb.WriteString(val.Type)
		if len(val.Properties) > 0 {
			sb.WriteString(" ")
			sb.WriteString(formatValue(val.Properties))
		}
		sb.WriteString("]")
		return sb.String()
	}
	return fmt.Sprintf("%v", v)
}
