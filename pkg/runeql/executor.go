// Package runeql - statement execution.
//
// The executor runs one submission at a time. A submission parses into a
// statement sequence, executes inside a single storage transaction, and
// either commits everything or rolls everything back on the first error.
// Statements share a working binding table: MATCH extends it, CREATE and
// MERGE bind new entities into it, and the last RETURN projects it into
// the result.
package runeql

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orneryd/runedb/pkg/storage"
)

// Executor evaluates RuneQL submissions against a transactional store.
type Executor struct {
	engine storage.TransactionalEngine
	log    *logrus.Entry
}

// NewExecutor creates an executor bound to the given engine.
func NewExecutor(engine storage.TransactionalEngine) *Executor {
	return &Executor{
		engine: engine,
		log:    logrus.WithField("component", "runeql.executor"),
	}
}

// execState carries the per-submission working set.
type execState struct {
	tx     storage.Engine
	ev     *evaluator
	m      *matcher
	rows   []binding
	result *Result
}

// Execute parses and runs one submission. On any error the transaction is
// rolled back and the store is left untouched; on success all mutations
// commit atomically. Cancellation is honored at statement boundaries only.
func (x *Executor) Execute(ctx context.Context, query string, params map[string]any) (*Result, error) {
	parsed, err := Parse(query)
	if err != nil {
		return nil, err
	}

	tx, err := x.engine.Begin()
	if err != nil {
		return nil, err
	}

	st := &execState{
		tx:     tx,
		ev:     &evaluator{tx: tx, params: params},
		rows:   []binding{{}},
		result: &Result{},
	}
	st.m = &matcher{tx: tx, ev: st.ev}

	for _, stmt := range parsed.Statements {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := x.executeStatement(st, stmt); err != nil {
			tx.Rollback()
			x.log.WithError(err).Debug("submission rolled back")
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return nil, err
	}
	return st.result, nil
}

func (x *Executor) executeStatement(st *execState, stmt Statement) error {
	switch s := stmt.(type) {
	case *MatchStatement:
		return x.executeMatch(st, s)
	case *CreateStatement:
		return x.executeCreate(st, s)
	case *MergeStatement:
		return x.executeMerge(st, s)
	case *DeleteStatement:
		return x.executeDelete(st, s)
	case *SetStatement:
		return x.executeSet(st, s.Items)
	case *RemoveStatement:
		return x.executeRemove(st, s)
	case *ReturnStatement:
		return x.project(st, s.Return)
	}
	return evalErrorf("unsupported statement %T", stmt)
}

// ---------------------------------------------------------------------------
// MATCH

func (x *Executor) executeMatch(st *execState, stmt *MatchStatement) error {
	rows, err := st.m.matchPatterns(stmt.Patterns, st.rows)
	if err != nil {
		return err
	}
	if stmt.Where != nil {
		filtered := rows[:0]
		for _, row := range rows {
			v, err := st.ev.eval(stmt.Where, row)
			if err != nil {
				return err
			}
			if truthValue(v) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	st.rows = rows
	if stmt.Return != nil {
		return x.project(st, stmt.Return)
	}
	return nil
}

// ---------------------------------------------------------------------------
// CREATE

func (x *Executor) executeCreate(st *execState, stmt *CreateStatement) error {
	next := make([]binding, 0, len(st.rows))
	for _, row := range st.rows {
		extended := row.clone()
		for _, part := range stmt.Patterns {
			if err := x.createPart(st, part, extended); err != nil {
				return err
			}
		}
		next = append(next, extended)
	}
	st.rows = next
	return nil
}

// createPart materializes one pattern chain. A node element whose variable
// is already bound reuses the bound node; everything else is created fresh.
func (x *Executor) createPart(st *execState, part *PatternPart, row binding) error {
	nodes := make([]*storage.Node, len(part.Nodes))
	for i, pattern := range part.Nodes {
		node, err := x.resolveOrCreateNode(st, pattern, row)
		if err != nil {
			return err
		}
		nodes[i] = node
	}
	for i, rel := range part.Rels {
		edge, err := x.createRel(st, rel, nodes[i], nodes[i+1], row)
		if err != nil {
			return err
		}
		if rel.Variable != "" {
			row[rel.Variable] = edge
		}
	}
	return nil
}

func (x *Executor) resolveOrCreateNode(st *execState, pattern *NodePattern, row binding) (*storage.Node, error) {
	if pattern.Variable != "" {
		if bound, ok := row[pattern.Variable]; ok {
			node, isNode := bound.(*storage.Node)
			if !isNode {
				return nil, evalErrorf("variable %q is not a node", pattern.Variable)
			}
			if len(pattern.Labels) > 0 || len(pattern.Properties) > 0 {
				return nil, evalErrorf("variable %q is already bound; constraints are not allowed here", pattern.Variable)
			}
			fresh, err := st.tx.GetNode(node.ID)
			if err != nil {
				return nil, evalErrorf("node bound to %q no longer exists", pattern.Variable)
			}
			return fresh, nil
		}
	}
	props, err := x.evalCreationProps(st, pattern.Properties, row)
	if err != nil {
		return nil, err
	}
	node, err := st.tx.CreateNode(pattern.Labels, props)
	if err != nil {
		return nil, err
	}
	st.result.Stats.NodesCreated++
	if pattern.Variable != "" {
		row[pattern.Variable] = node
	}
	return node, nil
}

func (x *Executor) createRel(st *execState, rel *RelPattern, left, right *storage.Node, row binding) (*storage.Edge, error) {
	if rel.VarLength {
		return nil, evalErrorf("cannot create a variable-length relationship")
	}
	if len(rel.Types) != 1 {
		return nil, evalErrorf("relationship creation requires exactly one type")
	}
	if rel.Direction == DirectionBoth {
		return nil, evalErrorf("relationship creation requires a direction")
	}
	if rel.Variable != "" {
		if _, bound := row[rel.Variable]; bound {
			return nil, evalErrorf("relationship variable %q is already bound", rel.Variable)
		}
	}
	props, err := x.evalCreationProps(st, rel.Properties, row)
	if err != nil {
		return nil, err
	}
	start, end := left, right
	if rel.Direction == DirectionIncoming {
		start, end = right, left
	}
	edge, err := st.tx.CreateEdge(start.ID, end.ID, rel.Types[0], props)
	if err != nil {
		return nil, err
	}
	st.result.Stats.RelationshipsCreated++
	return edge, nil
}

// evalCreationProps evaluates a pattern property map for creation. Null
// values are dropped: absence is represented by key omission.
func (x *Executor) evalCreationProps(st *execState, exprs map[string]Expr, row binding) (map[string]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(exprs))
	for k, expr := range exprs {
		v, err := st.ev.eval(expr, row)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		props[k] = v
	}
	return props, nil
}

// ---------------------------------------------------------------------------
// MERGE

func (x *Executor) executeMerge(st *execState, stmt *MergeStatement) error {
	next := make([]binding, 0, len(st.rows))
	for _, row := range st.rows {
		matches, err := st.m.matchPatterns([]*PatternPart{stmt.Pattern}, []binding{row})
		if err != nil {
			return err
		}
		switch len(matches) {
		case 0:
			created := row.clone()
			if err := x.createPart(st, stmt.Pattern, created); err != nil {
				return err
			}
			if err := x.applySetItems(st, stmt.OnCreate, []binding{created}); err != nil {
				return err
			}
			next = append(next, created)
		case 1:
			matched := matches[0]
			if err := x.applySetItems(st, stmt.OnMatch, []binding{matched}); err != nil {
				return err
			}
			next = append(next, matched)
		default:
			return &MergeAmbiguityError{Pattern: stmt.Pattern.String(), Matches: len(matches)}
		}
	}
	st.rows = next
	return nil
}

// ---------------------------------------------------------------------------
// DELETE

func (x *Executor) executeDelete(st *execState, stmt *DeleteStatement) error {
	for _, row := range st.rows {
		for _, expr := range stmt.Exprs {
			v, err := st.ev.eval(expr, row)
			if err != nil {
				return err
			}
			if err := x.deleteValue(st, v, stmt.Detach); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Executor) deleteValue(st *execState, v any, detach bool) error {
	switch entity := v.(type) {
	case nil:
		return nil
	case *storage.Node:
		return x.deleteNode(st, entity.ID, detach)
	case *storage.Edge:
		return x.deleteEdge(st, entity.ID)
	case []any:
		// A variable-length relationship binding deletes its edges.
		for _, item := range entity {
			if err := x.deleteValue(st, item, detach); err != nil {
				return err
			}
		}
		return nil
	}
	return evalErrorf("DELETE expects a node or relationship, got %s", typeName(v))
}

func (x *Executor) deleteNode(st *execState, id storage.NodeID, detach bool) error {
	if detach {
		incident, err := st.tx.IncidentEdges(id, "", storage.DirBoth)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		for _, edge := range incident {
			if err := x.deleteEdge(st, edge.ID); err != nil {
				return err
			}
		}
	}
	err := st.tx.DeleteNode(id)
	switch {
	case err == nil:
		st.result.Stats.NodesDeleted++
		return nil
	case errors.Is(err, storage.ErrNotFound):
		// Already deleted through another row.
		return nil
	case errors.Is(err, storage.ErrHasEdges):
		return &ConstraintError{Msg: "cannot delete node " + string(id) + " because it still has relationships; use DETACH DELETE"}
	}
	return err
}

func (x *Executor) deleteEdge(st *execState, id storage.EdgeID) error {
	err := st.tx.DeleteEdge(id)
	if err == nil {
		st.result.Stats.RelationshipsDeleted++
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// SET / REMOVE

func (x *Executor) executeSet(st *execState, items []SetItem) error {
	return x.applySetItems(st, items, st.rows)
}

func (x *Executor) applySetItems(st *execState, items []SetItem, rows []binding) error {
	for _, row := range rows {
		for _, item := range items {
			if err := x.applySetItem(st, item, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Executor) applySetItem(st *execState, item SetItem, row binding) error {
	value, err := st.ev.eval(item.Value, row)
	if err != nil {
		return err
	}

	mutate := func(props map[string]any) (map[string]any, error) {
		if item.Property != "" {
			// Assigning null removes the key: absence, not a null entry.
			if value == nil {
				delete(props, item.Property)
			} else {
				props[item.Property] = value
			}
			st.result.Stats.PropertiesSet++
			return props, nil
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, evalErrorf("SET %s expects a map, got %s", item.Variable, typeName(value))
		}
		if !item.Merge {
			props = make(map[string]any, len(m))
		}
		for k, v := range m {
			if v == nil {
				delete(props, k)
			} else {
				props[k] = v
			}
			st.result.Stats.PropertiesSet++
		}
		return props, nil
	}

	return x.mutateEntity(st, row, item.Variable, mutate)
}

// mutateEntity re-reads the entity bound to variable, applies fn to its
// property map, and writes it back.
func (x *Executor) mutateEntity(st *execState, row binding, variable string, fn func(map[string]any) (map[string]any, error)) error {
	bound, ok := row[variable]
	if !ok {
		return evalErrorf("unknown variable %q", variable)
	}
	switch entity := bound.(type) {
	case *storage.Node:
		node, err := st.tx.GetNode(entity.ID)
		if err != nil {
			return err
		}
		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		if node.Properties, err = fn(node.Properties); err != nil {
			return err
		}
		return st.tx.UpdateNode(node)
	case *storage.Edge:
		edge, err := st.tx.GetEdge(entity.ID)
		if err != nil {
			return err
		}
		if edge.Properties == nil {
			edge.Properties = map[string]any{}
		}
		if edge.Properties, err = fn(edge.Properties); err != nil {
			return err
		}
		return st.tx.UpdateEdge(edge)
	}
	return evalErrorf("variable %q is not a node or relationship", variable)
}

func (x *Executor) executeRemove(st *execState, stmt *RemoveStatement) error {
	for _, row := range st.rows {
		for _, item := range stmt.Items {
			if item.Property != "" {
				err := x.mutateEntity(st, row, item.Variable, func(props map[string]any) (map[string]any, error) {
					if _, present := props[item.Property]; present {
						delete(props, item.Property)
						st.result.Stats.PropertiesSet++
					}
					return props, nil
				})
				if err != nil {
					return err
				}
				continue
			}
			if err := x.removeLabels(st, row, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Executor) removeLabels(st *execState, row binding, item RemoveItem) error {
	bound, ok := row[item.Variable]
	if !ok {
		return evalErrorf("unknown variable %q", item.Variable)
	}
	node, isNode := bound.(*storage.Node)
	if !isNode {
		return evalErrorf("REMOVE label expects a node, got %s", typeName(bound))
	}
	fresh, err := st.tx.GetNode(node.ID)
	if err != nil {
		return err
	}
	kept := fresh.Labels[:0]
	for _, label := range fresh.Labels {
		remove := false
		for _, target := range item.Labels {
			if label == target {
				remove = true
				break
			}
		}
		if remove {
			st.result.Stats.LabelsRemoved++
		} else {
			kept = append(kept, label)
		}
	}
	fresh.Labels = kept
	return st.tx.UpdateNode(fresh)
}

// ---------------------------------------------------------------------------
// RETURN projection

// projectedRow pairs a result row with its sort keys so DISTINCT and
// ORDER BY can run after projection.
type projectedRow struct {
	values []any
	keys   []any
}

func (x *Executor) project(st *execState, clause *ReturnClause) error {
	columns := make([]string, len(clause.Items))
	hasAggregate := false
	for i, item := range clause.Items {
		columns[i] = item.ColumnName()
		if containsAggregate(item.Expr) {
			hasAggregate = true
		}
	}

	var rows []projectedRow
	var err error
	if hasAggregate {
		rows, err = x.projectGrouped(st, clause, columns)
	} else {
		rows, err = x.projectPlain(st, clause, columns)
	}
	if err != nil {
		return err
	}

	if clause.Distinct {
		seen := make(map[string]struct{}, len(rows))
		kept := rows[:0]
		for _, row := range rows {
			key := canonicalKey(row.values)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, row)
		}
		rows = kept
	}

	if len(clause.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for k, item := range clause.OrderBy {
				cmp := orderCompare(rows[i].keys[k], rows[j].keys[k])
				if cmp == 0 {
					continue
				}
				if item.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if rows, err = x.applySkipLimit(st, clause, rows); err != nil {
		return err
	}

	st.result.Columns = columns
	st.result.Rows = make([][]any, len(rows))
	for i, row := range rows {
		st.result.Rows[i] = row.values
	}
	return nil
}

func (x *Executor) projectPlain(st *execState, clause *ReturnClause, columns []string) ([]projectedRow, error) {
	out := make([]projectedRow, 0, len(st.rows))
	for _, row := range st.rows {
		values := make([]any, len(clause.Items))
		aug := row.clone()
		for i, item := range clause.Items {
			v, err := st.ev.eval(item.Expr, row)
			if err != nil {
				return nil, err
			}
			v = st.ev.refresh(v)
			values[i] = v
			if item.Alias != "" {
				aug[item.Alias] = v
			}
		}
		keys, err := x.orderKeys(st, clause, columns, values, func(expr Expr) (any, error) {
			return st.ev.eval(expr, aug)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, projectedRow{values: values, keys: keys})
	}
	return out, nil
}

func (x *Executor) projectGrouped(st *execState, clause *ReturnClause, columns []string) ([]projectedRow, error) {
	// Group rows by the values of the non-aggregate items.
	type group struct {
		rows []binding
	}
	var order []string
	groups := make(map[string]*group)
	for _, row := range st.rows {
		var keyParts []string
		for _, item := range clause.Items {
			if containsAggregate(item.Expr) {
				continue
			}
			v, err := st.ev.eval(item.Expr, row)
			if err != nil {
				return nil, err
			}
			keyParts = append(keyParts, canonicalKey(v))
		}
		key := strings.Join(keyParts, "\x00")
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
	}

	// A pure-aggregate projection over zero rows still yields one row.
	if len(groups) == 0 {
		allAggregates := true
		for _, item := range clause.Items {
			if !containsAggregate(item.Expr) {
				allAggregates = false
				break
			}
		}
		if allAggregates {
			values := make([]any, len(clause.Items))
			for i, item := range clause.Items {
				v, err := st.ev.evalGrouped(item.Expr, []binding{{}})
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
			return []projectedRow{{values: values, keys: make([]any, len(clause.OrderBy))}}, nil
		}
		return nil, nil
	}

	out := make([]projectedRow, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		values := make([]any, len(clause.Items))
		for i, item := range clause.Items {
			v, err := st.ev.evalGrouped(item.Expr, g.rows)
			if err != nil {
				return nil, err
			}
			values[i] = st.ev.refresh(v)
		}
		keys, err := x.orderKeys(st, clause, columns, values, func(expr Expr) (any, error) {
			return st.ev.evalGrouped(expr, g.rows)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, projectedRow{values: values, keys: keys})
	}
	return out, nil
}

// orderKeys evaluates the ORDER BY expressions for one projected row. An
// expression that prints identically to a projected column reuses the
// projected value, which is how aliases and aggregate keys resolve.
func (x *Executor) orderKeys(st *execState, clause *ReturnClause, columns []string, values []any, eval func(Expr) (any, error)) ([]any, error) {
	if len(clause.OrderBy) == 0 {
		return nil, nil
	}
	keys := make([]any, len(clause.OrderBy))
	for i, item := range clause.OrderBy {
		printed := item.Expr.String()
		found := false
		for ci, column := range columns {
			if column == printed {
				keys[i] = values[ci]
				found = true
				break
			}
		}
		if found {
			continue
		}
		v, err := eval(item.Expr)
		if err != nil {
			return nil, err
		}
		keys[i] = v
	}
	return keys, nil
}

// applySkipLimit discards a prefix per SKIP and truncates per LIMIT, in
// that order.
func (x *Executor) applySkipLimit(st *execState, clause *ReturnClause, rows []projectedRow) ([]projectedRow, error) {
	if clause.Skip != nil {
		n, err := x.paginationCount(st, "SKIP", clause.Skip)
		if err != nil {
			return nil, err
		}
		if n >= len(rows) {
			rows = nil
		} else {
			rows = rows[n:]
		}
	}
	if clause.Limit != nil {
		n, err := x.paginationCount(st, "LIMIT", clause.Limit)
		if err != nil {
			return nil, err
		}
		if n < len(rows) {
			rows = rows[:n]
		}
	}
	return rows, nil
}

func (x *Executor) paginationCount(st *execState, what string, expr Expr) (int, error) {
	v, err := st.ev.eval(expr, binding{})
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok || n < 0 {
		return 0, evalErrorf("%s requires a non-negative integer, got %s", what, formatValue(v))
	}
	return int(n), nil
}
