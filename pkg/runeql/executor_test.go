package runeql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/runedb/pkg/storage"
)

func newTestExecutor(t *testing.T) (*Executor, *storage.MemoryEngine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	return NewExecutor(engine), engine
}

func run(t *testing.T, x *Executor, query string) *Result {
	t.Helper()
	result, err := x.Execute(context.Background(), query, nil)
	require.NoError(t, err, "query: %s", query)
	return result
}

func column(t *testing.T, r *Result, name string) []any {
	t.Helper()
	idx := -1
	for i, col := range r.Columns {
		if col == name {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0, "no column %q in %v", name, r.Columns)
	out := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[idx]
	}
	return out
}

// ========================================
// CREATE and MATCH
// ========================================

func TestCreateReturnsStats(t *testing.T) {
	x, _ := newTestExecutor(t)
	result := run(t, x, `CREATE (a:User {name: "ada"})-[:KNOWS {since: 1815}]->(b:User {name: "bab"})`)
	assert.Equal(t, 2, result.Stats.NodesCreated)
	assert.Equal(t, 1, result.Stats.RelationshipsCreated)
}

func TestMatchByLabelIsSoundAndComplete(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:Topic {id: 1}); CREATE (:Topic {id: 2}); CREATE (:Topic {id: 3}); CREATE (:User {id: 4})`)

	result := run(t, x, "MATCH (n:Topic) RETURN n")
	require.Len(t, result.Rows, 3)

	seen := map[storage.NodeID]int{}
	for _, row := range result.Rows {
		node, ok := row[0].(*storage.Node)
		require.True(t, ok)
		// Soundness: every binding carries the constrained label.
		assert.True(t, node.HasLabel("Topic"))
		seen[node.ID]++
	}
	// Completeness: each qualifying node appears exactly once.
	assert.Len(t, seen, 3)
	for id, n := range seen {
		assert.Equal(t, 1, n, "node %s", id)
	}
}

func TestMatchPropertyConstraint(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:Topic {author: "user-123", title: "A"}); CREATE (:Topic {author: "other", title: "B"})`)

	result := run(t, x, `MATCH (n:Topic {author: "user-123"}) RETURN n.title`)
	assert.Equal(t, []any{"A"}, column(t, result, "n.title"))
}

func TestMatchWhereFiltering(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:Topic {views: 5}); CREATE (:Topic {views: 15}); CREATE (:Topic {})`)

	// Null comparison results discard the row rather than erroring: the
	// node without views drops out.
	result := run(t, x, "MATCH (n:Topic) WHERE n.views > 10 RETURN n.views")
	assert.Equal(t, []any{int64(15)}, column(t, result, "n.views"))

	// A non-boolean predicate discards every row the same way.
	result = run(t, x, "MATCH (n:Topic) WHERE n.views RETURN n.views")
	assert.Empty(t, result.Rows)
}

func TestMatchRelationshipDirection(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (a:User {name: "ada"})-[:WROTE]->(b:Topic {title: "T"})`)

	out := run(t, x, `MATCH (u:User)-[:WROTE]->(n:Topic) RETURN u.name`)
	assert.Len(t, out.Rows, 1)

	// Reversed direction matches nothing.
	in := run(t, x, `MATCH (u:User)<-[:WROTE]-(n:Topic) RETURN u.name`)
	assert.Empty(t, in.Rows)

	// Undirected matches either way.
	both := run(t, x, `MATCH (u:User)-[:WROTE]-(n:Topic) RETURN u.name`)
	assert.Len(t, both.Rows, 1)
}

func TestMatchSharedVariableJoinsOnIdentity(t *testing.T) {
	x, _ := newTestExecutor(t)
	// Two equal-looking users; only one wrote the topic. The comma parts
	// share u, so the join must pin the identical node, not any equal one.
	run(t, x, `
		CREATE (:User {name: "twin"});
		CREATE (u:User {name: "twin"})-[:WROTE]->(:Topic {title: "T"})`)

	result := run(t, x, `MATCH (u:User), (u)-[:WROTE]->(n:Topic) RETURN u, n`)
	require.Len(t, result.Rows, 1)
}

func TestMatchCrossProductOfIndependentParts(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:A {i: 1}); CREATE (:A {i: 2}); CREATE (:B {j: 1})`)
	result := run(t, x, "MATCH (a:A), (b:B) RETURN a.i, b.j")
	assert.Len(t, result.Rows, 2)
}

// ========================================
// Variable-length paths
// ========================================

func TestVariableLengthChain(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:N {name: "a"})-[:L]->(:N {name: "b"})-[:L]->(:N {name: "c"})-[:L]->(:N {name: "d"})`)

	// [1..3] anchored at a on a 4-node chain: exactly paths of length
	// 1, 2, and 3. Never length 0 or 4, never a duplicate.
	result := run(t, x, `MATCH (s:N {name: "a"})-[*1..3]->(e) RETURN e.name ORDER BY e.name`)
	assert.Equal(t, []any{"b", "c", "d"}, column(t, result, "e.name"))
}

func TestVariableLengthDoesNotReuseRelationships(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:N {name: "a"})-[:L]->(:N {name: "b"})`)

	// Undirected expansion may not walk the single edge back and forth.
	result := run(t, x, `MATCH (s:N {name: "a"})-[*1..2]-(e) RETURN e.name`)
	assert.Equal(t, []any{"b"}, column(t, result, "e.name"))
}

func TestVariableLengthRevisitsNodesOnCycles(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `
		CREATE (a:N {name: "a"})-[:L]->(b:N {name: "b"});
		MATCH (b:N {name: "b"}); MATCH (a:N {name: "a"}); CREATE (b)-[:L]->(a)`)

	// Two distinct edges form a cycle: length 2 returns to the anchor.
	result := run(t, x, `MATCH (s:N {name: "a"})-[*2]->(e) RETURN e.name`)
	assert.Equal(t, []any{"a"}, column(t, result, "e.name"))
}

func TestVariableLengthUnboundedTerminates(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:N {name: "a"})-[:L]->(:N {name: "b"})-[:L]->(:N {name: "c"})`)
	result := run(t, x, `MATCH (s:N {name: "a"})-[*]->(e) RETURN e.name ORDER BY e.name`)
	assert.Equal(t, []any{"b", "c"}, column(t, result, "e.name"))
}

func TestVariableLengthZeroMinIncludesAnchor(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:N {name: "a"})-[:L]->(:N {name: "b"})`)
	result := run(t, x, `MATCH (s:N {name: "a"})-[*0..1]->(e) RETURN e.name ORDER BY e.name`)
	assert.Equal(t, []any{"a", "b"}, column(t, result, "e.name"))
}

// ========================================
// MERGE
// ========================================

func TestMergeIsIdempotent(t *testing.T) {
	x, engine := newTestExecutor(t)
	run(t, x, `MERGE (n:Topic {id: "t1"})`)
	run(t, x, `MERGE (n:Topic {id: "t1"})`)

	count, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	result := run(t, x, `MATCH (n:Topic {id: "t1"}) RETURN n.id`)
	assert.Equal(t, []any{"t1"}, column(t, result, "n.id"))
}

func TestMergeOnCreateOnMatch(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `MERGE (n:Topic {id: "t1"}) ON CREATE SET n.created = true ON MATCH SET n.matched = true`)
	first := run(t, x, `MATCH (n:Topic {id: "t1"}) RETURN n.created, n.matched`)
	assert.Equal(t, []any{true}, column(t, first, "n.created"))
	assert.Equal(t, []any{nil}, column(t, first, "n.matched"))

	run(t, x, `MERGE (n:Topic {id: "t1"}) ON CREATE SET n.created = true ON MATCH SET n.matched = true`)
	second := run(t, x, `MATCH (n:Topic {id: "t1"}) RETURN n.matched`)
	assert.Equal(t, []any{true}, column(t, second, "n.matched"))
}

func TestMergeAmbiguityFailsLoudly(t *testing.T) {
	x, engine := newTestExecutor(t)
	run(t, x, `CREATE (:Topic {id: "t1"}); CREATE (:Topic {id: "t1"})`)

	_, err := x.Execute(context.Background(), `MERGE (n:Topic {id: "t1"})`, nil)
	var ambErr *MergeAmbiguityError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, 2, ambErr.Matches)

	// Nothing was silently picked or mutated.
	count, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// ========================================
// RETURN modifiers
// ========================================

func seedTitles(t *testing.T, x *Executor) {
	run(t, x, `
		CREATE (:Topic {title: "b"});
		CREATE (:Topic {title: "d"});
		CREATE (:Topic {title: "a"});
		CREATE (:Topic {title: "e"});
		CREATE (:Topic {title: "c"})`)
}

func TestOrderSkipLimit(t *testing.T) {
	x, _ := newTestExecutor(t)
	seedTitles(t, x)

	// SKIP applies before LIMIT regardless of textual order: the 2nd and
	// 3rd titles ascending.
	result := run(t, x, `MATCH (n) RETURN n.title ORDER BY n.title LIMIT 2 SKIP 1`)
	assert.Equal(t, []any{"b", "c"}, column(t, result, "n.title"))
}

func TestOrderByIsStable(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `
		CREATE (:T {g: 1, i: "first"});
		CREATE (:T {g: 2, i: "second"});
		CREATE (:T {g: 1, i: "third"})`)

	result := run(t, x, `MATCH (n:T) RETURN n.g, n.i ORDER BY n.g`)
	// Equal keys keep match order: the g=1 rows stay in creation order.
	assert.Equal(t, []any{"first", "third", "second"}, column(t, result, "n.i"))
}

func TestOrderByNullsSortLast(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 2}); CREATE (:T {}); CREATE (:T {v: 1})`)
	result := run(t, x, `MATCH (n:T) RETURN n.v ORDER BY n.v`)
	assert.Equal(t, []any{int64(1), int64(2), nil}, column(t, result, "n.v"))
}

func TestReturnDistinct(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 1}); CREATE (:T {v: 1}); CREATE (:T {v: 2})`)
	result := run(t, x, `MATCH (n:T) RETURN DISTINCT n.v ORDER BY n.v`)
	assert.Equal(t, []any{int64(1), int64(2)}, column(t, result, "n.v"))
}

func TestReturnAlias(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 3})`)
	result := run(t, x, `MATCH (n:T) RETURN n.v AS value ORDER BY value`)
	assert.Equal(t, []string{"value"}, result.Columns)
	assert.Equal(t, []any{int64(3)}, column(t, result, "value"))
}

// ========================================
// Aggregation
// ========================================

func TestImplicitGrouping(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `
		CREATE (:Topic {author: "ada", views: 10});
		CREATE (:Topic {author: "ada", views: 20});
		CREATE (:Topic {author: "bab", views: 5})`)

	result := run(t, x, `MATCH (n:Topic) RETURN n.author, count(*), sum(n.views) ORDER BY n.author`)
	assert.Equal(t, []any{"ada", "bab"}, column(t, result, "n.author"))
	assert.Equal(t, []any{int64(2), int64(1)}, column(t, result, "count(*)"))
	assert.Equal(t, []any{int64(30), int64(5)}, column(t, result, "sum(n.views)"))
}

func TestAggregatesSkipNulls(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 1}); CREATE (:T {}); CREATE (:T {v: 3})`)

	result := run(t, x, `MATCH (n:T) RETURN count(n.v), sum(n.v), avg(n.v), min(n.v), max(n.v), collect(n.v)`)
	row := result.Rows[0]
	assert.Equal(t, int64(2), row[0])
	assert.Equal(t, int64(4), row[1])
	assert.Equal(t, 2.0, row[2])
	assert.Equal(t, int64(1), row[3])
	assert.Equal(t, int64(3), row[4])
	assert.ElementsMatch(t, []any{int64(1), int64(3)}, row[5].([]any))
}

func TestCountDistinct(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {a: "x"}); CREATE (:T {a: "x"}); CREATE (:T {a: "y"})`)
	result := run(t, x, `MATCH (n:T) RETURN count(DISTINCT n.a)`)
	assert.Equal(t, int64(2), result.Rows[0][0])
}

func TestPureAggregateOverEmptyMatchYieldsOneRow(t *testing.T) {
	x, _ := newTestExecutor(t)
	result := run(t, x, `MATCH (n:Nothing) RETURN count(*)`)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(0), result.Rows[0][0])
}

// ========================================
// SET and REMOVE
// ========================================

func TestSetProperty(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 1}); MATCH (n:T); SET n.v = 2, n.w = "new"`)
	result := run(t, x, `MATCH (n:T) RETURN n.v, n.w`)
	assert.Equal(t, []any{int64(2)}, column(t, result, "n.v"))
	assert.Equal(t, []any{"new"}, column(t, result, "n.w"))
}

func TestSetNullRemovesKey(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {v: 1}); MATCH (n:T); SET n.v = NULL`)

	// The key is gone, not stored as a null entry.
	result := run(t, x, `MATCH (n:T) RETURN n.v IS NULL, keys(n)`)
	assert.Equal(t, []any{true}, column(t, result, "n.v IS NULL"))
	assert.Equal(t, []any{[]any{}}, column(t, result, "keys(n)"))
}

func TestSetReplaceAndMerge(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T {a: 1, b: 2}); MATCH (n:T); SET n = {c: 3}`)
	replaced := run(t, x, `MATCH (n:T) RETURN n.a, n.c`)
	assert.Equal(t, []any{nil}, column(t, replaced, "n.a"))
	assert.Equal(t, []any{int64(3)}, column(t, replaced, "n.c"))

	run(t, x, `MATCH (n:T); SET n += {d: 4, c: NULL}`)
	merged := run(t, x, `MATCH (n:T) RETURN n.c, n.d`)
	assert.Equal(t, []any{nil}, column(t, merged, "n.c"))
	assert.Equal(t, []any{int64(4)}, column(t, merged, "n.d"))
}

func TestRemovePropertyAndLabel(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:T:Draft {v: 1}); MATCH (n:T); REMOVE n.v, n:Draft`)

	result := run(t, x, `MATCH (n:T) RETURN n.v, labels(n)`)
	assert.Equal(t, []any{nil}, column(t, result, "n.v"))
	assert.Equal(t, []any{[]any{"T"}}, column(t, result, "labels(n)"))

	none := run(t, x, `MATCH (n:Draft) RETURN n`)
	assert.Empty(t, none.Rows)
}

// ========================================
// DELETE
// ========================================

func TestDeleteWithoutDetachFailsOnIncidentEdges(t *testing.T) {
	x, engine := newTestExecutor(t)
	run(t, x, `CREATE (:A {name: "a"})-[:L]->(:B {name: "b"})`)

	_, err := x.Execute(context.Background(), `MATCH (n:A); DELETE n`, nil)
	var constraintErr *ConstraintError
	require.ErrorAs(t, err, &constraintErr)

	// Node and relationship are intact.
	nodes, err := engine.NodeCount()
	require.NoError(t, err)
	edges, err := engine.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), nodes)
	assert.Equal(t, int64(1), edges)
}

func TestDetachDeleteRemovesEdgesFirst(t *testing.T) {
	x, engine := newTestExecutor(t)
	run(t, x, `CREATE (:A {name: "a"})-[:L]->(:B {name: "b"})`)
	result := run(t, x, `MATCH (n:A); DETACH DELETE n`)
	assert.Equal(t, 1, result.Stats.NodesDeleted)
	assert.Equal(t, 1, result.Stats.RelationshipsDeleted)

	nodes, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), nodes)
}

func TestDeleteRelationshipOnly(t *testing.T) {
	x, engine := newTestExecutor(t)
	run(t, x, `CREATE (:A)-[:L]->(:B); MATCH (a:A)-[r:L]->(b:B); DELETE r`)
	edges, err := engine.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), edges)
}

// ========================================
// Submission atomicity and bindings
// ========================================

func TestSubmissionRollsBackOnError(t *testing.T) {
	x, engine := newTestExecutor(t)

	_, err := x.Execute(context.Background(), `CREATE (n:Topic {title: "X"}); DELETE m`, nil)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)

	// The first statement's node never became visible.
	count, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestStatementsShareBindings(t *testing.T) {
	x, _ := newTestExecutor(t)
	result := run(t, x, `CREATE (n:T {v: 1}); SET n.v = 2; RETURN n.v`)
	assert.Equal(t, []any{int64(2)}, column(t, result, "n.v"))
}

func TestLaterStatementsSeeEarlierMutations(t *testing.T) {
	x, _ := newTestExecutor(t)
	result := run(t, x, `CREATE (:T {v: 1}); MATCH (n:T {v: 1}); SET n.v = n.v + 10; MATCH (m:T {v: 11}) RETURN m.v`)
	assert.Equal(t, []any{int64(11)}, column(t, result, "m.v"))
}

func TestIdentitiesAreNeverReused(t *testing.T) {
	x, _ := newTestExecutor(t)
	first := run(t, x, `CREATE (n:T) RETURN id(n)`)
	firstID := first.Rows[0][0]

	run(t, x, `MATCH (n:T); DETACH DELETE n`)

	second := run(t, x, `CREATE (n:T) RETURN id(n)`)
	assert.NotEqual(t, firstID, second.Rows[0][0])
}

func TestRolledBackSubmissionDoesNotRecycleIDs(t *testing.T) {
	x, _ := newTestExecutor(t)
	_, err := x.Execute(context.Background(), `CREATE (n:T); DELETE missing`, nil)
	require.Error(t, err)

	after := run(t, x, `CREATE (n:T) RETURN id(n)`)
	// The failed submission burned its identifier; the new node gets a
	// later one.
	assert.NotEqual(t, "n1", after.Rows[0][0])
}

func TestExecuteWithParameters(t *testing.T) {
	x, _ := newTestExecutor(t)
	run(t, x, `CREATE (:Topic {author: "ada"}); CREATE (:Topic {author: "bab"})`)

	result, err := x.Execute(context.Background(),
		`MATCH (n:Topic {author: $who}) RETURN n.author`,
		map[string]any{"who": "ada"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada"}, column(t, result, "n.author"))
}

func TestStandaloneReturn(t *testing.T) {
	x, _ := newTestExecutor(t)
	result := run(t, x, `RETURN 1 + 1 AS two, "x" AS s`)
	assert.Equal(t, []any{int64(2)}, column(t, result, "two"))
	assert.Equal(t, []any{"x"}, column(t, result, "s"))
}

func TestSyntaxErrorLeavesStoreUntouched(t *testing.T) {
	x, engine := newTestExecutor(t)
	_, err := x.Execute(context.Background(), `CREATE (n:T`, nil)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)

	count, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
