package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// READ-YOUR-WRITES
// =============================================================================

func TestTransactionSeesOwnWrites(t *testing.T) {
	m := NewMemoryEngine()
	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	node, err := tx.CreateNode([]string{"Topic"}, map[string]any{"title": "pending"})
	require.NoError(t, err)

	got, err := tx.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Properties["title"])

	topics, err := tx.LookupNodes("Topic", nil)
	require.NoError(t, err)
	assert.Len(t, topics, 1)

	// The base engine must not see buffered state.
	_, err = m.GetNode(node.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionShadowsBaseUpdates(t *testing.T) {
	m := NewMemoryEngine()
	base, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": "base"})
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	base.Properties["title"] = "buffered"
	require.NoError(t, tx.UpdateNode(base))

	inTx, err := tx.GetNode(base.ID)
	require.NoError(t, err)
	assert.Equal(t, "buffered", inTx.Properties["title"])

	inBase, err := m.GetNode(base.ID)
	require.NoError(t, err)
	assert.Equal(t, "base", inBase.Properties["title"])
}

func TestTransactionDeletionShadowsBase(t *testing.T) {
	m := NewMemoryEngine()
	node, err := m.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.DeleteNode(node.ID))

	_, err = tx.GetNode(node.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	topics, err := tx.LookupNodes("Topic", nil)
	require.NoError(t, err)
	assert.Empty(t, topics)

	count, err := tx.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTransactionMergesPendingAndBaseEdges(t *testing.T) {
	m := NewMemoryEngine()
	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	baseEdge, err := m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	txEdge, err := tx.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	out, err := tx.IncidentEdges(a.ID, "LINKS", DirOutgoing)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, baseEdge.ID, out[0].ID)
	assert.Equal(t, txEdge.ID, out[1].ID)
}

// =============================================================================
// COMMIT AND ROLLBACK
// =============================================================================

func TestTransactionCommitApplies(t *testing.T) {
	m := NewMemoryEngine()
	tx, err := m.Begin()
	require.NoError(t, err)

	a, err := tx.CreateNode([]string{"Topic"}, map[string]any{"title": "x"})
	require.NoError(t, err)
	b, err := tx.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)
	edge, err := tx.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	assert.Equal(t, TxCommitted, tx.Status())

	got, err := m.GetNode(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Properties["title"])
	_, err = m.GetEdge(edge.ID)
	assert.NoError(t, err)
}

func TestTransactionRollbackDiscards(t *testing.T) {
	m := NewMemoryEngine()
	keep, err := m.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	_, err = tx.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteNode(keep.ID))

	require.NoError(t, tx.Rollback())
	assert.Equal(t, TxRolledBack, tx.Status())

	count, err := m.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	_, err = m.GetNode(keep.ID)
	assert.NoError(t, err)
}

func TestTransactionInactiveAfterCommit(t *testing.T) {
	m := NewMemoryEngine()
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.CreateNode(nil, nil)
	assert.Error(t, err)
	assert.Error(t, tx.Commit())
	assert.Error(t, tx.Rollback())
}

func TestTransactionCloseRollsBackActive(t *testing.T) {
	m := NewMemoryEngine()
	tx, err := m.Begin()
	require.NoError(t, err)
	_, err = tx.CreateNode(nil, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Close())
	assert.Equal(t, TxRolledBack, tx.Status())

	count, err := m.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Closing a finished transaction is a no-op.
	assert.NoError(t, tx.Close())
}

func TestTransactionIDsSurviveRollback(t *testing.T) {
	m := NewMemoryEngine()

	tx, err := m.Begin()
	require.NoError(t, err)
	rolled, err := tx.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	committed, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, rolled.ID, committed.ID)
}

// =============================================================================
// CONSTRAINTS IN THE MERGED VIEW
// =============================================================================

func TestTransactionDeleteNodeWithPendingEdgeFails(t *testing.T) {
	m := NewMemoryEngine()
	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	_, err = tx.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.DeleteNode(a.ID), ErrHasEdges)
}

func TestTransactionDeleteNodeAfterDeletingEdges(t *testing.T) {
	m := NewMemoryEngine()
	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	edge, err := m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.DeleteEdge(edge.ID))
	require.NoError(t, tx.DeleteNode(a.ID))
	require.NoError(t, tx.Commit())

	_, err = m.GetNode(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetEdge(edge.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetNode(b.ID)
	assert.NoError(t, err)
}

func TestTransactionCreateEdgeRequiresVisibleEndpoints(t *testing.T) {
	m := NewMemoryEngine()
	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)

	tx, err := m.Begin()
	require.NoError(t, err)
	defer tx.Close()

	_, err = tx.CreateEdge(a.ID, "n999", "LINKS", nil)
	assert.ErrorIs(t, err, ErrInvalidEdge)

	// An endpoint deleted inside the transaction is no longer visible.
	require.NoError(t, tx.DeleteNode(a.ID))
	other, err := tx.CreateNode(nil, nil)
	require.NoError(t, err)
	_, err = tx.CreateEdge(a.ID, other.ID, "LINKS", nil)
	assert.ErrorIs(t, err, ErrInvalidEdge)
}

func TestTransactionCreateThenDeleteLeavesNoTrace(t *testing.T) {
	m := NewMemoryEngine()
	tx, err := m.Begin()
	require.NoError(t, err)

	node, err := tx.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteNode(node.ID))
	require.NoError(t, tx.Commit())

	count, err := m.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
