package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NODE CRUD
// =============================================================================

func TestMemoryCreateAndGetNode(t *testing.T) {
	m := NewMemoryEngine()

	node, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": "graphs"})
	require.NoError(t, err)
	require.NotEmpty(t, node.ID)

	got, err := m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)
	assert.Equal(t, []string{"Topic"}, got.Labels)
	assert.Equal(t, "graphs", got.Properties["title"])
}

func TestMemoryGetNodeNotFound(t *testing.T) {
	m := NewMemoryEngine()

	_, err := m.GetNode("n999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateNodeDedupesLabels(t *testing.T) {
	m := NewMemoryEngine()

	node, err := m.CreateNode([]string{"Topic", "Topic", "Page"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Topic", "Page"}, node.Labels)
}

func TestMemoryUpdateNode(t *testing.T) {
	m := NewMemoryEngine()

	node, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": "old"})
	require.NoError(t, err)

	node.Labels = []string{"Page"}
	node.Properties["title"] = "new"
	require.NoError(t, m.UpdateNode(node))

	got, err := m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Page"}, got.Labels)
	assert.Equal(t, "new", got.Properties["title"])

	// The label index must follow the relabel.
	topics, err := m.LookupNodes("Topic", nil)
	require.NoError(t, err)
	assert.Empty(t, topics)
	pages, err := m.LookupNodes("Page", nil)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestMemoryUpdateNodeMissing(t *testing.T) {
	m := NewMemoryEngine()

	err := m.UpdateNode(&Node{ID: "n42"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteNode(t *testing.T) {
	m := NewMemoryEngine()

	node, err := m.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.DeleteNode(node.ID))

	_, err = m.GetNode(node.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := m.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryDeleteNodeWithEdgesFails(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	_, err = m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.DeleteNode(a.ID), ErrHasEdges)
	assert.ErrorIs(t, m.DeleteNode(b.ID), ErrHasEdges)
}

// =============================================================================
// EDGE CRUD
// =============================================================================

func TestMemoryCreateEdge(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)

	edge, err := m.CreateEdge(a.ID, b.ID, "LINKS", map[string]any{"weight": int64(3)})
	require.NoError(t, err)
	assert.Equal(t, a.ID, edge.StartNode)
	assert.Equal(t, b.ID, edge.EndNode)
	assert.Equal(t, "LINKS", edge.Type)

	got, err := m.GetEdge(edge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Properties["weight"])
}

func TestMemoryCreateEdgeMissingEndpoint(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)

	_, err = m.CreateEdge(a.ID, "n999", "LINKS", nil)
	assert.ErrorIs(t, err, ErrInvalidEdge)
	_, err = m.CreateEdge("n999", a.ID, "LINKS", nil)
	assert.ErrorIs(t, err, ErrInvalidEdge)
}

func TestMemoryUpdateEdgeKeepsEndpointsAndType(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	edge, err := m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	edge.StartNode = b.ID
	edge.Type = "OTHER"
	edge.Properties = map[string]any{"weight": int64(5)}
	require.NoError(t, m.UpdateEdge(edge))

	got, err := m.GetEdge(edge.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.StartNode)
	assert.Equal(t, "LINKS", got.Type)
	assert.Equal(t, int64(5), got.Properties["weight"])
}

func TestMemoryDeleteEdgeFreesNode(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	edge, err := m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteEdge(edge.ID))
	assert.NoError(t, m.DeleteNode(a.ID))
	assert.NoError(t, m.DeleteNode(b.ID))
}

// =============================================================================
// LOOKUPS
// =============================================================================

func TestMemoryLookupNodesByLabel(t *testing.T) {
	m := NewMemoryEngine()

	_, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": "a"})
	require.NoError(t, err)
	_, err = m.CreateNode([]string{"Topic"}, map[string]any{"title": "b"})
	require.NoError(t, err)
	_, err = m.CreateNode([]string{"User"}, nil)
	require.NoError(t, err)

	topics, err := m.LookupNodes("Topic", nil)
	require.NoError(t, err)
	assert.Len(t, topics, 2)

	filtered, err := m.LookupNodes("Topic", map[string]any{"title": "b"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].Properties["title"])
}

func TestMemoryIncidentEdgesDirections(t *testing.T) {
	m := NewMemoryEngine()

	a, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	b, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	out, err := m.CreateEdge(a.ID, b.ID, "LINKS", nil)
	require.NoError(t, err)
	in, err := m.CreateEdge(b.ID, a.ID, "LIKES", nil)
	require.NoError(t, err)

	outgoing, err := m.IncidentEdges(a.ID, "", DirOutgoing)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, out.ID, outgoing[0].ID)

	incoming, err := m.IncidentEdges(a.ID, "", DirIncoming)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, in.ID, incoming[0].ID)

	both, err := m.IncidentEdges(a.ID, "", DirBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	typed, err := m.IncidentEdges(a.ID, "LIKES", DirBoth)
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, in.ID, typed[0].ID)
}

func TestMemoryEnumerationFollowsAllocationOrder(t *testing.T) {
	m := NewMemoryEngine()

	var want []NodeID
	for _, title := range []string{"c", "a", "b"} {
		node, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": title})
		require.NoError(t, err)
		want = append(want, node.ID)
	}

	for i := 0; i < 5; i++ {
		nodes, err := m.AllNodes()
		require.NoError(t, err)
		var got []NodeID
		for _, n := range nodes {
			got = append(got, n.ID)
		}
		assert.Equal(t, want, got)
	}
}

// =============================================================================
// COPY-ON-READ AND IDENTIFIERS
// =============================================================================

func TestMemoryReturnsDetachedCopies(t *testing.T) {
	m := NewMemoryEngine()

	node, err := m.CreateNode([]string{"Topic"}, map[string]any{"title": "orig"})
	require.NoError(t, err)

	node.Properties["title"] = "mutated"
	got, err := m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Properties["title"])

	got.Labels[0] = "Mutated"
	again, err := m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "Topic", again.Labels[0])
}

func TestMemoryIDsNeverReused(t *testing.T) {
	m := NewMemoryEngine()

	first, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.DeleteNode(first.ID))

	second, err := m.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryClose(t *testing.T) {
	m := NewMemoryEngine()
	require.NoError(t, m.Close())

	_, err := m.CreateNode(nil, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = m.AllNodes()
	assert.ErrorIs(t, err, ErrStorageClosed)
}
