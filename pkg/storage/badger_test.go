package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	engine, err := NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerNodeRoundTrip(t *testing.T) {
	b := newTestBadger(t)

	node, err := b.CreateNode([]string{"Topic"}, map[string]any{
		"title": "graphs",
		"views": int64(7),
	})
	require.NoError(t, err)

	got, err := b.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Topic"}, got.Labels)
	assert.Equal(t, "graphs", got.Properties["title"])
	// Properties come back through JSON; integral values must stay int64.
	assert.Equal(t, int64(7), got.Properties["views"])
}

func TestBadgerLabelIndex(t *testing.T) {
	b := newTestBadger(t)

	node, err := b.CreateNode([]string{"Topic"}, map[string]any{"title": "a"})
	require.NoError(t, err)
	_, err = b.CreateNode([]string{"User"}, nil)
	require.NoError(t, err)

	topics, err := b.LookupNodes("Topic", nil)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, node.ID, topics[0].ID)

	node.Labels = []string{"User"}
	require.NoError(t, b.UpdateNode(node))

	topics, err = b.LookupNodes("Topic", nil)
	require.NoError(t, err)
	assert.Empty(t, topics)
	users, err := b.LookupNodes("User", nil)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestBadgerIncidenceIndex(t *testing.T) {
	b := newTestBadger(t)

	a, err := b.CreateNode(nil, nil)
	require.NoError(t, err)
	c, err := b.CreateNode(nil, nil)
	require.NoError(t, err)
	edge, err := b.CreateEdge(a.ID, c.ID, "LINKS", nil)
	require.NoError(t, err)

	out, err := b.IncidentEdges(a.ID, "", DirOutgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, edge.ID, out[0].ID)

	in, err := b.IncidentEdges(c.ID, "", DirIncoming)
	require.NoError(t, err)
	assert.Len(t, in, 1)

	none, err := b.IncidentEdges(a.ID, "", DirIncoming)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.ErrorIs(t, b.DeleteNode(a.ID), ErrHasEdges)
	require.NoError(t, b.DeleteEdge(edge.ID))
	assert.NoError(t, b.DeleteNode(a.ID))
}

func TestBadgerTransactionCommit(t *testing.T) {
	b := newTestBadger(t)

	tx, err := b.Begin()
	require.NoError(t, err)
	node, err := tx.CreateNode([]string{"Topic"}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := b.GetNode(node.ID)
	require.NoError(t, err)
	assert.True(t, got.HasLabel("Topic"))
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngineWithOptions(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	node, err := engine.CreateNode([]string{"Topic"}, map[string]any{"title": "kept"})
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngineWithOptions(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Properties["title"])

	// The ID counter is persisted, so new nodes never collide with old ones.
	fresh, err := reopened.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, node.ID, fresh.ID)
}

func TestBadgerClosedEngine(t *testing.T) {
	engine, err := NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	_, err = engine.CreateNode(nil, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)
}
