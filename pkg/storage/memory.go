// Package storage - in-memory engine.
package storage

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryEngine is a thread-safe in-memory graph storage implementation.
//
// Use cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Embedded query evaluation over small graphs
//   - Development and prototyping
//
// Features:
//   - Thread-safe: all operations take an RWMutex
//   - Indexed: label and incident-edge indexes for fast lookups
//   - Copy-on-read: returns copies to prevent external mutation
//   - Monotonic ID allocation: counters are never rewound, so an identifier
//     observed once is never observed again after deletion
//
// Performance characteristics:
//   - Node/edge lookup by ID: O(1)
//   - Node lookup by label: O(k), k = nodes with that label
//   - Incident edges: O(degree)
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Indexes for efficient lookups
	nodesByLabel  map[string]map[NodeID]struct{}
	outgoingEdges map[NodeID]map[EdgeID]struct{}
	incomingEdges map[NodeID]map[EdgeID]struct{}

	// Monotonic allocators. Never decremented, including on transaction
	// rollback, so identities are unique for the store lifetime.
	nextNodeID int64
	nextEdgeID int64

	log    *logrus.Entry
	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine with empty indexes.
//
// The engine is ready for immediate concurrent use. All data lives in RAM
// and is lost when the process exits.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	alice, _ := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	bob, _ := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
//	engine.CreateEdge(alice.ID, bob.ID, "KNOWS", nil)
//
//	people, _ := engine.LookupNodes("Person", nil)
//	fmt.Printf("found %d people\n", len(people))
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		nodesByLabel:  make(map[string]map[NodeID]struct{}),
		outgoingEdges: make(map[NodeID]map[EdgeID]struct{}),
		incomingEdges: make(map[NodeID]map[EdgeID]struct{}),
		log:           logrus.WithField("component", "storage.memory"),
	}
}

// CreateNode creates a node, assigning a fresh identifier.
//
// Labels are deduplicated; the property map is deep-copied.
func (m *MemoryEngine) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	m.nextNodeID++
	node := &Node{
		ID:         NodeID(fmt.Sprintf("n%d", m.nextNodeID)),
		Labels:     dedupeLabels(labels),
		Properties: copyProperties(properties),
	}

	m.nodes[node.ID] = node
	for _, label := range node.Labels {
		m.indexLabel(label, node.ID)
	}
	return copyNode(node), nil
}

// GetNode returns a copy of the node, or ErrNotFound.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return copyNode(node), nil
}

// UpdateNode replaces the stored labels and properties of an existing node.
func (m *MemoryEngine) UpdateNode(node *Node) error {
	if node == nil || node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	old, ok := m.nodes[node.ID]
	if !ok {
		return fmt.Errorf("node %s: %w", node.ID, ErrNotFound)
	}

	for _, label := range old.Labels {
		m.unindexLabel(label, node.ID)
	}
	stored := copyNode(node)
	stored.Labels = dedupeLabels(stored.Labels)
	m.nodes[node.ID] = stored
	for _, label := range stored.Labels {
		m.indexLabel(label, node.ID)
	}
	return nil
}

// DeleteNode removes a node. It fails with ErrHasEdges while any incident
// relationship remains; the caller (DETACH DELETE) must remove edges first.
func (m *MemoryEngine) DeleteNode(id NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if len(m.outgoingEdges[id]) > 0 || len(m.incomingEdges[id]) > 0 {
		return fmt.Errorf("node %s: %w", id, ErrHasEdges)
	}

	for _, label := range node.Labels {
		m.unindexLabel(label, id)
	}
	delete(m.nodes, id)
	delete(m.outgoingEdges, id)
	delete(m.incomingEdges, id)
	return nil
}

// CreateEdge creates a relationship between two existing nodes.
func (m *MemoryEngine) CreateEdge(start, end NodeID, edgeType string, properties map[string]any) (*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.nodes[start]; !ok {
		return nil, fmt.Errorf("start node %s: %w", start, ErrInvalidEdge)
	}
	if _, ok := m.nodes[end]; !ok {
		return nil, fmt.Errorf("end node %s: %w", end, ErrInvalidEdge)
	}

	m.nextEdgeID++
	edge := &Edge{
		ID:         EdgeID(fmt.Sprintf("e%d", m.nextEdgeID)),
		StartNode:  start,
		EndNode:    end,
		Type:       edgeType,
		Properties: copyProperties(properties),
	}

	m.edges[edge.ID] = edge
	if m.outgoingEdges[start] == nil {
		m.outgoingEdges[start] = make(map[EdgeID]struct{})
	}
	m.outgoingEdges[start][edge.ID] = struct{}{}
	if m.incomingEdges[end] == nil {
		m.incomingEdges[end] = make(map[EdgeID]struct{})
	}
	m.incomingEdges[end][edge.ID] = struct{}{}
	return copyEdge(edge), nil
}

// GetEdge returns a copy of the edge, or ErrNotFound.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	edge, ok := m.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	return copyEdge(edge), nil
}

// UpdateEdge replaces the stored properties of an existing edge. Endpoints
// and type are immutable after creation.
func (m *MemoryEngine) UpdateEdge(edge *Edge) error {
	if edge == nil || edge.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	old, ok := m.edges[edge.ID]
	if !ok {
		return fmt.Errorf("edge %s: %w", edge.ID, ErrNotFound)
	}

	stored := copyEdge(edge)
	stored.StartNode = old.StartNode
	stored.EndNode = old.EndNode
	stored.Type = old.Type
	m.edges[edge.ID] = stored
	return nil
}

// DeleteEdge removes a relationship.
func (m *MemoryEngine) DeleteEdge(id EdgeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	edge, ok := m.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}

	delete(m.edges, id)
	delete(m.outgoingEdges[edge.StartNode], id)
	delete(m.incomingEdges[edge.EndNode], id)
	return nil
}

// LookupNodes returns nodes carrying the label (empty = all) whose
// properties contain every entry of filter.
func (m *MemoryEngine) LookupNodes(label string, filter map[string]any) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Node
	if label == "" {
		for _, node := range m.nodes {
			if matchesFilter(node.Properties, filter) {
				out = append(out, copyNode(node))
			}
		}
		sortNodes(out)
		return out, nil
	}

	for id := range m.nodesByLabel[label] {
		node := m.nodes[id]
		if matchesFilter(node.Properties, filter) {
			out = append(out, copyNode(node))
		}
	}
	sortNodes(out)
	return out, nil
}

// IncidentEdges enumerates relationships of a node filtered by type and
// direction. An empty edgeType matches any type.
func (m *MemoryEngine) IncidentEdges(id NodeID, edgeType string, dir Direction) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Edge
	appendMatching := func(ids map[EdgeID]struct{}) {
		for eid := range ids {
			edge := m.edges[eid]
			if edgeType == "" || edge.Type == edgeType {
				out = append(out, copyEdge(edge))
			}
		}
	}

	switch dir {
	case DirOutgoing:
		appendMatching(m.outgoingEdges[id])
	case DirIncoming:
		appendMatching(m.incomingEdges[id])
	case DirBoth:
		appendMatching(m.outgoingEdges[id])
		// Self-loops appear in both indexes; skip the duplicate.
		for eid := range m.incomingEdges[id] {
			edge := m.edges[eid]
			if edge.StartNode == edge.EndNode {
				continue
			}
			if edgeType == "" || edge.Type == edgeType {
				out = append(out, copyEdge(edge))
			}
		}
	}
	sortEdges(out)
	return out, nil
}

// AllNodes returns copies of every node.
func (m *MemoryEngine) AllNodes() ([]*Node, error) {
	return m.LookupNodes("", nil)
}

// AllEdges returns copies of every edge.
func (m *MemoryEngine) AllEdges() ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Edge, 0, len(m.edges))
	for _, edge := range m.edges {
		out = append(out, copyEdge(edge))
	}
	sortEdges(out)
	return out, nil
}

// NodeCount returns the number of nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// EdgeCount returns the number of edges.
func (m *MemoryEngine) EdgeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// Begin opens a buffered transaction view over this engine.
func (m *MemoryEngine) Begin() (*Transaction, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrStorageClosed
	}
	return newTransaction(m), nil
}

// Close marks the engine closed. Further operations fail with
// ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.log.WithFields(logrus.Fields{
		"nodes": len(m.nodes),
		"edges": len(m.edges),
	}).Debug("memory engine closed")
	return nil
}

// allocateNodeID hands out the next node identifier. Counters only move
// forward; a rolled-back transaction leaves a gap rather than reusing IDs.
func (m *MemoryEngine) allocateNodeID() NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNodeID++
	return NodeID(fmt.Sprintf("n%d", m.nextNodeID))
}

func (m *MemoryEngine) allocateEdgeID() EdgeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEdgeID++
	return EdgeID(fmt.Sprintf("e%d", m.nextEdgeID))
}

// applyBatch applies a committed transaction under one lock acquisition.
// Order matters: edge deletions free nodes for deletion, node insertions
// precede edges that reference them.
func (m *MemoryEngine) applyBatch(batch *txBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	for _, id := range batch.deleteEdges {
		edge, ok := m.edges[id]
		if !ok {
			continue
		}
		delete(m.edges, id)
		delete(m.outgoingEdges[edge.StartNode], id)
		delete(m.incomingEdges[edge.EndNode], id)
	}
	for _, id := range batch.deleteNodes {
		node, ok := m.nodes[id]
		if !ok {
			continue
		}
		for _, label := range node.Labels {
			m.unindexLabel(label, id)
		}
		delete(m.nodes, id)
		delete(m.outgoingEdges, id)
		delete(m.incomingEdges, id)
	}
	for _, node := range batch.insertNodes {
		stored := copyNode(node)
		m.nodes[stored.ID] = stored
		for _, label := range stored.Labels {
			m.indexLabel(label, stored.ID)
		}
	}
	for _, edge := range batch.insertEdges {
		stored := copyEdge(edge)
		m.edges[stored.ID] = stored
		if m.outgoingEdges[stored.StartNode] == nil {
			m.outgoingEdges[stored.StartNode] = make(map[EdgeID]struct{})
		}
		m.outgoingEdges[stored.StartNode][stored.ID] = struct{}{}
		if m.incomingEdges[stored.EndNode] == nil {
			m.incomingEdges[stored.EndNode] = make(map[EdgeID]struct{})
		}
		m.incomingEdges[stored.EndNode][stored.ID] = struct{}{}
	}
	for _, node := range batch.updateNodes {
		old, ok := m.nodes[node.ID]
		if !ok {
			return fmt.Errorf("node %s vanished during commit: %w", node.ID, ErrNotFound)
		}
		for _, label := range old.Labels {
			m.unindexLabel(label, node.ID)
		}
		stored := copyNode(node)
		m.nodes[node.ID] = stored
		for _, label := range stored.Labels {
			m.indexLabel(label, node.ID)
		}
	}
	for _, edge := range batch.updateEdges {
		if _, ok := m.edges[edge.ID]; !ok {
			return fmt.Errorf("edge %s vanished during commit: %w", edge.ID, ErrNotFound)
		}
		m.edges[edge.ID] = copyEdge(edge)
	}
	return nil
}

func (m *MemoryEngine) indexLabel(label string, id NodeID) {
	if m.nodesByLabel[label] == nil {
		m.nodesByLabel[label] = make(map[NodeID]struct{})
	}
	m.nodesByLabel[label][id] = struct{}{}
}

func (m *MemoryEngine) unindexLabel(label string, id NodeID) {
	if ids, ok := m.nodesByLabel[label]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.nodesByLabel, label)
		}
	}
}

func dedupeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if _, dup := seen[l]; dup || l == "" {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
