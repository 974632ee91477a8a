// Package storage - buffered transactions for atomic query submissions.
//
// A Transaction is a read-your-writes overlay over an Engine. All writes are
// buffered in the transaction; reads merge the buffer with the base engine,
// so a submission sees its own earlier mutations. Commit applies the whole
// buffer under a single engine lock; Rollback discards it, leaving the base
// engine exactly as it was when the transaction began.
//
// Transactions give the query executor submission atomicity: a multi-
// statement query either commits every mutation or none of them. They do not
// implement concurrency control beyond the base engine's locking; the store
// assumes exclusive write access during a submission.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxActive     TxStatus = "active"
	TxCommitted  TxStatus = "committed"
	TxRolledBack TxStatus = "rolled_back"
)

// txBackend is what a Transaction needs from its base engine: Engine reads,
// monotonic ID allocation that survives rollback, and an atomic batch apply.
type txBackend interface {
	Engine
	allocateNodeID() NodeID
	allocateEdgeID() EdgeID
	applyBatch(batch *txBatch) error
}

// txBatch is the buffered effect of a transaction, in apply order.
type txBatch struct {
	deleteEdges []EdgeID
	deleteNodes []NodeID
	insertNodes []*Node
	insertEdges []*Edge
	updateNodes []*Node
	updateEdges []*Edge
}

// Transaction is a buffered read-your-writes view over an Engine.
//
// It implements Engine, so the query executor runs against it unchanged.
// Not safe for concurrent use; one submission owns one transaction.
type Transaction struct {
	mu        sync.Mutex
	id        string
	startTime time.Time
	status    TxStatus
	base      txBackend
	log       *logrus.Entry

	// Pending state. pendingNodes/pendingEdges hold the latest in-tx state
	// of entities created or updated here; created* distinguish inserts
	// from updates at commit time; deleted* shadow base entities.
	pendingNodes map[NodeID]*Node
	pendingEdges map[EdgeID]*Edge
	createdNodes map[NodeID]struct{}
	createdEdges map[EdgeID]struct{}
	deletedNodes map[NodeID]struct{}
	deletedEdges map[EdgeID]struct{}
}

func newTransaction(base txBackend) *Transaction {
	id := uuid.NewString()
	return &Transaction{
		id:           id,
		startTime:    time.Now(),
		status:       TxActive,
		base:         base,
		log:          logrus.WithFields(logrus.Fields{"component": "storage.tx", "tx": id}),
		pendingNodes: make(map[NodeID]*Node),
		pendingEdges: make(map[EdgeID]*Edge),
		createdNodes: make(map[NodeID]struct{}),
		createdEdges: make(map[EdgeID]struct{}),
		deletedNodes: make(map[NodeID]struct{}),
		deletedEdges: make(map[EdgeID]struct{}),
	}
}

// ID returns the transaction identifier.
func (t *Transaction) ID() string { return t.id }

// Status returns the transaction lifecycle state.
func (t *Transaction) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) ensureActive() error {
	if t.status != TxActive {
		return fmt.Errorf("transaction %s is %s: %w", t.id, t.status, ErrStorageClosed)
	}
	return nil
}

// CreateNode buffers a node creation. The identifier comes from the base
// engine's monotonic allocator, so it stays unique even if this transaction
// rolls back.
func (t *Transaction) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}

	node := &Node{
		ID:         t.base.allocateNodeID(),
		Labels:     dedupeLabels(labels),
		Properties: copyProperties(properties),
	}
	t.pendingNodes[node.ID] = node
	t.createdNodes[node.ID] = struct{}{}
	return copyNode(node), nil
}

// GetNode reads through the buffer: deletions shadow the base, pending
// states win over base states.
func (t *Transaction) GetNode(id NodeID) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	return t.getNodeLocked(id)
}

func (t *Transaction) getNodeLocked(id NodeID) (*Node, error) {
	if _, gone := t.deletedNodes[id]; gone {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if node, ok := t.pendingNodes[id]; ok {
		return copyNode(node), nil
	}
	return t.base.GetNode(id)
}

// UpdateNode buffers a node replacement.
func (t *Transaction) UpdateNode(node *Node) error {
	if node == nil || node.ID == "" {
		return ErrInvalidID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}
	if _, err := t.getNodeLocked(node.ID); err != nil {
		return err
	}

	stored := copyNode(node)
	stored.Labels = dedupeLabels(stored.Labels)
	t.pendingNodes[node.ID] = stored
	return nil
}

// DeleteNode buffers a node deletion. Incident relationships are checked
// against the merged view, matching the engine's ErrHasEdges contract.
func (t *Transaction) DeleteNode(id NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}
	if _, err := t.getNodeLocked(id); err != nil {
		return err
	}

	incident, err := t.incidentLocked(id, "", DirBoth)
	if err != nil {
		return err
	}
	if len(incident) > 0 {
		return fmt.Errorf("node %s: %w", id, ErrHasEdges)
	}

	if _, created := t.createdNodes[id]; created {
		delete(t.createdNodes, id)
		delete(t.pendingNodes, id)
		return nil
	}
	delete(t.pendingNodes, id)
	t.deletedNodes[id] = struct{}{}
	return nil
}

// CreateEdge buffers an edge creation between nodes visible in this view.
func (t *Transaction) CreateEdge(start, end NodeID, edgeType string, properties map[string]any) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	if _, err := t.getNodeLocked(start); err != nil {
		return nil, fmt.Errorf("start node %s: %w", start, ErrInvalidEdge)
	}
	if _, err := t.getNodeLocked(end); err != nil {
		return nil, fmt.Errorf("end node %s: %w", end, ErrInvalidEdge)
	}

	edge := &Edge{
		ID:         t.base.allocateEdgeID(),
		StartNode:  start,
		EndNode:    end,
		Type:       edgeType,
		Properties: copyProperties(properties),
	}
	t.pendingEdges[edge.ID] = edge
	t.createdEdges[edge.ID] = struct{}{}
	return copyEdge(edge), nil
}

// GetEdge reads through the buffer.
func (t *Transaction) GetEdge(id EdgeID) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	return t.getEdgeLocked(id)
}

func (t *Transaction) getEdgeLocked(id EdgeID) (*Edge, error) {
	if _, gone := t.deletedEdges[id]; gone {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	if edge, ok := t.pendingEdges[id]; ok {
		return copyEdge(edge), nil
	}
	return t.base.GetEdge(id)
}

// UpdateEdge buffers an edge property replacement.
func (t *Transaction) UpdateEdge(edge *Edge) error {
	if edge == nil || edge.ID == "" {
		return ErrInvalidID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}
	old, err := t.getEdgeLocked(edge.ID)
	if err != nil {
		return err
	}

	stored := copyEdge(edge)
	stored.StartNode = old.StartNode
	stored.EndNode = old.EndNode
	stored.Type = old.Type
	t.pendingEdges[edge.ID] = stored
	return nil
}

// DeleteEdge buffers an edge deletion.
func (t *Transaction) DeleteEdge(id EdgeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}
	if _, err := t.getEdgeLocked(id); err != nil {
		return err
	}

	if _, created := t.createdEdges[id]; created {
		delete(t.createdEdges, id)
		delete(t.pendingEdges, id)
		return nil
	}
	delete(t.pendingEdges, id)
	t.deletedEdges[id] = struct{}{}
	return nil
}

// LookupNodes merges base results with the pending buffer.
func (t *Transaction) LookupNodes(label string, filter map[string]any) ([]*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}

	baseNodes, err := t.base.LookupNodes(label, filter)
	if err != nil {
		return nil, err
	}

	var out []*Node
	for _, node := range baseNodes {
		if _, gone := t.deletedNodes[node.ID]; gone {
			continue
		}
		// A pending update may have changed labels or properties; re-check
		// the constraints against the in-tx state instead.
		if _, pending := t.pendingNodes[node.ID]; pending {
			continue
		}
		out = append(out, node)
	}
	for _, node := range t.pendingNodes {
		if label != "" && !node.HasLabel(label) {
			continue
		}
		if !matchesFilter(node.Properties, filter) {
			continue
		}
		out = append(out, copyNode(node))
	}
	sortNodes(out)
	return out, nil
}

// IncidentEdges merges base results with the pending buffer.
func (t *Transaction) IncidentEdges(id NodeID, edgeType string, dir Direction) ([]*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	return t.incidentLocked(id, edgeType, dir)
}

func (t *Transaction) incidentLocked(id NodeID, edgeType string, dir Direction) ([]*Edge, error) {
	baseEdges, err := t.base.IncidentEdges(id, edgeType, dir)
	if err != nil {
		return nil, err
	}

	var out []*Edge
	for _, edge := range baseEdges {
		if _, gone := t.deletedEdges[edge.ID]; gone {
			continue
		}
		if pending, ok := t.pendingEdges[edge.ID]; ok {
			out = append(out, copyEdge(pending))
			continue
		}
		out = append(out, edge)
	}
	for eid := range t.createdEdges {
		edge := t.pendingEdges[eid]
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		if edgeIncident(edge, id, dir) {
			out = append(out, copyEdge(edge))
		}
	}
	sortEdges(out)
	return out, nil
}

func edgeIncident(edge *Edge, id NodeID, dir Direction) bool {
	switch dir {
	case DirOutgoing:
		return edge.StartNode == id
	case DirIncoming:
		return edge.EndNode == id
	default:
		return edge.StartNode == id || edge.EndNode == id
	}
}

// AllNodes merges base results with the pending buffer.
func (t *Transaction) AllNodes() ([]*Node, error) {
	return t.LookupNodes("", nil)
}

// AllEdges merges base results with the pending buffer.
func (t *Transaction) AllEdges() ([]*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return nil, err
	}

	baseEdges, err := t.base.AllEdges()
	if err != nil {
		return nil, err
	}

	var out []*Edge
	for _, edge := range baseEdges {
		if _, gone := t.deletedEdges[edge.ID]; gone {
			continue
		}
		if _, pending := t.pendingEdges[edge.ID]; pending {
			continue
		}
		out = append(out, edge)
	}
	for _, edge := range t.pendingEdges {
		out = append(out, copyEdge(edge))
	}
	sortEdges(out)
	return out, nil
}

// NodeCount counts nodes in the merged view.
func (t *Transaction) NodeCount() (int64, error) {
	nodes, err := t.AllNodes()
	if err != nil {
		return 0, err
	}
	return int64(len(nodes)), nil
}

// EdgeCount counts edges in the merged view.
func (t *Transaction) EdgeCount() (int64, error) {
	edges, err := t.AllEdges()
	if err != nil {
		return 0, err
	}
	return int64(len(edges)), nil
}

// Close rolls the transaction back if it is still active. Satisfies Engine
// so a Transaction can be handed anywhere an Engine is expected.
func (t *Transaction) Close() error {
	if t.Status() == TxActive {
		return t.Rollback()
	}
	return nil
}

// Commit applies the buffered batch to the base engine atomically.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}

	batch := &txBatch{}
	for id := range t.deletedEdges {
		batch.deleteEdges = append(batch.deleteEdges, id)
	}
	for id := range t.deletedNodes {
		batch.deleteNodes = append(batch.deleteNodes, id)
	}
	for id, node := range t.pendingNodes {
		if _, created := t.createdNodes[id]; created {
			batch.insertNodes = append(batch.insertNodes, node)
		} else {
			batch.updateNodes = append(batch.updateNodes, node)
		}
	}
	for id, edge := range t.pendingEdges {
		if _, created := t.createdEdges[id]; created {
			batch.insertEdges = append(batch.insertEdges, edge)
		} else {
			batch.updateEdges = append(batch.updateEdges, edge)
		}
	}

	if err := t.base.applyBatch(batch); err != nil {
		return fmt.Errorf("commit transaction %s: %w", t.id, err)
	}
	t.status = TxCommitted
	t.log.WithFields(logrus.Fields{
		"inserted_nodes": len(batch.insertNodes),
		"inserted_edges": len(batch.insertEdges),
		"deleted_nodes":  len(batch.deleteNodes),
		"deleted_edges":  len(batch.deleteEdges),
		"elapsed":        time.Since(t.startTime),
	}).Debug("transaction committed")
	return nil
}

// Rollback discards the buffer. The base engine is untouched; allocated
// identifiers stay consumed.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureActive(); err != nil {
		return err
	}
	t.status = TxRolledBack
	t.pendingNodes = nil
	t.pendingEdges = nil
	t.log.Debug("transaction rolled back")
	return nil
}
