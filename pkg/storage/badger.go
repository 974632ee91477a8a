// Package storage - persistent engine backed by BadgerDB.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key prefixes for BadgerDB storage organization.
// Single-byte prefixes keep keys compact and range scans cheap.
const (
	prefixNode     = byte(0x01) // 0x01 + nodeID            -> JSON(Node)
	prefixEdge     = byte(0x02) // 0x02 + edgeID            -> JSON(Edge)
	prefixLabel    = byte(0x03) // 0x03 + label + 0x00 + id -> empty
	prefixOutgoing = byte(0x04) // 0x04 + nodeID + 0x00 + edgeID -> empty
	prefixIncoming = byte(0x05) // 0x05 + nodeID + 0x00 + edgeID -> empty
	prefixMeta     = byte(0x06) // 0x06 + name              -> uint64
)

var (
	metaNextNode = append([]byte{prefixMeta}, []byte("next_node")...)
	metaNextEdge = append([]byte{prefixMeta}, []byte("next_edge")...)
)

// BadgerEngine provides persistent graph storage using BadgerDB.
//
// Features:
//   - Durable storage with crash recovery
//   - Secondary indexes for labels and incident edges
//   - Thread-safe concurrent access
//   - The same monotonic ID discipline as MemoryEngine, persisted in a
//     meta key so identifiers survive restarts
//
// Key structure:
//   - Nodes:          0x01 + nodeID -> JSON(Node)
//   - Edges:          0x02 + edgeID -> JSON(Edge)
//   - Label index:    0x03 + label + 0x00 + nodeID
//   - Outgoing index: 0x04 + nodeID + 0x00 + edgeID
//   - Incoming index: 0x05 + nodeID + 0x00 + edgeID
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/graph")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db  *badger.DB
	log *logrus.Entry

	// Guards the counters; badger handles data-level concurrency.
	mu         sync.Mutex
	nextNodeID uint64
	nextEdgeID uint64
	closed     bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB without persistence. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower, more durable.
	SyncWrites bool
}

// NewBadgerEngine opens a persistent engine with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions opens a persistent engine with explicit options.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", opts.DataDir, err)
	}

	engine := &BadgerEngine{
		db:  db,
		log: logrus.WithField("component", "storage.badger"),
	}
	if err := engine.loadCounters(); err != nil {
		db.Close()
		return nil, err
	}
	engine.log.WithField("dir", opts.DataDir).Debug("badger engine opened")
	return engine, nil
}

func (b *BadgerEngine) loadCounters() error {
	return b.db.View(func(txn *badger.Txn) error {
		for _, meta := range []struct {
			key  []byte
			dest *uint64
		}{{metaNextNode, &b.nextNodeID}, {metaNextEdge, &b.nextEdgeID}} {
			item, err := txn.Get(meta.key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					*meta.dest = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func nodeKey(id NodeID) []byte { return append([]byte{prefixNode}, id...) }
func edgeKey(id EdgeID) []byte { return append([]byte{prefixEdge}, id...) }

func labelKey(label string, id NodeID) []byte {
	key := append([]byte{prefixLabel}, label...)
	key = append(key, 0x00)
	return append(key, id...)
}

func incidenceKey(prefix byte, nodeID NodeID, edgeID EdgeID) []byte {
	key := append([]byte{prefix}, nodeID...)
	key = append(key, 0x00)
	return append(key, edgeID...)
}

// CreateNode creates a node, assigning a fresh identifier.
func (b *BadgerEngine) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	node := &Node{
		ID:         b.allocateNodeID(),
		Labels:     dedupeLabels(labels),
		Properties: copyProperties(properties),
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return writeNode(txn, node)
	})
	if err != nil {
		return nil, err
	}
	return copyNode(node), nil
}

func writeNode(txn *badger.Txn, node *Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshaling node %s: %w", node.ID, err)
	}
	if err := txn.Set(nodeKey(node.ID), data); err != nil {
		return err
	}
	for _, label := range node.Labels {
		if err := txn.Set(labelKey(label, node.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// GetNode returns the node, or ErrNotFound.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = readNode(txn, id)
		return err
	})
	return node, err
}

func readNode(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var node Node
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node %s: %w", id, err)
	}
	if node.Properties == nil {
		node.Properties = map[string]any{}
	}
	node.Properties = restoreProperties(node.Properties)
	return &node, nil
}

// UpdateNode replaces the stored labels and properties of an existing node.
func (b *BadgerEngine) UpdateNode(node *Node) error {
	if node == nil || node.ID == "" {
		return ErrInvalidID
	}
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		old, err := readNode(txn, node.ID)
		if err != nil {
			return err
		}
		for _, label := range old.Labels {
			if err := txn.Delete(labelKey(label, node.ID)); err != nil {
				return err
			}
		}
		stored := copyNode(node)
		stored.Labels = dedupeLabels(stored.Labels)
		return writeNode(txn, stored)
	})
}

// DeleteNode removes a node, failing with ErrHasEdges while incident
// relationships remain.
func (b *BadgerEngine) DeleteNode(id NodeID) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return deleteNodeTxn(txn, id)
	})
}

func deleteNodeTxn(txn *badger.Txn, id NodeID) error {
	node, err := readNode(txn, id)
	if err != nil {
		return err
	}
	for _, prefix := range []byte{prefixOutgoing, prefixIncoming} {
		scan := append([]byte{prefix}, id...)
		scan = append(scan, 0x00)
		if prefixHasKeys(txn, scan) {
			return fmt.Errorf("node %s: %w", id, ErrHasEdges)
		}
	}
	for _, label := range node.Labels {
		if err := txn.Delete(labelKey(label, id)); err != nil {
			return err
		}
	}
	return txn.Delete(nodeKey(id))
}

func prefixHasKeys(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.ValidForPrefix(prefix)
}

// CreateEdge creates a relationship between two existing nodes.
func (b *BadgerEngine) CreateEdge(start, end NodeID, edgeType string, properties map[string]any) (*Edge, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	edge := &Edge{
		ID:         b.allocateEdgeID(),
		StartNode:  start,
		EndNode:    end,
		Type:       edgeType,
		Properties: copyProperties(properties),
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := readNode(txn, start); err != nil {
			return fmt.Errorf("start node %s: %w", start, ErrInvalidEdge)
		}
		if _, err := readNode(txn, end); err != nil {
			return fmt.Errorf("end node %s: %w", end, ErrInvalidEdge)
		}
		return writeEdge(txn, edge)
	})
	if err != nil {
		return nil, err
	}
	return copyEdge(edge), nil
}

func writeEdge(txn *badger.Txn, edge *Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("marshaling edge %s: %w", edge.ID, err)
	}
	if err := txn.Set(edgeKey(edge.ID), data); err != nil {
		return err
	}
	if err := txn.Set(incidenceKey(prefixOutgoing, edge.StartNode, edge.ID), nil); err != nil {
		return err
	}
	return txn.Set(incidenceKey(prefixIncoming, edge.EndNode, edge.ID), nil)
}

// GetEdge returns the edge, or ErrNotFound.
func (b *BadgerEngine) GetEdge(id EdgeID) (*Edge, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = readEdge(txn, id)
		return err
	})
	return edge, err
}

func readEdge(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var edge Edge
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &edge)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling edge %s: %w", id, err)
	}
	if edge.Properties == nil {
		edge.Properties = map[string]any{}
	}
	edge.Properties = restoreProperties(edge.Properties)
	return &edge, nil
}

// UpdateEdge replaces the stored properties of an existing edge.
func (b *BadgerEngine) UpdateEdge(edge *Edge) error {
	if edge == nil || edge.ID == "" {
		return ErrInvalidID
	}
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		old, err := readEdge(txn, edge.ID)
		if err != nil {
			return err
		}
		stored := copyEdge(edge)
		stored.StartNode = old.StartNode
		stored.EndNode = old.EndNode
		stored.Type = old.Type
		return writeEdge(txn, stored)
	})
}

// DeleteEdge removes a relationship and its incidence index entries.
func (b *BadgerEngine) DeleteEdge(id EdgeID) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return deleteEdgeTxn(txn, id)
	})
}

func deleteEdgeTxn(txn *badger.Txn, id EdgeID) error {
	edge, err := readEdge(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(incidenceKey(prefixOutgoing, edge.StartNode, id)); err != nil {
		return err
	}
	if err := txn.Delete(incidenceKey(prefixIncoming, edge.EndNode, id)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(id))
}

// LookupNodes scans the label index (or all nodes for an empty label) and
// filters by properties.
func (b *BadgerEngine) LookupNodes(label string, filter map[string]any) ([]*Node, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}

	var out []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		if label == "" {
			return scanPrefix(txn, []byte{prefixNode}, func(_, val []byte) error {
				var node Node
				if err := json.Unmarshal(val, &node); err != nil {
					return err
				}
				if node.Properties == nil {
					node.Properties = map[string]any{}
				}
				if matchesFilter(node.Properties, filter) {
					out = append(out, &node)
				}
				return nil
			})
		}

		scan := append([]byte{prefixLabel}, label...)
		scan = append(scan, 0x00)
		return scanPrefixKeys(txn, scan, func(key []byte) error {
			id := NodeID(key[len(scan):])
			node, err := readNode(txn, id)
			if err != nil {
				return err
			}
			if matchesFilter(node.Properties, filter) {
				out = append(out, node)
			}
			return nil
		})
	})
	return out, err
}

// IncidentEdges enumerates relationships of a node via the incidence indexes.
func (b *BadgerEngine) IncidentEdges(id NodeID, edgeType string, dir Direction) ([]*Edge, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}

	var out []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		collect := func(prefix byte, skipLoops bool) error {
			scan := append([]byte{prefix}, id...)
			scan = append(scan, 0x00)
			return scanPrefixKeys(txn, scan, func(key []byte) error {
				edge, err := readEdge(txn, EdgeID(key[len(scan):]))
				if err != nil {
					return err
				}
				if skipLoops && edge.StartNode == edge.EndNode {
					return nil
				}
				if edgeType == "" || edge.Type == edgeType {
					out = append(out, edge)
				}
				return nil
			})
		}

		switch dir {
		case DirOutgoing:
			return collect(prefixOutgoing, false)
		case DirIncoming:
			return collect(prefixIncoming, false)
		default:
			if err := collect(prefixOutgoing, false); err != nil {
				return err
			}
			return collect(prefixIncoming, true)
		}
	})
	return out, err
}

// AllNodes returns every node.
func (b *BadgerEngine) AllNodes() ([]*Node, error) {
	return b.LookupNodes("", nil)
}

// AllEdges returns every edge.
func (b *BadgerEngine) AllEdges() ([]*Edge, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	var out []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte{prefixEdge}, func(_, val []byte) error {
			var edge Edge
			if err := json.Unmarshal(val, &edge); err != nil {
				return err
			}
			if edge.Properties == nil {
				edge.Properties = map[string]any{}
			}
			out = append(out, &edge)
			return nil
		})
	})
	return out, err
}

// NodeCount counts nodes with a key-only scan.
func (b *BadgerEngine) NodeCount() (int64, error) {
	return b.countPrefix([]byte{prefixNode})
}

// EdgeCount counts edges with a key-only scan.
func (b *BadgerEngine) EdgeCount() (int64, error) {
	return b.countPrefix([]byte{prefixEdge})
}

func (b *BadgerEngine) countPrefix(prefix []byte) (int64, error) {
	if b.isClosed() {
		return 0, ErrStorageClosed
	}
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefixKeys(txn, prefix, func([]byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Begin opens a buffered transaction view over this engine.
func (b *BadgerEngine) Begin() (*Transaction, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return newTransaction(b), nil
}

// Close flushes and closes the underlying BadgerDB.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.db.Close()
}

func (b *BadgerEngine) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *BadgerEngine) allocateNodeID() NodeID {
	b.mu.Lock()
	b.nextNodeID++
	n := b.nextNodeID
	b.mu.Unlock()
	b.persistCounter(metaNextNode, n)
	return NodeID(fmt.Sprintf("n%d", n))
}

func (b *BadgerEngine) allocateEdgeID() EdgeID {
	b.mu.Lock()
	b.nextEdgeID++
	n := b.nextEdgeID
	b.mu.Unlock()
	b.persistCounter(metaNextEdge, n)
	return EdgeID(fmt.Sprintf("e%d", n))
}

func (b *BadgerEngine) persistCounter(key []byte, val uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	}); err != nil {
		b.log.WithError(err).Warn("persisting id counter")
	}
}

// applyBatch applies a committed transaction inside one badger transaction.
func (b *BadgerEngine) applyBatch(batch *txBatch) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, id := range batch.deleteEdges {
			if err := deleteEdgeTxn(txn, id); err != nil {
				return err
			}
		}
		for _, id := range batch.deleteNodes {
			if err := deleteNodeTxn(txn, id); err != nil {
				return err
			}
		}
		for _, node := range batch.insertNodes {
			if err := writeNode(txn, node); err != nil {
				return err
			}
		}
		for _, edge := range batch.insertEdges {
			if err := writeEdge(txn, edge); err != nil {
				return err
			}
		}
		for _, node := range batch.updateNodes {
			old, err := readNode(txn, node.ID)
			if err != nil {
				return err
			}
			for _, label := range old.Labels {
				if err := txn.Delete(labelKey(label, node.ID)); err != nil {
					return err
				}
			}
			if err := writeNode(txn, node); err != nil {
				return err
			}
		}
		for _, edge := range batch.updateEdges {
			if err := writeEdge(txn, edge); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func scanPrefixKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}
