// Package storage - JSON graph interchange.
package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
)

// GraphExport is the JSON interchange format for a whole graph.
//
// The layout mirrors the common property-graph export shape (a nodes array
// and a relationships array), so dumps can be inspected, diffed, and loaded
// back with the CLI's import command.
type GraphExport struct {
	Nodes         []*Node `json:"nodes"`
	Relationships []*Edge `json:"relationships"`
}

// Export snapshots an engine into the interchange format. Output is sorted
// by identifier so repeated exports of the same graph are byte-stable.
func Export(engine Engine) (*GraphExport, error) {
	nodes, err := engine.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("exporting nodes: %w", err)
	}
	edges, err := engine.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("exporting edges: %w", err)
	}

	sortNodes(nodes)
	sortEdges(edges)
	return &GraphExport{Nodes: nodes, Relationships: edges}, nil
}

// WriteExport serializes an engine snapshot as indented JSON.
func WriteExport(engine Engine, w io.Writer) error {
	export, err := Export(engine)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// Import loads an interchange dump into an engine.
//
// Imported entities keep their exported identifiers, so Import only makes
// sense into an empty engine; it fails if any identifier already exists.
// Imports bypass the monotonic allocator, which is why the importer is part
// of the storage package rather than the query engine.
func Import(engine Engine, export *GraphExport) error {
	loader, ok := engine.(bulkLoader)
	if !ok {
		return fmt.Errorf("engine %T does not support bulk import", engine)
	}
	return loader.bulkLoad(export)
}

// ReadImport decodes an interchange dump and loads it into an engine.
func ReadImport(engine Engine, r io.Reader) (*GraphExport, error) {
	var export GraphExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("decoding graph export: %w", err)
	}
	for _, node := range export.Nodes {
		node.Properties = restoreProperties(node.Properties)
	}
	for _, edge := range export.Relationships {
		edge.Properties = restoreProperties(edge.Properties)
	}
	if err := Import(engine, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

type bulkLoader interface {
	bulkLoad(export *GraphExport) error
}

// bulkLoad inserts exported entities verbatim and advances the allocators
// past the highest imported numeric suffix.
func (m *MemoryEngine) bulkLoad(export *GraphExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	for _, node := range export.Nodes {
		if _, exists := m.nodes[node.ID]; exists {
			return fmt.Errorf("node %s: %w", node.ID, ErrAlreadyExists)
		}
	}
	for _, edge := range export.Relationships {
		if _, exists := m.edges[edge.ID]; exists {
			return fmt.Errorf("edge %s: %w", edge.ID, ErrAlreadyExists)
		}
	}

	for _, node := range export.Nodes {
		stored := copyNode(node)
		stored.Labels = dedupeLabels(stored.Labels)
		m.nodes[stored.ID] = stored
		for _, label := range stored.Labels {
			m.indexLabel(label, stored.ID)
		}
		if n, ok := idSuffix(string(stored.ID), 'n'); ok && n > m.nextNodeID {
			m.nextNodeID = n
		}
	}
	for _, edge := range export.Relationships {
		if _, ok := m.nodes[edge.StartNode]; !ok {
			return fmt.Errorf("edge %s start: %w", edge.ID, ErrInvalidEdge)
		}
		if _, ok := m.nodes[edge.EndNode]; !ok {
			return fmt.Errorf("edge %s end: %w", edge.ID, ErrInvalidEdge)
		}
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
		if n, ok := idSuffix(string(stored.ID), 'e'); ok && n > m.nextEdgeID {
			m.nextEdgeID = n
		}
	}
	return nil
}

// bulkLoad for badger reuses the per-entity writers inside one badger
// transaction and advances the persisted counters.
func (b *BadgerEngine) bulkLoad(export *GraphExport) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, node := range export.Nodes {
			if _, err := readNode(txn, node.ID); err == nil {
				return fmt.Errorf("node %s: %w", node.ID, ErrAlreadyExists)
			}
			stored := copyNode(node)
			stored.Labels = dedupeLabels(stored.Labels)
			if err := writeNode(txn, stored); err != nil {
				return err
			}
		}
		for _, edge := range export.Relationships {
			if _, err := readEdge(txn, edge.ID); err == nil {
				return fmt.Errorf("edge %s: %w", edge.ID, ErrAlreadyExists)
			}
			if _, err := readNode(txn, edge.StartNode); err != nil {
				return fmt.Errorf("edge %s start: %w", edge.ID, ErrInvalidEdge)
			}
			if _, err := readNode(txn, edge.EndNode); err != nil {
				return fmt.Errorf("edge %s end: %w", edge.ID, ErrInvalidEdge)
			}
			if err := writeEdge(txn, edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, node := range export.Nodes {
		if n, ok := idSuffix(string(node.ID), 'n'); ok && uint64(n) > b.nextNodeID {
			b.nextNodeID = uint64(n)
		}
	}
	for _, edge := range export.Relationships {
		if n, ok := idSuffix(string(edge.ID), 'e'); ok && uint64(n) > b.nextEdgeID {
			b.nextEdgeID = uint64(n)
		}
	}
	nextNode, nextEdge := b.nextNodeID, b.nextEdgeID
	b.mu.Unlock()
	b.persistCounter(metaNextNode, nextNode)
	b.persistCounter(metaNextEdge, nextEdge)
	return nil
}

func idSuffix(id string, kind byte) (int64, bool) {
	if len(id) < 2 || id[0] != kind {
		return 0, false
	}
	var n int64
	for _, c := range id[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
