// Package storage provides the graph store interface and implementations for RuneDB.
//
// The storage layer owns the property-graph data model that the query engine
// reads and mutates: nodes with labels and properties, directed relationships
// with exactly one type, and opaque identifiers assigned at creation time.
//
// Design principles:
//   - Testability through dependency injection (everything behind Engine)
//   - Thread-safe implementations
//   - Labeled property graph model
//   - Identifiers are never reused within a store lifetime, even after
//     deletion or rollback
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	node, _ := engine.CreateNode([]string{"Topic"}, map[string]any{
//		"title": "Graph databases",
//	})
//
//	other, _ := engine.CreateNode([]string{"Topic"}, nil)
//	engine.CreateEdge(node.ID, other.ID, "LINKS_TO", nil)
package storage

import (
	"errors"
	"math"
	"sort"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidEdge   = errors.New("invalid edge: start or end node not found")
	ErrHasEdges      = errors.New("node has incident relationships")
	ErrStorageClosed = errors.New("storage closed")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Using a custom type provides type safety (a NodeID cannot be passed where
// an EdgeID is expected) and keeps the query engine free of any ownership
// claim over store memory: entities are always resolved through the Engine.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges (relationships).
type EdgeID string

// Node represents a graph node (vertex) in the labeled property graph.
//
// Fields:
//   - ID: Unique identifier, assigned by the store on creation
//   - Labels: Type tags like ["Topic", "Page"]; unordered, unique per node
//   - Properties: Key-value data (string, int64, float64, bool, lists, maps)
//
// Absence of a property is represented by key omission. A property is never
// stored with an engine-internal "absent" marker; an explicit null written by
// a query removes the key instead.
//
// Node structs returned by an Engine are copies. Mutating them does not
// affect the store; use the Engine's update operations.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge represents a directed relationship between two nodes.
//
// Direction is semantically meaningful: StartNode is the source and EndNode
// the target. Undirected query patterns are a matcher concern; the store
// always keeps one canonical direction.
type Edge struct {
	ID         EdgeID         `json:"id"`
	StartNode  NodeID         `json:"startNode"`
	EndNode    NodeID         `json:"endNode"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// Direction selects which incident edges of a node to enumerate.
type Direction int

const (
	// DirOutgoing enumerates edges whose StartNode is the given node.
	DirOutgoing Direction = iota
	// DirIncoming enumerates edges whose EndNode is the given node.
	DirIncoming
	// DirBoth enumerates edges incident in either orientation.
	DirBoth
)

// Engine defines the storage engine interface for graph operations.
//
// All Engine implementations MUST be:
//   - Thread-safe: safe for concurrent access from multiple goroutines
//   - Copy-on-read: returned nodes and edges are detached copies
//   - Monotonic: identifiers handed out by Create* are never reused, even
//     after the entity is deleted
//
// Implementations:
//   - MemoryEngine: in-memory storage for tests and embedded use
//   - BadgerEngine: persistent disk storage backed by BadgerDB
type Engine interface {
	// Node operations. CreateNode assigns and returns a fresh identifier.
	CreateNode(labels []string, properties map[string]any) (*Node, error)
	GetNode(id NodeID) (*Node, error)
	UpdateNode(node *Node) error
	// DeleteNode fails with ErrHasEdges while incident relationships remain.
	DeleteNode(id NodeID) error

	// Edge operations.
	CreateEdge(start, end NodeID, edgeType string, properties map[string]any) (*Edge, error)
	GetEdge(id EdgeID) (*Edge, error)
	UpdateEdge(edge *Edge) error
	DeleteEdge(id EdgeID) error

	// Query operations.
	//
	// LookupNodes returns nodes carrying the label (empty label = all nodes)
	// whose properties contain every entry of filter. IncidentEdges
	// enumerates relationships of a node filtered by type (empty = any) and
	// direction.
	LookupNodes(label string, filter map[string]any) ([]*Node, error)
	IncidentEdges(id NodeID, edgeType string, dir Direction) ([]*Edge, error)
	AllNodes() ([]*Node, error)
	AllEdges() ([]*Edge, error)

	// Stats.
	NodeCount() (int64, error)
	EdgeCount() (int64, error)

	// Lifecycle.
	Close() error
}

// TransactionalEngine is implemented by engines that support buffered
// read-your-writes transactions. The query executor requires one; engines
// that lack native support are wrapped by Begin in transaction.go.
type TransactionalEngine interface {
	Engine

	// Begin opens a transaction view over this engine. The view implements
	// Engine; writes are buffered and invisible to other readers until
	// Commit, and discarded wholesale on Rollback.
	Begin() (*Transaction, error)
}

// matchesFilter reports whether props contains every key of filter with an
// equal value. Used by all Engine implementations for LookupNodes.
func matchesFilter(props, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := props[k]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares two property values, treating integer and float
// representations of the same number as equal (JSON round-trips turn int64
// into float64, and inline pattern literals arrive as int64).
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// copyProperties deep-copies a property map. Lists and nested maps are
// copied one level at a time so callers can never alias store memory.
func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	return &Node{ID: n.ID, Labels: labels, Properties: copyProperties(n.Properties)}
}

func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	return &Edge{
		ID:         e.ID,
		StartNode:  e.StartNode,
		EndNode:    e.EndNode,
		Type:       e.Type,
		Properties: copyProperties(e.Properties),
	}
}

// sortNodes orders nodes by allocation order so enumeration is
// deterministic across runs.
func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return idLess(string(nodes[i].ID), string(nodes[j].ID))
	})
}

// sortEdges orders edges by allocation order.
func sortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return idLess(string(edges[i].ID), string(edges[j].ID))
	})
}

// restoreNumbers rewrites a JSON-decoded value into the store's canonical
// numeric form: integral values become int64, everything else stays float64.
// JSON cannot distinguish 7 from 7.0, so integral floats are restored as
// integers; values past 2^53 were never exact as floats and are left alone.
func restoreNumbers(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = restoreNumbers(item)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = restoreNumbers(item)
		}
		return val
	default:
		return v
	}
}

func restoreProperties(props map[string]any) map[string]any {
	for k, v := range props {
		props[k] = restoreNumbers(v)
	}
	return props
}

// idLess compares identifiers numerically when both carry the engine's
// prefix-plus-counter shape, lexically otherwise (imported graphs may use
// arbitrary identifiers).
func idLess(a, b string) bool {
	if len(a) > 1 && len(b) > 1 && a[0] == b[0] {
		an, aok := idSuffix(a, a[0])
		bn, bok := idSuffix(b, b[0])
		if aok && bok {
			return an < bn
		}
	}
	return a < b
}
