// Package runeql - pattern matching.
//
// Matching is a depth-first constraint search. Pattern parts are processed
// left to right with no selectivity reordering; within a part the chain is
// walked node by node, extending the binding at each step and backtracking
// on failure. Comma-separated parts join implicitly through shared variable
// names: a variable bound by an earlier part pins later occurrences to the
// identical entity.
//
// Variable-length relationships expand breadth-first over states of
// (current node, path so far, remaining budget). A path never traverses
// the same relationship twice but may revisit nodes. An open upper bound
// is capped by the snapshot's distinct node count, which no
// relationship-unique path can exceed in hops without repeating an edge
// between the same pair.
package runeql

import (
	"github.com/orneryd/runedb/pkg/storage"
)

type matcher struct {
	tx storage.Engine
	ev *evaluator
}

// matchPatterns extends each seed binding with every assignment of pattern
// variables that satisfies all parts. Seeds with no extension contribute
// nothing.
func (m *matcher) matchPatterns(parts []*PatternPart, seeds []binding) ([]binding, error) {
	var out []binding
	for _, seed := range seeds {
		err := m.matchParts(parts, seed, func(b binding) error {
			out = append(out, b)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *matcher) matchParts(parts []*PatternPart, b binding, emit func(binding) error) error {
	if len(parts) == 0 {
		return emit(b.clone())
	}
	return m.matchChain(parts[0], 0, b, func(extended binding) error {
		return m.matchParts(parts[1:], extended, emit)
	})
}

// matchChain binds Nodes[nodeIdx] and recursively the rest of the chain.
func (m *matcher) matchChain(part *PatternPart, nodeIdx int, b binding, emit func(binding) error) error {
	node := part.Nodes[nodeIdx]
	candidates, err := m.nodeCandidates(node, b)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		extended := b
		if node.Variable != "" {
			if _, bound := b[node.Variable]; !bound {
				extended = b.clone()
				extended[node.Variable] = candidate
			}
		}
		if nodeIdx == len(part.Nodes)-1 {
			if err := emit(extended.clone()); err != nil {
				return err
			}
			continue
		}
		if err := m.matchStep(part, nodeIdx, candidate, extended, emit); err != nil {
			return err
		}
	}
	return nil
}

// matchStep expands the relationship between Nodes[nodeIdx] and
// Nodes[nodeIdx+1] from the already-bound left endpoint.
func (m *matcher) matchStep(part *PatternPart, nodeIdx int, from *storage.Node, b binding, emit func(binding) error) error {
	rel := part.Rels[nodeIdx]
	if rel.VarLength {
		return m.matchVarLength(part, nodeIdx, from, b, emit)
	}

	relProps, err := m.evalPropertyExprs(rel.Properties, b)
	if err != nil {
		return err
	}
	edges, err := m.incident(from.ID, rel)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if !edgeMatches(edge, rel, relProps) {
			continue
		}
		extended := b
		if rel.Variable != "" {
			if bound, ok := b[rel.Variable]; ok {
				prior, isEdge := bound.(*storage.Edge)
				if !isEdge || prior.ID != edge.ID {
					continue
				}
			} else {
				extended = b.clone()
				extended[rel.Variable] = edge
			}
		}
		if err := m.continueChain(part, nodeIdx+1, otherEndpoint(edge, from.ID), extended, emit); err != nil {
			return err
		}
	}
	return nil
}

// continueChain checks the next node pattern against a concrete node id and
// recurses down the rest of the chain.
func (m *matcher) continueChain(part *PatternPart, nodeIdx int, id storage.NodeID, b binding, emit func(binding) error) error {
	node, err := m.tx.GetNode(id)
	if err != nil {
		return err
	}
	pattern := part.Nodes[nodeIdx]
	ok, err := m.nodeSatisfies(node, pattern, b)
	if err != nil || !ok {
		return err
	}
	extended := b
	if pattern.Variable != "" {
		if bound, present := b[pattern.Variable]; present {
			prior, isNode := bound.(*storage.Node)
			if !isNode || prior.ID != node.ID {
				return nil
			}
		} else {
			extended = b.clone()
			extended[pattern.Variable] = node
		}
	}
	if nodeIdx == len(part.Nodes)-1 {
		return emit(extended.clone())
	}
	return m.matchStep(part, nodeIdx, node, extended, emit)
}

// varLengthState is one frontier entry of the breadth-first expansion.
type varLengthState struct {
	node *storage.Node
	path []*storage.Edge
}

func (m *matcher) matchVarLength(part *PatternPart, nodeIdx int, from *storage.Node, b binding, emit func(binding) error) error {
	rel := part.Rels[nodeIdx]
	relProps, err := m.evalPropertyExprs(rel.Properties, b)
	if err != nil {
		return err
	}

	minHops := 1
	if rel.MinHops != nil {
		minHops = *rel.MinHops
	}
	maxHops := -1
	if rel.MaxHops != nil {
		maxHops = *rel.MaxHops
	} else {
		count, err := m.tx.NodeCount()
		if err != nil {
			return err
		}
		maxHops = int(count)
	}

	queue := []varLengthState{{node: from}}
	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]

		if len(state.path) >= minHops && len(state.path) <= maxHops {
			if err := m.emitVarLengthTerminal(part, nodeIdx, rel, state, b, emit); err != nil {
				return err
			}
		}
		if len(state.path) >= maxHops {
			continue
		}

		edges, err := m.incident(state.node.ID, rel)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if !edgeMatches(edge, rel, relProps) || pathContains(state.path, edge.ID) {
				continue
			}
			next, err := m.tx.GetNode(otherEndpoint(edge, state.node.ID))
			if err != nil {
				return err
			}
			path := make([]*storage.Edge, len(state.path)+1)
			copy(path, state.path)
			path[len(state.path)] = edge
			queue = append(queue, varLengthState{node: next, path: path})
		}
	}
	return nil
}

func (m *matcher) emitVarLengthTerminal(part *PatternPart, nodeIdx int, rel *RelPattern, state varLengthState, b binding, emit func(binding) error) error {
	pattern := part.Nodes[nodeIdx+1]
	ok, err := m.nodeSatisfies(state.node, pattern, b)
	if err != nil || !ok {
		return err
	}

	extended := b
	if rel.Variable != "" {
		pathValue := make([]any, len(state.path))
		for i, edge := range state.path {
			pathValue[i] = edge
		}
		if bound, present := b[rel.Variable]; present {
			if !valuesEqual(bound, pathValue) {
				return nil
			}
		} else {
			extended = b.clone()
			extended[rel.Variable] = pathValue
		}
	}

	if pattern.Variable != "" {
		if bound, present := extended[pattern.Variable]; present {
			prior, isNode := bound.(*storage.Node)
			if !isNode || prior.ID != state.node.ID {
				return nil
			}
		} else {
			extended = extended.clone()
			extended[pattern.Variable] = state.node
		}
	}

	if nodeIdx+1 == len(part.Nodes)-1 {
		return emit(extended.clone())
	}
	return m.matchStep(part, nodeIdx+1, state.node, extended, emit)
}

// otherEndpoint returns the endpoint of edge opposite from. A self-loop
// returns from itself.
func otherEndpoint(edge *storage.Edge, from storage.NodeID) storage.NodeID {
	if edge.StartNode == from {
		return edge.EndNode
	}
	return edge.StartNode
}

func pathContains(path []*storage.Edge, id storage.EdgeID) bool {
	for _, edge := range path {
		if edge.ID == id {
			return true
		}
	}
	return false
}

// incident fetches candidate relationships for one hop, honoring the
// pattern's declared direction from the given endpoint.
func (m *matcher) incident(from storage.NodeID, rel *RelPattern) ([]*storage.Edge, error) {
	dir := storage.DirBoth
	switch rel.Direction {
	case DirectionOutgoing:
		dir = storage.DirOutgoing
	case DirectionIncoming:
		dir = storage.DirIncoming
	}
	edgeType := ""
	if len(rel.Types) == 1 {
		edgeType = rel.Types[0]
	}
	return m.tx.IncidentEdges(from, edgeType, dir)
}

// nodeCandidates resolves the candidate set for a node pattern: the pinned
// entity when the variable is already bound, an indexed label lookup when a
// label constraint exists, or the full node set.
func (m *matcher) nodeCandidates(pattern *NodePattern, b binding) ([]*storage.Node, error) {
	if pattern.Variable != "" {
		if bound, ok := b[pattern.Variable]; ok {
			node, isNode := bound.(*storage.Node)
			if !isNode {
				return nil, evalErrorf("variable %q is not a node", pattern.Variable)
			}
			fresh, err := m.tx.GetNode(node.ID)
			if err != nil {
				return nil, nil // deleted since it was bound
			}
			ok, err := m.nodeSatisfies(fresh, pattern, b)
			if err != nil || !ok {
				return nil, err
			}
			return []*storage.Node{fresh}, nil
		}
	}

	props, err := m.evalPropertyExprs(pattern.Properties, b)
	if err != nil {
		return nil, err
	}

	var nodes []*storage.Node
	if len(pattern.Labels) > 0 {
		nodes, err = m.tx.LookupNodes(pattern.Labels[0], nil)
	} else {
		nodes, err = m.tx.AllNodes()
	}
	if err != nil {
		return nil, err
	}

	var out []*storage.Node
	for _, node := range nodes {
		if nodeHasLabels(node, pattern.Labels) && propsMatch(node.Properties, props) {
			out = append(out, node)
		}
	}
	return out, nil
}

// nodeSatisfies checks labels and pattern properties against a concrete
// node.
func (m *matcher) nodeSatisfies(node *storage.Node, pattern *NodePattern, b binding) (bool, error) {
	if !nodeHasLabels(node, pattern.Labels) {
		return false, nil
	}
	if len(pattern.Properties) == 0 {
		return true, nil
	}
	props, err := m.evalPropertyExprs(pattern.Properties, b)
	if err != nil {
		return false, err
	}
	return propsMatch(node.Properties, props), nil
}

func (m *matcher) evalPropertyExprs(exprs map[string]Expr, b binding) (map[string]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(exprs))
	for k, expr := range exprs {
		v, err := m.ev.eval(expr, b)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func nodeHasLabels(node *storage.Node, labels []string) bool {
	for _, label := range labels {
		if !node.HasLabel(label) {
			return false
		}
	}
	return true
}

// propsMatch requires every constraint key to be present and equal. A null
// constraint value never matches: absence is not null.
func propsMatch(props map[string]any, constraints map[string]any) bool {
	for k, want := range constraints {
		if want == nil {
			return false
		}
		got, ok := props[k]
		if !ok || !valuesEqual(normalizeValue(got), want) {
			return false
		}
	}
	return true
}

func edgeMatches(edge *storage.Edge, rel *RelPattern, props map[string]any) bool {
	if len(rel.Types) > 0 {
		found := false
		for _, t := range rel.Types {
			if edge.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return propsMatch(edge.Properties, props)
}
