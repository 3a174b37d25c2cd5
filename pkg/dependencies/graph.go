package dependencies

import (
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Graph is a directed dependency graph between kind IDs. Edges point from a
// kind to the kinds it depends on.
type Graph struct {
	nodes map[string]*Node
	order []string // insertion order, drives deterministic traversal
}

// Node represents a node in the dependency graph
type Node struct {
	ID    string
	Edges []string
}

// NewGraph creates a new dependency graph
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode adds a node to the graph, replacing the edges of an existing one
func (g *Graph) AddNode(id string, deps []string) {
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	edges := make([]string, len(deps))
	copy(edges, deps)
	g.nodes[id] = &Node{ID: id, Edges: edges}
}

// Node retrieves a node from the graph
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.order) }

// Dependencies returns the direct dependencies of id
func (g *Graph) Dependencies(id string) []string {
	node := g.nodes[id]
	if node == nil {
		return nil
	}
	return node.Edges
}

// TransitiveDependencies returns every node reachable from id
func (g *Graph) TransitiveDependencies(id string) []string {
	visited := make(map[string]bool)
	result := make([]string, 0)

	var traverse func(string)
	traverse = func(key string) {
		for _, dep := range g.Dependencies(key) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			traverse(dep)
		}
	}

	traverse(id)
	return result
}

// Dependents returns the nodes that depend directly on id, in insertion order
func (g *Graph) Dependents(id string) []string {
	dependents := make([]string, 0)
	for _, key := range g.order {
		for _, edge := range g.nodes[key].Edges {
			if edge == id {
				dependents = append(dependents, key)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every node that would be affected by a change
// to id
func (g *Graph) TransitiveDependents(id string) []string {
	visited := make(map[string]bool)
	result := make([]string, 0)

	var traverse func(string)
	traverse = func(key string) {
		for _, dep := range g.Dependents(key) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			traverse(dep)
		}
	}

	traverse(id)
	return result
}

// DetectCycle returns the first cycle found, as a path that starts and ends
// with the same node, or nil if the graph is acyclic
func (g *Graph) DetectCycle() []string {
	_, err := g.TopologicalSort()
	if rerr, ok := err.(*plugins.ResolutionError); ok {
		return rerr.Cycle
	}
	return nil
}

// TopologicalSort orders all nodes so that dependencies come before their
// dependents. Nodes are visited in insertion order and edges in declared order,
// so the result is deterministic.
func (g *Graph) TopologicalSort() ([]string, error) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)
	result := make([]string, 0, len(g.order))

	var visit func(string) error
	visit = func(key string) error {
		if recStack[key] {
			return &plugins.ResolutionError{
				Kind:   key,
				Cycle:  cyclePath(path, key),
				Reason: "dependency cycle",
			}
		}
		if visited[key] {
			return nil
		}

		visited[key] = true
		recStack[key] = true
		path = append(path, key)

		// Visit dependencies first
		for _, dep := range g.Dependencies(key) {
			if err := visit(dep); err != nil {
				return err
			}
		}

		recStack[key] = false
		path = path[:len(path)-1]

		if _, ok := g.nodes[key]; ok {
			result = append(result, key)
		}
		return nil
	}

	for _, key := range g.order {
		if err := visit(key); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func cyclePath(path []string, repeated string) []string {
	for i, key := range path {
		if key == repeated {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			return append(cycle, repeated)
		}
	}
	return []string{repeated, repeated}
}
