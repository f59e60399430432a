// Package dag provides a string-keyed directed acyclic graph whose edges carry
// a dependency kind. It supports cycle detection, dependency-first ordering,
// transitive closures and subgraphs.
//
// An edge runs from a dependency to its dependent, so an order lists
// dependencies before the nodes that use them.
package dag

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Edge records that Dependent depends on Dependency.
type Edge struct {
	Dependency string
	Dependent  string
	Kind       core.DepKind
}

type edgeKey struct{ dependency, dependent string }

// CycleError reports a cycle found while ordering.
type CycleError struct {
	// Path lists the node IDs of the cycle in depends-on order, starting and
	// ending at the same node.
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Graph is a set of nodes holding values of type T, joined by kinded edges.
// Adjacency lists are kept sorted by ID so every traversal is deterministic.
type Graph[T any] struct {
	data       map[string]T
	deps       map[string][]string // dependent -> dependencies
	dependents map[string][]string // dependency -> dependents
	kinds      map[edgeKey]core.DepKind
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		data:       make(map[string]T),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		kinds:      make(map[edgeKey]core.DepKind),
	}
}

// AddNode adds a node, replacing its value if it already exists.
func (g *Graph[T]) AddNode(id string, v T) {
	g.data[id] = v
}

// AddEdge records that dependent depends on dependency. Both nodes must exist.
// Repeating an edge keeps one edge; a normal edge upgrades a dev edge.
func (g *Graph[T]) AddEdge(dependency, dependent string, kind core.DepKind) error {
	for _, id := range []string{dependency, dependent} {
		if _, ok := g.data[id]; !ok {
			return fmt.Errorf("node %q does not exist", id)
		}
	}
	if dependency == dependent {
		return fmt.Errorf("self-loop detected: %s", dependency)
	}

	key := edgeKey{dependency, dependent}
	if existing, ok := g.kinds[key]; ok {
		if existing == core.DepDev && kind == core.DepNormal {
			g.kinds[key] = core.DepNormal
		}
		return nil
	}
	g.kinds[key] = kind
	g.deps[dependent] = insertSorted(g.deps[dependent], dependency)
	g.dependents[dependency] = insertSorted(g.dependents[dependency], dependent)
	return nil
}

// Get returns the value stored under id.
func (g *Graph[T]) Get(id string) (T, bool) {
	v, ok := g.data[id]
	return v, ok
}

// Has reports whether id is a node.
func (g *Graph[T]) Has(id string) bool {
	_, ok := g.data[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.data) }

// EdgeCount returns the number of edges.
func (g *Graph[T]) EdgeCount() int { return len(g.kinds) }

// IDs returns every node ID, sorted.
func (g *Graph[T]) IDs() []string {
	return slices.Sorted(maps.Keys(g.data))
}

// Dependencies returns the direct dependencies of id, sorted.
func (g *Graph[T]) Dependencies(id string) []string { return g.deps[id] }

// Dependents returns the nodes depending directly on id, sorted.
func (g *Graph[T]) Dependents(id string) []string { return g.dependents[id] }

// EdgeKind returns the kind of the edge from dependency to dependent.
func (g *Graph[T]) EdgeKind(dependency, dependent string) (core.DepKind, bool) {
	kind, ok := g.kinds[edgeKey{dependency, dependent}]
	return kind, ok
}

// Edges returns every edge sorted by dependent, then dependency.
func (g *Graph[T]) Edges() []Edge {
	out := make([]Edge, 0, len(g.kinds))
	for k, kind := range g.kinds {
		out = append(out, Edge{Dependency: k.dependency, Dependent: k.dependent, Kind: kind})
	}
	slices.SortFunc(out, func(a, b Edge) int {
		if c := strings.Compare(a.Dependent, b.Dependent); c != 0 {
			return c
		}
		return strings.Compare(a.Dependency, b.Dependency)
	})
	return out
}

// visit states for Order.
const (
	unvisited = iota
	active
	finished
)

// Order returns node IDs with every dependency before its dependents. Nodes
// are visited in ID order and each node's dependencies in ID order, so the
// result is deterministic. A cycle yields a *CycleError.
func (g *Graph[T]) Order() ([]string, error) {
	state := make(map[string]int, len(g.data))
	out := make([]string, 0, len(g.data))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case finished:
			return nil
		case active:
			start := slices.Index(stack, id)
			return &CycleError{Path: append(slices.Clone(stack[start:]), id)}
		}
		state[id] = active
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = finished
		out = append(out, id)
		return nil
	}

	for _, id := range g.IDs() {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindCycle returns a cycle path if the graph has one.
func (g *Graph[T]) FindCycle() ([]string, bool) {
	_, err := g.Order()
	var cycle *CycleError
	if errors.As(err, &cycle) {
		return cycle.Path, true
	}
	return nil, false
}

// Closure returns ids plus everything they transitively depend on, sorted.
// Unknown IDs are ignored.
func (g *Graph[T]) Closure(ids []string) []string {
	seen := make(map[string]bool)
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if g.Has(id) && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[id] {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Subgraph returns a graph holding only ids and the edges among them.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	sub := New[T]()
	for _, id := range ids {
		if v, ok := g.data[id]; ok {
			sub.AddNode(id, v)
		}
	}
	for k, kind := range g.kinds {
		if sub.Has(k.dependency) && sub.Has(k.dependent) {
			_ = sub.AddEdge(k.dependency, k.dependent, kind)
		}
	}
	return sub
}

// insertSorted inserts s into a sorted slice if it is not already present.
func insertSorted(list []string, s string) []string {
	i, found := slices.BinarySearch(list, s)
	if found {
		return list
	}
	return slices.Insert(list, i, s)
}
