package resolve

import (
	"github.com/leapstack-labs/leapbuild/internal/dag"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Graph is a resolved dependency graph. Node IDs are PackageID.Key() values.
type Graph struct {
	dag  *dag.Graph[*core.Package]
	root string
	mode core.Mode
}

// DepEdge is a resolved dependency of a package.
type DepEdge struct {
	Package *core.Package
	Kind    core.DepKind
}

func newGraph(mode core.Mode) *Graph {
	return &Graph{dag: dag.New[*core.Package](), mode: mode}
}

// Root returns the root package.
func (g *Graph) Root() *core.Package {
	return g.Package(g.root)
}

// RootKey returns the node key of the root package.
func (g *Graph) RootKey() string {
	return g.root
}

// Mode returns the mode the graph was resolved for.
func (g *Graph) Mode() core.Mode {
	return g.mode
}

// DAG exposes the underlying arena.
func (g *Graph) DAG() *dag.Graph[*core.Package] {
	return g.dag
}

// Len returns the number of packages in the graph.
func (g *Graph) Len() int {
	return g.dag.Len()
}

// Package returns the package stored under key, or nil.
func (g *Graph) Package(key string) *core.Package {
	pkg, _ := g.dag.Get(key)
	return pkg
}

// Packages returns every package sorted by key.
func (g *Graph) Packages() []*core.Package {
	ids := g.dag.IDs()
	out := make([]*core.Package, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Package(id))
	}
	return out
}

// Dependencies returns the direct dependencies of key with their edge kinds.
func (g *Graph) Dependencies(key string) []DepEdge {
	deps := g.dag.Dependencies(key)
	out := make([]DepEdge, 0, len(deps))
	for _, d := range deps {
		kind, _ := g.dag.EdgeKind(d, key)
		out = append(out, DepEdge{Package: g.Package(d), Kind: kind})
	}
	return out
}

// Dependents returns the packages that depend directly on key.
func (g *Graph) Dependents(key string) []*core.Package {
	dependents := g.dag.Dependents(key)
	out := make([]*core.Package, 0, len(dependents))
	for _, d := range dependents {
		out = append(out, g.Package(d))
	}
	return out
}

// Lookup returns the packages named name, sorted by key.
func (g *Graph) Lookup(name string) []*core.Package {
	var out []*core.Package
	for _, pkg := range g.Packages() {
		if pkg.Name() == name {
			out = append(out, pkg)
		}
	}
	return out
}

// Closure returns keys plus all of their transitive dependencies, sorted.
func (g *Graph) Closure(keys []string) []string {
	return g.dag.Closure(keys)
}

// Prune returns a graph restricted to the closure of keys. The root of the
// pruned graph is kept only if it is part of the closure.
func (g *Graph) Prune(keys []string) *Graph {
	closure := g.Closure(keys)
	pruned := &Graph{dag: g.dag.Subgraph(closure), mode: g.mode}
	if pruned.dag.Has(g.root) {
		pruned.root = g.root
	}
	return pruned
}

// Order returns packages with every dependency before its dependents.
// Siblings are ordered by key.
func (g *Graph) Order() ([]*core.Package, error) {
	ids, err := g.dag.Order()
	if err != nil {
		return nil, err
	}
	out := make([]*core.Package, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Package(id))
	}
	return out, nil
}

// Edges returns every dependency edge sorted by dependent, then dependency.
func (g *Graph) Edges() []dag.Edge {
	return g.dag.Edges()
}
