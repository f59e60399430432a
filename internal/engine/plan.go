package engine

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapbuild/internal/fingerprint"
	"github.com/leapstack-labs/leapbuild/internal/resolve"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Plan is the ordered list of units a request needs.
type Plan struct {
	// Root is the package the request was resolved from. It need not be part
	// of Graph when the selection excludes it.
	Root *core.Package
	// Graph is the resolved graph pruned to the selected packages.
	Graph *resolve.Graph
	// Units are in dependency order; every unit's Deps precede it.
	Units []fingerprint.Node
	// TargetDir holds the records the plan is checked against.
	TargetDir string
	Mode      core.Mode
}

// Plan resolves, filters and orders the units of req.
//
// In build mode every package in the closure of the selection gets a build
// unit. In test mode the selected root additionally gets a test unit, placed
// last, depending on its own build unit and on every direct dependency
// including dev-dependencies. Test mode with a selected package other than the
// root re-roots resolution at that package so its dev-dependencies apply.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	mode := req.Mode
	if mode == "" {
		mode = core.ModeBuild
	}
	req.Mode = mode

	graph, err := e.Graph(ctx, req)
	if err != nil {
		return nil, err
	}
	keys, err := selectPackages(graph, req.Packages)
	if err != nil {
		return nil, err
	}
	root := graph.Root()
	targetDir := e.TargetDir(root.Dir())

	if mode == core.ModeTest && (len(keys) != 1 || keys[0] != graph.RootKey()) {
		if len(keys) != 1 {
			return nil, fmt.Errorf("`test` accepts a single package, got %d", len(keys))
		}
		rerooted := req
		rerooted.RootDir = graph.Package(keys[0]).Dir()
		rerooted.Packages = nil
		graph, err = e.Graph(ctx, rerooted)
		if err != nil {
			return nil, err
		}
		keys = []string{graph.RootKey()}
	}

	pruned := graph.Prune(keys)
	order, err := pruned.Order()
	if err != nil {
		return nil, err
	}

	units := make([]fingerprint.Node, 0, len(order)+1)
	for _, pkg := range order {
		node := fingerprint.Node{Unit: core.Unit{Package: pkg, Profile: core.ProfileBuild}}
		for _, dep := range pruned.Dependencies(pkg.ID.Key()) {
			if dep.Kind == core.DepDev {
				continue
			}
			node.Deps = append(node.Deps, buildKey(dep.Package))
		}
		units = append(units, node)
	}

	if mode == core.ModeTest {
		tested := pruned.Root()
		node := fingerprint.Node{
			Unit: core.Unit{Package: tested, Profile: core.ProfileTest},
			Deps: []core.UnitKey{buildKey(tested)},
		}
		for _, dep := range pruned.Dependencies(tested.ID.Key()) {
			node.Deps = append(node.Deps, buildKey(dep.Package))
		}
		units = append(units, node)
	}

	return &Plan{
		Root:      root,
		Graph:     pruned,
		Units:     units,
		TargetDir: targetDir,
		Mode:      mode,
	}, nil
}

// selectPackages maps package names to graph keys. No names selects the root.
func selectPackages(graph *resolve.Graph, names []string) ([]string, error) {
	if len(names) == 0 {
		return []string{graph.RootKey()}, nil
	}
	seen := make(map[string]bool)
	var keys []string
	for _, name := range names {
		matches := graph.Lookup(name)
		if len(matches) == 0 {
			return nil, packageNotFound(name)
		}
		for _, pkg := range matches {
			if k := pkg.ID.Key(); !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

func buildKey(pkg *core.Package) core.UnitKey {
	return core.UnitKey{Name: pkg.Name(), Version: pkg.Version(), Profile: core.ProfileBuild}
}
