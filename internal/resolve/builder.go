// Package resolve turns a root package directory into a dependency graph of
// local path packages, applying configured path overrides along the way.
package resolve

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Options controls graph construction.
type Options struct {
	// Mode selects which edges are traversed. In core.ModeTest the root's dev
	// dependencies are included.
	Mode core.Mode
	// Overrides replaces matching declarations. May be nil.
	Overrides *OverrideTable
}

// Builder resolves dependency graphs.
type Builder struct {
	loader *manifest.Loader
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil loader creates a fresh one.
func NewBuilder(loader *manifest.Loader, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loader == nil {
		loader = manifest.NewLoader(logger)
	}
	return &Builder{loader: loader, logger: logger}
}

// Loader returns the manifest loader used by the builder.
func (b *Builder) Loader() *manifest.Loader {
	return b.loader
}

// resolution is the state of one Build call.
type resolution struct {
	ctx   context.Context
	opts  Options
	graph *Graph

	// byIdentity maps name@version to the node key that claimed it
	byIdentity map[string]string
	done       map[string]bool

	stack   []*core.Package
	onStack map[string]bool
}

// Build loads the root package in rootDir and resolves its dependency graph.
func (b *Builder) Build(ctx context.Context, rootDir string, opts Options) (*Graph, error) {
	if opts.Mode == "" {
		opts.Mode = core.ModeBuild
	}

	root, err := b.loader.Load(rootDir)
	if err != nil {
		return nil, err
	}

	r := &resolution{
		ctx:        ctx,
		opts:       opts,
		graph:      newGraph(opts.Mode),
		byIdentity: make(map[string]string),
		done:       make(map[string]bool),
		onStack:    make(map[string]bool),
	}
	r.graph.root = root.ID.Key()

	if err := r.add(root); err != nil {
		return nil, err
	}
	if err := b.visit(r, root); err != nil {
		return nil, err
	}

	b.logger.Debug("resolved dependency graph",
		"root", root.ID.String(),
		"mode", string(opts.Mode),
		"packages", r.graph.Len(),
		"overrides", opts.Overrides.Len(),
	)
	return r.graph, nil
}

// add registers pkg as a node, rejecting a second package with the same
// name and version.
func (r *resolution) add(pkg *core.Package) error {
	key := pkg.ID.Key()
	identity := pkg.Name() + "@" + pkg.Version()
	if existing, ok := r.byIdentity[identity]; ok {
		if existing != key {
			other := r.graph.Package(existing)
			return graphErrorf(ErrPackageCollision,
				"package collision: `%s` is provided by both `%s` and `%s`",
				pkg.ID, other.Dir(), pkg.Dir())
		}
		return nil
	}
	r.byIdentity[identity] = key
	r.graph.dag.AddNode(key, pkg)
	return nil
}

// visit resolves the dependencies of pkg depth-first.
func (b *Builder) visit(r *resolution, pkg *core.Package) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	key := pkg.ID.Key()
	if r.done[key] {
		return nil
	}

	r.stack = append(r.stack, pkg)
	r.onStack[key] = true
	defer func() {
		r.stack = r.stack[:len(r.stack)-1]
		delete(r.onStack, key)
	}()

	isRoot := key == r.graph.root
	for _, dep := range pkg.Dependencies {
		if dep.Kind == core.DepDev && !(isRoot && r.opts.Mode == core.ModeTest) {
			continue
		}

		target, err := b.resolveDependency(r, pkg, dep)
		if err != nil {
			return err
		}
		targetKey := target.ID.Key()

		if r.onStack[targetKey] {
			return r.cycleError(target)
		}
		if err := r.add(target); err != nil {
			return err
		}
		if err := r.graph.dag.AddEdge(targetKey, key, dep.Kind); err != nil {
			return err
		}
		if err := b.visit(r, target); err != nil {
			return err
		}
	}

	r.done[key] = true
	return nil
}

// resolveDependency finds the package satisfying dep, declared by pkg.
func (b *Builder) resolveDependency(r *resolution, pkg *core.Package, dep core.Dependency) (*core.Package, error) {
	if override, ok := r.opts.Overrides.Match(dep); ok {
		b.logger.Debug("dependency overridden",
			"dependency", dep.Name,
			"dependent", pkg.ID.String(),
			"path", override.Dir(),
		)
		return override, nil
	}

	if !dep.IsPath() {
		return nil, graphErrorf(ErrUnsupportedSource,
			"dependency `%s` of `%s` uses an unsupported source (%s); only path dependencies are resolved",
			dep.Name, pkg.ID, dep)
	}

	dir := dep.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(pkg.Dir(), dir)
	}
	target, err := b.loader.Load(dir)
	if err != nil {
		return nil, &LoadError{Dependency: dep.Name, Dependent: pkg.ID, Err: err}
	}

	if target.Name() != dep.Name {
		return nil, graphErrorf(ErrDependencyMismatch,
			"dependency `%s` of `%s` points at `%s`, which contains package `%s`",
			dep.Name, pkg.ID, target.Dir(), target.Name())
	}
	if dep.Version != "" {
		req, err := manifest.ParseVersionReq(dep.Version)
		if err != nil {
			return nil, &LoadError{Dependency: dep.Name, Dependent: pkg.ID, Err: err}
		}
		if !req.Matches(target.Version()) {
			return nil, graphErrorf(ErrDependencyMismatch,
				"dependency `%s` of `%s` requires version %s, but `%s` is v%s",
				dep.Name, pkg.ID, req, target.Dir(), target.Version())
		}
	}
	return target, nil
}

// cycleError names the cycle from the first occurrence of target on the stack.
func (r *resolution) cycleError(target *core.Package) error {
	start := 0
	for i, p := range r.stack {
		if p.ID.Key() == target.ID.Key() {
			start = i
			break
		}
	}
	names := make([]string, 0, len(r.stack)-start+1)
	for _, p := range r.stack[start:] {
		names = append(names, p.ID.String())
	}
	names = append(names, target.ID.String())
	return graphErrorf(ErrCycle, "cyclic package dependency: %s", strings.Join(names, " -> "))
}
