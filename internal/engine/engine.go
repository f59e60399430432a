// Package engine builds a package and its path dependencies. It resolves the
// dependency graph, decides which units are stale and runs build scripts and
// the compiler for those units in dependency order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/internal/resolve"
	"github.com/leapstack-labs/leapbuild/internal/state"
	"github.com/leapstack-labs/leapbuild/internal/toolchain"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Engine orchestrates builds.
type Engine struct {
	logger    *slog.Logger
	targetDir string
	paths     []string
	jobs      int
	backend   string
	compiler  toolchain.Compiler
	scripts   toolchain.ScriptRunner
	reporter  Reporter
	now       func() time.Time
}

// Config holds engine configuration.
type Config struct {
	// TargetDir is where records and artifacts live. Defaults to "target"
	// beside the root manifest.
	TargetDir string
	// Paths are override directories searched recursively for packages.
	Paths []string
	// Jobs is the number of units compiled concurrently. Values below 1 mean 1.
	Jobs int
	// Backend selects the state store: state.BackendSQLite or state.BackendFile.
	Backend string
	// Compiler compiles units. Defaults to toolchain.ArchiveCompiler.
	Compiler toolchain.Compiler
	// Scripts runs build scripts. Defaults to a toolchain.Dispatcher.
	Scripts toolchain.ScriptRunner
	// Reporter receives progress events (optional).
	Reporter Reporter
	// Now stamps completion times. Defaults to time.Now.
	Now func() time.Time
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		logger:    logger,
		targetDir: cfg.TargetDir,
		paths:     cfg.Paths,
		jobs:      cfg.Jobs,
		backend:   cfg.Backend,
		compiler:  cfg.Compiler,
		scripts:   cfg.Scripts,
		reporter:  cfg.Reporter,
		now:       cfg.Now,
	}
	if e.compiler == nil {
		e.compiler = toolchain.NewArchiveCompiler(logger)
	}
	if e.scripts == nil {
		e.scripts = toolchain.NewDispatcher("", logger)
	}
	if e.reporter == nil {
		e.reporter = ReporterFunc(func(Event) {})
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Request selects what to build.
type Request struct {
	// RootDir is the root package directory or its manifest path.
	RootDir string
	// Packages restricts the build to the named packages and their
	// dependencies. Empty means the root package.
	Packages []string
	Mode     core.Mode
	// Jobs overrides Config.Jobs when positive.
	Jobs int
}

// TargetDir returns the target directory used for a root package directory.
func (e *Engine) TargetDir(rootDir string) string {
	if e.targetDir != "" {
		if filepath.IsAbs(e.targetDir) {
			return e.targetDir
		}
		if abs, err := filepath.Abs(e.targetDir); err == nil {
			return abs
		}
		return e.targetDir
	}
	return filepath.Join(rootDir, "target")
}

// Graph resolves the dependency graph of the request's root.
func (e *Engine) Graph(ctx context.Context, req Request) (*resolve.Graph, error) {
	mode := req.Mode
	if mode == "" {
		mode = core.ModeBuild
	}
	loader := manifest.NewLoader(e.logger)
	overrides, err := resolve.LoadOverrides(ctx, loader, e.paths, e.logger)
	if err != nil {
		return nil, err
	}
	return resolve.NewBuilder(loader, e.logger).Build(ctx, manifest.FromManifestPath(req.RootDir), resolve.Options{
		Mode:      mode,
		Overrides: overrides,
	})
}

func (e *Engine) openStore(targetDir string) (core.Store, error) {
	store, err := state.OpenStore(e.backend, targetDir, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}
