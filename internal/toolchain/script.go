package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	buildscript "github.com/leapstack-labs/leapbuild/internal/starlark"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// rerunPrefix marks a stdout line of a process script declaring an extra input.
const rerunPrefix = "leapbuild:rerun-if-changed="

// Script is one build script invocation.
type Script struct {
	// Path is the absolute path of the script.
	Path string
	// Dir is the working directory, the package directory.
	Dir string
	// OutDir is the unit's scratch directory.
	OutDir  string
	Package *core.Package
	Profile core.Profile
}

// ScriptResult is what a script reported about itself.
type ScriptResult struct {
	// RerunIfChanged lists files the script read or declared, relative to the
	// package directory when inside it.
	RerunIfChanged []string
}

// ScriptRunner runs build scripts.
type ScriptRunner interface {
	Run(ctx context.Context, s Script) (ScriptResult, error)
}

// StarlarkRunner runs .star scripts in-process.
type StarlarkRunner struct {
	Logger *slog.Logger
}

// Run executes the script with the build-script globals.
func (r *StarlarkRunner) Run(ctx context.Context, s Script) (ScriptResult, error) {
	src, err := os.ReadFile(s.Path)
	if err != nil {
		return ScriptResult{}, fmt.Errorf("failed to read build script: %w", err)
	}
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return ScriptResult{}, fmt.Errorf("failed to create out dir: %w", err)
	}

	info := &buildscript.PackageInfo{
		Name:    s.Package.Name(),
		Version: s.Package.Version(),
		Dir:     s.Dir,
		Authors: s.Package.Authors,
		Profile: string(s.Profile),
	}
	ec := buildscript.NewExecutionContext(info, s.OutDir, UnitEnv(s.Package, s.Profile, s.OutDir), r.Logger)
	if err := ec.Exec(ctx, filepath.Base(s.Path), src); err != nil {
		return ScriptResult{}, err
	}
	return ScriptResult{RerunIfChanged: ec.Inputs()}, nil
}

// ProcessRunner runs any other script through a shell.
type ProcessRunner struct {
	// Shell is the interpreter; "sh" when empty.
	Shell  string
	Logger *slog.Logger
}

// Run executes the script and collects rerun-if-changed lines from stdout.
func (r *ProcessRunner) Run(ctx context.Context, s Script) (ScriptResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return ScriptResult{}, fmt.Errorf("failed to create out dir: %w", err)
	}

	stdout, err := runProcess(ctx, processSpec{
		Argv: []string{shell, s.Path},
		Dir:  s.Dir,
		Env:  UnitEnv(s.Package, s.Profile, s.OutDir),
	})
	if err != nil {
		return ScriptResult{}, err
	}

	var result ScriptResult
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if p, ok := strings.CutPrefix(line, rerunPrefix); ok && p != "" {
			result.RerunIfChanged = append(result.RerunIfChanged, p)
		} else if line != "" && r.Logger != nil {
			r.Logger.Debug(line, slog.String("script", s.Path))
		}
	}
	return result, nil
}

// Dispatcher picks a runner by script extension.
type Dispatcher struct {
	Starlark ScriptRunner
	Process  ScriptRunner
}

// NewDispatcher returns a dispatcher with the default runners.
func NewDispatcher(shell string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		Starlark: &StarlarkRunner{Logger: logger},
		Process:  &ProcessRunner{Shell: shell, Logger: logger},
	}
}

// Run forwards to the runner for s.Path.
func (d *Dispatcher) Run(ctx context.Context, s Script) (ScriptResult, error) {
	if filepath.Ext(s.Path) == ".star" {
		return d.Starlark.Run(ctx, s)
	}
	return d.Process.Run(ctx, s)
}
