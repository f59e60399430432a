package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// fileOptions allows top-level control flow so scripts can loop over files.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// ExecutionContext holds the state of one build script run.
type ExecutionContext struct {
	// Package describes the package being built.
	Package *PackageInfo

	// OutDir is the per-unit scratch directory scripts may write into.
	OutDir string

	// Env holds variables visible to getenv. Lookups fall back to the process environment.
	Env map[string]string

	// Logger receives print() output.
	Logger *slog.Logger

	mu      sync.Mutex
	inputs  map[string]bool
	threads []*starlark.Thread

	// modules is only touched by the executing thread.
	modules map[string]*moduleEntry
}

// NewExecutionContext creates a context for running a script of pkg.
func NewExecutionContext(pkg *PackageInfo, outDir string, env map[string]string, logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecutionContext{
		Package: pkg,
		OutDir:  outDir,
		Env:     env,
		Logger:  logger,
		inputs:  make(map[string]bool),
		modules: make(map[string]*moduleEntry),
	}
}

// Globals returns the predeclared globals for script execution.
func (ec *ExecutionContext) Globals() starlark.StringDict {
	return Predeclared(ec)
}

// Exec runs the script source. filename is used in error messages and backtraces.
// Cancelling ctx interrupts the script at its next step.
func (ec *ExecutionContext) Exec(ctx context.Context, filename string, src []byte) error {
	thread := ec.newThread(filename)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ec.mu.Lock()
			for _, th := range ec.threads {
				th.Cancel(ctx.Err().Error())
			}
			ec.mu.Unlock()
		case <-done:
		}
	}()

	_, err := starlark.ExecFileOptions(fileOptions, thread, filename, src, ec.Globals())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	scriptErr := &ScriptError{File: filename, Message: err.Error()}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		scriptErr.Message = evalErr.Msg
		scriptErr.Backtrace = evalErr.Backtrace()
	}
	return scriptErr
}

// Inputs returns the files the script read or declared, sorted. Paths inside
// the package directory are relative to it.
func (ec *ExecutionContext) Inputs() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, 0, len(ec.inputs))
	for p := range ec.inputs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// recordInput remembers an absolute path as a script input.
func (ec *ExecutionContext) recordInput(abs string) {
	p := abs
	if within(ec.Package.Dir, abs) {
		if rel, err := filepath.Rel(ec.Package.Dir, abs); err == nil {
			p = filepath.ToSlash(rel)
		}
	}
	ec.mu.Lock()
	ec.inputs[p] = true
	ec.mu.Unlock()
}

// resolve turns a script path into an absolute one; relative paths are
// relative to the package directory.
func (ec *ExecutionContext) resolve(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(ec.Package.Dir, p)
}

// writable reports whether a script may write to abs: only inside the
// package directory or the out directory.
func (ec *ExecutionContext) writable(abs string) bool {
	for _, root := range []string{ec.Package.Dir, ec.OutDir} {
		if root == "" {
			continue
		}
		if within(root, abs) {
			return true
		}
	}
	return false
}

func (ec *ExecutionContext) getenv(name string) (string, bool) {
	if v, ok := ec.Env[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

// newThread creates a new Starlark thread whose print goes to the logger.
// Threads are cancelled together when the run's context is done.
func (ec *ExecutionContext) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			ec.Logger.Info(msg, "script", name, "package", ec.Package.Name)
		},
		Load: ec.load,
	}
	ec.mu.Lock()
	ec.threads = append(ec.threads, thread)
	ec.mu.Unlock()
	return thread
}

// ScriptError represents a failure while executing a build script.
type ScriptError struct {
	File      string
	Message   string
	Backtrace string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
