// Package toolchain runs the external steps of a unit build: build scripts
// and the compiler that turns a package's inputs into an artifact.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// ProcessError is returned when a child process exits unsuccessfully.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("process didn't exit successfully: `%s` (exit status: %d)", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n--- stderr\n" + s
	}
	return msg
}

// processSpec describes one child process invocation.
type processSpec struct {
	Argv []string
	Dir  string
	Env  map[string]string
}

// runProcess runs spec to completion and returns its stdout. The child runs in
// its own process group so cancellation kills anything it spawned.
func runProcess(ctx context.Context, spec processSpec) ([]byte, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ProcessError{
				Command:  strings.Join(spec.Argv, " "),
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("failed to execute `%s`: %w", strings.Join(spec.Argv, " "), err)
	}
	return stdout.Bytes(), nil
}

// envList renders env sorted by key.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// UnitEnv returns the LEAPBUILD_* variables describing a unit to child processes.
func UnitEnv(pkg *core.Package, profile core.Profile, outDir string) map[string]string {
	return map[string]string{
		"LEAPBUILD_PKG_NAME":     pkg.Name(),
		"LEAPBUILD_PKG_VERSION":  pkg.Version(),
		"LEAPBUILD_PKG_AUTHORS":  strings.Join(pkg.Authors, ":"),
		"LEAPBUILD_MANIFEST_DIR": pkg.Dir(),
		"LEAPBUILD_OUT_DIR":      outDir,
		"LEAPBUILD_PROFILE":      string(profile),
	}
}
