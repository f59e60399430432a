// Package commands implements the leapbuild subcommands.
package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapbuild/internal/cli/config"
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/internal/toolchain"
	"github.com/spf13/cobra"
)

// FailureError marks an error raised while resolving or building packages,
// as opposed to a usage or configuration error.
type FailureError struct {
	Err error
}

func (e *FailureError) Error() string { return e.Err.Error() }

func (e *FailureError) Unwrap() error { return e.Err }

// failure wraps err as a FailureError.
func failure(err error) error {
	if err == nil {
		return nil
	}
	var fe *FailureError
	if errors.As(err, &fe) {
		return err
	}
	return &FailureError{Err: err}
}

// env is what every build-related command needs.
type env struct {
	cfg      *config.Config
	renderer *output.Renderer
	logger   *slog.Logger
}

func envFrom(cmd *cobra.Command) env {
	ctx := cmd.Context()
	return env{
		cfg:      config.FromContext(ctx),
		renderer: output.FromContext(ctx),
		logger:   config.GetLogger(ctx),
	}
}

// newEngine creates an engine from the configuration, reporting through reporter.
func (e env) newEngine(reporter engine.Reporter) *engine.Engine {
	var compiler toolchain.Compiler
	if len(e.cfg.Compiler.Command) > 0 {
		compiler = &toolchain.CommandCompiler{Argv: e.cfg.Compiler.Command, Logger: e.logger}
	}
	return engine.New(engine.Config{
		TargetDir: e.cfg.TargetDir,
		Paths:     e.cfg.Paths,
		Jobs:      e.cfg.Jobs,
		Backend:   e.cfg.State.Backend,
		Compiler:  compiler,
		Scripts:   toolchain.NewDispatcher(e.cfg.Script.Shell, e.logger),
		Reporter:  reporter,
		Logger:    e.logger,
	})
}

// rootDir returns the root package directory: --manifest-path when given,
// otherwise the nearest directory at or above the working directory that
// holds a manifest.
func (e env) rootDir() (string, error) {
	if e.cfg.ManifestPath != "" {
		return manifest.FromManifestPath(e.cfg.ManifestPath), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir, err := manifest.Find(wd)
	if err != nil {
		return "", failure(err)
	}
	return dir, nil
}

// addPackageFlag registers -p/--package on cmd.
func addPackageFlag(cmd *cobra.Command, target *[]string, usage string) {
	cmd.Flags().StringArrayVarP(target, "package", "p", nil, usage)
}
