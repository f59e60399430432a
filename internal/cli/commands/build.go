package commands

import (
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/spf13/cobra"
)

// BuildOptions holds options for the build and test commands.
type BuildOptions struct {
	Packages []string
}

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	opts := &BuildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a package and its path dependencies",
		Long: `Compile the root package and every path dependency that is stale.

A unit is stale when it was never built, one of its input files changed after
it was built, or one of its dependencies was rebuilt. Fresh units are skipped.
Use -p to build only the named packages and their dependencies.`,
		Example: `  # Build the package in the current directory
  leapbuild build

  # Build one dependency of the workspace
  leapbuild build -p bar

  # Build with four concurrent jobs and JSON progress
  leapbuild build -j 4 --message-format json`,
		Aliases: []string{"b"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runBuild(cmd, opts, core.ModeBuild)
			return err
		},
	}
	addPackageFlag(cmd, &opts.Packages, "Package to build (may be repeated)")
	return cmd
}

// NewTestCommand creates the test command.
func NewTestCommand() *cobra.Command {
	opts := &BuildOptions{}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Compile the test profile of a package",
		Long: `Compile a package's test unit together with its dev-dependencies.

Dev-dependencies only apply to the package under test; the dev-dependencies of
its dependencies are never resolved. With -p the named package becomes the
package under test.`,
		Example: `  leapbuild test
  leapbuild test -p bar`,
		Aliases: []string{"t"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runBuild(cmd, opts, core.ModeTest)
			return err
		},
	}
	addPackageFlag(cmd, &opts.Packages, "Package to test")
	return cmd
}

func runBuild(cmd *cobra.Command, opts *BuildOptions, mode core.Mode) (*engine.BuildReport, error) {
	e := envFrom(cmd)
	root, err := e.rootDir()
	if err != nil {
		return nil, err
	}

	eng := e.newEngine(output.NewReporter(e.renderer))
	report, err := eng.Build(cmd.Context(), engine.Request{
		RootDir:  root,
		Packages: opts.Packages,
		Mode:     mode,
	})
	if err != nil {
		return report, failure(err)
	}
	e.logger.Debug("build complete",
		"run", report.RunID,
		"compiled", len(report.Compiled),
		"fresh", len(report.Fresh))
	return report, nil
}
