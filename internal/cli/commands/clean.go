package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/spf13/cobra"
)

// NewCleanCommand creates the clean command.
func NewCleanCommand() *cobra.Command {
	var packages []string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build records and artifacts",
		Long: `Remove the target directory, or with -p only the build records, artifacts
and build script output of the named packages. Cleaned units are stale on the
next build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			root, err := e.rootDir()
			if err != nil {
				return err
			}
			removed, err := e.newEngine(nil).Clean(cmd.Context(), engine.CleanRequest{
				RootDir:  root,
				Packages: packages,
			})
			if err != nil {
				return failure(err)
			}
			noun := "paths"
			if len(removed) == 1 {
				noun = "path"
			}
			e.renderer.Status("Removed", fmt.Sprintf("%d %s", len(removed), noun))
			for _, p := range removed {
				e.logger.Debug("removed", "path", p)
			}
			return nil
		},
	}
	addPackageFlag(cmd, &packages, "Package to clean (may be repeated)")
	return cmd
}
