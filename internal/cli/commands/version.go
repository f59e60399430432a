package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display leapbuild version and build information.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if commit != "" && commit != "unknown" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapbuild %s (%s)\n", version, commit)
				return
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapbuild %s\n", version)
		},
	}
}
