// Package cli provides the command-line interface for leapbuild.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/leapstack-labs/leapbuild/internal/cli/commands"
	"github.com/leapstack-labs/leapbuild/internal/cli/config"
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	"github.com/spf13/cobra"
)

// Build metadata, overridden with -ldflags -X.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Exit codes.
const (
	ExitOK = 0
	// ExitUsage is returned for usage and configuration errors.
	ExitUsage = 1
	// ExitFailure is returned when resolving or building packages fails.
	ExitFailure = 101
)

// NewRootCmd builds the leapbuild command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapbuild",
		Short: "leapbuild - incremental builds for path-dependency workspaces",
		Long: `leapbuild resolves a package's path dependencies from leapbuild.yaml
manifests, decides which units are stale and runs build scripts and the
compiler for them in dependency order.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// help and completion run without a project
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd {
				return nil
			}

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(wd, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			for _, f := range cfg.Files {
				logger.Debug("using config file", "path", f)
			}

			renderer := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Options{
				Mode:    output.Mode(cfg.MessageFormat),
				Color:   cfg.Color,
				Verbose: cfg.Verbose,
			})

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			ctx = output.WithRenderer(ctx, renderer)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

		flags := rootCmd.PersistentFlags()
	flags.String("manifest-path", "", "Path to leapbuild.yaml (default: nearest in the working directory or above)")
	flags.String("target-dir", "", "Directory for build records and artifacts (default: target beside the root manifest)")
	flags.BoolP("verbose", "v", false, "Verbose output, including fresh units and debug logs")
	flags.String("color", config.DefaultColor, "Coloring: auto, always, never")
	flags.String("message-format", config.DefaultMessageFormat, "Progress format: human, json")
	flags.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	flags.String("log-format", config.DefaultLogFormat, "Log format: text, json")
	flags.IntP("jobs", "j", config.DefaultJobs, "Number of units compiled in parallel")

	completions := map[string][]string{
		"color":          {"auto", "always", "never"},
		"message-format": {"human", "json"},
		"log-level":      {"debug", "info", "warn", "error"},
		"log-format":     {"text", "json"},
	}
	for name, values := range completions {
		_ = rootCmd.RegisterFlagCompletionFunc(name, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		})
	}

		rootCmd.AddCommand(commands.NewBuildCommand())
	rootCmd.AddCommand(commands.NewTestCommand())
	rootCmd.AddCommand(commands.NewCleanCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewTreeCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Run executes the CLI with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return ExitOK
	}

	// Config errors happen before a renderer is configured.
	renderer := output.NewRenderer(stdout, stderr, output.Options{})
	if cmd != nil && cmd.Context() != nil {
		if r, ok := output.Lookup(cmd.Context()); ok {
			renderer = r
		}
	}
	renderer.RenderError(err)
	return ExitCode(err)
}

// Execute runs the root command against the process arguments.
func Execute(ctx context.Context) int {
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fe *commands.FailureError
	if errors.As(err, &fe) {
		return ExitFailure
	}
	return ExitUsage
}

// NewCompletionCommand returns `leapbuild completion <shell>`.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapbuild.

To load completions:

Bash:
  $ source <(leapbuild completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ leapbuild completion bash > /etc/bash_completion.d/leapbuild
  # macOS:
  $ leapbuild completion bash > $(brew --prefix)/etc/bash_completion.d/leapbuild

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ leapbuild completion zsh > "${fpath[1]}/_leapbuild"

Fish:
  $ leapbuild completion fish | source

  # To load completions for each session, execute once:
  $ leapbuild completion fish > ~/.config/fish/completions/leapbuild.fish

PowerShell:
  PS> leapbuild completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
