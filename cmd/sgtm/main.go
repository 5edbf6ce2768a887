package main

import (
	"fmt"
	"os"

	"github.com/sgtm-bot/sgtm/pkg/cli"
	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/spf13/cobra"
)

// Build-time variables, set with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sgtm",
	Short: "GitHub pull request bot and CI pipeline tooling",
	Long: `sgtm keeps pull requests moving.

It serves the GitHub webhook that tracks pull request participants, reruns stale
checks and merges labelled pull requests once they are ready. It also owns the
continuous integration pipeline of the repository: planning, validating,
rendering and running it locally.

Common tasks:
  sgtm serve                    # Run the webhook server
  sgtm pr status acme/app 42    # Inspect a pull request
  sgtm pipeline plan -b main    # Jobs that run on the main branch
  sgtm pipeline render -o .github/workflows/build.yml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the sgtm version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage("sgtm version "+cli.GetVersion()))
	},
}

func init() {
	cli.SetVersionInfo(version)
	rootCmd.Version = cli.GetVersion()

	rootCmd.AddCommand(
		cli.NewServeCommand(),
		cli.NewPipelineCommand(),
		cli.NewPRCommand(),
		cli.NewMCPServerCommand(),
		cli.NewCompletionCommand(),
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		os.Exit(1)
	}
}
