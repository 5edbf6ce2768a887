package cli

import (
	"fmt"
	"io"

	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/spf13/cobra"
)

var completionLog = logger.New("cli:completion")

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [shell]",
		Short: "Generate shell completion scripts for sgtm commands",
		Long: `Generate shell completion scripts to enable tab completion for sgtm commands.

Tab completion provides:
- Command and flag name completion
- Job name completion for: sgtm pipeline run --job

Supported shells: bash, zsh, fish, powershell

Examples:
  # Bash
  sgtm completion bash > ~/.bash_completion.d/sgtm

  # Zsh
  sgtm completion zsh > "${fpath[1]}/_sgtm"

  # Fish
  sgtm completion fish > ~/.config/fish/completions/sgtm.fish

  # PowerShell
  sgtm completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateCompletion(cmd.Root(), args[0], cmd.OutOrStdout())
		},
	}
}

func generateCompletion(root *cobra.Command, shell string, w io.Writer) error {
	completionLog.Printf("Generating %s completion script", shell)
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}

// completeJobNames completes the job names of the pipeline selected by --file.
func completeJobNames(file *string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		p, err := loadPipeline(*file, io.Discard)
		if err != nil {
			completionLog.Printf("No job completion: %v", err)
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var names []string
		for _, name := range p.JobNames() {
			names = append(names, name+"\t"+p.ImageFor(p.Job(name)))
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}
