//go:build !integration

package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// allCommands walks the command tree below root.
func allCommands(root *cobra.Command) []*cobra.Command {
	commands := []*cobra.Command{root}
	for _, sub := range root.Commands() {
		commands = append(commands, allCommands(sub)...)
	}
	return commands
}

// TestShortDescriptionConsistency verifies that all command Short descriptions
// follow CLI conventions:
// - No trailing punctuation (periods, exclamation marks, question marks)
// - This is a common convention for CLI tools (e.g., Git, kubectl, gh)
func TestShortDescriptionConsistency(t *testing.T) {
	for _, cmd := range allCommands(rootCmd) {
		t.Run("command "+cmd.CommandPath()+" has no trailing punctuation", func(t *testing.T) {
			short := cmd.Short
			if short == "" {
				t.Skip("Command has no Short description")
			}

			lastChar := short[len(short)-1:]
			if lastChar == "." || lastChar == "!" || lastChar == "?" {
				t.Errorf("Command '%s' Short description should not end with punctuation. Got: %q", cmd.Name(), short)
			}
		})
	}
}

// TestLongDescriptionHasSentences verifies that Long descriptions use proper
// sentences with punctuation, in contrast to Short descriptions.
// This is a documentation test that logs informational messages rather than failing.
func TestLongDescriptionHasSentences(t *testing.T) {
	for _, cmd := range allCommands(rootCmd) {
		t.Run("command "+cmd.CommandPath()+" Long description uses sentences", func(t *testing.T) {
			long := strings.TrimSpace(cmd.Long)
			if long == "" {
				t.Skip("Command has no Long description")
			}

			if !strings.Contains(long, ".") && !strings.Contains(long, ":") {
				t.Logf("Note: Command '%s' Long description may benefit from sentence punctuation", cmd.Name())
			}
		})
	}
}

func TestRootRegistersCommands(t *testing.T) {
	want := []string{"completion", "mcp-server", "pipeline", "pr", "serve", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected command %q to be registered", name)
		}
	}
	if versionCmd.Parent() != rootCmd {
		t.Error("version command should be attached to the root command")
	}
}
