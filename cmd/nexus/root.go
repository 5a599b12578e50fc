package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Only the cli backend needs it; the anthropic backend talks to the API
// directly.
func CheckClaudeCLI(binary string) error {
	if binary == "" {
		binary = "claude"
	}
	_, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"The cli backend drives agents through the Claude Code CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"Or switch to the API backend:\n"+
			"  nexus config llm.backend anthropic", binary)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Autonomous software construction engine",
	Long: `Nexus turns requirements into working code.

It interviews you to capture requirements, decomposes features into
small tasks, executes them with parallel LLM agents in isolated git
worktrees, drives each task through a build/lint/test/review loop, and
merges passing work back to the base branch. Tasks the engine cannot
finish are escalated to a human review gate.

Typical flow:
  nexus init                     # set up the repository
  nexus interview                # capture requirements
  nexus run                      # plan and execute
  nexus reviews list             # resolve escalations
  nexus status                   # watch progress`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// findGitRoot finds the root of the git repository starting from the
// given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository (run 'nexus init' first)")
		}
		dir = parent
	}
}
