package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/git"
	"github.com/nexus-ai/nexus/internal/worktree"
)

var (
	cleanupForce  bool
	cleanupDryRun bool
	cleanupMaxAge time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale task worktrees",
	Long: `Sweep the worktrees under .nexus/worktrees.

A crashed or interrupted run can leave task worktrees and branches
behind. Cleanup removes worktrees past the age threshold; --force
removes all of them regardless of age.

Examples:
  nexus cleanup             # remove worktrees idle for over an hour
  nexus cleanup --dry-run   # show what would be removed
  nexus cleanup --force     # remove everything`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Remove every worktree regardless of age")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", time.Hour, "Remove worktrees idle longer than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return err
	}

	manager, err := worktree.NewManager(root, git.NewService(root))
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	// Rebucket by idle time so --max-age compares against fresh status.
	if _, err := manager.RefreshStatus(); err != nil {
		return fmt.Errorf("refresh worktree status: %w", err)
	}

	report, err := manager.Cleanup(context.Background(), worktree.CleanupOptions{
		MaxAge: cleanupMaxAge,
		Force:  cleanupForce,
		DryRun: cleanupDryRun,
	})
	if err != nil {
		return fmt.Errorf("cleanup worktrees: %w", err)
	}

	verb := "Removed"
	if cleanupDryRun {
		verb = "Would remove"
	}
	if len(report.Removed) == 0 && len(report.Failed) == 0 {
		fmt.Println("No stale worktrees found.")
	}
	for _, path := range report.Removed {
		fmt.Printf("%s %s\n", verb, path)
	}
	for _, path := range report.Failed {
		fmt.Fprintf(os.Stderr, "Failed to remove %s\n", path)
	}
	if len(report.Skipped) > 0 {
		fmt.Printf("Skipped %d active worktree(s).\n", len(report.Skipped))
	}
	return nil
}
