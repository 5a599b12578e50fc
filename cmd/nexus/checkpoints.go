package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/checkpoint"
	"github.com/nexus-ai/nexus/internal/git"
	"github.com/nexus-ai/nexus/internal/state"
)

var checkpointsRestoreGit bool

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List and restore run checkpoints",
	Long: `The engine snapshots project state at wave boundaries and before
risky operations. Restore rolls the recorded task state back; with
--git it also checks out the commit the snapshot was taken at.`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show saved checkpoints",
	RunE:  runCheckpointsList,
}

var checkpointsRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Restore project state from a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsRestore,
}

func init() {
	checkpointsRestoreCmd.Flags().BoolVar(&checkpointsRestoreGit, "git", false, "Also check out the recorded commit")
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsRestoreCmd)
}

func openCheckpointManager() (*checkpoint.Manager, *state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return nil, nil, err
	}

	db, err := state.OpenProject(root)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}

	states := state.NewManager(db, true)
	manager := checkpoint.NewManager(db, states, git.NewService(root), bus.New())
	return manager, db, nil
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	manager, db, err := openCheckpointManager()
	if err != nil {
		return err
	}
	defer db.Close()

	projects, err := db.ListProjects()
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	total := 0
	for _, project := range projects {
		checkpoints, err := manager.List(project.ID)
		if err != nil || len(checkpoints) == 0 {
			continue
		}
		fmt.Printf("%s:\n", project.Name)
		for _, c := range checkpoints {
			total++
			commit := c.GitCommit
			if len(commit) > 8 {
				commit = commit[:8]
			}
			fmt.Printf("  %s  %-20s %s  %s\n",
				c.CreatedAt.Format("2006-01-02 15:04"), c.Reason, commit, c.ID)
		}
		fmt.Println()
	}
	if total == 0 {
		fmt.Println("No checkpoints yet.")
	}
	return nil
}

func runCheckpointsRestore(cmd *cobra.Command, args []string) error {
	manager, db, err := openCheckpointManager()
	if err != nil {
		return err
	}
	defer db.Close()

	restored, err := manager.Restore(context.Background(), args[0], checkpoint.RestoreOptions{
		RestoreGit: checkpointsRestoreGit,
	})
	if err != nil {
		return err
	}

	color.Green("Restored checkpoint %s", args[0])
	fmt.Printf("  %d/%d tasks completed at snapshot time\n", restored.CompletedTasks, restored.TotalTasks)
	fmt.Println("Resume with: nexus run")
	return nil
}
