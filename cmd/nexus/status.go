package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project progress",
	Long: `Show the state of the project in the current repository: task
counts by status, feature progress, and any reviews waiting on you.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return err
	}

	dbPath := state.ProjectDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No project state found. Run 'nexus init' to get started.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	projects, err := db.ListProjects()
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet. Run 'nexus interview' or 'nexus run'.")
		return nil
	}

	for _, project := range projects {
		printProject(db, project)
	}
	return nil
}

func printProject(db *state.DB, project *models.Project) {
	bold := color.New(color.Bold)
	bold.Printf("%s", project.Name)
	fmt.Printf("  (%s, %s)\n", project.Mode, project.Status)

	if sessions, err := db.ActiveRunSessions(project.ID); err == nil && len(sessions) > 0 {
		s := sessions[0]
		color.Cyan("  Engine %s session active since %s", s.Kind, s.StartedAt.Local().Format("15:04:05"))
	}

	features, err := db.FeaturesByProject(project.ID)
	if err == nil && len(features) > 0 {
		done := 0
		for _, f := range features {
			if f.Status == models.FeatureStatusCompleted {
				done++
			}
		}
		fmt.Printf("  Features: %d/%d complete\n", done, len(features))
	}

	tasks, err := db.TasksByProject(project.ID)
	if err != nil {
		return
	}
	if len(tasks) == 0 {
		fmt.Println("  No tasks planned yet.")
		return
	}

	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	parts := []string{fmt.Sprintf("%d total", len(tasks))}
	if n := counts[models.TaskStatusCompleted]; n > 0 {
		parts = append(parts, color.GreenString("%d completed", n))
	}
	if n := counts[models.TaskStatusInProgress] + counts[models.TaskStatusAssigned]; n > 0 {
		parts = append(parts, color.CyanString("%d active", n))
	}
	if n := counts[models.TaskStatusPending]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", n))
	}
	if n := counts[models.TaskStatusHumanReview]; n > 0 {
		parts = append(parts, color.YellowString("%d awaiting review", n))
	}
	if n := counts[models.TaskStatusFailed]; n > 0 {
		parts = append(parts, color.RedString("%d failed", n))
	}
	fmt.Printf("  Tasks: %s\n", strings.Join(parts, " | "))

	reviews, err := db.PendingReviews()
	if err == nil {
		pending := 0
		for _, r := range reviews {
			if r.ProjectID == project.ID {
				pending++
			}
		}
		if pending > 0 {
			color.Yellow("  %d review(s) waiting: nexus reviews list", pending)
		}
	}
	fmt.Println()
}
