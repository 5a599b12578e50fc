package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/review"
	"github.com/nexus-ai/nexus/internal/state"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List and resolve escalated tasks",
	Long: `Tasks the engine could not finish on its own wait here: QA loops
that gave up, merge conflicts, and manual escalations. Approve a review
to accept the work as-is; reject it to fail the task.`,
}

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show pending reviews",
	RunE:  runReviewsList,
}

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve <review-id> [resolution note]",
	Short: "Approve a pending review",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveReview(args[0], strings.Join(args[1:], " "), true)
	},
}

var reviewsRejectCmd = &cobra.Command{
	Use:   "reject <review-id> [feedback]",
	Short: "Reject a pending review, failing the task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveReview(args[0], strings.Join(args[1:], " "), false)
	},
}

func init() {
	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsApproveCmd)
	reviewsCmd.AddCommand(reviewsRejectCmd)
}

func openReviewService() (*review.Service, *state.DB, error) {
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

	svc := review.NewService(db, bus.New(), nil)
	if err := svc.Rehydrate(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load pending reviews: %w", err)
	}
	return svc, db, nil
}

func runReviewsList(cmd *cobra.Command, args []string) error {
	svc, db, err := openReviewService()
	if err != nil {
		return err
	}
	defer db.Close()

	pending := svc.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending reviews.")
		return nil
	}

	fmt.Printf("%d pending review(s):\n\n", len(pending))
	for _, r := range pending {
		task, err := db.GetTask(r.TaskID)
		taskName := r.TaskID
		if err == nil {
			taskName = fmt.Sprintf("%s (%s)", task.Name, r.TaskID)
		}
		color.Yellow("%s", r.ID)
		fmt.Printf("  task:   %s\n", taskName)
		fmt.Printf("  reason: %s\n", r.Reason)
		if r.Context != "" {
			fmt.Printf("  detail: %s\n", indent(r.Context, "          "))
		}
		fmt.Printf("  opened: %s\n\n", r.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println("Resolve with: nexus reviews approve|reject <review-id>")
	return nil
}

func resolveReview(id, note string, approve bool) error {
	svc, db, err := openReviewService()
	if err != nil {
		return err
	}
	defer db.Close()

	if approve {
		r, err := svc.Approve(id, note)
		if err != nil {
			return err
		}
		color.Green("Approved %s (task %s)", r.ID, r.TaskID)
	} else {
		r, err := svc.Reject(id, note)
		if err != nil {
			return err
		}
		color.Red("Rejected %s (task %s)", r.ID, r.TaskID)
	}
	fmt.Println("A running engine applies the decision when it resumes the wave.")
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
