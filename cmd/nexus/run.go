package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/config"
	"github.com/nexus-ai/nexus/internal/plan"
	"github.com/nexus-ai/nexus/internal/repomap"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

var (
	runMode        string
	runPlanFile    string
	runProjectName string
	runBaseBranch  string
	runVerbose     bool
	runResume      bool
)

var runCmd = &cobra.Command{
	Use:   "run [feature description]",
	Short: "Plan and execute a project",
	Long: `Plan and execute work in the current repository.

With a feature description argument, that feature is added before
planning. Without arguments, planning runs over the features and
requirements already captured (usually via 'nexus interview').

With --plan, the YAML task list is executed directly, skipping
decomposition.

Control a running engine out of band by dropping marker files:
  touch .nexus/signals/pause
  touch .nexus/signals/resume
  touch .nexus/signals/stop

Examples:
  nexus run                              # execute captured requirements
  nexus run "add OAuth login"            # add a feature and execute
  nexus run --mode evolution "dark mode" # extend an existing codebase
  nexus run --plan tasks.yaml            # execute a prepared task list
  nexus run --resume                     # pick up an interrupted run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Project mode: genesis or evolution (default: auto-detect)")
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Execute a YAML task list instead of planning")
	runCmd.Flags().StringVar(&runProjectName, "project-name", "", "Override the project name")
	runCmd.Flags().StringVar(&runBaseBranch, "base-branch", "", "Merge target branch (default from config)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show chatty agent events")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume an interrupted run instead of replanning")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runBaseBranch != "" {
		cfg.Git.BaseBranch = runBaseBranch
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return err
	}

	mode, err := resolveMode(root)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, root, mode, runVerbose)
	if err != nil {
		return err
	}
	defer eng.close()

	project, err := ensureProject(eng.db, root, runProjectName, mode)
	if err != nil {
		return err
	}
	eng.seedEstimator(project.ID)

	// Evolution runs plan against existing code; refresh the chunk index
	// so stored context matches what is on disk.
	if mode == models.ModeEvolution {
		if n, err := repomap.NewIndexer(eng.db).Index(project.ID, root); err != nil {
			fmt.Printf("Warning: indexing repository: %v\n", err)
		} else if n > 0 {
			fmt.Printf("Indexed %d source file(s).\n", n)
		}
	}

	if len(args) > 0 {
		if err := addFeature(eng.db, project.ID, strings.Join(args, " ")); err != nil {
			return err
		}
	}

	// Ctrl-C triggers a graceful stop; in-flight tasks get the grace
	// window before agents are terminated.
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.StopGrace+5*time.Second)
		defer cancel()
		eng.coord.Stop(stopCtx)
	}()

	endSession := eng.beginRunSession(project.ID, "run")
	err = dispatchRun(ctx, eng, project, root)
	if err != nil {
		endSession("failed")
	} else {
		endSession("completed")
	}
	return err
}

// dispatchRun picks the execution path: a prepared plan file, a resumed
// run, or planning from captured requirements.
func dispatchRun(ctx context.Context, eng *engine, project *models.Project, root string) error {
	if runPlanFile != "" {
		return runFromPlan(ctx, eng, project, runPlanFile, root)
	}

	if runResume {
		resumed, err := resumeRun(ctx, eng, project, root)
		if err != nil || resumed {
			return err
		}
		fmt.Println("Nothing to resume, planning from requirements.")
	}

	if err := featuresFromRequirements(eng.db, project.ID); err != nil {
		return err
	}
	features, err := eng.db.FeaturesByProject(project.ID)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	if len(features) == 0 {
		return fmt.Errorf("nothing to do: capture requirements with 'nexus interview' or pass a feature description")
	}

	return eng.coord.Start(ctx, project.ID)
}

func runFromPlan(ctx context.Context, eng *engine, project *models.Project, path, root string) error {
	f, err := plan.Load(path)
	if err != nil {
		return err
	}
	tasks := f.ToModels(project.ID)
	if err := eng.db.SaveTasks(tasks); err != nil {
		return fmt.Errorf("persist plan tasks: %w", err)
	}
	fmt.Printf("Executing %d tasks from %s\n", len(tasks), path)
	return eng.coord.ExecuteExistingTasks(ctx, project.ID, tasks, root)
}

// resumeRun rewinds tasks stranded by a previous process and re-queues
// everything non-terminal. Returns false when there is nothing to
// resume so the caller can fall back to planning.
func resumeRun(ctx context.Context, eng *engine, project *models.Project, root string) (bool, error) {
	recovery := state.NewRecoveryManager(eng.db)
	if _, err := recovery.MarkStaleAgents(); err != nil {
		return false, fmt.Errorf("mark stale agents: %w", err)
	}
	reset, err := recovery.ResetInFlight(project.ID)
	if err != nil {
		return false, err
	}

	tasks, err := eng.db.TasksByProject(project.ID)
	if err != nil {
		return false, fmt.Errorf("load tasks: %w", err)
	}
	var pending []*models.Task
	for _, t := range tasks {
		if !t.Status.Terminal() {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return false, nil
	}

	if reset > 0 {
		fmt.Printf("Rewound %d interrupted task(s) to pending.\n", reset)
	}
	fmt.Printf("Resuming %d task(s).\n", len(pending))
	return true, eng.coord.ExecuteExistingTasks(ctx, project.ID, pending, root)
}

// resolveMode picks genesis or evolution: an explicit --mode wins,
// otherwise a repository with tracked source files means evolution.
func resolveMode(root string) (models.ProjectMode, error) {
	if runMode != "" {
		mode := models.ProjectMode(runMode)
		if !mode.Valid() {
			return "", fmt.Errorf("invalid mode %q (want genesis or evolution)", runMode)
		}
		return mode, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return models.ModeGenesis, nil
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "README.md" || name == "LICENSE" {
			continue
		}
		return models.ModeEvolution, nil
	}
	return models.ModeGenesis, nil
}

// addFeature records an ad-hoc feature from the command line.
func addFeature(db *state.DB, projectID, description string) error {
	name := description
	if len(name) > 60 {
		name = name[:57] + "..."
	}
	return db.SaveFeature(&models.Feature{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		Priority:    models.PriorityMust,
		Status:      models.FeatureStatusPending,
		CreatedAt:   time.Now().UTC(),
	})
}

// featuresFromRequirements promotes captured requirements that have no
// feature yet. Functional must/should requirements each become one
// feature; the rest inform decomposition through the feature
// descriptions they are attached to.
func featuresFromRequirements(db *state.DB, projectID string) error {
	reqs, err := db.RequirementsByProject(projectID)
	if err != nil {
		return fmt.Errorf("load requirements: %w", err)
	}
	features, err := db.FeaturesByProject(projectID)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}

	covered := make(map[string]bool, len(features))
	for _, f := range features {
		covered[f.Description] = true
	}

	for _, r := range reqs {
		if r.Category != models.CategoryFunctional {
			continue
		}
		if r.Priority != models.PriorityMust && r.Priority != models.PriorityShould {
			continue
		}
		if covered[r.Text] {
			continue
		}
		name := r.Text
		if len(name) > 60 {
			name = name[:57] + "..."
		}
		feature := &models.Feature{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Name:        name,
			Description: r.Text,
			Priority:    r.Priority,
			Status:      models.FeatureStatusPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := db.SaveFeature(feature); err != nil {
			return fmt.Errorf("save feature: %w", err)
		}
		covered[r.Text] = true
	}
	return nil
}
