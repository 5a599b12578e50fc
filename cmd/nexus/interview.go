package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/config"
	"github.com/nexus-ai/nexus/internal/decompose"
	"github.com/nexus-ai/nexus/internal/estimate"
	"github.com/nexus-ai/nexus/internal/interview"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/internal/plan"
	"github.com/nexus-ai/nexus/internal/repomap"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

var (
	interviewEvolution bool
	interviewResume    bool
	interviewExport    string
)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Capture requirements through a guided conversation",
	Long: `Talk through what you want built. The interviewer asks questions,
captures structured requirements as you answer, and suggests areas you
have not covered yet.

Sessions autosave; an interrupted interview picks up where it left off
with --resume. Type 'done' to finish the session.

With --export, the captured requirements are decomposed into a task
plan you can inspect, edit, and execute later with 'nexus run --plan'.

Examples:
  nexus interview                      # start capturing requirements
  nexus interview --evolution          # interview about an existing codebase
  nexus interview --resume             # continue the last open session
  nexus interview --export plan.yaml   # decompose to a task list when done`,
	RunE: runInterview,
}

func init() {
	interviewCmd.Flags().BoolVar(&interviewEvolution, "evolution", false, "Interview about extending the existing codebase")
	interviewCmd.Flags().BoolVar(&interviewResume, "resume", false, "Resume the most recent open session")
	interviewCmd.Flags().StringVar(&interviewExport, "export", "", "Write a decomposed task plan to this file when the session ends")
}

func runInterview(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := state.OpenProject(root)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	mode := models.ModeGenesis
	if interviewEvolution {
		mode = models.ModeEvolution
	}
	project, err := ensureProject(db, root, "", mode)
	if err != nil {
		return err
	}

	// Record the interview as an engine session so status and recovery
	// see it, with token usage measured over this process.
	runSession := &state.RunSession{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Kind:      "interview",
		StartedAt: time.Now().UTC(),
	}
	startIn, startOut := llm.DefaultMeter.Totals()
	if err := db.StartRunSession(runSession); err == nil {
		defer func() {
			in, out := llm.DefaultMeter.Totals()
			if err := db.EndRunSession(runSession.ID, "completed", (in-startIn)+(out-startOut)); err != nil {
				fmt.Printf("Warning: closing session record: %v\n", err)
			}
		}()
	}

	events := bus.New()
	engine := interview.NewEngine(client, db, events)

	store, err := interview.OpenStore(filepath.Join(root, ".nexus", "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	manager := interview.NewSessionManager(engine, store)
	if cfg.Interview.AutosaveInterval > 0 {
		manager.SetInterval(cfg.Interview.AutosaveInterval)
	}
	manager.Start()
	defer manager.Stop()

	session, err := openSession(ctx, engine, manager, project, root, mode)
	if err != nil {
		return err
	}

	fmt.Println("Describe what you want built. Type 'done' when finished.")
	fmt.Println()

	captured := runInterviewLoop(ctx, engine, session.ID)

	ended, err := engine.EndSession(session.ID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	manager.Flush()

	fmt.Printf("\nSession complete: %d requirements captured (%d this session).\n",
		len(ended.ExtractedRequirements), captured)

	if interviewExport != "" {
		return exportPlan(ctx, client, db, project, interviewExport)
	}
	fmt.Println("Run 'nexus run' to plan and execute.")
	return nil
}

func openSession(ctx context.Context, engine *interview.Engine, manager *interview.SessionManager, project *models.Project, root string, mode models.ProjectMode) (*interview.Session, error) {
	if interviewResume {
		session, err := manager.Restore(project.ID)
		if err == nil {
			fmt.Printf("Resuming session with %d requirements captured so far.\n", len(session.ExtractedRequirements))
			return session, nil
		}
		fmt.Println("No open session found, starting fresh.")
	}

	opts := interview.StartOptions{Mode: mode}
	if mode == models.ModeEvolution {
		if repoMap, err := repomap.NewGenerator().Generate(root); err == nil {
			opts.EvolutionContext = repoMap
		}
	}
	return engine.StartSession(project.ID, opts)
}

func runInterviewLoop(ctx context.Context, engine *interview.Engine, sessionID string) int {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	captured := 0
	prompt := color.New(color.FgCyan, color.Bold)

	for {
		prompt.Print("> ")
		if !scanner.Scan() {
			return captured
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "done" || line == "exit" || line == "quit" {
			return captured
		}

		turn, err := engine.ProcessMessage(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return captured
			}
			color.Red("error: %v", err)
			continue
		}

		fmt.Println()
		fmt.Println(turn.Response)
		for _, req := range turn.Extracted {
			captured++
			color.Green("  + [%s/%s] %s", req.Category, req.Priority, req.Text)
		}
		if len(turn.SuggestedGaps) > 0 {
			color.Yellow("  not yet covered: %s", strings.Join(turn.SuggestedGaps, ", "))
		}
		fmt.Println()
	}
}

// exportPlan decomposes the captured requirements into a task list and
// writes it as a plan file.
func exportPlan(ctx context.Context, client llm.Client, db *state.DB, project *models.Project, path string) error {
	if err := featuresFromRequirements(db, project.ID); err != nil {
		return err
	}
	features, err := db.FeaturesByProject(project.ID)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	if len(features) == 0 {
		return fmt.Errorf("no functional requirements to decompose")
	}

	decomposer := decompose.New(client, estimate.New())

	var all []*models.Task
	for _, feature := range features {
		fmt.Printf("Decomposing: %s\n", feature.Name)
		tasks, err := decomposer.Decompose(ctx, feature.Name+": "+feature.Description, decompose.Options{})
		if err != nil {
			return fmt.Errorf("decompose %q: %w", feature.Name, err)
		}
		for _, t := range tasks {
			t.ProjectID = project.ID
			t.FeatureID = feature.ID
		}
		all = append(all, tasks...)
	}

	if err := plan.FromModels(project.ID, all).Write(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %d tasks to %s. Execute with: nexus run --plan %s\n", len(all), path, path)
	return nil
}
