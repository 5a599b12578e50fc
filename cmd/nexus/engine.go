package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus/internal/agent"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/checkpoint"
	"github.com/nexus-ai/nexus/internal/config"
	"github.com/nexus-ai/nexus/internal/coordinator"
	"github.com/nexus-ai/nexus/internal/decompose"
	"github.com/nexus-ai/nexus/internal/estimate"
	"github.com/nexus-ai/nexus/internal/exec"
	"github.com/nexus-ai/nexus/internal/git"
	"github.com/nexus-ai/nexus/internal/graph"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/internal/merge"
	"github.com/nexus-ai/nexus/internal/qa"
	"github.com/nexus-ai/nexus/internal/queue"
	"github.com/nexus-ai/nexus/internal/repomap"
	"github.com/nexus-ai/nexus/internal/review"
	"github.com/nexus-ai/nexus/internal/signals"
	"github.com/nexus-ai/nexus/internal/sink"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/internal/worktree"
	"github.com/nexus-ai/nexus/pkg/models"
)

// engine is everything a run needs, wired together.
type engine struct {
	cfg    *config.Config
	root   string
	db     *state.DB
	events *bus.Bus
	client llm.Client

	coord     *coordinator.Coordinator
	reviews   *review.Service
	ckpts     *checkpoint.Manager
	estimator *estimate.Estimator

	watcher *signals.Watcher
	jsonl   *sink.JSONL
	detach  []func()
}

// buildEngine assembles the full orchestration stack for a repository
// root. The caller owns shutdown via engine.close.
func buildEngine(ctx context.Context, cfg *config.Config, root string, mode models.ProjectMode, verbose bool) (*engine, error) {
	db, err := state.OpenProject(root)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	events := bus.New()
	e := &engine{cfg: cfg, root: root, db: db, events: events, client: client}

	console := sink.NewConsole(nil, verbose || cfg.Events.Verbose)
	e.detach = append(e.detach, console.Attach(events))

	if cfg.Events.LogPath != "" {
		logPath := cfg.Events.LogPath
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(root, logPath)
		}
		if jl, err := sink.NewJSONL(logPath); err == nil {
			e.jsonl = jl
			e.detach = append(e.detach, jl.Attach(events))
		}
	}

	runner := exec.NewRunner()
	gitSvc := git.NewService(root)

	worktrees, err := worktree.NewManager(root, gitSvc)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}
	// Drop registry entries and directories stranded by a crashed run.
	if pruned, err := worktrees.Reconcile(ctx, nil); err != nil {
		e.close()
		return nil, fmt.Errorf("reconcile worktrees: %w", err)
	} else if pruned > 0 {
		fmt.Printf("Reconciled %d stale worktree(s).\n", pruned)
	}

	states := state.NewManager(db, true)
	ckpts := checkpoint.NewManager(db, states, gitSvc, events)
	reviews := review.NewService(db, events, ckpts)
	if err := reviews.Rehydrate(ctx); err != nil {
		e.close()
		return nil, fmt.Errorf("rehydrate reviews: %w", err)
	}
	e.reviews = reviews
	e.ckpts = ckpts

	loopCfg := agent.LoopConfig{
		MaxIterations: cfg.Agents.MaxIterations,
		Timeout:       cfg.Agents.Timeout,
	}
	coder := agent.NewCoderRunner(client, events, loopCfg)
	merger := agent.NewMergerRunner(client, events, loopCfg)
	tester := agent.NewTesterRunner(client, events, loopCfg)

	pool := agent.NewPool(
		map[models.AgentType]int{
			models.AgentCoder:  cfg.Agents.Coders,
			models.AgentTester: cfg.Agents.QAFixers,
			models.AgentMerger: cfg.Agents.Mergers,
		},
		map[models.AgentType]agent.Runner{
			models.AgentCoder:  coder,
			models.AgentTester: tester,
			models.AgentMerger: merger,
		},
		events,
	)

	var buildCmd []string
	if cfg.QA.BuildCommand != "" {
		buildCmd = strings.Fields(cfg.QA.BuildCommand)
	}
	var qaReview *qa.ReviewRunner
	if !cfg.QA.SkipReview {
		qaReview = qa.NewReviewRunner(client, gitSvc, cfg.Git.BaseBranch)
	}
	qaEngine := qa.NewLoopEngine(
		qa.NewBuildRunner(runner, buildCmd),
		qa.NewLintRunner(runner, nil),
		qa.NewTestRunner(runner, nil),
		qaReview,
		coder,
		events,
		qa.LoopConfig{
			MaxIterations:      cfg.QA.MaxIterations,
			StopOnFirstFailure: cfg.QA.StopOnFirstFailure,
			FixLint:            cfg.QA.FixLint,
			SkipLint:           cfg.QA.SkipLint,
			SkipTests:          cfg.QA.SkipTests,
			SkipReview:         cfg.QA.SkipReview,
		},
	)

	estimator := estimate.New()
	e.estimator = estimator
	decomposer := decompose.New(client, estimator)

	coord := coordinator.New(
		coordinator.Config{
			ProjectPath:  root,
			BaseBranch:   cfg.Git.BaseBranch,
			Mode:         mode,
			PollInterval: cfg.Coordinator.PollInterval,
			StopGrace:    cfg.Coordinator.StopGrace,
		},
		coordinator.Deps{
			Events:     events,
			Queue:      queue.New(events),
			Resolver:   graph.NewResolver(),
			Decomposer: decomposer,
			Pool:       pool,
			Worktrees:  worktrees,
			QA:         qaEngine,
			States:     states,
			RepoMap:    repomap.NewGenerator(),
			Features:   db,
		},
	)
	coord.SetReviewService(reviews)
	coord.SetMerger(merge.NewMerger(root, gitSvc, runner))
	if cfg.Coordinator.CheckpointEveryWave {
		coord.SetCheckpoints(ckpts)
	}
	coord.SetReviewStore(db)
	coord.SetLearning(db, estimator)
	e.coord = coord

	// Reviews resolved in this process reach the coordinator over the
	// bus; the review store poller covers the other-process case.
	e.detach = append(e.detach,
		events.On(bus.ReviewApproved, func(ev bus.Event) {
			if p, ok := ev.Payload.(bus.ReviewPayload); ok {
				_ = coord.HandleReviewApproved(context.Background(), p.ReviewID)
			}
		}),
		events.On(bus.ReviewRejected, func(ev bus.Event) {
			if p, ok := ev.Payload.(bus.ReviewPayload); ok {
				_ = coord.HandleReviewRejected(context.Background(), p.ReviewID)
			}
		}),
	)

	if w, err := signals.NewWatcher(root, coord); err == nil {
		e.watcher = w
	}

	return e, nil
}

// ensureProject finds the project record for this repository root,
// creating one when missing.
func ensureProject(db *state.DB, root, name string, mode models.ProjectMode) (*models.Project, error) {
	projects, err := db.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	for _, p := range projects {
		if p.RootPath == root {
			return p, nil
		}
	}

	if name == "" {
		name = filepath.Base(root)
	}
	now := time.Now().UTC()
	p := &models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Mode:      mode,
		RootPath:  root,
		Status:    models.ProjectStatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.SaveProject(p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

// beginRunSession records this engine run in the sessions table so
// other processes (status, recovery) can see a live run. The returned
// func closes the session with token totals and writes summary metrics.
func (e *engine) beginRunSession(projectID, kind string) func(status string) {
	// Sessions left active by a crashed process are over now.
	if stale, err := e.db.ActiveRunSessions(projectID); err == nil {
		for _, s := range stale {
			_ = e.db.EndRunSession(s.ID, "interrupted", s.TokensUsed)
		}
	}
	session := &state.RunSession{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}
	if err := e.db.StartRunSession(session); err != nil {
		return func(string) {}
	}
	startIn, startOut := llm.DefaultMeter.Totals()

	return func(status string) {
		in, out := llm.DefaultMeter.Totals()
		tokens := (in - startIn) + (out - startOut)
		if err := e.db.EndRunSession(session.ID, status, tokens); err != nil {
			return
		}
		progress := e.coord.Progress()
		labels := map[string]string{"kind": kind}
		_ = e.db.RecordMetric(projectID, "tokens_used", float64(tokens), labels)
		_ = e.db.RecordMetric(projectID, "run_minutes", time.Since(session.StartedAt).Minutes(), labels)
		if kind == "run" {
			_ = e.db.RecordMetric(projectID, "tasks_completed", float64(progress.CompletedTasks), nil)
			_ = e.db.RecordMetric(projectID, "tasks_failed", float64(progress.FailedTasks), nil)
		}
	}
}

// seedEstimator replays stored episodes for the project so duration
// calibration survives restarts.
func (e *engine) seedEstimator(projectID string) {
	categories := []estimate.Category{
		estimate.CategoryTest, estimate.CategoryUI, estimate.CategoryBackend,
		estimate.CategoryInfrastructure, estimate.CategoryGeneral,
	}
	for _, category := range categories {
		episodes, err := e.db.EpisodesByCategory(projectID, string(category), 100)
		if err != nil {
			continue
		}
		// Newest first in storage; replay oldest first so the rolling
		// window keeps the recent samples.
		for i := len(episodes) - 1; i >= 0; i-- {
			if episodes[i].Outcome == "completed" {
				e.estimator.CalibrateCategory(category, float64(episodes[i].ActualMinutes))
			}
		}
	}
}

func (e *engine) close() {
	if e.watcher != nil {
		e.watcher.Close()
	}
	for _, detach := range e.detach {
		detach()
	}
	if e.jsonl != nil {
		e.jsonl.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
