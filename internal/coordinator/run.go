package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/decompose"
	"github.com/nexus-ai/nexus/internal/merge"
	"github.com/nexus-ai/nexus/internal/review"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/internal/worktree"
	"github.com/nexus-ai/nexus/pkg/models"
)

// compatibilityCriterion is appended to every evolution-mode task so the
// QA loop checks new work against what already exists.
const compatibilityCriterion = "Verify compatibility with existing code"

// modePayload accompanies orchestration:mode.
type modePayload struct {
	ProjectID string             `json:"project_id"`
	Mode      models.ProjectMode `json:"mode"`
}

// Start plans and executes a project from its stored features.
func (c *Coordinator) Start(ctx context.Context, projectID string) error {
	if err := c.begin(projectID, PhasePlanning); err != nil {
		return err
	}
	c.emit(bus.CoordinatorStarted, bus.ProjectPayload{ProjectID: projectID})
	c.emit(bus.OrchestrationMode, modePayload{ProjectID: projectID, Mode: c.cfg.Mode})

	tasks, err := c.plan(ctx, projectID)
	if err != nil {
		c.emit(bus.PlanningError, bus.PlanningPayload{ProjectID: projectID, Error: err.Error()})
		c.fail(projectID, err)
		return err
	}
	return c.execute(ctx, projectID, tasks)
}

// ExecuteExistingTasks runs an already-decomposed task list, skipping
// planning. projectPath overrides the configured working directory when
// non-empty.
func (c *Coordinator) ExecuteExistingTasks(ctx context.Context, projectID string, tasks []*models.Task, projectPath string) error {
	if err := c.begin(projectID, PhaseExecution); err != nil {
		return err
	}
	if projectPath != "" {
		c.cfg.ProjectPath = projectPath
	}
	c.emit(bus.CoordinatorStarted, bus.ProjectPayload{ProjectID: projectID})
	return c.execute(ctx, projectID, tasks)
}

// begin claims the coordinator for a project.
func (c *Coordinator) begin(projectID string, phase Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: state %s", ErrNotIdle, c.state)
	}
	c.state = StateRunning
	c.phase = phase
	c.projectID = projectID
	c.totalTasks = 0
	return nil
}

// plan decomposes the project's features into tasks. In evolution mode a
// repository map is rendered once and prepended to every feature.
func (c *Coordinator) plan(ctx context.Context, projectID string) ([]*models.Task, error) {
	if c.features == nil || c.decomposer == nil {
		return nil, fmt.Errorf("planning requires a feature source and decomposer")
	}
	features, err := c.features.FeaturesByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}
	c.emit(bus.PlanningStarted, bus.PlanningPayload{ProjectID: projectID})

	var repoContext string
	if c.cfg.Mode == models.ModeEvolution && c.repoMap != nil {
		if repoContext, err = c.repoMap.Generate(c.cfg.ProjectPath); err != nil {
			c.debugLog("[coordinator] repo map failed, planning without it: %v", err)
			repoContext = ""
		}
	}

	var tasks []*models.Task
	for _, feature := range features {
		description := feature.Name
		if feature.Description != "" {
			description += ": " + feature.Description
		}
		if repoContext != "" {
			description = "Existing repository context:\n\n" + repoContext + "\n\nFeature to implement: " + description
		}

		featureTasks, err := c.decomposer.Decompose(ctx, description, decompose.Options{})
		if err != nil {
			return nil, fmt.Errorf("decompose feature %s: %w", feature.ID, err)
		}
		for _, task := range featureTasks {
			task.ProjectID = projectID
			task.FeatureID = feature.ID
			if c.cfg.Mode == models.ModeEvolution {
				task.TestCriteria = append(task.TestCriteria, compatibilityCriterion)
			}
		}
		tasks = append(tasks, featureTasks...)
		c.emit(bus.PlanningProgress, bus.PlanningPayload{
			ProjectID: projectID,
			Feature:   feature.Name,
			Tasks:     len(featureTasks),
		})
	}

	c.emit(bus.PlanningCompleted, bus.PlanningPayload{ProjectID: projectID, Tasks: len(tasks)})
	return tasks, nil
}

// execute schedules tasks into waves and runs them to completion.
func (c *Coordinator) execute(ctx context.Context, projectID string, tasks []*models.Task) error {
	if cycles := c.resolver.DetectCycles(tasks); len(cycles) > 0 {
		err := fmt.Errorf("dependency cycle: %s", strings.Join(cycles[0], " -> "))
		c.fail(projectID, err)
		return err
	}

	waves := c.resolver.CalculateWaves(tasks)
	for _, wave := range waves {
		for _, task := range wave.Tasks {
			c.queue.Enqueue(task, wave.ID)
			c.emit(bus.TaskCreated, bus.TaskPayload{TaskID: task.ID, TaskName: task.Name, WaveID: wave.ID})
		}
	}

	c.mu.Lock()
	c.phase = PhaseExecution
	c.totalTasks = len(tasks)
	c.mu.Unlock()
	c.updateProjectState(projectID, models.ProjectStatusRunning)

	if len(tasks) == 0 {
		c.finish(projectID, waves)
		return nil
	}

	if c.reviewDB != nil {
		pollCtx, stopPolling := context.WithCancel(ctx)
		defer stopPolling()
		go c.pollReviews(pollCtx)
	}

	for _, wave := range waves {
		if c.Status().State == StateStopping {
			break
		}
		if err := c.runWave(ctx, wave); err != nil {
			c.fail(projectID, err)
			return err
		}
	}

	c.finish(projectID, waves)
	return nil
}

// runWave pumps one wave: dispatch ready tasks onto agents until the wave
// has no live tasks left.
func (c *Coordinator) runWave(ctx context.Context, wave *models.Wave) error {
	c.emit(bus.WaveStarted, bus.WavePayload{WaveID: wave.ID, TaskCount: len(wave.Tasks)})

	g, gctx := errgroup.WithContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			g.Wait()
			return err
		}

		c.mu.Lock()
		for c.state == StatePaused {
			c.cond.Wait()
		}
		stopping := c.state == StateStopping
		c.mu.Unlock()
		if stopping {
			break
		}

		dispatched := c.dispatch(gctx, g, wave.ID)

		// Tasks whose dependency failed can never run; fail them now so
		// the wave does not hang.
		for _, blocked := range c.queue.BlockedTasks() {
			if blocked.WaveID != wave.ID {
				continue
			}
			if err := c.queue.MarkFailed(blocked.ID); err == nil {
				c.emit(bus.TaskFailed, bus.TaskPayload{
					TaskID: blocked.ID, TaskName: blocked.Name,
					Status: models.TaskStatusFailed, Error: "dependency failed",
				})
			}
		}

		live := c.queue.ByWave(wave.ID)
		if len(live) == 0 && c.inflightCount() == 0 {
			break
		}
		if !dispatched && c.inflightCount() == 0 && allAwaitingReview(live) {
			// Everything left in the wave is parked on a human review.
			if err := c.Pause(pauseReasonReview); err != nil {
				c.debugLog("[coordinator] pausing for review: %v", err)
			}
			continue
		}
		if !dispatched {
			time.Sleep(c.cfg.PollInterval)
		}
	}
	g.Wait()

	_, _, completed, failed := c.queue.Counts()
	c.emit(bus.WaveCompleted, bus.WavePayload{WaveID: wave.ID, TaskCount: len(wave.Tasks), Completed: completed, Failed: failed})
	if c.checkpoints != nil {
		c.mu.Lock()
		projectID := c.projectID
		c.mu.Unlock()
		if _, err := c.checkpoints.CreateAuto(ctx, projectID, fmt.Sprintf("wave-%d", wave.ID)); err != nil {
			c.debugLog("[coordinator] wave checkpoint failed: %v", err)
		}
	}
	c.saveContinuePoint(wave.ID)
	return nil
}

// dispatch assigns as many ready tasks as agents allow. It reports
// whether anything was dispatched this pass.
func (c *Coordinator) dispatch(ctx context.Context, g *errgroup.Group, waveID int) bool {
	dispatched := false
	for {
		next := c.queue.Peek()
		if next == nil || next.WaveID != waveID {
			break
		}
		worker := c.acquireAgent()
		if worker == nil {
			break
		}
		task := c.queue.Dequeue()
		if task == nil {
			c.pool.Release(worker.ID)
			break
		}

		var wt *worktree.Worktree
		if c.worktrees != nil {
			created, err := c.worktrees.Create(ctx, task.ID, c.cfg.BaseBranch)
			if err != nil {
				c.debugLog("[coordinator] worktree for %s failed, using project dir: %v", task.ID, err)
			} else {
				wt = created
			}
		}
		workPath := c.cfg.ProjectPath
		if wt != nil {
			workPath = wt.Path
		}

		if err := c.queue.UpdateStatus(task.ID, models.TaskStatusAssigned); err != nil {
			c.debugLog("[coordinator] assigning %s: %v", task.ID, err)
		}
		if err := c.pool.Assign(worker.ID, task.ID, workPath); err != nil {
			c.debugLog("[coordinator] assigning agent %s: %v", worker.ID, err)
		}

		c.addInflight(1)
		g.Go(func() error {
			defer c.addInflight(-1)
			c.runTask(ctx, task, worker, wt)
			return nil
		})
		dispatched = true
	}
	return dispatched
}

// acquireAgent returns an idle coder, spawning one when the pool has
// capacity. Nil means the pool is saturated.
func (c *Coordinator) acquireAgent() *models.Agent {
	if idle := c.pool.AvailableByType(models.AgentCoder); len(idle) > 0 {
		return idle[0]
	}
	worker, err := c.pool.Spawn(models.AgentCoder)
	if err != nil {
		return nil
	}
	return worker
}

// runTask executes one task end to end: QA loop, then merge or
// escalation, then cleanup.
func (c *Coordinator) runTask(ctx context.Context, task *models.Task, worker *models.Agent, wt *worktree.Worktree) {
	if err := c.queue.UpdateStatus(task.ID, models.TaskStatusInProgress); err != nil {
		c.debugLog("[coordinator] starting %s: %v", task.ID, err)
	}
	c.emit(bus.TaskStarted, bus.TaskPayload{TaskID: task.ID, TaskName: task.Name, AgentID: worker.ID, WaveID: task.WaveID})

	workDir := c.cfg.ProjectPath
	if wt != nil {
		workDir = wt.Path
		if err := c.worktrees.UpdateActivity(task.ID); err != nil {
			c.debugLog("[coordinator] touching worktree for %s: %v", task.ID, err)
		}
	}

	retained := false
	defer func() {
		if err := c.pool.Release(worker.ID); err != nil {
			c.debugLog("[coordinator] releasing agent %s: %v", worker.ID, err)
		}
		if wt != nil && !retained && c.worktrees != nil {
			if err := c.worktrees.Remove(ctx, task.ID, worktree.RemoveOptions{DeleteBranch: true}); err != nil {
				c.debugLog("[coordinator] removing worktree for %s: %v", task.ID, err)
			}
		}
	}()

	started := time.Now()
	result, err := c.qa.Run(ctx, task, workDir)
	elapsed := time.Since(started)
	switch {
	case err != nil:
		c.failTask(task, err.Error())
		c.recordOutcome(task, "failed", elapsed)
	case result.Escalated:
		retained = c.escalate(ctx, task, worker, wt, models.ReasonQAExhausted, result.Reason)
		c.recordOutcome(task, "escalated", elapsed)
	case result.Success:
		retained = c.completeTask(ctx, task, worker, wt, result.Iterations)
		c.recordOutcome(task, "completed", elapsed)
	default:
		c.failTask(task, result.Reason)
		c.recordOutcome(task, "failed", elapsed)
	}
	c.syncProgress()
}

// completeTask merges the task branch when possible and marks the task
// done. It reports whether the worktree must be retained for a review.
func (c *Coordinator) completeTask(ctx context.Context, task *models.Task, worker *models.Agent, wt *worktree.Worktree, iterations int) bool {
	if wt != nil {
		if c.merger == nil {
			c.emit(bus.TaskMergeFailed, bus.TaskPayload{TaskID: task.ID, Error: "no merger configured"})
		} else {
			result, err := c.merger.Merge(ctx, merge.Request{
				SourceBranch: wt.Branch,
				TargetBranch: c.cfg.BaseBranch,
			})
			switch {
			case err != nil:
				c.emit(bus.TaskMergeFailed, bus.TaskPayload{TaskID: task.ID, Error: err.Error()})
			case result.Success:
				c.emit(bus.TaskMerged, bus.TaskPayload{TaskID: task.ID, Detail: result.CommitHash})
				if pushErr := c.merger.PushToRemote(ctx, c.cfg.BaseBranch); pushErr == nil {
					c.emit(bus.TaskPushed, bus.TaskPayload{TaskID: task.ID})
				} else {
					c.debugLog("[coordinator] push after merging %s: %v", task.ID, pushErr)
				}
			default:
				// Merge conflict: hand the branch to a human.
				detail := fmt.Sprintf("conflicts in: %s", strings.Join(result.ConflictFiles, ", "))
				return c.escalate(ctx, task, worker, wt, models.ReasonMergeConflict, detail)
			}
		}
	}

	if err := c.queue.MarkComplete(task.ID); err != nil {
		c.debugLog("[coordinator] completing %s: %v", task.ID, err)
	}
	c.emit(bus.TaskCompleted, bus.TaskPayload{TaskID: task.ID, TaskName: task.Name, Status: models.TaskStatusCompleted, Iterations: iterations})
	return false
}

// escalate opens a human review for the task. Without a review service
// the task simply fails. It reports whether the worktree is retained.
func (c *Coordinator) escalate(ctx context.Context, task *models.Task, worker *models.Agent, wt *worktree.Worktree, reason models.ReviewReason, detail string) bool {
	if c.reviews == nil {
		c.failTask(task, detail)
		return false
	}

	opened, err := c.reviews.Open(ctx, review.Request{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Reason:    reason,
		Context:   detail,
	})
	if err != nil {
		c.debugLog("[coordinator] opening review for %s: %v", task.ID, err)
		c.failTask(task, detail)
		return false
	}

	if err := c.queue.UpdateStatus(task.ID, models.TaskStatusHumanReview); err != nil {
		c.debugLog("[coordinator] parking %s for review: %v", task.ID, err)
	}

	path := ""
	if wt != nil {
		path = wt.Path
	}
	c.mu.Lock()
	c.escalations[opened.ID] = escalation{TaskID: task.ID, WorktreePath: path}
	c.retained[task.ID] = wt != nil
	c.mu.Unlock()

	c.emit(bus.TaskEscalated, bus.TaskPayload{
		TaskID: task.ID, TaskName: task.Name, AgentID: worker.ID,
		Error: detail, Recoverable: true,
	})
	return wt != nil
}

func (c *Coordinator) failTask(task *models.Task, reason string) {
	if err := c.queue.MarkFailed(task.ID); err != nil {
		c.debugLog("[coordinator] failing %s: %v", task.ID, err)
	}
	c.emit(bus.TaskFailed, bus.TaskPayload{
		TaskID: task.ID, TaskName: task.Name,
		Status: models.TaskStatusFailed, Error: reason,
	})
}

// finish closes out the run with completion accounting.
func (c *Coordinator) finish(projectID string, waves []*models.Wave) {
	c.mu.Lock()
	c.phase = PhaseCompletion
	total := c.totalTasks
	c.mu.Unlock()

	_, _, completed, failed := c.queue.Counts()
	switch {
	case total == 0 || completed > 0:
		c.updateProjectState(projectID, models.ProjectStatusCompleted)
		c.emit(bus.ProjectCompleted, bus.ProjectPayload{
			ProjectID:      projectID,
			Status:         models.ProjectStatusCompleted,
			CompletedTasks: completed,
			FailedTasks:    failed,
			TotalWaves:     len(waves),
		})
	default:
		c.updateProjectState(projectID, models.ProjectStatusFailed)
		c.emit(bus.ProjectFailed, bus.ProjectPayload{
			ProjectID:   projectID,
			Status:      models.ProjectStatusFailed,
			FailedTasks: failed,
			Error:       "all tasks failed",
		})
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// fail aborts the run before or during execution.
func (c *Coordinator) fail(projectID string, cause error) {
	c.updateProjectState(projectID, models.ProjectStatusFailed)
	c.emit(bus.ProjectFailed, bus.ProjectPayload{
		ProjectID: projectID,
		Status:    models.ProjectStatusFailed,
		Error:     cause.Error(),
	})
	c.mu.Lock()
	c.state = StateIdle
	c.phase = ""
	c.mu.Unlock()
}

func (c *Coordinator) updateProjectState(projectID string, status models.ProjectStatus) {
	if c.states == nil {
		return
	}
	update := state.StateUpdate{Status: &status}
	c.mu.Lock()
	total := c.totalTasks
	c.mu.Unlock()
	if total > 0 {
		update.TotalTasks = &total
	}
	if _, err := c.states.Update(projectID, update); err != nil {
		c.debugLog("[coordinator] state update for %s: %v", projectID, err)
	}
}

func (c *Coordinator) syncProgress() {
	if c.states == nil {
		return
	}
	_, _, completed, _ := c.queue.Counts()
	c.mu.Lock()
	projectID := c.projectID
	c.mu.Unlock()
	if projectID == "" {
		return
	}
	if _, err := c.states.Update(projectID, state.StateUpdate{CompletedTasks: &completed}); err != nil {
		c.debugLog("[coordinator] progress update: %v", err)
	}
}

// allAwaitingReview reports whether every live task is parked on a human
// review.
func allAwaitingReview(tasks []*models.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusHumanReview {
			return false
		}
	}
	return true
}
