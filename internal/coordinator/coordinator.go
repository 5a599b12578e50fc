// Package coordinator is the top-level state machine of the engine: it
// decomposes features into tasks, schedules them wave by wave over the
// agent pool, runs each through the QA loop, and routes merges and
// escalations. Everything observable about a run flows out through the
// event bus.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus/internal/agent"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/decompose"
	"github.com/nexus-ai/nexus/internal/estimate"
	"github.com/nexus-ai/nexus/internal/graph"
	"github.com/nexus-ai/nexus/internal/merge"
	"github.com/nexus-ai/nexus/internal/qa"
	"github.com/nexus-ai/nexus/internal/queue"
	"github.com/nexus-ai/nexus/internal/review"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/internal/worktree"
	"github.com/nexus-ai/nexus/pkg/models"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Phase is where a running project is in its lifecycle.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecution  Phase = "execution"
	PhaseCompletion Phase = "completion"
)

// pauseReasonReview marks a pause the coordinator took on its own while
// waiting for a human review; resolving the review lifts it.
const pauseReasonReview = "review_pending"

// ErrNotIdle is returned when Start is called on a busy coordinator.
var ErrNotIdle = errors.New("coordinator: already running")

// Config carries the per-run knobs.
type Config struct {
	// ProjectPath is the working directory tasks run in when they have
	// no worktree.
	ProjectPath string
	// BaseBranch is the merge target. Defaults to main.
	BaseBranch string
	// Mode selects genesis or evolution planning.
	Mode models.ProjectMode
	// PollInterval is the dispatch pump's sleep between passes.
	PollInterval time.Duration
	// ReviewPollInterval is how often pending escalations are checked
	// against the review store for out-of-process resolutions.
	ReviewPollInterval time.Duration
	// StopGrace bounds how long Stop waits for in-flight tasks.
	StopGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseBranch == "" {
		c.BaseBranch = "main"
	}
	if c.Mode == "" {
		c.Mode = models.ModeGenesis
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ReviewPollInterval <= 0 {
		c.ReviewPollInterval = 2 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	return c
}

// taskDecomposer breaks a feature description into tasks.
type taskDecomposer interface {
	Decompose(ctx context.Context, featureDescription string, opts decompose.Options) ([]*models.Task, error)
}

// featureSource provides the features a project plans from.
type featureSource interface {
	FeaturesByProject(projectID string) ([]*models.Feature, error)
}

// repoMapper renders an existing repository for evolution prompts.
type repoMapper interface {
	Generate(root string) (string, error)
}

// qaRunner drives one task through the QA loop.
type qaRunner interface {
	Run(ctx context.Context, task *models.Task, workDir string) (*qa.LoopResult, error)
}

// worktreeBridge is the slice of the worktree manager the coordinator uses.
type worktreeBridge interface {
	Create(ctx context.Context, taskID, baseBranch string) (*worktree.Worktree, error)
	Remove(ctx context.Context, taskID string, opts worktree.RemoveOptions) error
	UpdateActivity(taskID string) error
}

// mergerRunner merges task branches back to the base branch.
type mergerRunner interface {
	Merge(ctx context.Context, req merge.Request) (*merge.Result, error)
	PushToRemote(ctx context.Context, branch string) error
}

// reviewOpener escalates tasks to a human gate.
type reviewOpener interface {
	Open(ctx context.Context, req review.Request) (*models.Review, error)
}

// checkpointCreator snapshots project state.
type checkpointCreator interface {
	CreateAuto(ctx context.Context, projectID, trigger string) (*models.Checkpoint, error)
}

// reviewStore reads review rows straight from persistence. The review
// service's in-memory cache goes stale when a review is resolved by
// another process, so the poller must not go through it.
type reviewStore interface {
	GetReview(id string) (*models.Review, error)
}

// learningStore persists per-task execution episodes and the continue
// points a resumed run picks up from.
type learningStore interface {
	SaveEpisode(e *state.Episode) error
	SaveContinuePoint(cp *state.ContinuePoint) error
}

// durationCalibrator feeds actual task durations back into estimation.
type durationCalibrator interface {
	Calibrate(task *models.Task, actualMinutes float64)
}

// escalation remembers what a pending review is blocking. The agent is
// deliberately not tracked: runTask's deferred release returns it to
// the pool the moment the task escalates, and by resolution time it may
// be mid-flight on another task.
type escalation struct {
	TaskID       string
	WorktreePath string
}

// Deps are the collaborators a coordinator is built from. Worktrees,
// States, RepoMap, and Features may be nil; the corresponding behavior is
// skipped.
type Deps struct {
	Events     *bus.Bus
	Queue      *queue.Queue
	Resolver   *graph.Resolver
	Decomposer taskDecomposer
	Pool       *agent.Pool
	Worktrees  worktreeBridge
	QA         qaRunner
	States     *state.Manager
	RepoMap    repoMapper
	Features   featureSource
}

// Coordinator runs one project at a time.
type Coordinator struct {
	cfg Config

	events     *bus.Bus
	queue      *queue.Queue
	resolver   *graph.Resolver
	decomposer taskDecomposer
	pool       *agent.Pool
	worktrees  worktreeBridge
	qa         qaRunner
	states     *state.Manager
	repoMap    repoMapper
	features   featureSource

	reviews     reviewOpener
	merger      mergerRunner
	checkpoints checkpointCreator
	reviewDB    reviewStore
	learning    learningStore
	calibrator  durationCalibrator

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	phase       Phase
	projectID   string
	pauseReason string
	inflight    int
	escalations map[string]escalation
	retained    map[string]bool
	totalTasks  int

	debugLog func(format string, args ...interface{})
}

// New creates a Coordinator in the idle state.
func New(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{
		cfg:         cfg.withDefaults(),
		events:      deps.Events,
		queue:       deps.Queue,
		resolver:    deps.Resolver,
		decomposer:  deps.Decomposer,
		pool:        deps.Pool,
		worktrees:   deps.Worktrees,
		qa:          deps.QA,
		states:      deps.States,
		repoMap:     deps.RepoMap,
		features:    deps.Features,
		state:       StateIdle,
		escalations: make(map[string]escalation),
		retained:    make(map[string]bool),
		debugLog:    func(string, ...interface{}) {},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetDebugLogger sets the debug logging function.
func (c *Coordinator) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		c.debugLog = fn
	}
}

// SetReviewService injects the human review gate. Without one,
// escalations fail their task instead.
func (c *Coordinator) SetReviewService(r reviewOpener) { c.reviews = r }

// SetMerger injects the merge runner. Without one, worktree branches are
// left unmerged and task:merge-failed is emitted.
func (c *Coordinator) SetMerger(m mergerRunner) { c.merger = m }

// SetCheckpoints injects the checkpoint manager for per-wave snapshots.
func (c *Coordinator) SetCheckpoints(cp checkpointCreator) { c.checkpoints = cp }

// SetReviewStore injects direct review persistence. With one set, a
// running project polls its pending escalations so a review resolved
// from another process (the reviews CLI) still lifts the block.
func (c *Coordinator) SetReviewStore(rs reviewStore) { c.reviewDB = rs }

// SetLearning injects episode persistence and the duration calibrator.
// Finished tasks feed both; either may be nil.
func (c *Coordinator) SetLearning(store learningStore, cal durationCalibrator) {
	c.learning = store
	c.calibrator = cal
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State       State  `json:"state"`
	Phase       Phase  `json:"phase,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	PauseReason string `json:"pause_reason,omitempty"`
	InFlight    int    `json:"in_flight"`
}

// Status reports the coordinator's current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		Phase:       c.phase,
		ProjectID:   c.projectID,
		PauseReason: c.pauseReason,
		InFlight:    c.inflight,
	}
}

// Progress summarizes task accounting for the active project.
type Progress struct {
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	TotalTasks     int `json:"total_tasks"`
	CurrentWave    int `json:"current_wave"`
}

// Progress reports how far the run has come.
func (c *Coordinator) Progress() Progress {
	_, _, completed, failed := c.queue.Counts()
	c.mu.Lock()
	total := c.totalTasks
	c.mu.Unlock()
	return Progress{
		CompletedTasks: completed,
		FailedTasks:    failed,
		TotalTasks:     total,
		CurrentWave:    c.queue.CurrentWave(),
	}
}

// ActiveAgents returns the agents currently holding work.
func (c *Coordinator) ActiveAgents() []*models.Agent {
	return c.pool.Active()
}

// PendingTasks returns tasks that are ready to dispatch.
func (c *Coordinator) PendingTasks() []*models.Task {
	return c.queue.ReadyTasks()
}

// OnEvent subscribes a handler to an event type. The returned function
// unsubscribes.
func (c *Coordinator) OnEvent(eventType string, handler bus.Handler) func() {
	return c.events.On(eventType, handler)
}

// Pause stops dispatching new tasks. In-flight tasks run to completion;
// the pump parks until Resume.
func (c *Coordinator) Pause(reason string) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("cannot pause from state %s", c.state)
	}
	c.state = StatePaused
	c.pauseReason = reason
	projectID := c.projectID
	c.mu.Unlock()

	c.emit(bus.CoordinatorPaused, bus.ProjectPayload{ProjectID: projectID})
	c.debugLog("[coordinator] paused: %s", reason)
	return nil
}

// Resume lifts a pause.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return fmt.Errorf("cannot resume from state %s", c.state)
	}
	c.state = StateRunning
	c.pauseReason = ""
	c.cond.Broadcast()
	projectID := c.projectID
	c.mu.Unlock()

	c.emit(bus.CoordinatorResumed, bus.ProjectPayload{ProjectID: projectID})
	return nil
}

// Stop shuts the run down: no new dispatch, in-flight tasks get the grace
// period, then agents are terminated.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	c.pauseReason = ""
	c.cond.Broadcast()
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.StopGrace)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		idle := c.inflight == 0
		c.mu.Unlock()
		if idle {
			break
		}
		select {
		case <-ctx.Done():
			c.pool.TerminateAll()
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}

	c.pool.TerminateAll()
	c.mu.Lock()
	c.state = StateIdle
	c.phase = ""
	projectID := c.projectID
	c.mu.Unlock()
	c.emit(bus.CoordinatorStopped, bus.ProjectPayload{ProjectID: projectID})
	return nil
}

// CreateCheckpoint takes a manual checkpoint of the active project.
func (c *Coordinator) CreateCheckpoint(ctx context.Context, reason string) (*models.Checkpoint, error) {
	if c.checkpoints == nil {
		return nil, errors.New("no checkpoint manager configured")
	}
	c.mu.Lock()
	projectID := c.projectID
	c.mu.Unlock()
	if projectID == "" {
		return nil, errors.New("no active project")
	}
	return c.checkpoints.CreateAuto(ctx, projectID, reason)
}

// HandleReviewApproved resolves an escalated task as completed.
func (c *Coordinator) HandleReviewApproved(ctx context.Context, reviewID string) error {
	return c.resolveReview(ctx, reviewID, true)
}

// HandleReviewRejected resolves an escalated task as failed.
func (c *Coordinator) HandleReviewRejected(ctx context.Context, reviewID string) error {
	return c.resolveReview(ctx, reviewID, false)
}

func (c *Coordinator) resolveReview(ctx context.Context, reviewID string, approved bool) error {
	c.mu.Lock()
	esc, ok := c.escalations[reviewID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("no escalation tracked for review %s", reviewID)
	}
	delete(c.escalations, reviewID)
	delete(c.retained, esc.TaskID)
	pausedForReview := c.state == StatePaused && c.pauseReason == pauseReasonReview
	c.mu.Unlock()

	if approved {
		if err := c.queue.MarkComplete(esc.TaskID); err != nil {
			return err
		}
		c.emit(bus.TaskCompleted, bus.TaskPayload{TaskID: esc.TaskID, Status: models.TaskStatusCompleted})
	} else {
		if err := c.queue.MarkFailed(esc.TaskID); err != nil {
			return err
		}
		c.emit(bus.TaskFailed, bus.TaskPayload{TaskID: esc.TaskID, Status: models.TaskStatusFailed, Error: "review rejected"})
	}

	if c.worktrees != nil && esc.WorktreePath != "" {
		if err := c.worktrees.Remove(ctx, esc.TaskID, worktree.RemoveOptions{DeleteBranch: true}); err != nil {
			c.debugLog("[coordinator] removing worktree for %s: %v", esc.TaskID, err)
		}
	}

	if pausedForReview {
		if err := c.Resume(); err != nil {
			c.debugLog("[coordinator] resume after review: %v", err)
		}
	}
	return nil
}

// pollReviews watches pending escalations until ctx is cancelled.
func (c *Coordinator) pollReviews(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReviewPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkResolvedReviews(ctx)
		}
	}
}

// checkResolvedReviews lifts escalations whose review has been decided
// in persistence, typically by `nexus reviews` running in another
// process. Reviews resolved in-process arrive over the bus first; the
// second resolution is a no-op.
func (c *Coordinator) checkResolvedReviews(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.escalations))
	for id := range c.escalations {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		stored, err := c.reviewDB.GetReview(id)
		if err != nil {
			c.debugLog("[coordinator] polling review %s: %v", id, err)
			continue
		}
		switch stored.Status {
		case models.ReviewApproved:
			if err := c.HandleReviewApproved(ctx, id); err != nil {
				c.debugLog("[coordinator] resolving approved review %s: %v", id, err)
			}
		case models.ReviewRejected:
			if err := c.HandleReviewRejected(ctx, id); err != nil {
				c.debugLog("[coordinator] resolving rejected review %s: %v", id, err)
			}
		}
	}
}

// recordOutcome feeds the task's actual duration back into estimation
// and persists an episode for calibration across runs. Only completed
// tasks calibrate; failures say nothing about how long the work takes.
func (c *Coordinator) recordOutcome(task *models.Task, outcome string, elapsed time.Duration) {
	minutes := elapsed.Minutes()
	if c.calibrator != nil && outcome == "completed" {
		c.calibrator.Calibrate(task, minutes)
	}
	if c.learning == nil {
		return
	}
	episode := &state.Episode{
		ID:            uuid.NewString(),
		ProjectID:     task.ProjectID,
		TaskID:        task.ID,
		Category:      string(estimate.Categorize(task)),
		Summary:       task.Name,
		Outcome:       outcome,
		ActualMinutes: int(minutes + 0.5),
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.learning.SaveEpisode(episode); err != nil {
		c.debugLog("[coordinator] saving episode for %s: %v", task.ID, err)
	}
}

// continuePointData is what a resumed run needs to know about where the
// previous one got to.
type continuePointData struct {
	Wave      int `json:"wave"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// saveContinuePoint records wave progress so an interrupted run can be
// picked up with `run --resume` instead of replanning.
func (c *Coordinator) saveContinuePoint(waveID int) {
	if c.learning == nil {
		return
	}
	_, _, completed, failed := c.queue.Counts()
	c.mu.Lock()
	projectID := c.projectID
	total := c.totalTasks
	c.mu.Unlock()

	data, err := json.Marshal(continuePointData{
		Wave:      waveID,
		Completed: completed,
		Failed:    failed,
		Total:     total,
	})
	if err != nil {
		return
	}
	cp := &state.ContinuePoint{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Description: fmt.Sprintf("wave %d finished (%d/%d tasks done)", waveID, completed, total),
		StateData:   string(data),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.learning.SaveContinuePoint(cp); err != nil {
		c.debugLog("[coordinator] saving continue point after wave %d: %v", waveID, err)
	}
}

func (c *Coordinator) emit(eventType string, payload any) {
	if c.events != nil {
		c.events.Emit(eventType, payload, bus.EmitOptions{Source: "coordinator"})
	}
}

func (c *Coordinator) addInflight(delta int) {
	c.mu.Lock()
	c.inflight += delta
	c.mu.Unlock()
}

func (c *Coordinator) inflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}
