package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusPlanning indicates the task is being prepared for dispatch.
	TaskStatusPlanning TaskStatus = "planning"
	// TaskStatusAssigned indicates the task has been handed to an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the agent is actively working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusAIReview indicates the task output is under automated review.
	TaskStatusAIReview TaskStatus = "ai_review"
	// TaskStatusHumanReview indicates the task is waiting on a human decision.
	TaskStatusHumanReview TaskStatus = "human_review"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusEscalated indicates automated iteration could not make progress.
	TaskStatusEscalated TaskStatus = "escalated"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusPlanning, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusAIReview, TaskStatusHumanReview,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusEscalated
}

// taskTransitions encodes the allowed forward edges of the status machine.
// Transitions are monotonic: there is no edge back toward pending.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:     {TaskStatusPlanning, TaskStatusAssigned, TaskStatusInProgress},
	TaskStatusPlanning:    {TaskStatusAssigned, TaskStatusInProgress, TaskStatusFailed},
	TaskStatusAssigned:    {TaskStatusInProgress, TaskStatusFailed},
	TaskStatusInProgress:  {TaskStatusAIReview, TaskStatusHumanReview, TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated},
	TaskStatusAIReview:    {TaskStatusHumanReview, TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated},
	TaskStatusHumanReview: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// TaskType selects the execution strategy for a task.
type TaskType string

const (
	// TaskTypeAuto lets the coder agent structure its own work.
	TaskTypeAuto TaskType = "auto"
	// TaskTypeTDD requires tests to be written before implementation.
	TaskTypeTDD TaskType = "tdd"
)

// TaskSize buckets a task by its estimated duration.
type TaskSize string

const (
	// SizeAtomic is a task of ten minutes or less.
	SizeAtomic TaskSize = "atomic"
	// SizeSmall is a task of twenty minutes or less.
	SizeSmall TaskSize = "small"
	// SizeMedium is a task of thirty minutes or less.
	SizeMedium TaskSize = "medium"
)

// SizeForMinutes maps an estimate to its size bucket.
func SizeForMinutes(minutes int) TaskSize {
	switch {
	case minutes <= 10:
		return SizeAtomic
	case minutes <= 20:
		return SizeSmall
	default:
		return SizeMedium
	}
}

// Limits every task must satisfy after decomposition.
const (
	// MaxTaskMinutes is the largest allowed estimate for a single task.
	MaxTaskMinutes = 30
	// MaxTaskFiles is the most files a single task may touch.
	MaxTaskFiles = 5
)

// Task is an atomic unit of work executed by one agent in one worktree.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// FeatureID is the feature this task was decomposed from, if any.
	FeatureID string `json:"feature_id,omitempty"`
	// ParentID links a split task back to the oversized task it came from.
	ParentID string `json:"parent_id,omitempty"`
	// Name is the short task name.
	Name string `json:"name"`
	// Description provides detailed instructions for the agent.
	Description string `json:"description,omitempty"`
	// Type selects the execution strategy.
	Type TaskType `json:"type"`
	// Size buckets the task by estimated duration.
	Size TaskSize `json:"size"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// EstimatedMinutes is the expected duration. Never above MaxTaskMinutes.
	EstimatedMinutes int `json:"estimated_minutes"`
	// Files lists the paths this task is expected to touch.
	Files []string `json:"files,omitempty"`
	// TestCriteria lists the conditions that prove the task done.
	TestCriteria []string `json:"test_criteria,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// WaveID is the scheduling wave this task belongs to.
	WaveID int `json:"wave_id"`
	// Priority orders tasks within a wave; lower runs first.
	Priority int `json:"priority"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error holds the failure message for failed or escalated tasks.
	Error string `json:"error,omitempty"`
}

// Validate checks the invariants every decomposed task must satisfy.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task %s: name is empty", t.ID)
	}
	if t.EstimatedMinutes < 1 {
		return fmt.Errorf("task %q: estimated minutes %d below 1", t.Name, t.EstimatedMinutes)
	}
	if t.EstimatedMinutes > MaxTaskMinutes {
		return fmt.Errorf("task %q: estimated minutes %d exceeds %d", t.Name, t.EstimatedMinutes, MaxTaskMinutes)
	}
	if len(t.Files) > MaxTaskFiles {
		return fmt.Errorf("task %q: touches %d files, limit is %d", t.Name, len(t.Files), MaxTaskFiles)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %q: depends on itself", t.Name)
		}
	}
	return nil
}

// Wave is a set of tasks whose dependencies are all satisfied by earlier
// waves. Tasks in one wave may run in parallel subject to pool capacity.
type Wave struct {
	// ID is the wave number, starting at zero.
	ID int `json:"id"`
	// Tasks are the members of the wave.
	Tasks []*Task `json:"tasks"`
	// EstimatedMinutes is the sum of member estimates.
	EstimatedMinutes int `json:"estimated_minutes"`
}
