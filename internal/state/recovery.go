package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/nexus-ai/nexus/pkg/models"
)

// InterruptedRun describes a project whose last run never reached a
// terminal status, detected on startup.
type InterruptedRun struct {
	ProjectID     string
	ProjectName   string
	Status        models.ProjectStatus
	LastUpdatedAt time.Time
	PendingTasks  int
	InFlightTasks int
	ContinuePoint *ContinuePoint
}

// RecoveryManager detects interrupted runs and prepares them for resume.
type RecoveryManager struct {
	db       *DB
	debugLog func(format string, args ...interface{})
}

// NewRecoveryManager creates a RecoveryManager over the store.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{
		db:       db,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (rm *RecoveryManager) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		rm.debugLog = fn
	}
}

// CheckForInterrupted scans for projects left running or paused by a
// previous process. Returns nil when everything is terminal.
func (rm *RecoveryManager) CheckForInterrupted() ([]*InterruptedRun, error) {
	projects, err := rm.db.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var interrupted []*InterruptedRun
	for _, p := range projects {
		switch p.Status {
		case models.ProjectStatusRunning, models.ProjectStatusPaused, models.ProjectStatusPlanning:
		default:
			continue
		}

		run := &InterruptedRun{
			ProjectID:     p.ID,
			ProjectName:   p.Name,
			Status:        p.Status,
			LastUpdatedAt: p.UpdatedAt,
		}

		tasks, err := rm.db.TasksByProject(p.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			switch t.Status {
			case models.TaskStatusPending, models.TaskStatusPlanning:
				run.PendingTasks++
			case models.TaskStatusAssigned, models.TaskStatusInProgress, models.TaskStatusAIReview:
				run.InFlightTasks++
			}
		}

		cp, err := rm.db.LatestContinuePoint(p.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		run.ContinuePoint = cp

		rm.debugLog("[recovery] project %s interrupted: %d pending, %d in-flight",
			p.ID, run.PendingTasks, run.InFlightTasks)
		interrupted = append(interrupted, run)
	}
	return interrupted, nil
}

// ResetInFlight rewinds tasks stranded mid-execution back to pending so
// the scheduler can pick them up again. Returns how many were reset.
func (rm *RecoveryManager) ResetInFlight(projectID string) (int, error) {
	result, err := rm.db.Exec(`
		UPDATE tasks SET status = 'pending', assigned_to = NULL
		WHERE project_id = ? AND status IN ('assigned', 'in_progress', 'ai_review')
	`, projectID)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight tasks for %s: %w", projectID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		rm.debugLog("[recovery] reset %d in-flight tasks for project %s", n, projectID)
	}
	return int(n), nil
}

// MarkStaleAgents flips agents still marked working or assigned to
// terminated; their processes died with the previous run.
func (rm *RecoveryManager) MarkStaleAgents() (int, error) {
	result, err := rm.db.Exec(`
		UPDATE agents SET status = 'terminated', current_task_id = NULL
		WHERE status IN ('assigned', 'working')
	`)
	if err != nil {
		return 0, fmt.Errorf("mark stale agents: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}
