// Package checkpoint snapshots project state so interrupted or misbehaving
// runs can be rewound. Snapshots carry the full serialized ProjectState
// plus the repository HEAD when available.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/git"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

// DefaultRetention is how many checkpoints are kept per project.
const DefaultRetention = 50

// RestoreOptions control Restore behavior.
type RestoreOptions struct {
	// RestoreGit checks out the recorded commit as well. Failures warn,
	// they never abort the state restore.
	RestoreGit bool
}

// gitOps is the slice of the git service checkpoints need.
type gitOps interface {
	CurrentCommit(ctx context.Context) (string, error)
	CheckoutBranch(ctx context.Context, name string) error
}

// Manager creates, lists, and restores checkpoints.
type Manager struct {
	db        *state.DB
	states    *state.Manager
	git       gitOps
	events    *bus.Bus
	retention int
	now       func() time.Time
	debugLog  func(format string, args ...interface{})
}

// NewManager creates a Manager. git and events may be nil; without git no
// commit hash is recorded.
func NewManager(db *state.DB, states *state.Manager, gitSvc git.Service, events *bus.Bus) *Manager {
	m := &Manager{
		db:        db,
		states:    states,
		events:    events,
		retention: DefaultRetention,
		now:       time.Now,
		debugLog:  func(string, ...interface{}) {},
	}
	if gitSvc != nil {
		m.git = gitSvc
	}
	return m
}

// SetRetention overrides how many checkpoints are kept per project.
func (m *Manager) SetRetention(n int) {
	if n > 0 {
		m.retention = n
	}
}

// SetDebugLogger sets the debug logging function.
func (m *Manager) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// Create snapshots the current ProjectState under the given reason and
// prunes old checkpoints past the retention limit.
func (m *Manager) Create(ctx context.Context, projectID, reason string) (*models.Checkpoint, error) {
	st, ok := m.states.Get(projectID)
	if !ok {
		return nil, fmt.Errorf("no state for project %s", projectID)
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state for %s: %w", projectID, err)
	}

	checkpoint := &models.Checkpoint{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Reason:        reason,
		StateSnapshot: snapshot,
		CreatedAt:     m.now(),
	}
	if m.git != nil {
		if head, err := m.git.CurrentCommit(ctx); err == nil {
			checkpoint.GitCommit = head
		} else {
			m.debugLog("[checkpoint] reading HEAD failed: %v", err)
		}
	}

	if err := m.db.SaveCheckpoint(checkpoint); err != nil {
		return nil, err
	}
	if removed, err := m.db.PruneCheckpoints(projectID, m.retention); err != nil {
		m.debugLog("[checkpoint] prune for %s failed: %v", projectID, err)
	} else if removed > 0 {
		m.debugLog("[checkpoint] pruned %d old checkpoints for %s", removed, projectID)
	}

	if m.events != nil {
		m.events.Emit(bus.SystemCheckpointCreated, bus.CheckpointPayload{
			CheckpointID: checkpoint.ID,
			ProjectID:    projectID,
			Reason:       reason,
			GitCommit:    checkpoint.GitCommit,
		})
	}
	return checkpoint, nil
}

// CreateAuto snapshots with an automatic trigger tag (wave completion,
// task escalation, task failure).
func (m *Manager) CreateAuto(ctx context.Context, projectID, trigger string) (*models.Checkpoint, error) {
	return m.Create(ctx, projectID, "auto:"+trigger)
}

// List returns a project's checkpoints, newest first.
func (m *Manager) List(projectID string) ([]*models.Checkpoint, error) {
	return m.db.ListCheckpoints(projectID)
}

// Restore rewinds a project to a checkpoint's state. With RestoreGit set
// it also checks out the recorded commit; checkout failure only warns.
func (m *Manager) Restore(ctx context.Context, checkpointID string, opts RestoreOptions) (*models.ProjectState, error) {
	checkpoint, err := m.db.GetCheckpoint(checkpointID)
	if err != nil {
		return nil, err
	}

	var st models.ProjectState
	if err := json.Unmarshal(checkpoint.StateSnapshot, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", checkpointID, err)
	}
	if err := m.states.Apply(&st); err != nil {
		return nil, err
	}

	if opts.RestoreGit && checkpoint.GitCommit != "" && m.git != nil {
		if err := m.git.CheckoutBranch(ctx, checkpoint.GitCommit); err != nil {
			m.debugLog("[checkpoint] checkout %s failed: %v", checkpoint.GitCommit, err)
		}
	}

	if m.events != nil {
		m.events.Emit(bus.SystemCheckpointRestored, bus.CheckpointPayload{
			CheckpointID: checkpoint.ID,
			ProjectID:    checkpoint.ProjectID,
			Reason:       checkpoint.Reason,
			GitCommit:    checkpoint.GitCommit,
		})
	}
	m.debugLog("[checkpoint] restored project %s to %s", checkpoint.ProjectID, checkpoint.ID)
	return &st, nil
}
