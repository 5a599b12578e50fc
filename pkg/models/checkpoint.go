package models

import "time"

// Checkpoint is a durable snapshot of project state used for recovery.
type Checkpoint struct {
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Reason records what triggered the checkpoint.
	Reason string `json:"reason"`
	// StateSnapshot is the serialized ProjectState.
	StateSnapshot []byte `json:"state_snapshot"`
	// GitCommit is the repository HEAD at snapshot time, when available.
	GitCommit string `json:"git_commit,omitempty"`
	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time `json:"created_at"`
}

// ProjectState is the in-memory execution state the coordinator maintains
// and the checkpoint manager snapshots. Versioned so stored snapshots stay
// readable across schema changes.
type ProjectState struct {
	// Version is the snapshot schema version.
	Version int `json:"version"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// ProjectName is the human-readable name.
	ProjectName string `json:"project_name"`
	// Status is the project lifecycle state.
	Status ProjectStatus `json:"status"`
	// Mode is genesis or evolution.
	Mode ProjectMode `json:"mode"`
	// Features are the features known to the run.
	Features []Feature `json:"features,omitempty"`
	// CurrentFeatureIndex points at the feature being executed.
	CurrentFeatureIndex int `json:"current_feature_index"`
	// CurrentTaskIndex points at the task being executed within the feature.
	CurrentTaskIndex int `json:"current_task_index"`
	// CompletedTasks counts terminally successful tasks.
	CompletedTasks int `json:"completed_tasks"`
	// TotalTasks counts all tasks in the run.
	TotalTasks int `json:"total_tasks"`
	// CreatedAt is when the state record was created.
	CreatedAt time.Time `json:"created_at"`
	// LastUpdatedAt advances monotonically with every update.
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// ProjectStateVersion is the current snapshot schema version.
const ProjectStateVersion = 1
