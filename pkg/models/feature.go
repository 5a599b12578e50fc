package models

import "time"

// FeatureStatus represents the lifecycle state of a feature.
type FeatureStatus string

const (
	// FeatureStatusPending indicates decomposition has not run yet.
	FeatureStatusPending FeatureStatus = "pending"
	// FeatureStatusInProgress indicates some tasks are executing.
	FeatureStatusInProgress FeatureStatus = "in_progress"
	// FeatureStatusCompleted indicates all tasks finished.
	FeatureStatusCompleted FeatureStatus = "completed"
	// FeatureStatusFailed indicates the feature could not be completed.
	FeatureStatusFailed FeatureStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureStatusPending, FeatureStatusInProgress, FeatureStatusCompleted, FeatureStatusFailed:
		return true
	default:
		return false
	}
}

// Feature groups the tasks decomposed from one requirement.
type Feature struct {
	// ID is the unique identifier for this feature.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Name is the short feature name.
	Name string `json:"name"`
	// Description provides detail for decomposition.
	Description string `json:"description,omitempty"`
	// Priority mirrors the source requirement's priority.
	Priority RequirementPriority `json:"priority"`
	// Status is the current lifecycle state.
	Status FeatureStatus `json:"status"`
	// Complexity is a coarse difficulty label (low, medium, high).
	Complexity string `json:"complexity,omitempty"`
	// EstimatedTasks is how many tasks decomposition produced.
	EstimatedTasks int `json:"estimated_tasks"`
	// CompletedTasks is how many of those tasks finished.
	CompletedTasks int `json:"completed_tasks"`
	// CreatedAt is when the feature was created.
	CreatedAt time.Time `json:"created_at"`
}
