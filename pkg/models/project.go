package models

import "time"

// ProjectMode selects how a project acquires its codebase.
type ProjectMode string

const (
	// ModeGenesis starts a project from requirements only.
	ModeGenesis ProjectMode = "genesis"
	// ModeEvolution modifies an existing codebase.
	ModeEvolution ProjectMode = "evolution"
)

// Valid returns true if the mode is a known value.
func (m ProjectMode) Valid() bool {
	return m == ModeGenesis || m == ModeEvolution
}

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	// ProjectStatusInitializing indicates the project is being set up.
	ProjectStatusInitializing ProjectStatus = "initializing"
	// ProjectStatusPlanning indicates requirements are being decomposed.
	ProjectStatusPlanning ProjectStatus = "planning"
	// ProjectStatusRunning indicates task execution is in progress.
	ProjectStatusRunning ProjectStatus = "running"
	// ProjectStatusPaused indicates execution is suspended.
	ProjectStatusPaused ProjectStatus = "paused"
	// ProjectStatusCompleted indicates the run finished with at least one success.
	ProjectStatusCompleted ProjectStatus = "completed"
	// ProjectStatusFailed indicates the run finished with no successes.
	ProjectStatusFailed ProjectStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusInitializing, ProjectStatusPlanning, ProjectStatusRunning,
		ProjectStatusPaused, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	default:
		return false
	}
}

// Project is the root entity every other record hangs off.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// Name is the human-readable project name.
	Name string `json:"name"`
	// Mode is how the project acquires its codebase.
	Mode ProjectMode `json:"mode"`
	// RootPath is the absolute path to the project working directory.
	RootPath string `json:"root_path"`
	// Status is the current lifecycle state.
	Status ProjectStatus `json:"status"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the project was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
