package bus

import "github.com/nexus-ai/nexus/pkg/models"

// Event type names. Every emitter in the engine uses these constants so
// subscribers never match on raw strings.
const (
	CoordinatorStarted = "coordinator:started"
	CoordinatorPaused  = "coordinator:paused"
	CoordinatorResumed = "coordinator:resumed"
	CoordinatorStopped = "coordinator:stopped"

	WaveStarted   = "wave:started"
	WaveCompleted = "wave:completed"

	OrchestrationMode = "orchestration:mode"

	ProjectStatusChanged = "project:status-changed"
	ProjectCompleted     = "project:completed"
	ProjectFailed        = "project:failed"

	TaskCreated       = "task:created"
	TaskAssigned      = "task:assigned"
	TaskStarted       = "task:started"
	TaskCompleted     = "task:completed"
	TaskFailed        = "task:failed"
	TaskEscalated     = "task:escalated"
	TaskMerged        = "task:merged"
	TaskMergeFailed   = "task:merge-failed"
	TaskPushed        = "task:pushed"
	TaskStatusChanged = "task:status-changed"
	TaskQAIteration   = "task:qa-iteration"

	AgentSpawned    = "agent:spawned"
	AgentAssigned   = "agent:assigned"
	AgentIdle       = "agent:idle"
	AgentError      = "agent:error"
	AgentTerminated = "agent:terminated"
	AgentProgress   = "agent:progress"
	AgentOutput     = "agent:output"

	QABuildStarted   = "qa:build-started"
	QABuildCompleted = "qa:build-completed"
	QALintCompleted  = "qa:lint-completed"
	QATestCompleted  = "qa:test-completed"
	QALoopCompleted  = "qa:loop-completed"

	InterviewStarted             = "interview:started"
	InterviewQuestionAsked       = "interview:question-asked"
	InterviewRequirementCaptured = "interview:requirement-captured"
	InterviewCompleted           = "interview:completed"

	PlanningStarted   = "planning:started"
	PlanningProgress  = "planning:progress"
	PlanningCompleted = "planning:completed"
	PlanningError     = "planning:error"

	ReviewRequested = "review:requested"
	ReviewApproved  = "review:approved"
	ReviewRejected  = "review:rejected"

	SystemCheckpointCreated  = "system:checkpoint-created"
	SystemCheckpointRestored = "system:checkpoint-restored"
	SystemError              = "system:error"

	FeatureCreated       = "feature:created"
	FeatureStatusChanged = "feature:status-changed"
	FeatureCompleted     = "feature:completed"
)

// TaskPayload accompanies task:* events.
type TaskPayload struct {
	TaskID   string            `json:"task_id"`
	TaskName string            `json:"task_name,omitempty"`
	AgentID  string            `json:"agent_id,omitempty"`
	WaveID   int               `json:"wave_id,omitempty"`
	Status   models.TaskStatus `json:"status,omitempty"`
	// Error is the human-readable failure message, when relevant.
	Error string `json:"error,omitempty"`
	// Recoverable tells the UI whether the failure can be retried.
	Recoverable bool `json:"recoverable,omitempty"`
	// Iterations, for completion and QA events.
	Iterations int `json:"iterations,omitempty"`
	// Detail carries event-specific extras (merge commit, conflict files).
	Detail string `json:"detail,omitempty"`
}

// WavePayload accompanies wave:* events.
type WavePayload struct {
	WaveID    int `json:"wave_id"`
	TaskCount int `json:"task_count"`
	Completed int `json:"completed,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// AgentPayload accompanies agent:* events.
type AgentPayload struct {
	AgentID   string           `json:"agent_id"`
	AgentType models.AgentType `json:"agent_type,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// QAPayload accompanies qa:* events.
type QAPayload struct {
	TaskID    string `json:"task_id"`
	Step      string `json:"step,omitempty"`
	Iteration int    `json:"iteration"`
	Success   bool   `json:"success"`
	Errors    int    `json:"errors,omitempty"`
	Warnings  int    `json:"warnings,omitempty"`
	Duration  int64  `json:"duration_ms,omitempty"`
}

// ProjectPayload accompanies project:* events.
type ProjectPayload struct {
	ProjectID      string               `json:"project_id"`
	Status         models.ProjectStatus `json:"status,omitempty"`
	CompletedTasks int                  `json:"completed_tasks,omitempty"`
	FailedTasks    int                  `json:"failed_tasks,omitempty"`
	TotalWaves     int                  `json:"total_waves,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// ReviewPayload accompanies review:* events.
type ReviewPayload struct {
	ReviewID   string              `json:"review_id"`
	TaskID     string              `json:"task_id"`
	ProjectID  string              `json:"project_id,omitempty"`
	Reason     models.ReviewReason `json:"reason,omitempty"`
	Resolution string              `json:"resolution,omitempty"`
}

// InterviewPayload accompanies interview:* events.
type InterviewPayload struct {
	SessionID         string `json:"session_id"`
	ProjectID         string `json:"project_id,omitempty"`
	RequirementID     string `json:"requirement_id,omitempty"`
	TotalRequirements int    `json:"total_requirements,omitempty"`
	Categories        int    `json:"categories,omitempty"`
	DurationSeconds   int64  `json:"duration_seconds,omitempty"`
	Message           string `json:"message,omitempty"`
}

// PlanningPayload accompanies planning:* events.
type PlanningPayload struct {
	ProjectID string `json:"project_id"`
	Feature   string `json:"feature,omitempty"`
	Tasks     int    `json:"tasks,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CheckpointPayload accompanies system:checkpoint-* events.
type CheckpointPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	ProjectID    string `json:"project_id"`
	Reason       string `json:"reason,omitempty"`
	GitCommit    string `json:"git_commit,omitempty"`
}

// FeaturePayload accompanies feature:* events.
type FeaturePayload struct {
	FeatureID string               `json:"feature_id"`
	ProjectID string               `json:"project_id,omitempty"`
	Name      string               `json:"name,omitempty"`
	Status    models.FeatureStatus `json:"status,omitempty"`
}

// ErrorPayload accompanies system:error.
type ErrorPayload struct {
	Component   string `json:"component"`
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}
