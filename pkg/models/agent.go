package models

import "time"

// AgentType is the role an agent plays in the pool.
type AgentType string

const (
	// AgentPlanner decomposes and sequences work.
	AgentPlanner AgentType = "planner"
	// AgentCoder writes and fixes code.
	AgentCoder AgentType = "coder"
	// AgentTester writes tests mirroring source files.
	AgentTester AgentType = "tester"
	// AgentReviewer reviews diffs and reports structured issues.
	AgentReviewer AgentType = "reviewer"
	// AgentMerger analyses merge conflicts and proposes resolutions.
	AgentMerger AgentType = "merger"
)

// Valid returns true if the type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentPlanner, AgentCoder, AgentTester, AgentReviewer, AgentMerger:
		return true
	default:
		return false
	}
}

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusAssigned indicates the agent has a task but has not started.
	AgentStatusAssigned AgentStatus = "assigned"
	// AgentStatusWorking indicates the agent is executing a task.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusError indicates the agent's last task errored.
	AgentStatusError AgentStatus = "error"
	// AgentStatusTerminated indicates the agent has been destroyed.
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusAssigned, AgentStatusWorking,
		AgentStatusError, AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// ModelConfig selects the LLM backing an agent.
type ModelConfig struct {
	// Model is the provider model identifier.
	Model string `json:"model"`
	// MaxTokens caps each completion.
	MaxTokens int `json:"max_tokens"`
	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature"`
}

// AgentMetrics accumulates per-agent counters across tasks.
type AgentMetrics struct {
	// TasksCompleted counts successful task executions.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed counts failed or escalated task executions.
	TasksFailed int `json:"tasks_failed"`
	// TotalIterations counts loop iterations across all tasks.
	TotalIterations int `json:"total_iterations"`
	// TokensUsed counts LLM tokens consumed by this agent.
	TokensUsed int64 `json:"tokens_used"`
	// TotalTimeActive is cumulative wall-clock time spent working.
	TotalTimeActive time.Duration `json:"total_time_active"`
}

// AverageIterationsPerTask returns iterations divided by finished tasks.
func (m AgentMetrics) AverageIterationsPerTask() float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(m.TotalIterations) / float64(total)
}

// Agent is a typed worker owned by the pool.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Type is the role this agent plays.
	Type AgentType `json:"type"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// ModelConfig selects the backing LLM.
	ModelConfig ModelConfig `json:"model_config"`
	// CurrentTaskID is the task the agent is working on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// WorktreePath is the isolated checkout the agent works in, if any.
	WorktreePath string `json:"worktree_path,omitempty"`
	// Metrics accumulates counters across this agent's lifetime.
	Metrics AgentMetrics `json:"metrics"`
	// SpawnedAt is when the agent was created.
	SpawnedAt time.Time `json:"spawned_at"`
	// LastActiveAt is when the agent last started or finished work.
	LastActiveAt time.Time `json:"last_active_at"`
}
