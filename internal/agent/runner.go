// Package agent holds the typed worker pool and the role runners that
// drive LLM iteration loops. A runner supplies the role-specific prompts
// and completion detection; runLoop implements the shared iteration
// contract all roles follow.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// CompletionMarker ends any role's loop when it appears in a reply.
const CompletionMarker = "[TASK_COMPLETE]"

// Loop bounds shared by every role.
const (
	DefaultMaxIterations = 50
	DefaultTimeout       = 30 * time.Minute
)

// TaskResult is what a runner returns for one task execution.
type TaskResult struct {
	TaskID    string        `json:"task_id"`
	Success   bool          `json:"success"`
	Escalated bool          `json:"escalated"`
	Reason    string        `json:"reason,omitempty"`
	Output    string        `json:"output,omitempty"`
	Iterations int          `json:"iterations"`
	Duration  time.Duration `json:"duration"`
	Metrics   ResultMetrics `json:"metrics"`
}

// ResultMetrics is the accounting attached to a result.
type ResultMetrics struct {
	Iterations int   `json:"iterations"`
	TokensUsed int64 `json:"tokens_used"`
	TimeMs     int64 `json:"time_ms"`
}

// Runner is the role capability the shared loop iterates. Execute is the
// entry point; the remaining methods parameterize the loop.
type Runner interface {
	// Execute runs the task to a result. Leaf runners never return an
	// error for task-level failures; the error return is for invariant
	// violations only.
	Execute(ctx context.Context, task *models.Task) (*TaskResult, error)
	// SystemPrompt frames the conversation for this role.
	SystemPrompt() string
	// IsComplete inspects a reply for the role's completion signal.
	IsComplete(reply string, task *models.Task) bool
	// ContinuationPrompt nudges the model to keep going.
	ContinuationPrompt() string
	// RecoveryPrompt turns an LLM failure into a retry instruction.
	RecoveryPrompt(err error) string
	// Kind names the role.
	Kind() models.AgentType
}

// LoopConfig tunes one runner's loop.
type LoopConfig struct {
	MaxIterations int
	Timeout       time.Duration
	MaxTokens     int64
	Temperature   float64
	// WorkDir is passed through to the client for CLI backends.
	WorkDir string
	// AgentID attributes token usage.
	AgentID string
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// runLoop is the shared iteration contract: converse with the model until
// the role reports completion, the iteration cap trips, or the wall clock
// runs out. LLM errors never fail the task; they append a recovery prompt
// and the loop continues.
func runLoop(ctx context.Context, r Runner, task *models.Task, client llm.Client, events *bus.Bus, cfg LoopConfig) (*TaskResult, error) {
	cfg = cfg.withDefaults()
	start := time.Now()
	deadline := start.Add(cfg.Timeout)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: r.SystemPrompt()},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}

	var output strings.Builder
	var tokens int64

	result := func(success, escalated bool, reason string, iterations int) *TaskResult {
		elapsed := time.Since(start)
		return &TaskResult{
			TaskID:     task.ID,
			Success:    success,
			Escalated:  escalated,
			Reason:     reason,
			Output:     output.String(),
			Iterations: iterations,
			Duration:   elapsed,
			Metrics: ResultMetrics{
				Iterations: iterations,
				TokensUsed: tokens,
				TimeMs:     elapsed.Milliseconds(),
			},
		}
	}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result(false, false, fmt.Sprintf("cancelled: %v", err), iteration-1), nil
		}
		if time.Now().After(deadline) {
			return result(false, true, fmt.Sprintf("timeout after %s", cfg.Timeout), iteration-1), nil
		}

		resp, err := client.Chat(ctx, messages, llm.Options{
			MaxTokens:        cfg.MaxTokens,
			Temperature:      cfg.Temperature,
			WorkingDirectory: cfg.WorkDir,
			AgentID:          cfg.AgentID,
			TaskID:           task.ID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result(false, false, fmt.Sprintf("cancelled: %v", ctx.Err()), iteration-1), nil
			}
			if events != nil {
				events.Emit(bus.AgentError, bus.AgentPayload{
					AgentID:   cfg.AgentID,
					AgentType: r.Kind(),
					TaskID:    task.ID,
					Error:     err.Error(),
				}, bus.EmitOptions{Source: "agent"})
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: r.RecoveryPrompt(err)})
			continue
		}

		tokens += resp.Usage.InputTokens + resp.Usage.OutputTokens
		output.WriteString(resp.Content)
		output.WriteString("\n")

		if events != nil {
			events.Emit(bus.AgentProgress, bus.AgentPayload{
				AgentID:   cfg.AgentID,
				AgentType: r.Kind(),
				TaskID:    task.ID,
				Message:   fmt.Sprintf("iteration %d", iteration),
			}, bus.EmitOptions{Source: "agent"})
		}

		if r.IsComplete(resp.Content, task) {
			return result(true, false, "", iteration), nil
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: r.ContinuationPrompt()},
		)
	}

	return result(false, true,
		fmt.Sprintf("max iterations (%d) exceeded", cfg.MaxIterations),
		cfg.MaxIterations), nil
}

// taskPrompt renders a task as the opening user message.
func taskPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Name, task.Description)
	if len(task.Files) > 0 {
		fmt.Fprintf(&b, "\nFiles in scope:\n")
		for _, f := range task.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(task.TestCriteria) > 0 {
		fmt.Fprintf(&b, "\nCompletion criteria:\n")
		for _, c := range task.TestCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "\nWhen the task is fully done, end your reply with %s", CompletionMarker)
	return b.String()
}
