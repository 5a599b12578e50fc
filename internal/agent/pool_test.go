package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/pkg/models"
)

// stubRunner returns a fixed result.
type stubRunner struct {
	kind   models.AgentType
	result *TaskResult
	err    error
}

func (s *stubRunner) Execute(ctx context.Context, task *models.Task) (*TaskResult, error) {
	return s.result, s.err
}
func (s *stubRunner) SystemPrompt() string                               { return "" }
func (s *stubRunner) IsComplete(reply string, task *models.Task) bool    { return true }
func (s *stubRunner) ContinuationPrompt() string                         { return "" }
func (s *stubRunner) RecoveryPrompt(err error) string                    { return "" }
func (s *stubRunner) Kind() models.AgentType                             { return s.kind }

func TestSpawnRespectsCapacity(t *testing.T) {
	p := NewPool(map[models.AgentType]int{models.AgentCoder: 2}, nil, nil)

	for i := 0; i < 2; i++ {
		if _, err := p.Spawn(models.AgentCoder); err != nil {
			t.Fatalf("Spawn %d error = %v", i, err)
		}
	}
	if p.HasCapacity(models.AgentCoder) {
		t.Error("pool should be at capacity")
	}

	_, err := p.Spawn(models.AgentCoder)
	var capErr *ErrPoolCapacity
	if !errors.As(err, &capErr) {
		t.Fatalf("Spawn over cap error = %v, want *ErrPoolCapacity", err)
	}

	// Other types are unaffected by the coder cap being zero here.
	if p.HasCapacity(models.AgentTester) {
		t.Error("type with no configured capacity should report none")
	}
}

func TestAssignAndRelease(t *testing.T) {
	p := NewPool(nil, nil, nil)
	agent, err := p.Spawn(models.AgentCoder)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if err := p.Assign(agent.ID, "task-1", "/wt/task-1"); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	got, _ := p.Get(agent.ID)
	if got.Status != models.AgentStatusAssigned || got.CurrentTaskID != "task-1" {
		t.Errorf("after Assign: %+v", got)
	}
	if len(p.Available()) != 0 {
		t.Error("assigned agent must not be available")
	}
	if len(p.Active()) != 1 {
		t.Error("assigned agent should count as active")
	}

	if err := p.Release(agent.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	got, _ = p.Get(agent.ID)
	if got.Status != models.AgentStatusIdle || got.CurrentTaskID != "" || got.WorktreePath != "" {
		t.Errorf("after Release: %+v", got)
	}
}

func TestTerminateRemovesAgent(t *testing.T) {
	events := bus.New()
	var terminated int
	events.On(bus.AgentTerminated, func(bus.Event) { terminated++ })

	p := NewPool(nil, nil, events)
	agent, _ := p.Spawn(models.AgentCoder)
	if err := p.Terminate(agent.ID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if _, ok := p.Get(agent.ID); ok {
		t.Error("terminated agent should leave the pool")
	}
	if terminated != 1 {
		t.Errorf("saw %d terminated events, want 1", terminated)
	}

	var notFound *ErrAgentNotFound
	if err := p.Terminate(agent.ID); !errors.As(err, &notFound) {
		t.Errorf("second Terminate error = %v, want *ErrAgentNotFound", err)
	}
}

func TestRunTaskUpdatesMetrics(t *testing.T) {
	runners := map[models.AgentType]Runner{
		models.AgentCoder: &stubRunner{
			kind: models.AgentCoder,
			result: &TaskResult{
				TaskID: "task-1", Success: true, Iterations: 3,
				Metrics: ResultMetrics{Iterations: 3, TokensUsed: 1200},
			},
		},
	}
	p := NewPool(nil, runners, nil)
	agent, _ := p.Spawn(models.AgentCoder)

	result, err := p.RunTask(context.Background(), agent, &models.Task{ID: "task-1"})
	if err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}
	if !result.Success {
		t.Error("expected success result")
	}

	got, _ := p.Get(agent.ID)
	if got.Status != models.AgentStatusIdle {
		t.Errorf("Status = %q, want idle after run", got.Status)
	}
	if got.Metrics.TasksCompleted != 1 || got.Metrics.TotalIterations != 3 || got.Metrics.TokensUsed != 1200 {
		t.Errorf("Metrics = %+v", got.Metrics)
	}
	if got.Metrics.AverageIterationsPerTask() != 3 {
		t.Errorf("AverageIterationsPerTask = %v, want 3", got.Metrics.AverageIterationsPerTask())
	}
}

func TestRunTaskWithoutRunner(t *testing.T) {
	p := NewPool(nil, nil, nil)
	agent, _ := p.Spawn(models.AgentCoder)
	if _, err := p.RunTask(context.Background(), agent, &models.Task{ID: "t"}); err == nil {
		t.Error("RunTask with no runner registered should error")
	}
}

func TestPoolStatus(t *testing.T) {
	p := NewPool(nil, nil, nil)
	a1, _ := p.Spawn(models.AgentCoder)
	p.Spawn(models.AgentCoder)
	p.Spawn(models.AgentTester)
	p.Assign(a1.ID, "task-1", "")

	status := p.Status()
	if status.Total != 3 || status.Idle != 2 || status.Working != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.ByType[models.AgentCoder].Count != 2 || status.ByType[models.AgentCoder].Capacity != 4 {
		t.Errorf("coder bucket = %+v", status.ByType[models.AgentCoder])
	}
}
