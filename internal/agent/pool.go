package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/pkg/models"
)

// ErrPoolCapacity reports a spawn attempt over the per-type cap.
type ErrPoolCapacity struct {
	Type models.AgentType
	Cap  int
}

func (e *ErrPoolCapacity) Error() string {
	return fmt.Sprintf("agent pool at capacity for %s (limit %d)", e.Type, e.Cap)
}

// ErrAgentNotFound reports an operation against an unknown agent id.
type ErrAgentNotFound struct {
	AgentID string
}

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("agent %s not found", e.AgentID)
}

// DefaultCapacities is the standard per-type sizing.
func DefaultCapacities() map[models.AgentType]int {
	return map[models.AgentType]int{
		models.AgentPlanner:  1,
		models.AgentCoder:    4,
		models.AgentTester:   2,
		models.AgentReviewer: 2,
		models.AgentMerger:   1,
	}
}

// PoolStatus is the projection exposed to status queries.
type PoolStatus struct {
	Total   int                           `json:"total"`
	Idle    int                           `json:"idle"`
	Working int                           `json:"working"`
	ByType  map[models.AgentType]TypeStat `json:"by_type"`
}

// TypeStat is the per-type bucket of a PoolStatus.
type TypeStat struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
	Idle     int `json:"idle"`
}

// Pool owns the live agents. Spawning respects per-type capacity; runners
// are injected once at construction and shared by all agents of a type.
type Pool struct {
	mu         sync.Mutex
	agents     map[string]*models.Agent
	capacities map[models.AgentType]int
	runners    map[models.AgentType]Runner
	events     *bus.Bus
	modelCfg   models.ModelConfig
}

// NewPool creates a pool with the given capacities and runners. Nil
// capacities get the defaults.
func NewPool(capacities map[models.AgentType]int, runners map[models.AgentType]Runner, events *bus.Bus) *Pool {
	if capacities == nil {
		capacities = DefaultCapacities()
	}
	if runners == nil {
		runners = make(map[models.AgentType]Runner)
	}
	return &Pool{
		agents:     make(map[string]*models.Agent),
		capacities: capacities,
		runners:    runners,
		events:     events,
	}
}

// SetModelConfig sets the model configuration stamped onto new agents.
func (p *Pool) SetModelConfig(cfg models.ModelConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelCfg = cfg
}

// Spawn creates a new idle agent of the given type.
func (p *Pool) Spawn(agentType models.AgentType) (*models.Agent, error) {
	p.mu.Lock()
	if !p.hasCapacityLocked(agentType) {
		cap := p.capacities[agentType]
		p.mu.Unlock()
		return nil, &ErrPoolCapacity{Type: agentType, Cap: cap}
	}

	now := time.Now()
	agent := &models.Agent{
		ID:           uuid.New().String()[:8],
		Type:         agentType,
		Status:       models.AgentStatusIdle,
		ModelConfig:  p.modelCfg,
		SpawnedAt:    now,
		LastActiveAt: now,
	}
	p.agents[agent.ID] = agent
	p.mu.Unlock()

	p.emit(bus.AgentSpawned, agent, "")
	return agent, nil
}

// Terminate destroys an agent. Terminated agents leave the pool entirely.
func (p *Pool) Terminate(id string) error {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return &ErrAgentNotFound{AgentID: id}
	}
	agent.Status = models.AgentStatusTerminated
	delete(p.agents, id)
	p.mu.Unlock()

	p.emit(bus.AgentTerminated, agent, "")
	return nil
}

// TerminateAll destroys every agent, for shutdown.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	agents := make([]*models.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		a.Status = models.AgentStatusTerminated
		agents = append(agents, a)
	}
	p.agents = make(map[string]*models.Agent)
	p.mu.Unlock()

	for _, a := range agents {
		p.emit(bus.AgentTerminated, a, "")
	}
}

// Assign binds a task (and optionally a worktree) to an agent.
func (p *Pool) Assign(id, taskID, worktreePath string) error {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return &ErrAgentNotFound{AgentID: id}
	}
	agent.Status = models.AgentStatusAssigned
	agent.CurrentTaskID = taskID
	agent.WorktreePath = worktreePath
	agent.LastActiveAt = time.Now()
	p.mu.Unlock()

	p.emit(bus.AgentAssigned, agent, taskID)
	return nil
}

// Release returns an agent to the idle set, clearing its assignment.
func (p *Pool) Release(id string) error {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return &ErrAgentNotFound{AgentID: id}
	}
	agent.Status = models.AgentStatusIdle
	agent.CurrentTaskID = ""
	agent.WorktreePath = ""
	agent.LastActiveAt = time.Now()
	p.mu.Unlock()

	p.emit(bus.AgentIdle, agent, "")
	return nil
}

// Get returns an agent by id.
func (p *Pool) Get(id string) (*models.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agent, ok := p.agents[id]
	return agent, ok
}

// Available returns every idle agent.
func (p *Pool) Available() []*models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Agent
	for _, a := range p.agents {
		if a.Status == models.AgentStatusIdle {
			out = append(out, a)
		}
	}
	return out
}

// AvailableByType returns idle agents of one type.
func (p *Pool) AvailableByType(agentType models.AgentType) []*models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Agent
	for _, a := range p.agents {
		if a.Status == models.AgentStatusIdle && a.Type == agentType {
			out = append(out, a)
		}
	}
	return out
}

// All returns every live agent.
func (p *Pool) All() []*models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	return out
}

// Active returns agents currently assigned or working.
func (p *Pool) Active() []*models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Agent
	for _, a := range p.agents {
		if a.Status == models.AgentStatusAssigned || a.Status == models.AgentStatusWorking {
			out = append(out, a)
		}
	}
	return out
}

// HasCapacity reports whether another agent of the type may be spawned.
func (p *Pool) HasCapacity(agentType models.AgentType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasCapacityLocked(agentType)
}

func (p *Pool) hasCapacityLocked(agentType models.AgentType) bool {
	count := 0
	for _, a := range p.agents {
		if a.Type == agentType {
			count++
		}
	}
	return count < p.capacities[agentType]
}

// RunTask dispatches the task to the runner registered for the agent's
// type, moving the agent idle→working→idle around the call and updating
// its metrics.
func (p *Pool) RunTask(ctx context.Context, agent *models.Agent, task *models.Task) (*TaskResult, error) {
	p.mu.Lock()
	runner, ok := p.runners[agent.Type]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("no runner registered for agent type %s", agent.Type)
	}
	agent.Status = models.AgentStatusWorking
	agent.LastActiveAt = time.Now()
	p.mu.Unlock()

	start := time.Now()
	result, err := runner.Execute(ctx, task)
	elapsed := time.Since(start)

	p.mu.Lock()
	agent.Metrics.TotalTimeActive += elapsed
	agent.LastActiveAt = time.Now()
	if err != nil {
		agent.Status = models.AgentStatusError
		agent.Metrics.TasksFailed++
	} else {
		agent.Status = models.AgentStatusIdle
		agent.Metrics.TotalIterations += result.Iterations
		agent.Metrics.TokensUsed += result.Metrics.TokensUsed
		if result.Success {
			agent.Metrics.TasksCompleted++
		} else {
			agent.Metrics.TasksFailed++
		}
	}
	p.mu.Unlock()

	if err != nil {
		p.emit(bus.AgentError, agent, task.ID)
		return nil, err
	}
	p.emit(bus.AgentIdle, agent, "")
	return result, nil
}

// Status returns totals and per-type buckets.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PoolStatus{ByType: make(map[models.AgentType]TypeStat)}
	for agentType, cap := range p.capacities {
		status.ByType[agentType] = TypeStat{Capacity: cap}
	}
	for _, a := range p.agents {
		status.Total++
		stat := status.ByType[a.Type]
		stat.Count++
		if a.Status == models.AgentStatusIdle {
			status.Idle++
			stat.Idle++
		}
		if a.Status == models.AgentStatusWorking || a.Status == models.AgentStatusAssigned {
			status.Working++
		}
		status.ByType[a.Type] = stat
	}
	return status
}

func (p *Pool) emit(eventType string, agent *models.Agent, taskID string) {
	if p.events == nil {
		return
	}
	p.events.Emit(eventType, bus.AgentPayload{
		AgentID:   agent.ID,
		AgentType: agent.Type,
		TaskID:    taskID,
	}, bus.EmitOptions{Source: "pool"})
}
