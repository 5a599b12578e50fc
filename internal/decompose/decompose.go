// Package decompose turns feature descriptions into atomic tasks via the
// language model. Output is constrained hard: every task fits in thirty
// minutes and five files, and anything oversized gets one split round
// before being accepted with a warning.
package decompose

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus/internal/estimate"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// Options tune a single decomposition.
type Options struct {
	// UseTDD marks produced tasks for test-first execution.
	UseTDD bool
	// ContextFiles are paths the model should treat as existing code.
	ContextFiles []string
}

// Decomposer breaks feature descriptions into validated atomic tasks.
type Decomposer struct {
	client    llm.Client
	estimator *estimate.Estimator

	// maxTokens for decomposition calls.
	maxTokens int64

	debugLog func(format string, args ...interface{})
}

// New creates a decomposer over the given model client.
func New(client llm.Client, estimator *estimate.Estimator) *Decomposer {
	if estimator == nil {
		estimator = estimate.New()
	}
	return &Decomposer{
		client:    client,
		estimator: estimator,
		maxTokens: 8192,
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLogger sets a logger for debug output.
func (d *Decomposer) SetDebugLogger(logger func(format string, args ...interface{})) {
	if logger != nil {
		d.debugLog = logger
	}
}

// Decompose asks the model to break the feature into tasks, then enforces
// the size contract. Oversized tasks get exactly one split round; a task
// still oversized after splitting is accepted with a warning, never
// dropped.
func (d *Decomposer) Decompose(ctx context.Context, featureDescription string, opts Options) ([]*models.Task, error) {
	prompt := buildDecompositionPrompt(featureDescription, opts)

	resp, err := d.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: decompositionSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{MaxTokens: d.maxTokens, DisableTools: true})
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}

	raw, err := ParseTaskArray(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "model returned an empty task list"}
	}

	tasks := d.materialize(raw, opts)

	// Split round for anything over the cap.
	var final []*models.Task
	for _, task := range tasks {
		if task.EstimatedMinutes <= models.MaxTaskMinutes {
			final = append(final, task)
			continue
		}
		children, err := d.splitTask(ctx, task, opts)
		if err != nil || len(children) == 0 {
			log.Printf("[decompose] split of oversized task %q failed (%v); keeping as-is", task.Name, err)
			task.EstimatedMinutes = models.MaxTaskMinutes
			task.Size = models.SizeForMinutes(task.EstimatedMinutes)
			final = append(final, task)
			continue
		}
		final = append(final, children...)
	}

	resolveDependencyNames(final)

	for _, task := range final {
		if err := task.Validate(); err != nil {
			log.Printf("[decompose] validation warning: %v", err)
		}
	}
	return final, nil
}

// materialize converts parsed JSON tasks into model tasks with ids, sizes,
// and estimates filled in.
func (d *Decomposer) materialize(raw []rawTask, opts Options) []*models.Task {
	now := time.Now()
	taskType := models.TaskTypeAuto
	if opts.UseTDD {
		taskType = models.TaskTypeTDD
	}

	tasks := make([]*models.Task, 0, len(raw))
	for i, rt := range raw {
		task := &models.Task{
			ID:               uuid.New().String(),
			Name:             strings.TrimSpace(rt.Name),
			Description:      rt.Description,
			Type:             taskType,
			Status:           models.TaskStatusPending,
			EstimatedMinutes: rt.EstimatedMinutes,
			Files:            rt.Files,
			TestCriteria:     rt.TestCriteria,
			DependsOn:        rt.DependsOn,
			Priority:         i,
			CreatedAt:        now,
		}
		if task.EstimatedMinutes <= 0 {
			task.EstimatedMinutes = d.estimator.Estimate(task)
		}
		task.Size = models.SizeForMinutes(task.EstimatedMinutes)
		tasks = append(tasks, task)
	}
	return tasks
}

// splitTask re-prompts the model to break one oversized task into
// compliant children. Children carry ParentID linking back to the
// original.
func (d *Decomposer) splitTask(ctx context.Context, task *models.Task, opts Options) ([]*models.Task, error) {
	d.debugLog("[decompose] splitting oversized task %q (%d min)", task.Name, task.EstimatedMinutes)

	resp, err := d.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: decompositionSystemPrompt},
		{Role: llm.RoleUser, Content: buildSplitPrompt(task)},
	}, llm.Options{MaxTokens: d.maxTokens, DisableTools: true})
	if err != nil {
		return nil, fmt.Errorf("split call: %w", err)
	}

	raw, err := ParseTaskArray(resp.Content)
	if err != nil {
		return nil, err
	}

	children := d.materialize(raw, opts)
	for _, child := range children {
		child.ParentID = task.ID
		if child.EstimatedMinutes > models.MaxTaskMinutes {
			log.Printf("[decompose] split child %q still oversized (%d min); accepting with warning",
				child.Name, child.EstimatedMinutes)
			child.EstimatedMinutes = models.MaxTaskMinutes
			child.Size = models.SizeForMinutes(child.EstimatedMinutes)
		}
	}
	return children, nil
}

// resolveDependencyNames rewrites dependsOn entries from task names to
// task ids. Names compare case-insensitively and trimmed. Unresolved
// entries are left as-is with a warning so a later id reference still
// works.
func resolveDependencyNames(tasks []*models.Task) {
	byName := make(map[string]string, len(tasks))
	byID := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		byName[strings.ToLower(strings.TrimSpace(task.Name))] = task.ID
		byID[task.ID] = true
	}

	for _, task := range tasks {
		for i, dep := range task.DependsOn {
			if byID[dep] {
				continue
			}
			if id, ok := byName[strings.ToLower(strings.TrimSpace(dep))]; ok {
				task.DependsOn[i] = id
				continue
			}
			log.Printf("[decompose] task %q depends on unknown %q; leaving as-is", task.Name, dep)
		}
	}
}
