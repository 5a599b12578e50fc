package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/nexus-ai/nexus/internal/git"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// DefaultMaxDiffSize caps how much diff text is sent to the model.
const DefaultMaxDiffSize = 50000

const reviewSystemPrompt = `You are a code reviewer checking one task's changes before merge.
Judge only whether the diff correctly implements the task and introduces no
regressions. Respond with a single JSON object and nothing else:
{"approved": <bool>, "comments": [...], "suggestions": [...], "blockers": [...]}
List in "blockers" only problems that must be fixed before merge.`

// ReviewRunner asks the model for a lightweight pass over a task's diff.
// It is advisory in spirit but its blockers feed the fix loop like any
// other QA failure.
type ReviewRunner struct {
	client      llm.Client
	diff        git.DiffOperations
	baseBranch  string
	maxDiffSize int
	timeout     time.Duration
	debugLog    func(format string, args ...interface{})
}

// NewReviewRunner creates a ReviewRunner reviewing diffs against baseBranch.
func NewReviewRunner(client llm.Client, diff git.DiffOperations, baseBranch string) *ReviewRunner {
	return &ReviewRunner{
		client:      client,
		diff:        diff,
		baseBranch:  baseBranch,
		maxDiffSize: DefaultMaxDiffSize,
		timeout:     DefaultReviewTimeout,
		debugLog:    func(string, ...interface{}) {},
	}
}

// SetMaxDiffSize overrides the diff truncation threshold.
func (r *ReviewRunner) SetMaxDiffSize(n int) {
	if n > 0 {
		r.maxDiffSize = n
	}
}

// SetDebugLogger sets the debug logging function.
func (r *ReviewRunner) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Run reviews the task's accumulated diff. An empty diff approves
// trivially; a diff fetch failure approves with a comment rather than
// wedging the loop on infrastructure trouble.
func (r *ReviewRunner) Run(ctx context.Context, task *models.Task) *ReviewResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	diffText, err := r.diff.Diff(ctx, git.DiffOptions{Ref1: r.baseBranch})
	if err != nil {
		r.debugLog("[qa] review diff failed for task %s: %v", task.ID, err)
		return &ReviewResult{
			Approved: true,
			Comments: []string{fmt.Sprintf("review skipped: diff unavailable (%v)", err)},
			Duration: time.Since(start),
		}
	}
	if strings.TrimSpace(diffText) == "" {
		return &ReviewResult{
			Approved: true,
			Comments: []string{"no changes to review"},
			Duration: time.Since(start),
		}
	}
	if len(diffText) > r.maxDiffSize {
		diffText = diffText[:r.maxDiffSize] + "\n... (diff truncated)"
	}

	prompt := fmt.Sprintf("Task: %s\n%s\n\nDiff:\n```diff\n%s\n```", task.Name, task.Description, diffText)
	resp, err := r.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: reviewSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{MaxTokens: 2048, TaskID: task.ID, DisableTools: true})
	if err != nil {
		r.debugLog("[qa] review call failed for task %s: %v", task.ID, err)
		return &ReviewResult{
			Approved: true,
			Comments: []string{fmt.Sprintf("review skipped: %v", err)},
			Duration: time.Since(start),
		}
	}

	result, perr := ParseReviewOutput(resp.Content)
	if perr != nil {
		r.debugLog("[qa] unparseable review for task %s: %v", task.ID, perr)
		result = &ReviewResult{
			Approved: true,
			Comments: []string{"review reply was not parseable; treating as approval"},
		}
	}
	result.Duration = time.Since(start)
	return result
}

// ParseReviewOutput extracts the review JSON object from a model reply,
// repairing near-JSON when plain parsing fails.
func ParseReviewOutput(reply string) (*ReviewResult, error) {
	raw := reply
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var parsed struct {
		Approved    bool     `json:"approved"`
		Comments    []string `json:"comments"`
		Suggestions []string `json:"suggestions"`
		Blockers    []string `json:"blockers"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("parse review output: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, fmt.Errorf("parse repaired review output: %w", err)
		}
	}
	approved := parsed.Approved && len(parsed.Blockers) == 0
	return &ReviewResult{
		Approved:    approved,
		Comments:    parsed.Comments,
		Suggestions: parsed.Suggestions,
		Blockers:    parsed.Blockers,
	}, nil
}
