package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// ReviewIssue is one finding in a review verdict.
type ReviewIssue struct {
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ReviewVerdict is the strict JSON shape the reviewer must return.
type ReviewVerdict struct {
	Approved    bool          `json:"approved"`
	Issues      []ReviewIssue `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Summary     string        `json:"summary"`
}

// maxMajorIssues is the most major findings an effectively approved
// review may carry.
const maxMajorIssues = 2

// EffectivelyApproved applies the engine's own bar: zero critical issues
// and at most two major ones, regardless of the model's stated verdict.
func (v *ReviewVerdict) EffectivelyApproved() bool {
	major := 0
	for _, issue := range v.Issues {
		switch strings.ToLower(issue.Severity) {
		case "critical":
			return false
		case "major":
			major++
		}
	}
	return major <= maxMajorIssues
}

// ReviewerRunner drives the code-review loop. The model must answer in
// strict JSON; near-JSON gets repaired before parsing.
type ReviewerRunner struct {
	client llm.Client
	events *bus.Bus
	cfg    LoopConfig

	// lastVerdict holds the parsed verdict of the completing reply.
	lastVerdict *ReviewVerdict
}

var _ Runner = (*ReviewerRunner)(nil)

// NewReviewerRunner creates a reviewer over the given client.
func NewReviewerRunner(client llm.Client, events *bus.Bus, cfg LoopConfig) *ReviewerRunner {
	return &ReviewerRunner{client: client, events: events, cfg: cfg}
}

const reviewerSystemPrompt = `You are a code reviewer. Review the work described and respond with ONLY a JSON object, no prose:

{
  "approved": true,
  "issues": [
    {"severity": "critical|major|minor|info", "category": "correctness|security|performance|style", "file": "path", "line": 10, "message": "what is wrong", "suggestion": "how to fix"}
  ],
  "suggestions": ["non-blocking improvement"],
  "summary": "one paragraph verdict"
}

Severity guide: critical = broken or unsafe, major = wrong but contained, minor = cleanup, info = observation.`

func (r *ReviewerRunner) SystemPrompt() string { return reviewerSystemPrompt }

// IsComplete treats any parseable verdict as completion and stashes it.
func (r *ReviewerRunner) IsComplete(reply string, task *models.Task) bool {
	verdict, err := ParseReviewVerdict(reply)
	if err != nil {
		return false
	}
	r.lastVerdict = verdict
	return true
}

func (r *ReviewerRunner) ContinuationPrompt() string {
	return "Your reply was not valid JSON. Respond with ONLY the JSON verdict object described in the instructions."
}

func (r *ReviewerRunner) RecoveryPrompt(err error) string {
	return fmt.Sprintf("The previous request failed (%v). Re-send your JSON verdict.", err)
}

func (r *ReviewerRunner) Kind() models.AgentType { return models.AgentReviewer }

// Execute runs the review loop for the task.
func (r *ReviewerRunner) Execute(ctx context.Context, task *models.Task) (*TaskResult, error) {
	r.lastVerdict = nil
	result, err := runLoop(ctx, r, task, r.client, r.events, r.cfg)
	if err != nil {
		return nil, err
	}
	if result.Success && r.lastVerdict != nil && !r.lastVerdict.EffectivelyApproved() {
		result.Success = false
		result.Reason = fmt.Sprintf("review rejected: %s", r.lastVerdict.Summary)
	}
	return result, nil
}

// LastVerdict returns the verdict parsed from the final reply, if any.
func (r *ReviewerRunner) LastVerdict() *ReviewVerdict { return r.lastVerdict }

// ParseReviewVerdict extracts the verdict object from a reply, repairing
// near-JSON.
func ParseReviewVerdict(reply string) (*ReviewVerdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in review reply")
	}
	raw := reply[start : end+1]

	var verdict ReviewVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err == nil {
		return &verdict, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair review JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
		return nil, fmt.Errorf("parse review JSON: %w", err)
	}
	return &verdict, nil
}
