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

// ConflictResolution is the model's proposal for one conflicted file.
type ConflictResolution struct {
	File string `json:"file"`
	// Kind classifies the conflict: trivial, complex, critical,
	// delete-modify.
	Kind string `json:"kind"`
	// Resolution is the proposed merged contents, empty when the model
	// cannot resolve it.
	Resolution string `json:"resolution,omitempty"`
	// NeedsManualReview flags conflicts a human must look at.
	NeedsManualReview bool `json:"needsManualReview"`
	Explanation       string `json:"explanation,omitempty"`
}

// MergeAnalysis is the strict JSON shape the merger must return.
type MergeAnalysis struct {
	Resolutions []ConflictResolution `json:"resolutions"`
	Summary     string               `json:"summary"`
}

// AutoCompletable reports whether every conflict may be resolved without
// a human: forbidden when any conflict is critical, complex,
// delete-modify, or explicitly flagged.
func (a *MergeAnalysis) AutoCompletable() bool {
	for _, res := range a.Resolutions {
		if res.NeedsManualReview {
			return false
		}
		switch strings.ToLower(res.Kind) {
		case "critical", "complex", "delete-modify":
			return false
		}
	}
	return true
}

// MergerRunner drives the conflict-analysis loop.
type MergerRunner struct {
	client llm.Client
	events *bus.Bus
	cfg    LoopConfig

	lastAnalysis *MergeAnalysis
}

var _ Runner = (*MergerRunner)(nil)

// NewMergerRunner creates a merger over the given client.
func NewMergerRunner(client llm.Client, events *bus.Bus, cfg LoopConfig) *MergerRunner {
	return &MergerRunner{client: client, events: events, cfg: cfg}
}

const mergerSystemPrompt = `You are a merge specialist. Analyse the described merge conflicts and respond with ONLY a JSON object, no prose:

{
  "resolutions": [
    {"file": "path", "kind": "trivial|complex|critical|delete-modify", "resolution": "full merged file contents when resolvable", "needsManualReview": false, "explanation": "why"}
  ],
  "summary": "one paragraph"
}

Classify honestly: mark a conflict complex or critical rather than guessing at semantics you cannot see. Delete-modify conflicts always need a human.`

func (r *MergerRunner) SystemPrompt() string { return mergerSystemPrompt }

// IsComplete treats any parseable analysis as completion and stashes it.
func (r *MergerRunner) IsComplete(reply string, task *models.Task) bool {
	analysis, err := ParseMergeAnalysis(reply)
	if err != nil {
		return false
	}
	r.lastAnalysis = analysis
	return true
}

func (r *MergerRunner) ContinuationPrompt() string {
	return "Your reply was not valid JSON. Respond with ONLY the JSON analysis object described in the instructions."
}

func (r *MergerRunner) RecoveryPrompt(err error) string {
	return fmt.Sprintf("The previous request failed (%v). Re-send your JSON analysis.", err)
}

func (r *MergerRunner) Kind() models.AgentType { return models.AgentMerger }

// Execute runs the conflict-analysis loop for the task.
func (r *MergerRunner) Execute(ctx context.Context, task *models.Task) (*TaskResult, error) {
	r.lastAnalysis = nil
	result, err := runLoop(ctx, r, task, r.client, r.events, r.cfg)
	if err != nil {
		return nil, err
	}
	if result.Success && r.lastAnalysis != nil && !r.lastAnalysis.AutoCompletable() {
		result.Success = false
		result.Escalated = true
		result.Reason = "merge conflicts need manual review"
	}
	return result, nil
}

// LastAnalysis returns the analysis parsed from the final reply, if any.
func (r *MergerRunner) LastAnalysis() *MergeAnalysis { return r.lastAnalysis }

// ParseMergeAnalysis extracts the analysis object from a reply, repairing
// near-JSON.
func ParseMergeAnalysis(reply string) (*MergeAnalysis, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in merge reply")
	}
	raw := reply[start : end+1]

	var analysis MergeAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err == nil {
		return &analysis, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair merge JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &analysis); err != nil {
		return nil, fmt.Errorf("parse merge JSON: %w", err)
	}
	return &analysis, nil
}
