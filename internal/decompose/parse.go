package decompose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// rawTask is the JSON structure the model is prompted to return for a
// single task.
type rawTask struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Files            []string `json:"files"`
	TestCriteria     []string `json:"testCriteria"`
	DependsOn        []string `json:"dependsOn"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
}

// ParseError reports a model reply that could not be turned into tasks.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse decomposition response: %s", e.Reason)
}

// ParseTaskArray extracts the JSON task array from a model reply. Code
// fences and surrounding prose are tolerated; near-JSON is repaired before
// giving up.
func ParseTaskArray(response string) ([]rawTask, error) {
	jsonStr, err := extractArray(response)
	if err != nil {
		return nil, err
	}

	var tasks []rawTask
	if unmarshalErr := json.Unmarshal([]byte(jsonStr), &tasks); unmarshalErr == nil {
		return tasks, nil
	}

	// The model sometimes emits trailing commas or unquoted keys; repair
	// before failing.
	repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
	if repairErr != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", repairErr), Raw: preview(response)}
	}
	if unmarshalErr := json.Unmarshal([]byte(repaired), &tasks); unmarshalErr != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON after repair: %v", unmarshalErr), Raw: preview(response)}
	}
	return tasks, nil
}

// extractArray finds the task array in the reply, stripping code fences.
func extractArray(response string) (string, error) {
	text := response
	if idx := strings.Index(text, "```"); idx != -1 {
		text = text[idx+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.Index(text, "\n"); nl != -1 {
			text = text[nl+1:]
		}
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return "", &ParseError{Reason: "no JSON array found in response", Raw: preview(response)}
	}
	return text[start : end+1], nil
}

func preview(s string) string {
	if len(s) > 500 {
		return s[:500] + "... (truncated)"
	}
	return s
}
