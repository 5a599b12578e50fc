package llm

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("translateModelForBedrock = %q", got)
	}

	custom := anthropic.Model("us.anthropic.custom-v1:0")
	if translateModelForBedrock(custom) != custom {
		t.Error("unknown models should pass through unchanged")
	}
}

func TestBuildToolParams(t *testing.T) {
	defs := []ToolDef{{
		Name:        "run_tests",
		Description: "Run the project test suite.",
		InputSchema: map[string]interface{}{
			"target": map[string]interface{}{"type": "string"},
		},
		Required: []string{"target"},
	}}

	params := buildToolParams(defs)
	if len(params) != 1 {
		t.Fatalf("buildToolParams returned %d params, want 1", len(params))
	}
	tool := params[0].OfTool
	if tool == nil {
		t.Fatal("OfTool is nil")
	}
	if tool.Name != "run_tests" {
		t.Errorf("Name = %q", tool.Name)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "target" {
		t.Errorf("Required = %v", tool.InputSchema.Required)
	}

	if buildToolParams(nil) != nil {
		t.Error("no defs should produce nil params")
	}
}

func TestBuildParamsLiftsSystemPrompt(t *testing.T) {
	c := &AnthropicClient{
		model:     anthropic.ModelClaudeSonnet4_20250514,
		maxTokens: 1024,
	}
	params := c.buildParams([]Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "continue"},
	}, Options{})

	if len(params.System) != 1 || params.System[0].Text != "be terse" {
		t.Errorf("System = %+v", params.System)
	}
	if len(params.Messages) != 3 {
		t.Errorf("Messages length = %d, want 3", len(params.Messages))
	}
	if params.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want client default 1024", params.MaxTokens)
	}
}

func TestBuildParamsOverrides(t *testing.T) {
	c := &AnthropicClient{
		model:     anthropic.ModelClaudeSonnet4_20250514,
		maxTokens: 1024,
	}
	params := c.buildParams([]Message{{Role: RoleUser, Content: "go"}}, Options{
		MaxTokens:     4096,
		StopSequences: []string{"STOP"},
		Tools:         []ToolDef{{Name: "t"}},
		DisableTools:  true,
	})

	if params.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", params.MaxTokens)
	}
	if len(params.StopSequences) != 1 {
		t.Errorf("StopSequences = %v", params.StopSequences)
	}
	if len(params.Tools) != 0 {
		t.Error("DisableTools should drop tool params")
	}
}

func TestFinishReasonOf(t *testing.T) {
	tests := []struct {
		reason anthropic.StopReason
		want   FinishReason
	}{
		{anthropic.StopReasonEndTurn, FinishEndTurn},
		{anthropic.StopReasonMaxTokens, FinishMaxTokens},
		{anthropic.StopReasonToolUse, FinishToolUse},
		{anthropic.StopReasonStopSequence, FinishStop},
		{anthropic.StopReason("weird"), FinishEndTurn},
	}
	for _, tt := range tests {
		if got := finishReasonOf(tt.reason); got != tt.want {
			t.Errorf("finishReasonOf(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
