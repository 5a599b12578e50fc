package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// TesterRunner drives the test-writing loop. Tests mirror the source
// files they cover, named *.test.* (or the project convention).
type TesterRunner struct {
	client llm.Client
	events *bus.Bus
	cfg    LoopConfig
}

var _ Runner = (*TesterRunner)(nil)

// NewTesterRunner creates a tester over the given client.
func NewTesterRunner(client llm.Client, events *bus.Bus, cfg LoopConfig) *TesterRunner {
	return &TesterRunner{client: client, events: events, cfg: cfg}
}

const testerSystemPrompt = `You are a test engineer writing tests for one small, well-scoped task.

Rules:
- For every source file in scope, write a test file mirroring it, named with the project's test convention (*.test.ts, *_test.go, test_*.py).
- Emit each test file as "### File: <path>" followed by a fenced code block with the COMPLETE file contents.
- Cover the stated completion criteria first, then edge cases.
- Tests must be runnable as-is; no placeholders.

When every criterion has a covering test, end your reply with ` + CompletionMarker

func (r *TesterRunner) SystemPrompt() string { return testerSystemPrompt }

func (r *TesterRunner) IsComplete(reply string, task *models.Task) bool {
	return strings.Contains(reply, CompletionMarker)
}

func (r *TesterRunner) ContinuationPrompt() string {
	return "Continue writing tests. Re-emit changed test files in full. End with " + CompletionMarker + " when every criterion is covered."
}

func (r *TesterRunner) RecoveryPrompt(err error) string {
	return fmt.Sprintf("The previous request failed (%v). Continue writing tests from where you left off.", err)
}

func (r *TesterRunner) Kind() models.AgentType { return models.AgentTester }

// Execute runs the test-writing loop for the task.
func (r *TesterRunner) Execute(ctx context.Context, task *models.Task) (*TaskResult, error) {
	return runLoop(ctx, r, task, r.client, r.events, r.cfg)
}
