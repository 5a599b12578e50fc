package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/pkg/models"
)

// CoderRunner drives the code-writing loop. Output is expected as
// "### File: path" blocks followed by fenced code.
type CoderRunner struct {
	client llm.Client
	events *bus.Bus
	cfg    LoopConfig
}

var _ Runner = (*CoderRunner)(nil)

// NewCoderRunner creates a coder over the given client.
func NewCoderRunner(client llm.Client, events *bus.Bus, cfg LoopConfig) *CoderRunner {
	return &CoderRunner{client: client, events: events, cfg: cfg}
}

const coderSystemPrompt = `You are a senior software engineer implementing one small, well-scoped task.

Output format:
- For every file you create or modify, emit a heading line "### File: <path>" followed by a fenced code block containing the COMPLETE file contents.
- After the code blocks, explain briefly what you changed and why.
- Stay inside the listed files; do not invent new scope.

Work iteratively. When the task is fully implemented and satisfies all completion criteria, end your reply with ` + CompletionMarker

func (r *CoderRunner) SystemPrompt() string { return coderSystemPrompt }

// IsComplete looks for the shared completion marker.
func (r *CoderRunner) IsComplete(reply string, task *models.Task) bool {
	return strings.Contains(reply, CompletionMarker)
}

func (r *CoderRunner) ContinuationPrompt() string {
	return "Continue implementing the task. Re-emit any file you change as a complete \"### File:\" block. End with " + CompletionMarker + " when done."
}

func (r *CoderRunner) RecoveryPrompt(err error) string {
	return fmt.Sprintf("The previous request failed (%v). Continue from where you left off; re-emit the file you were working on in full.", err)
}

func (r *CoderRunner) Kind() models.AgentType { return models.AgentCoder }

// Execute runs the coding loop for the task.
func (r *CoderRunner) Execute(ctx context.Context, task *models.Task) (*TaskResult, error) {
	return r.ExecuteIn(ctx, task, r.cfg.WorkDir)
}

// ExecuteIn runs the coding loop with workDir as the task's working
// directory. CLI backends run in it directly; for API backends the
// "### File:" blocks from the reply are written into it, which is the
// only way model output reaches the worktree.
func (r *CoderRunner) ExecuteIn(ctx context.Context, task *models.Task, workDir string) (*TaskResult, error) {
	cfg := r.cfg
	cfg.WorkDir = workDir
	result, err := runLoop(ctx, r, task, r.client, r.events, cfg)
	if err != nil || result == nil {
		return result, err
	}
	if workDir != "" {
		if werr := WriteFileBlocks(workDir, ExtractFileBlocks(result.Output)); werr != nil {
			result.Success = false
			result.Reason = fmt.Sprintf("writing output files: %v", werr)
		}
	}
	return result, nil
}

// FixPrompt renders QA errors as a follow-up instruction. The QA loop
// engine calls this between iterations.
func FixPrompt(errorSummary string) string {
	return fmt.Sprintf(`Quality checks failed. Fix the following and re-emit every changed file as a complete "### File:" block:

%s

End with %s when all issues are addressed.`, errorSummary, CompletionMarker)
}

// ExtractFileBlocks parses "### File: path" sections from coder output,
// returning path -> contents. Later blocks for the same path win.
func ExtractFileBlocks(output string) map[string]string {
	files := make(map[string]string)
	lines := strings.Split(output, "\n")
	var path string
	var body []string
	inFence := false

	flush := func() {
		if path != "" && len(body) > 0 {
			files[path] = strings.Join(body, "\n")
		}
		path, body = "", nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### File:") {
			flush()
			path = strings.TrimSpace(strings.TrimPrefix(trimmed, "### File:"))
			inFence = false
			continue
		}
		if path == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				flush()
			}
			inFence = !inFence
			continue
		}
		if inFence {
			body = append(body, line)
		}
	}
	flush()
	return files
}

// WriteFileBlocks materializes extracted file blocks under dir, creating
// parent directories as needed. Paths that are absolute or escape dir
// are rejected; a coder must never write outside its worktree.
func WriteFileBlocks(dir string, files map[string]string) error {
	for path, contents := range files {
		if filepath.IsAbs(path) {
			return fmt.Errorf("refusing absolute path %q", path)
		}
		clean := filepath.Clean(path)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("refusing path %q outside the working directory", path)
		}
		full := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
		if !strings.HasSuffix(contents, "\n") {
			contents += "\n"
		}
		if err := os.WriteFile(full, []byte(contents), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
