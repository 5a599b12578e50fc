package decompose

import (
	"fmt"
	"strings"

	"github.com/nexus-ai/nexus/pkg/models"
)

// decompositionSystemPrompt frames every decomposition call.
const decompositionSystemPrompt = `You are a software project planner. You break features into small, atomic, independently testable tasks. You respond with a strict JSON array and nothing else: no prose, no markdown, no explanations.`

// decompositionPromptTemplate is the user prompt for the initial
// decomposition round.
const decompositionPromptTemplate = `Break this feature into atomic development tasks.

Feature:
%s
%s
Return ONLY a JSON array with this exact structure:
[
  {
    "name": "Short task name",
    "description": "Detailed instructions a coding agent can follow without further context",
    "files": ["src/auth/login.ts"],
    "testCriteria": ["login endpoint returns 200 for valid credentials"],
    "dependsOn": ["name of prerequisite task"],
    "estimatedMinutes": 15
  }
]

Hard constraints on every task:
- estimatedMinutes must be %d or less
- files must list at most %d paths, and ALL paths the task will touch
- each task must be atomic: one coherent change, independently testable
- dependsOn references other tasks BY NAME; use [] when independent
- testCriteria must be concrete and observable

Guidelines:
- Prefer independent tasks so they can run in parallel
- Only declare a dependency when the work truly cannot start earlier
- Never put two tasks on the same config file unless one depends on the other%s`

// splitPromptTemplate is the user prompt for re-splitting one oversized
// task.
const splitPromptTemplate = `This task is too large. Split it into smaller tasks of %d minutes or less each.

Task: %s
Description: %s
Files: %s
Estimated minutes: %d

Return ONLY a JSON array of replacement tasks, same structure as before:
[{"name": "...", "description": "...", "files": [...], "testCriteria": [...], "dependsOn": [...], "estimatedMinutes": N}]

The replacement tasks together must cover everything the original task did.
Use dependsOn between the replacements where ordering matters.`

func buildDecompositionPrompt(featureDescription string, opts Options) string {
	var contextBlock string
	if len(opts.ContextFiles) > 0 {
		contextBlock = fmt.Sprintf("\nExisting files to consider:\n%s\n", strings.Join(opts.ContextFiles, "\n"))
	}

	var tddNote string
	if opts.UseTDD {
		tddNote = "\n- Tests are written FIRST: every task's testCriteria must be expressible as failing tests before implementation"
	}

	return fmt.Sprintf(decompositionPromptTemplate,
		featureDescription, contextBlock,
		models.MaxTaskMinutes, models.MaxTaskFiles, tddNote)
}

func buildSplitPrompt(task *models.Task) string {
	return fmt.Sprintf(splitPromptTemplate,
		models.MaxTaskMinutes,
		task.Name, task.Description,
		strings.Join(task.Files, ", "),
		task.EstimatedMinutes)
}
