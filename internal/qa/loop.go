package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-ai/nexus/internal/agent"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/pkg/models"
)

// DefaultMaxLoopIterations caps the fix loop.
const DefaultMaxLoopIterations = 50

// maxOpaqueBuildFailures escalates when the build keeps failing without a
// single parseable error; the fix prompt would be empty and the loop
// would spin.
const maxOpaqueBuildFailures = 3

// CodeFixer writes code for a task in its working directory: first the
// initial implementation, then fixes for derived tasks whose description
// carries the current failure summary. The coder runner satisfies this.
type CodeFixer interface {
	ExecuteIn(ctx context.Context, task *models.Task, workDir string) (*agent.TaskResult, error)
}

// LoopConfig tunes the QA loop.
type LoopConfig struct {
	MaxIterations      int
	StopOnFirstFailure bool
	FixLint            bool
	SkipLint           bool
	SkipTests          bool
	SkipReview         bool
}

// LoopResult is the outcome of a full QA loop for one task.
type LoopResult struct {
	TaskID     string        `json:"task_id"`
	Success    bool          `json:"success"`
	Escalated  bool          `json:"escalated"`
	Reason     string        `json:"reason,omitempty"`
	Iterations int           `json:"iterations"`
	Build      *BuildResult  `json:"build,omitempty"`
	Lint       *LintResult   `json:"lint,omitempty"`
	Test       *TestResult   `json:"test,omitempty"`
	Review     *ReviewResult `json:"review,omitempty"`
}

// LoopEngine drives a task through build, lint, test, and review, feeding
// failures back to the coder until everything passes or the loop gives up.
type LoopEngine struct {
	build    *BuildRunner
	lint     *LintRunner
	test     *TestRunner
	review   *ReviewRunner
	fixer    CodeFixer
	events   *bus.Bus
	cfg      LoopConfig
	debugLog func(format string, args ...interface{})
}

// NewLoopEngine creates a LoopEngine. review may be nil when AI review is
// disabled; events may be nil.
func NewLoopEngine(build *BuildRunner, lint *LintRunner, test *TestRunner, review *ReviewRunner, fixer CodeFixer, events *bus.Bus, cfg LoopConfig) *LoopEngine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxLoopIterations
	}
	return &LoopEngine{
		build:    build,
		lint:     lint,
		test:     test,
		review:   review,
		fixer:    fixer,
		events:   events,
		cfg:      cfg,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (e *LoopEngine) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// Run executes the QA loop for a task in its worktree: the coder
// implements the task first, then every iteration verifies the result
// and feeds failures back until the checks pass or the loop gives up.
// A nil fixer skips implementation and runs the checks once as a pure
// verification pass.
func (e *LoopEngine) Run(ctx context.Context, task *models.Task, workDir string) (*LoopResult, error) {
	result := &LoopResult{TaskID: task.ID}
	opaqueBuilds := 0

	if e.fixer != nil {
		impl, err := e.fixer.ExecuteIn(ctx, task, workDir)
		if err != nil {
			result.Reason = fmt.Sprintf("implementation failed: %v", err)
			return result, err
		}
		if !impl.Success {
			if ctx.Err() != nil {
				result.Reason = "cancelled"
				return result, ctx.Err()
			}
			result.Escalated = true
			result.Reason = "implementation: " + impl.Reason
			e.finish(task.ID, result)
			return result, nil
		}
	}

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			result.Reason = "cancelled"
			return result, err
		}
		result.Iterations = iter
		var failures []string

		e.emit(bus.QABuildStarted, bus.QAPayload{TaskID: task.ID, Step: "build", Iteration: iter})
		build := e.build.Run(ctx, workDir)
		build.Iteration = iter
		result.Build = build
		e.emitStep(bus.QABuildCompleted, task.ID, "build", iter, build.Success, len(build.Errors), len(build.Warnings), build.Duration.Milliseconds())

		if !build.Success {
			if len(build.Errors) == 0 {
				opaqueBuilds++
				if opaqueBuilds >= maxOpaqueBuildFailures {
					result.Escalated = true
					result.Reason = fmt.Sprintf("build failed %d times with no parseable errors", opaqueBuilds)
					e.finish(task.ID, result)
					return result, nil
				}
				failures = append(failures, "build failed:\n"+tail(build.Output, 2000))
			} else {
				opaqueBuilds = 0
				failures = append(failures, summarizeEntries("build error", build.Errors))
			}
		} else {
			opaqueBuilds = 0
		}

		if (build.Success || !e.cfg.StopOnFirstFailure) && !e.cfg.SkipLint {
			lint := e.lint.Run(ctx, workDir, e.cfg.FixLint)
			lint.Iteration = iter
			result.Lint = lint
			e.emitStep(bus.QALintCompleted, task.ID, "lint", iter, lint.Success, len(lint.Errors), len(lint.Warnings), lint.Duration.Milliseconds())
			if !lint.Success {
				failures = append(failures, summarizeEntries("lint error", lint.Errors))
			}
		}

		lintOK := result.Lint == nil || result.Lint.Success
		if (build.Success && lintOK || !e.cfg.StopOnFirstFailure) && !e.cfg.SkipTests {
			test := e.test.Run(ctx, workDir)
			test.Iteration = iter
			result.Test = test
			e.emitStep(bus.QATestCompleted, task.ID, "test", iter, test.Success, test.Failed, len(test.Warnings), test.Duration.Milliseconds())
			if !test.Success {
				failures = append(failures, summarizeEntries("test failure", test.Failures))
			}
		}

		if len(failures) == 0 && !e.cfg.SkipReview && e.review != nil {
			review := e.review.Run(ctx, task)
			review.Iteration = iter
			result.Review = review
			if !review.Approved {
				failures = append(failures, "review blockers:\n- "+strings.Join(review.Blockers, "\n- "))
			}
		}

		if len(failures) == 0 {
			result.Success = true
			e.finish(task.ID, result)
			return result, nil
		}

		e.emit(bus.TaskQAIteration, bus.QAPayload{
			TaskID:    task.ID,
			Iteration: iter,
			Success:   false,
			Errors:    len(failures),
		})

		if iter == e.cfg.MaxIterations {
			break
		}
		if err := e.requestFix(ctx, task, workDir, failures); err != nil {
			e.debugLog("[qa] fix attempt %d for task %s failed: %v", iter, task.ID, err)
		}
	}

	result.Escalated = true
	result.Reason = "max QA iterations exceeded"
	e.finish(task.ID, result)
	return result, nil
}

// requestFix hands the coder a derived task carrying the failure summary.
func (e *LoopEngine) requestFix(ctx context.Context, task *models.Task, workDir string, failures []string) error {
	if e.fixer == nil {
		return fmt.Errorf("no fixer configured")
	}
	fixTask := *task
	fixTask.Description = task.Description + "\n\n" + agent.FixPrompt(strings.Join(failures, "\n\n"))
	_, err := e.fixer.ExecuteIn(ctx, &fixTask, workDir)
	return err
}

// summarizeEntries renders structured findings into compact fix-prompt
// lines, capped so one noisy tool cannot blow the context window.
func summarizeEntries(label string, entries []ErrorEntry) string {
	const maxLines = 25
	var b strings.Builder
	for i, entry := range entries {
		if i == maxLines {
			fmt.Fprintf(&b, "... and %d more\n", len(entries)-maxLines)
			break
		}
		b.WriteString(label)
		b.WriteString(": ")
		if entry.File != "" {
			fmt.Fprintf(&b, "%s:%d:%d: ", entry.File, entry.Line, entry.Col)
		}
		if entry.Code != "" {
			b.WriteString(entry.Code + ": ")
		}
		if entry.RuleID != "" {
			b.WriteString(entry.RuleID + ": ")
		}
		b.WriteString(entry.Message)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *LoopEngine) finish(taskID string, result *LoopResult) {
	e.emit(bus.QALoopCompleted, bus.QAPayload{
		TaskID:    taskID,
		Iteration: result.Iterations,
		Success:   result.Success,
	})
	e.debugLog("[qa] loop for task %s: success=%v escalated=%v after %d iterations",
		taskID, result.Success, result.Escalated, result.Iterations)
}

func (e *LoopEngine) emitStep(event, taskID, step string, iter int, success bool, errs, warns int, durationMS int64) {
	e.emit(event, bus.QAPayload{
		TaskID:    taskID,
		Step:      step,
		Iteration: iter,
		Success:   success,
		Errors:    errs,
		Warnings:  warns,
		Duration:  durationMS,
	})
}

func (e *LoopEngine) emit(event string, payload bus.QAPayload) {
	if e.events != nil {
		e.events.Emit(event, payload)
	}
}
