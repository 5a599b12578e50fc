// Package qa runs the quality gates a task must pass before merge: build,
// lint, test, and AI review, plus the loop engine that iterates the coder
// against them until everything passes or the task escalates.
package qa

import (
	"os"
	"path/filepath"
	"time"
)

// Default per-runner timeouts. The child process is killed on expiry and
// the step returns failure.
const (
	DefaultBuildTimeout  = 60 * time.Second
	DefaultLintTimeout   = 120 * time.Second
	DefaultTestTimeout   = 300 * time.Second
	DefaultReviewTimeout = 120 * time.Second
)

// ErrorEntry is one structured finding parsed from tool output.
type ErrorEntry struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Col      int    `json:"col,omitempty"`
	Code     string `json:"code,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
	Fixable  bool   `json:"fixable,omitempty"`
}

// BuildResult is the outcome of one build step.
type BuildResult struct {
	Success   bool          `json:"success"`
	Errors    []ErrorEntry  `json:"errors,omitempty"`
	Warnings  []ErrorEntry  `json:"warnings,omitempty"`
	Output    string        `json:"-"`
	Duration  time.Duration `json:"duration"`
	Iteration int           `json:"iteration"`
}

// LintResult is the outcome of one lint step.
type LintResult struct {
	Success      bool          `json:"success"`
	Errors       []ErrorEntry  `json:"errors,omitempty"`
	Warnings     []ErrorEntry  `json:"warnings,omitempty"`
	FixableCount int           `json:"fixable_count"`
	Duration     time.Duration `json:"duration"`
	Iteration    int           `json:"iteration"`
}

// TestResult is the outcome of one test step. A project with no tests yet
// passes with a warning; the absence of tests must never block it.
type TestResult struct {
	Success   bool          `json:"success"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Coverage  float64       `json:"coverage,omitempty"`
	Failures  []ErrorEntry  `json:"failures,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Output    string        `json:"-"`
	Duration  time.Duration `json:"duration"`
	Iteration int           `json:"iteration"`
}

// ReviewResult is the outcome of one AI review step.
type ReviewResult struct {
	Approved    bool          `json:"approved"`
	Comments    []string      `json:"comments,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Blockers    []string      `json:"blockers,omitempty"`
	Duration    time.Duration `json:"duration"`
	Iteration   int           `json:"iteration"`
}

// ProjectType selects default toolchain commands.
type ProjectType string

const (
	ProjectGo      ProjectType = "go"
	ProjectNode    ProjectType = "node"
	ProjectPython  ProjectType = "python"
	ProjectRust    ProjectType = "rust"
	ProjectUnknown ProjectType = "unknown"
)

// DetectProjectType sniffs the toolchain from marker files.
func DetectProjectType(dir string) ProjectType {
	markers := []struct {
		file string
		kind ProjectType
	}{
		{"go.mod", ProjectGo},
		{"package.json", ProjectNode},
		{"Cargo.toml", ProjectRust},
		{"pyproject.toml", ProjectPython},
		{"requirements.txt", ProjectPython},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.kind
		}
	}
	return ProjectUnknown
}
