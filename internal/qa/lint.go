package qa

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nexus-ai/nexus/internal/exec"
)

// eslintFile mirrors one entry of eslint's --format json output.
type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string          `json:"ruleId"`
	Severity int             `json:"severity"`
	Message  string          `json:"message"`
	Line     int             `json:"line"`
	Column   int             `json:"column"`
	Fix      json.RawMessage `json:"fix,omitempty"`
}

// LintRunner runs the project linter. Node projects use eslint with JSON
// output; Go projects fall back to go vet. A missing linter passes the
// step rather than blocking the task.
type LintRunner struct {
	runner   exec.CommandRunner
	command  []string
	timeout  time.Duration
	debugLog func(format string, args ...interface{})
}

// NewLintRunner creates a LintRunner. When command is empty the linter is
// chosen per project type at run time.
func NewLintRunner(runner exec.CommandRunner, command []string) *LintRunner {
	return &LintRunner{
		runner:   runner,
		command:  command,
		timeout:  DefaultLintTimeout,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetTimeout overrides the default lint timeout.
func (l *LintRunner) SetTimeout(d time.Duration) { l.timeout = d }

// SetDebugLogger sets the debug logging function.
func (l *LintRunner) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		l.debugLog = fn
	}
}

// Run lints the project in workDir. When fix is set, eslint runs with
// --fix first so only the residue is reported.
func (l *LintRunner) Run(ctx context.Context, workDir string, fix bool) *LintResult {
	start := time.Now()
	kind := DetectProjectType(workDir)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var result *LintResult
	switch {
	case len(l.command) > 0:
		out, err := l.runner.Run(ctx, workDir, l.command[0], l.command[1:]...)
		result = l.fromRawOutput(string(out), err)
	case kind == ProjectNode:
		result = l.runESLint(ctx, workDir, fix)
	case kind == ProjectGo:
		result = l.runGoVet(ctx, workDir)
	default:
		l.debugLog("[qa] no linter for project type %s, skipping", kind)
		result = &LintResult{Success: true}
	}
	result.Duration = time.Since(start)
	l.debugLog("[qa] lint: %d errors, %d warnings (%d fixable) in %s",
		len(result.Errors), len(result.Warnings), result.FixableCount, result.Duration)
	return result
}

func (l *LintRunner) runESLint(ctx context.Context, workDir string, fix bool) *LintResult {
	args := []string{"eslint", ".", "--format", "json"}
	if fix {
		args = append(args, "--fix")
	}
	out, err := l.runner.Run(ctx, workDir, "npx", args...)
	output := string(out)
	if err != nil && looksUninstalled(output) {
		return &LintResult{Success: true}
	}

	errors, warnings, fixable, perr := ParseESLintJSON(output)
	if perr != nil {
		// eslint crashed before producing JSON; report the raw tail.
		return &LintResult{
			Success: err == nil,
			Errors:  []ErrorEntry{{Severity: "error", Message: tail(output, 500)}},
		}
	}
	return &LintResult{
		Success:      len(errors) == 0,
		Errors:       errors,
		Warnings:     warnings,
		FixableCount: fixable,
	}
}

func (l *LintRunner) runGoVet(ctx context.Context, workDir string) *LintResult {
	out, err := l.runner.Run(ctx, workDir, "go", "vet", "./...")
	errors, warnings := ParseBuildOutput(string(out))
	return &LintResult{
		Success:  err == nil,
		Errors:   errors,
		Warnings: warnings,
	}
}

func (l *LintRunner) fromRawOutput(output string, err error) *LintResult {
	if errors, warnings, fixable, perr := ParseESLintJSON(output); perr == nil {
		return &LintResult{Success: len(errors) == 0, Errors: errors, Warnings: warnings, FixableCount: fixable}
	}
	errors, warnings := ParseBuildOutput(output)
	return &LintResult{Success: err == nil, Errors: errors, Warnings: warnings}
}

// ParseESLintJSON parses eslint --format json output into structured
// entries. Severity 2 is an error, 1 a warning; messages carrying a fix
// object count as fixable.
func ParseESLintJSON(output string) (errors, warnings []ErrorEntry, fixable int, err error) {
	// The JSON array may be preceded by npx chatter.
	idx := strings.Index(output, "[")
	if idx < 0 {
		return nil, nil, 0, json.Unmarshal([]byte(output), &[]eslintFile{})
	}
	var files []eslintFile
	if uerr := json.Unmarshal([]byte(output[idx:]), &files); uerr != nil {
		return nil, nil, 0, uerr
	}
	for _, f := range files {
		for _, m := range f.Messages {
			entry := ErrorEntry{
				File:    f.FilePath,
				Line:    m.Line,
				Col:     m.Column,
				RuleID:  m.RuleID,
				Message: m.Message,
				Fixable: len(m.Fix) > 0,
			}
			if entry.Fixable {
				fixable++
			}
			if m.Severity >= 2 {
				entry.Severity = "error"
				errors = append(errors, entry)
			} else {
				entry.Severity = "warning"
				warnings = append(warnings, entry)
			}
		}
	}
	return errors, warnings, fixable, nil
}

// looksUninstalled recognizes the output shapes of a missing tool.
func looksUninstalled(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "command not found") ||
		strings.Contains(lower, "not recognized") ||
		strings.Contains(lower, "could not determine executable") ||
		strings.Contains(lower, "executable file not found") ||
		strings.Contains(lower, "404 not found")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
