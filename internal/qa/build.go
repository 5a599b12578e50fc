package qa

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-ai/nexus/internal/exec"
)

// Compiler diagnostics come in two shapes: "file(line,col): error CODE: msg"
// from tsc-style tools and "file:line:col: msg" from Go-style tools.
var (
	tscDiagPattern = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning) (\S+): (.+)$`)
	goDiagPattern  = regexp.MustCompile(`^([^\s:]+\.[A-Za-z]+):(\d+)(?::(\d+))?: (.+)$`)
)

// BuildRunner compiles the project and turns diagnostics into structured
// entries the coder can act on.
type BuildRunner struct {
	runner   exec.CommandRunner
	command  []string
	timeout  time.Duration
	debugLog func(format string, args ...interface{})
}

// NewBuildRunner creates a BuildRunner. When command is empty the build
// command is chosen per project type at run time.
func NewBuildRunner(runner exec.CommandRunner, command []string) *BuildRunner {
	return &BuildRunner{
		runner:   runner,
		command:  command,
		timeout:  DefaultBuildTimeout,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetTimeout overrides the default build timeout.
func (b *BuildRunner) SetTimeout(d time.Duration) { b.timeout = d }

// SetDebugLogger sets the debug logging function.
func (b *BuildRunner) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		b.debugLog = fn
	}
}

// buildCommandFor returns the default build command for a project type.
func buildCommandFor(kind ProjectType) []string {
	switch kind {
	case ProjectGo:
		return []string{"go", "build", "./..."}
	case ProjectNode:
		return []string{"npx", "tsc", "--noEmit"}
	case ProjectRust:
		return []string{"cargo", "build"}
	case ProjectPython:
		return []string{"python3", "-m", "compileall", "-q", "."}
	default:
		return nil
	}
}

// Run builds the project in workDir. A project with no recognizable
// toolchain passes vacuously.
func (b *BuildRunner) Run(ctx context.Context, workDir string) *BuildResult {
	start := time.Now()
	cmd := b.command
	if len(cmd) == 0 {
		cmd = buildCommandFor(DetectProjectType(workDir))
	}
	if len(cmd) == 0 {
		b.debugLog("[qa] no build toolchain detected in %s, skipping", workDir)
		return &BuildResult{Success: true, Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.runner.Run(ctx, workDir, cmd[0], cmd[1:]...)
	output := string(out)
	errors, warnings := ParseBuildOutput(output)

	result := &BuildResult{
		Success:  err == nil,
		Errors:   errors,
		Warnings: warnings,
		Output:   output,
		Duration: time.Since(start),
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.Errors = append(result.Errors, ErrorEntry{
			Severity: "error",
			Message:  fmt.Sprintf("build timed out after %s", b.timeout),
		})
	}
	b.debugLog("[qa] build %s: %d errors, %d warnings in %s",
		cmd[0], len(result.Errors), len(result.Warnings), result.Duration)
	return result
}

// ParseBuildOutput extracts structured diagnostics from compiler output.
// Both tsc-style and Go-style lines are recognized; everything else is
// ignored.
func ParseBuildOutput(output string) (errors, warnings []ErrorEntry) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := tscDiagPattern.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			entry := ErrorEntry{
				File:     m[1],
				Line:     lineNo,
				Col:      col,
				Code:     m[5],
				Message:  m[6],
				Severity: m[4],
			}
			if m[4] == "warning" {
				warnings = append(warnings, entry)
			} else {
				errors = append(errors, entry)
			}
			continue
		}
		if m := goDiagPattern.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col := 0
			if m[3] != "" {
				col, _ = strconv.Atoi(m[3])
			}
			msg := m[4]
			entry := ErrorEntry{File: m[1], Line: lineNo, Col: col, Message: msg, Severity: "error"}
			if strings.HasPrefix(msg, "warning:") {
				entry.Severity = "warning"
				warnings = append(warnings, entry)
			} else {
				errors = append(errors, entry)
			}
		}
	}
	return errors, warnings
}
