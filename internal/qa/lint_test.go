package qa

import (
	"context"
	"errors"
	"testing"
)

const eslintReport = `[
  {"filePath": "/repo/src/app.ts", "messages": [
    {"ruleId": "no-unused-vars", "severity": 2, "message": "'x' is defined but never used.", "line": 4, "column": 7},
    {"ruleId": "semi", "severity": 1, "message": "Missing semicolon.", "line": 9, "column": 20, "fix": {"range": [120, 120], "text": ";"}}
  ]}
]`

func TestParseESLintJSON(t *testing.T) {
	errs, warns, fixable, err := ParseESLintJSON(eslintReport)
	if err != nil {
		t.Fatalf("ParseESLintJSON() error = %v", err)
	}
	if len(errs) != 1 || len(warns) != 1 || fixable != 1 {
		t.Fatalf("got %d errors, %d warnings, %d fixable", len(errs), len(warns), fixable)
	}
	if errs[0].RuleID != "no-unused-vars" || errs[0].Line != 4 {
		t.Errorf("error = %+v", errs[0])
	}
	if !warns[0].Fixable {
		t.Error("semi warning should be fixable")
	}
}

func TestParseESLintJSONSkipsNpxChatter(t *testing.T) {
	errs, _, _, err := ParseESLintJSON("npm warn exec eslint@9\n" + eslintReport)
	if err != nil {
		t.Fatalf("ParseESLintJSON() error = %v", err)
	}
	if len(errs) != 1 {
		t.Errorf("got %d errors", len(errs))
	}
}

func TestLintRunnerESLint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{}")
	exec := &fakeExec{results: map[string][]cmdResult{"npx": {
		{output: eslintReport, err: errors.New("exit status 1")},
	}}}
	runner := NewLintRunner(exec, nil)

	result := runner.Run(context.Background(), dir, false)
	if result.Success {
		t.Error("an eslint error should fail the step")
	}
	if result.FixableCount != 1 {
		t.Errorf("FixableCount = %d, want 1", result.FixableCount)
	}
}

func TestLintRunnerFixFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{}")
	exec := &fakeExec{results: map[string][]cmdResult{"npx": {{output: "[]"}}}}
	runner := NewLintRunner(exec, nil)

	runner.Run(context.Background(), dir, true)
	if len(exec.calls) != 1 || exec.calls[0] != "npx eslint . --format json --fix" {
		t.Errorf("calls = %v", exec.calls)
	}
}

func TestLintRunnerMissingLinterPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{}")
	exec := &fakeExec{results: map[string][]cmdResult{"npx": {
		{output: "npm error could not determine executable to run", err: errors.New("exit status 1")},
	}}}
	runner := NewLintRunner(exec, nil)

	result := runner.Run(context.Background(), dir, false)
	if !result.Success {
		t.Errorf("result = %+v, a missing linter must not block the task", result)
	}
}

func TestLintRunnerGoVet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example\n")
	exec := &fakeExec{results: map[string][]cmdResult{"go": {
		{output: "pkg/a.go:7:2: unreachable code", err: errors.New("exit status 1")},
	}}}
	runner := NewLintRunner(exec, nil)

	result := runner.Run(context.Background(), dir, false)
	if result.Success || len(result.Errors) != 1 {
		t.Errorf("result = %+v", result)
	}
	if exec.calls[0] != "go vet ./..." {
		t.Errorf("ran %q", exec.calls[0])
	}
}
