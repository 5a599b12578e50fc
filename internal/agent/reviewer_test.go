package agent

import (
	"context"
	"testing"
)

func TestEffectivelyApproved(t *testing.T) {
	tests := []struct {
		name    string
		verdict ReviewVerdict
		want    bool
	}{
		{"clean approval", ReviewVerdict{Approved: true}, true},
		{"one critical overrides stated approval",
			ReviewVerdict{Approved: true, Issues: []ReviewIssue{{Severity: "critical"}}}, false},
		{"two majors allowed",
			ReviewVerdict{Approved: true, Issues: []ReviewIssue{{Severity: "major"}, {Severity: "major"}}}, true},
		{"three majors rejected",
			ReviewVerdict{Approved: true, Issues: []ReviewIssue{{Severity: "major"}, {Severity: "major"}, {Severity: "major"}}}, false},
		{"minors never block",
			ReviewVerdict{Issues: []ReviewIssue{{Severity: "minor"}, {Severity: "info"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.verdict.EffectivelyApproved(); got != tt.want {
				t.Errorf("EffectivelyApproved() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseReviewVerdict(t *testing.T) {
	reply := `Here is my review:
{"approved": true, "issues": [{"severity": "minor", "category": "style", "file": "a.go", "message": "naming"}], "suggestions": ["rename"], "summary": "fine"}`

	verdict, err := ParseReviewVerdict(reply)
	if err != nil {
		t.Fatalf("ParseReviewVerdict() error = %v", err)
	}
	if !verdict.Approved || len(verdict.Issues) != 1 || verdict.Issues[0].File != "a.go" {
		t.Errorf("verdict = %+v", verdict)
	}
}

func TestParseReviewVerdictRepairs(t *testing.T) {
	// Trailing comma needs the repair path.
	reply := `{"approved": false, "issues": [], "suggestions": [], "summary": "broken",}`
	verdict, err := ParseReviewVerdict(reply)
	if err != nil {
		t.Fatalf("ParseReviewVerdict() error = %v", err)
	}
	if verdict.Approved {
		t.Error("Approved should be false")
	}
}

func TestReviewerRejectsOnCriticalIssue(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"approved": true, "issues": [{"severity": "critical", "category": "correctness", "file": "a.go", "message": "data loss"}], "suggestions": [], "summary": "looks fine to me"}`,
	}}
	runner := NewReviewerRunner(client, nil, LoopConfig{})

	result, err := runner.Execute(context.Background(), testTask())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("a critical issue must override the model's stated approval")
	}
	if runner.LastVerdict() == nil {
		t.Error("verdict should be retained for inspection")
	}
}

func TestReviewerRetriesOnProse(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"I think this looks good overall!",
		`{"approved": true, "issues": [], "suggestions": [], "summary": "ok"}`,
	}}
	runner := NewReviewerRunner(client, nil, LoopConfig{})

	result, err := runner.Execute(context.Background(), testTask())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success || result.Iterations != 2 {
		t.Errorf("result = %+v, want success on second iteration", result)
	}
}
