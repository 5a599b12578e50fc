package estimate

import (
	"testing"

	"github.com/nexus-ai/nexus/pkg/models"
)

func TestEstimateScalesWithFiles(t *testing.T) {
	e := New()
	small := e.Estimate(&models.Task{Name: "add handler", Files: []string{"a.go"}})
	large := e.Estimate(&models.Task{Name: "add handler", Files: []string{"a.go", "b.go", "c.go", "d.go"}})
	if large <= small {
		t.Errorf("more files should cost more: %d vs %d", small, large)
	}
}

func TestEstimateClamped(t *testing.T) {
	e := New()

	tiny := e.Estimate(&models.Task{Name: "fix typo in comment"})
	if tiny < 5 {
		t.Errorf("estimate %d below minimum", tiny)
	}

	huge := e.Estimate(&models.Task{
		Name:         "implement concurrent migration algorithm with security review",
		Files:        []string{"a", "b", "c", "d", "e"},
		TestCriteria: []string{"all tests pass"},
	})
	if huge > models.MaxTaskMinutes {
		t.Errorf("estimate %d above maximum", huge)
	}
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"implement lock-free concurrency primitive", "high"},
		{"rename variable in config", "low"},
		{"add user endpoint", "normal"},
	}
	for _, tt := range tests {
		got := Complexity(&models.Task{Name: tt.name})
		if got != tt.want {
			t.Errorf("Complexity(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"write unit tests for parser", CategoryTest},
		{"style the login component", CategoryUI},
		{"add database query for orders", CategoryBackend},
		{"set up ci pipeline", CategoryInfrastructure},
		{"update the changelog", CategoryGeneral},
	}
	for _, tt := range tests {
		got := Categorize(&models.Task{Name: tt.name})
		if got != tt.want {
			t.Errorf("Categorize(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCalibrationBlends(t *testing.T) {
	e := New()
	task := &models.Task{Name: "add api endpoint", Files: []string{"a.go"}}

	before := e.Estimate(task)

	// Fewer than five samples must not change the estimate.
	for i := 0; i < 4; i++ {
		e.Calibrate(task, 28)
	}
	if got := e.Estimate(task); got != before {
		t.Errorf("estimate moved after %d samples: %d -> %d", 4, before, got)
	}

	e.Calibrate(task, 28)
	after := e.Estimate(task)
	if after <= before {
		t.Errorf("history of slow tasks should raise the estimate: %d -> %d", before, after)
	}
}

func TestCalibrationWindowBounded(t *testing.T) {
	e := New()
	task := &models.Task{Name: "add api endpoint"}
	for i := 0; i < maxSamplesPerCategory+20; i++ {
		e.Calibrate(task, 10)
	}
	if got := e.SampleCount(CategoryBackend); got != maxSamplesPerCategory {
		t.Errorf("SampleCount = %d, want %d", got, maxSamplesPerCategory)
	}
}

func TestEstimateTotal(t *testing.T) {
	e := New()
	tasks := []*models.Task{
		{Name: "a", EstimatedMinutes: 10},
		{Name: "b", EstimatedMinutes: 20},
	}
	if got := e.EstimateTotal(tasks); got != 30 {
		t.Errorf("EstimateTotal = %d, want 30", got)
	}

	// Tasks without an estimate fall back to the heuristic.
	tasks = append(tasks, &models.Task{Name: "c"})
	if got := e.EstimateTotal(tasks); got <= 30 {
		t.Errorf("EstimateTotal = %d, want > 30", got)
	}
}
