package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nexus-ai/nexus/pkg/models"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writePlan(t, `
version: 1
tasks:
  - name: add login endpoint
    description: POST /login with session cookie
  - id: t2
    name: add logout endpoint
    type: tdd
    estimated_minutes: 120
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tasks := f.ToModels("p1")
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	first := tasks[0]
	if first.ID == "" {
		t.Error("missing id must be generated")
	}
	if first.Type != models.TaskTypeAuto {
		t.Errorf("Type = %q, want auto", first.Type)
	}
	if first.Status != models.TaskStatusPending {
		t.Errorf("Status = %q", first.Status)
	}
	if first.EstimatedMinutes != 10 {
		t.Errorf("EstimatedMinutes = %d, want default 10", first.EstimatedMinutes)
	}
	if first.ProjectID != "p1" {
		t.Errorf("ProjectID = %q", first.ProjectID)
	}

	second := tasks[1]
	if second.Type != models.TaskTypeTDD {
		t.Errorf("Type = %q, want tdd", second.Type)
	}
	if second.EstimatedMinutes != models.MaxTaskMinutes {
		t.Errorf("EstimatedMinutes = %d, want clamped to %d", second.EstimatedMinutes, models.MaxTaskMinutes)
	}
}

func TestLoadRejectsBadPlans(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "tasks: [", "parse plan"},
		{"no tasks", "version: 1\ntasks: []\n", "no tasks"},
		{"nameless task", "tasks:\n  - description: x\n", "has no name"},
		{"duplicate id", "tasks:\n  - {id: a, name: one}\n  - {id: a, name: two}\n", "duplicate task id"},
		{"unknown dependency", "tasks:\n  - {id: a, name: one, depends_on: [ghost]}\n", "unknown task"},
		{"future version", "version: 99\ntasks:\n  - name: one\n", "version 99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writePlan(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestExportRoundTrip(t *testing.T) {
	tasks := []*models.Task{
		{
			ID:               "t1",
			Name:             "schema migration",
			Description:      "add users table",
			Type:             models.TaskTypeAuto,
			EstimatedMinutes: 15,
			Files:            []string{"db/migrations/001_users.sql"},
			TestCriteria:     []string{"migration applies cleanly"},
			Priority:         1,
		},
		{
			ID:               "t2",
			Name:             "user repository",
			Type:             models.TaskTypeTDD,
			EstimatedMinutes: 20,
			DependsOn:        []string{"t1"},
		},
	}

	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := FromModels("p1", tasks).Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Version != CurrentVersion || f.Project != "p1" {
		t.Errorf("header = %d/%q", f.Version, f.Project)
	}

	got := f.ToModels("p1")
	if len(got) != 2 {
		t.Fatalf("got %d tasks", len(got))
	}
	if got[0].Name != "schema migration" || got[0].Files[0] != "db/migrations/001_users.sql" {
		t.Errorf("first task = %+v", got[0])
	}
	if got[1].Type != models.TaskTypeTDD || got[1].DependsOn[0] != "t1" {
		t.Errorf("second task = %+v", got[1])
	}
}
