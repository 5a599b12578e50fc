// Package plan reads and writes task plan files: YAML task lists that
// run through the coordinator without decomposition, and the export
// format the interview/planning pipeline writes for later runs.
package plan

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/nexus-ai/nexus/pkg/models"
)

// CurrentVersion is the plan file format version this build writes.
const CurrentVersion = 1

// Task is one planned task as serialized in a plan file.
type Task struct {
	ID               string   `yaml:"id,omitempty"`
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description,omitempty"`
	Type             string   `yaml:"type,omitempty"`
	EstimatedMinutes int      `yaml:"estimated_minutes,omitempty"`
	Files            []string `yaml:"files,omitempty"`
	TestCriteria     []string `yaml:"test_criteria,omitempty"`
	DependsOn        []string `yaml:"depends_on,omitempty"`
	Priority         int      `yaml:"priority,omitempty"`
}

// File is a whole plan document.
type File struct {
	Version int    `yaml:"version"`
	Project string `yaml:"project,omitempty"`
	Tasks   []Task `yaml:"tasks"`
}

// Load reads and validates a plan file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if f.Version > CurrentVersion {
		return nil, fmt.Errorf("plan %s is version %d, this build reads up to %d", path, f.Version, CurrentVersion)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Tasks) == 0 {
		return fmt.Errorf("no tasks")
	}
	ids := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if t.ID != "" {
			if ids[t.ID] {
				return fmt.Errorf("duplicate task id %q", t.ID)
			}
			ids[t.ID] = true
		}
	}
	for _, t := range f.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.Name, dep)
			}
		}
	}
	return nil
}

// ToModels converts a validated plan into queue-ready tasks. Tasks
// without an id are assigned one; estimates are clamped to the task
// ceiling.
func (f *File) ToModels(projectID string) []*models.Task {
	now := time.Now().UTC()
	out := make([]*models.Task, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		minutes := t.EstimatedMinutes
		if minutes <= 0 {
			minutes = 10
		}
		if minutes > models.MaxTaskMinutes {
			minutes = models.MaxTaskMinutes
		}
		taskType := models.TaskType(t.Type)
		if taskType != models.TaskTypeTDD {
			taskType = models.TaskTypeAuto
		}
		out = append(out, &models.Task{
			ID:               id,
			ProjectID:        projectID,
			Name:             t.Name,
			Description:      t.Description,
			Type:             taskType,
			Size:             models.SizeForMinutes(minutes),
			Status:           models.TaskStatusPending,
			EstimatedMinutes: minutes,
			Files:            t.Files,
			TestCriteria:     t.TestCriteria,
			DependsOn:        t.DependsOn,
			Priority:         t.Priority,
			CreatedAt:        now,
		})
	}
	return out
}

// FromModels builds a plan document from decomposed tasks, for export.
func FromModels(projectID string, tasks []*models.Task) *File {
	f := &File{Version: CurrentVersion, Project: projectID}
	for _, t := range tasks {
		f.Tasks = append(f.Tasks, Task{
			ID:               t.ID,
			Name:             t.Name,
			Description:      t.Description,
			Type:             string(t.Type),
			EstimatedMinutes: t.EstimatedMinutes,
			Files:            t.Files,
			TestCriteria:     t.TestCriteria,
			DependsOn:        t.DependsOn,
			Priority:         t.Priority,
		})
	}
	return f
}

// Write serializes the plan to path.
func (f *File) Write(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
