package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-ai/nexus/pkg/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("state: not found")

// SaveProject upserts a project row.
func (db *DB) SaveProject(p *models.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, name, mode, root_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mode = excluded.mode,
			root_path = excluded.root_path,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, string(p.Mode), p.RootPath, string(p.Status), epoch(p.CreatedAt), epoch(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject loads one project.
func (db *DB) GetProject(id string) (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, name, mode, root_path, status, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)

	var p models.Project
	var mode, status string
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Name, &mode, &p.RootPath, &status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p.Mode = models.ProjectMode(mode)
	p.Status = models.ProjectStatus(status)
	p.CreatedAt = fromEpoch(created)
	p.UpdatedAt = fromEpoch(updated)
	return &p, nil
}

// ListProjects returns every project, most recently updated first.
func (db *DB) ListProjects() ([]*models.Project, error) {
	rows, err := db.Query(`
		SELECT id, name, mode, root_path, status, created_at, updated_at
		FROM projects ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		var mode, status string
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.Name, &mode, &p.RootPath, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Mode = models.ProjectMode(mode)
		p.Status = models.ProjectStatus(status)
		p.CreatedAt = fromEpoch(created)
		p.UpdatedAt = fromEpoch(updated)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project; dependent rows cascade.
func (db *DB) DeleteProject(id string) error {
	if _, err := db.Exec("DELETE FROM projects WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

// SaveRequirement upserts a requirement row.
func (db *DB) SaveRequirement(r *models.Requirement) error {
	_, err := db.Exec(`
		INSERT INTO requirements (id, project_id, category, text, priority, confidence, area, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			text = excluded.text,
			priority = excluded.priority,
			confidence = excluded.confidence,
			area = excluded.area
	`, r.ID, r.ProjectID, string(r.Category), r.Text, string(r.Priority), r.Confidence, r.Area, r.Source, epoch(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("save requirement %s: %w", r.ID, err)
	}
	return nil
}

// RequirementsByProject returns a project's requirements, oldest first.
func (db *DB) RequirementsByProject(projectID string) ([]*models.Requirement, error) {
	rows, err := db.Query(`
		SELECT id, project_id, category, text, priority, confidence, area, source, created_at
		FROM requirements WHERE project_id = ? ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("requirements for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*models.Requirement
	for rows.Next() {
		var r models.Requirement
		var category, priority string
		var area sql.NullString
		var created int64
		if err := rows.Scan(&r.ID, &r.ProjectID, &category, &r.Text, &priority, &r.Confidence, &area, &r.Source, &created); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		r.Category = models.RequirementCategory(category)
		r.Priority = models.RequirementPriority(priority)
		r.Area = area.String
		r.CreatedAt = fromEpoch(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveFeature upserts a feature row.
func (db *DB) SaveFeature(f *models.Feature) error {
	_, err := db.Exec(`
		INSERT INTO features (id, project_id, name, description, priority, status, complexity, estimated_tasks, completed_tasks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			complexity = excluded.complexity,
			estimated_tasks = excluded.estimated_tasks,
			completed_tasks = excluded.completed_tasks
	`, f.ID, f.ProjectID, f.Name, f.Description, string(f.Priority), string(f.Status), f.Complexity, f.EstimatedTasks, f.CompletedTasks, epoch(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("save feature %s: %w", f.ID, err)
	}
	return nil
}

// FeaturesByProject returns a project's features, oldest first.
func (db *DB) FeaturesByProject(projectID string) ([]*models.Feature, error) {
	rows, err := db.Query(`
		SELECT id, project_id, name, description, priority, status, complexity, estimated_tasks, completed_tasks, created_at
		FROM features WHERE project_id = ? ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("features for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*models.Feature
	for rows.Next() {
		var f models.Feature
		var priority, status string
		var description, complexity sql.NullString
		var created int64
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &description, &priority, &status, &complexity, &f.EstimatedTasks, &f.CompletedTasks, &created); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		f.Description = description.String
		f.Priority = models.RequirementPriority(priority)
		f.Status = models.FeatureStatus(status)
		f.Complexity = complexity.String
		f.CreatedAt = fromEpoch(created)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// SaveTask upserts a task row.
func (db *DB) SaveTask(t *models.Task) error {
	files, err := marshalStrings(t.Files)
	if err != nil {
		return fmt.Errorf("encode files for %s: %w", t.ID, err)
	}
	criteria, err := marshalStrings(t.TestCriteria)
	if err != nil {
		return fmt.Errorf("encode test criteria for %s: %w", t.ID, err)
	}
	deps, err := marshalStrings(t.DependsOn)
	if err != nil {
		return fmt.Errorf("encode deps for %s: %w", t.ID, err)
	}

	var completed any
	if t.CompletedAt != nil {
		completed = epoch(*t.CompletedAt)
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, project_id, feature_id, parent_id, name, description, type, size, status,
			estimated_minutes, files, test_criteria, depends_on, wave_id, priority, assigned_to, error,
			created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			estimated_minutes = excluded.estimated_minutes,
			files = excluded.files,
			test_criteria = excluded.test_criteria,
			depends_on = excluded.depends_on,
			wave_id = excluded.wave_id,
			priority = excluded.priority,
			assigned_to = excluded.assigned_to,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, t.ID, t.ProjectID, t.FeatureID, t.ParentID, t.Name, t.Description, string(t.Type), string(t.Size),
		string(t.Status), t.EstimatedMinutes, files, criteria, deps, t.WaveID, t.Priority, t.AssignedTo,
		t.Error, epoch(t.CreatedAt), completed)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// SaveTasks upserts a batch of tasks in one transaction.
func (db *DB) SaveTasks(tasks []*models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, t := range tasks {
			files, err := marshalStrings(t.Files)
			if err != nil {
				return err
			}
			criteria, err := marshalStrings(t.TestCriteria)
			if err != nil {
				return err
			}
			deps, err := marshalStrings(t.DependsOn)
			if err != nil {
				return err
			}
			var completed any
			if t.CompletedAt != nil {
				completed = epoch(*t.CompletedAt)
			}
			if _, err := tx.Exec(`
				INSERT INTO tasks (id, project_id, feature_id, parent_id, name, description, type, size, status,
					estimated_minutes, files, test_criteria, depends_on, wave_id, priority, assigned_to, error,
					created_at, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					status = excluded.status,
					wave_id = excluded.wave_id,
					priority = excluded.priority,
					assigned_to = excluded.assigned_to,
					error = excluded.error,
					completed_at = excluded.completed_at
			`, t.ID, t.ProjectID, t.FeatureID, t.ParentID, t.Name, t.Description, string(t.Type), string(t.Size),
				string(t.Status), t.EstimatedMinutes, files, criteria, deps, t.WaveID, t.Priority, t.AssignedTo,
				t.Error, epoch(t.CreatedAt), completed); err != nil {
				return fmt.Errorf("save task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// GetTask loads one task.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// TasksByProject returns a project's tasks ordered by wave then priority.
func (db *DB) TasksByProject(projectID string) ([]*models.Task, error) {
	rows, err := db.Query(taskSelect+" WHERE project_id = ? ORDER BY wave_id ASC, priority ASC, created_at ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("tasks for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

const taskSelect = `
	SELECT id, project_id, feature_id, parent_id, name, description, type, size, status,
		estimated_minutes, files, test_criteria, depends_on, wave_id, priority, assigned_to, error,
		created_at, completed_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var featureID, parentID, description, assignedTo, taskErr sql.NullString
	var taskType, size, status string
	var files, criteria, deps sql.NullString
	var created int64
	var completed sql.NullInt64

	if err := row.Scan(&t.ID, &t.ProjectID, &featureID, &parentID, &t.Name, &description, &taskType,
		&size, &status, &t.EstimatedMinutes, &files, &criteria, &deps, &t.WaveID, &t.Priority,
		&assignedTo, &taskErr, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.FeatureID = featureID.String
	t.ParentID = parentID.String
	t.Description = description.String
	t.Type = models.TaskType(taskType)
	t.Size = models.TaskSize(size)
	t.Status = models.TaskStatus(status)
	t.AssignedTo = assignedTo.String
	t.Error = taskErr.String
	t.CreatedAt = fromEpoch(created)
	t.CompletedAt = fromNullEpoch(completed)

	var err error
	if t.Files, err = unmarshalStrings(files); err != nil {
		return nil, fmt.Errorf("decode files for %s: %w", t.ID, err)
	}
	if t.TestCriteria, err = unmarshalStrings(criteria); err != nil {
		return nil, fmt.Errorf("decode test criteria for %s: %w", t.ID, err)
	}
	if t.DependsOn, err = unmarshalStrings(deps); err != nil {
		return nil, fmt.Errorf("decode deps for %s: %w", t.ID, err)
	}
	return &t, nil
}

// SaveAgent upserts an agent row.
func (db *DB) SaveAgent(a *models.Agent) error {
	_, err := db.Exec(`
		INSERT INTO agents (id, type, status, model, current_task_id, worktree_path,
			tasks_completed, tasks_failed, total_iterations, tokens_used, time_active_ms,
			spawned_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_task_id = excluded.current_task_id,
			worktree_path = excluded.worktree_path,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			total_iterations = excluded.total_iterations,
			tokens_used = excluded.tokens_used,
			time_active_ms = excluded.time_active_ms,
			last_active_at = excluded.last_active_at
	`, a.ID, string(a.Type), string(a.Status), a.ModelConfig.Model, a.CurrentTaskID, a.WorktreePath,
		a.Metrics.TasksCompleted, a.Metrics.TasksFailed, a.Metrics.TotalIterations, a.Metrics.TokensUsed,
		a.Metrics.TotalTimeActive.Milliseconds(), epoch(a.SpawnedAt), epoch(a.LastActiveAt))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// RecordMetric appends one metric sample.
func (db *DB) RecordMetric(projectID, name string, value float64, labels map[string]string) error {
	var encoded any
	if len(labels) > 0 {
		raw, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("encode metric labels: %w", err)
		}
		encoded = string(raw)
	}
	_, err := db.Exec(`
		INSERT INTO metrics (project_id, name, value, labels, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, projectID, name, value, encoded, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record metric %s: %w", name, err)
	}
	return nil
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalStrings(col sql.NullString) ([]string, error) {
	if !col.Valid || col.String == "" || col.String == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
