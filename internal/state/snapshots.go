package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexus-ai/nexus/pkg/models"
)

// SaveCheckpoint inserts a checkpoint row.
func (db *DB) SaveCheckpoint(c *models.Checkpoint) error {
	_, err := db.Exec(`
		INSERT INTO checkpoints (id, project_id, reason, state_snapshot, git_commit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.Reason, c.StateSnapshot, c.GitCommit, epoch(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.ID, err)
	}
	return nil
}

// GetCheckpoint loads one checkpoint.
func (db *DB) GetCheckpoint(id string) (*models.Checkpoint, error) {
	row := db.QueryRow(`
		SELECT id, project_id, reason, state_snapshot, git_commit, created_at
		FROM checkpoints WHERE id = ?
	`, id)

	var c models.Checkpoint
	var gitCommit sql.NullString
	var created int64
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Reason, &c.StateSnapshot, &gitCommit, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	c.GitCommit = gitCommit.String
	c.CreatedAt = fromEpoch(created)
	return &c, nil
}

// ListCheckpoints returns a project's checkpoints, newest first.
func (db *DB) ListCheckpoints(projectID string) ([]*models.Checkpoint, error) {
	rows, err := db.Query(`
		SELECT id, project_id, reason, state_snapshot, git_commit, created_at
		FROM checkpoints WHERE project_id = ? ORDER BY created_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var c models.Checkpoint
		var gitCommit sql.NullString
		var created int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Reason, &c.StateSnapshot, &gitCommit, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		c.GitCommit = gitCommit.String
		c.CreatedAt = fromEpoch(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// PruneCheckpoints deletes all but the keep newest checkpoints of a
// project, returning how many rows were removed.
func (db *DB) PruneCheckpoints(projectID string, keep int) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM checkpoints WHERE project_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE project_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, projectID, projectID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints for %s: %w", projectID, err)
	}
	return result.RowsAffected()
}

// SaveProjectState upserts the serialized ProjectState of a project.
func (db *DB) SaveProjectState(projectID string, stateJSON []byte, updatedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO project_states (project_id, state_data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = excluded.updated_at
	`, projectID, string(stateJSON), updatedAt)
	if err != nil {
		return fmt.Errorf("save project state %s: %w", projectID, err)
	}
	return nil
}

// LoadProjectState returns the serialized ProjectState of a project.
func (db *DB) LoadProjectState(projectID string) ([]byte, error) {
	row := db.QueryRow("SELECT state_data FROM project_states WHERE project_id = ?", projectID)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load project state %s: %w", projectID, err)
	}
	return []byte(data), nil
}
