package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Episode records the outcome of one executed task for calibration and
// retrospective queries.
type Episode struct {
	ID            string
	ProjectID     string
	TaskID        string
	Category      string
	Summary       string
	Outcome       string
	ActualMinutes int
	CreatedAt     time.Time
}

// SaveEpisode inserts an episode row.
func (db *DB) SaveEpisode(e *Episode) error {
	_, err := db.Exec(`
		INSERT INTO episodes (id, project_id, task_id, category, summary, outcome, actual_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.TaskID, e.Category, e.Summary, e.Outcome, e.ActualMinutes, epoch(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("save episode %s: %w", e.ID, err)
	}
	return nil
}

// EpisodesByCategory returns up to limit most recent episodes of one
// category, newest first. The time estimator feeds its calibration from
// these.
func (db *DB) EpisodesByCategory(projectID, category string, limit int) ([]*Episode, error) {
	rows, err := db.Query(`
		SELECT id, project_id, task_id, category, summary, outcome, actual_minutes, created_at
		FROM episodes WHERE project_id = ? AND category = ?
		ORDER BY created_at DESC LIMIT ?
	`, projectID, category, limit)
	if err != nil {
		return nil, fmt.Errorf("episodes for %s/%s: %w", projectID, category, err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		var e Episode
		var taskID sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &taskID, &e.Category, &e.Summary, &e.Outcome, &e.ActualMinutes, &created); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		e.TaskID = taskID.String
		e.CreatedAt = fromEpoch(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ContinuePoint marks where an interrupted run can pick back up.
type ContinuePoint struct {
	ID          string
	ProjectID   string
	Description string
	StateData   string
	CreatedAt   time.Time
}

// SaveContinuePoint inserts a continue point row.
func (db *DB) SaveContinuePoint(cp *ContinuePoint) error {
	_, err := db.Exec(`
		INSERT INTO continue_points (id, project_id, description, state_data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, cp.ID, cp.ProjectID, cp.Description, cp.StateData, epoch(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("save continue point %s: %w", cp.ID, err)
	}
	return nil
}

// LatestContinuePoint returns the most recent continue point for a
// project, or ErrNotFound.
func (db *DB) LatestContinuePoint(projectID string) (*ContinuePoint, error) {
	row := db.QueryRow(`
		SELECT id, project_id, description, state_data, created_at
		FROM continue_points WHERE project_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, projectID)

	var cp ContinuePoint
	var stateData sql.NullString
	var created int64
	if err := row.Scan(&cp.ID, &cp.ProjectID, &cp.Description, &stateData, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest continue point for %s: %w", projectID, err)
	}
	cp.StateData = stateData.String
	cp.CreatedAt = fromEpoch(created)
	return &cp, nil
}

// CodeChunk is one indexed slice of a source file, used by the repo map
// to budget context.
type CodeChunk struct {
	ID         string
	ProjectID  string
	Path       string
	ChunkIndex int
	Content    string
	Tokens     int
	CreatedAt  time.Time
}

// ReplaceCodeChunks swaps the stored chunks of one file atomically.
func (db *DB) ReplaceCodeChunks(projectID, path string, chunks []*CodeChunk) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM code_chunks WHERE project_id = ? AND path = ?", projectID, path); err != nil {
			return fmt.Errorf("clear chunks for %s: %w", path, err)
		}
		for _, c := range chunks {
			if _, err := tx.Exec(`
				INSERT INTO code_chunks (id, project_id, path, chunk_index, content, tokens, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.ProjectID, c.Path, c.ChunkIndex, c.Content, c.Tokens, epoch(c.CreatedAt)); err != nil {
				return fmt.Errorf("save chunk %s[%d]: %w", c.Path, c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// CodeChunksByPath returns a file's chunks in index order.
func (db *DB) CodeChunksByPath(projectID, path string) ([]*CodeChunk, error) {
	rows, err := db.Query(`
		SELECT id, project_id, path, chunk_index, content, tokens, created_at
		FROM code_chunks WHERE project_id = ? AND path = ? ORDER BY chunk_index ASC
	`, projectID, path)
	if err != nil {
		return nil, fmt.Errorf("chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []*CodeChunk
	for rows.Next() {
		var c CodeChunk
		var created int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Path, &c.ChunkIndex, &c.Content, &c.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt = fromEpoch(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// RunSession is one engine run (orchestration or interview) against a
// project.
type RunSession struct {
	ID         string
	ProjectID  string
	Kind       string
	Status     string
	TokensUsed int64
	StartedAt  time.Time
	EndedAt    *time.Time
}

// StartRunSession inserts an active session row.
func (db *DB) StartRunSession(s *RunSession) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, project_id, kind, status, tokens_used, started_at)
		VALUES (?, ?, ?, 'active', ?, ?)
	`, s.ID, s.ProjectID, s.Kind, s.TokensUsed, epoch(s.StartedAt))
	if err != nil {
		return fmt.Errorf("start session %s: %w", s.ID, err)
	}
	return nil
}

// EndRunSession marks a session finished and records token usage.
func (db *DB) EndRunSession(id, status string, tokensUsed int64) error {
	_, err := db.Exec(`
		UPDATE sessions SET status = ?, tokens_used = ?, ended_at = ? WHERE id = ?
	`, status, tokensUsed, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// ActiveRunSessions returns sessions still marked active for a project.
func (db *DB) ActiveRunSessions(projectID string) ([]*RunSession, error) {
	rows, err := db.Query(`
		SELECT id, project_id, kind, status, tokens_used, started_at, ended_at
		FROM sessions WHERE project_id = ? AND status = 'active'
		ORDER BY started_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("active sessions for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*RunSession
	for rows.Next() {
		var s RunSession
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Kind, &s.Status, &s.TokensUsed, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = fromEpoch(started)
		s.EndedAt = fromNullEpoch(ended)
		out = append(out, &s)
	}
	return out, rows.Err()
}
