// Package state persists engine state in SQLite: projects, features,
// tasks, agents, requirements, checkpoints, project state snapshots, and
// the auxiliary learning tables. The in-memory caches elsewhere in the
// engine are views; every write lands here first.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite connection with engine-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".nexus", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenProject opens the project-local database under .nexus/.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Core},
		{2, migrationV2Execution},
		{3, migrationV3Snapshots},
		{4, migrationV4Learning},
		{5, migrationV5Reviews},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements. All times are integer epochs (seconds);
// arrays are JSON-encoded text columns.
const migrationV1Core = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	mode TEXT NOT NULL,
	root_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'initializing',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requirements (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	text TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'should',
	confidence REAL NOT NULL DEFAULT 0.5,
	area TEXT,
	source TEXT NOT NULL DEFAULT 'interview',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	priority TEXT NOT NULL DEFAULT 'should',
	status TEXT NOT NULL DEFAULT 'pending',
	complexity TEXT,
	estimated_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sub_features (
	id TEXT PRIMARY KEY,
	feature_id TEXT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requirements_project ON requirements(project_id);
CREATE INDEX IF NOT EXISTS idx_features_project ON features(project_id);
`

const migrationV2Execution = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	feature_id TEXT,
	parent_id TEXT,
	name TEXT NOT NULL,
	description TEXT,
	type TEXT NOT NULL DEFAULT 'auto',
	size TEXT NOT NULL DEFAULT 'small',
	status TEXT NOT NULL DEFAULT 'pending',
	estimated_minutes INTEGER NOT NULL DEFAULT 0,
	files TEXT,
	test_criteria TEXT,
	depends_on TEXT,
	wave_id INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	assigned_to TEXT,
	error TEXT,
	created_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	model TEXT,
	current_task_id TEXT,
	worktree_path TEXT,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed INTEGER NOT NULL DEFAULT 0,
	total_iterations INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	time_active_ms INTEGER NOT NULL DEFAULT 0,
	spawned_at INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_wave ON tasks(project_id, wave_id);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, status);
`

const migrationV3Snapshots = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	reason TEXT NOT NULL,
	state_snapshot BLOB NOT NULL,
	git_commit TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS project_states (
	project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
	state_data TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	labels TEXT,
	recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_project ON metrics(project_id, name);
`

const migrationV4Learning = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	task_id TEXT,
	category TEXT NOT NULL DEFAULT 'general',
	summary TEXT NOT NULL,
	outcome TEXT NOT NULL,
	actual_minutes INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS continue_points (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	state_data TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS code_chunks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_project ON episodes(project_id, category);
CREATE INDEX IF NOT EXISTS idx_code_chunks_path ON code_chunks(project_id, path);
`

const migrationV5Reviews = `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	reason TEXT NOT NULL,
	context TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	resolution TEXT,
	created_at INTEGER NOT NULL,
	resolved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_reviews_pending ON reviews(project_id, status);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// epoch converts a time to the integer-seconds representation used in
// every table.
func epoch(t time.Time) int64 {
	return t.UTC().Unix()
}

// fromEpoch converts a stored epoch back to a time.
func fromEpoch(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

// fromNullEpoch converts a nullable epoch column.
func fromNullEpoch(s sql.NullInt64) *time.Time {
	if !s.Valid {
		return nil
	}
	t := fromEpoch(s.Int64)
	return &t
}
