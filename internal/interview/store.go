package interview

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultAutosaveInterval is how often the SessionManager flushes open
// sessions to durable storage.
const DefaultAutosaveInterval = 30 * time.Second

// SessionStore persists interview sessions in their own sqlite database,
// separate from the engine's project store. Session bodies are stored as
// one JSON payload; the indexed columns exist for lookup only.
type SessionStore struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the session database at dbPath.
func OpenStore(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			last_activity_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interview_sessions_project
			ON interview_sessions(project_id, last_activity_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &SessionStore{db: db}, nil
}

// Save upserts a session.
func (s *SessionStore) Save(session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO interview_sessions (id, project_id, status, payload, last_activity_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			last_activity_at = excluded.last_activity_at
	`, session.ID, session.ProjectID, string(session.Status), string(payload), session.LastActivityAt.Unix())
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// Load retrieves a session by id.
func (s *SessionStore) Load(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT payload FROM interview_sessions WHERE id = ?`, id)
	return scanSession(row, id)
}

// LatestOpen returns the most recently active session for a project that
// is still active or paused.
func (s *SessionStore) LatestOpen(projectID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT payload FROM interview_sessions
		WHERE project_id = ? AND status IN ('active', 'paused')
		ORDER BY last_activity_at DESC
		LIMIT 1
	`, projectID)
	return scanSession(row, projectID)
}

// Delete removes a session by id.
func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM interview_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func scanSession(row *sql.Row, key string) (*Session, error) {
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// SessionManager pairs an Engine with a SessionStore: it autosaves open
// sessions on an interval and restores them after a restart.
type SessionManager struct {
	engine   *Engine
	store    *SessionStore
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	debugLog func(format string, args ...interface{})
}

// NewSessionManager creates a SessionManager with the default autosave
// interval. Call Start to begin autosaving.
func NewSessionManager(engine *Engine, store *SessionStore) *SessionManager {
	return &SessionManager{
		engine:   engine,
		store:    store,
		interval: DefaultAutosaveInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (m *SessionManager) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// SetInterval overrides the autosave interval. Must be called before Start.
func (m *SessionManager) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start launches the autosave loop.
func (m *SessionManager) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Flush()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the autosave loop and flushes one final time.
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.Flush()
	})
}

// Flush saves every open session now.
func (m *SessionManager) Flush() {
	for _, session := range m.engine.OpenSessions() {
		if err := m.store.Save(session); err != nil {
			m.debugLog("[interview] autosave of session %s failed: %v", session.ID, err)
		}
	}
}

// Restore loads a project's most recent open session from the store and
// installs it into the engine.
func (m *SessionManager) Restore(projectID string) (*Session, error) {
	session, err := m.store.LatestOpen(projectID)
	if err != nil {
		return nil, err
	}
	m.engine.Install(session)
	m.debugLog("[interview] restored session %s for project %s", session.ID, projectID)
	return session, nil
}

// RestoreByID loads a specific session and installs it into the engine.
func (m *SessionManager) RestoreByID(sessionID string) (*Session, error) {
	session, err := m.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	m.engine.Install(session)
	return session, nil
}
