package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-ai/nexus/pkg/models"
)

// StateUpdate carries the fields of a partial ProjectState update. Nil
// pointers leave the current value untouched.
type StateUpdate struct {
	Status              *models.ProjectStatus
	Features            []models.Feature
	CurrentFeatureIndex *int
	CurrentTaskIndex    *int
	CompletedTasks      *int
	TotalTasks          *int
}

// Manager caches live ProjectState per project and persists it through
// the store. The cache is a view; the project_states table is the
// authority.
type Manager struct {
	db          *DB
	mu          sync.RWMutex
	states      map[string]*models.ProjectState
	autoPersist bool
	now         func() time.Time
	debugLog    func(format string, args ...interface{})
}

// NewManager creates a Manager. With autoPersist set, every mutation is
// written through immediately.
func NewManager(db *DB, autoPersist bool) *Manager {
	return &Manager{
		db:          db,
		states:      make(map[string]*models.ProjectState),
		autoPersist: autoPersist,
		now:         time.Now,
		debugLog:    func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (m *Manager) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// Create initializes state for a project.
func (m *Manager) Create(projectID, projectName string, mode models.ProjectMode) (*models.ProjectState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[projectID]; ok {
		return nil, fmt.Errorf("state for project %s already exists", projectID)
	}
	now := m.now()
	st := &models.ProjectState{
		Version:       models.ProjectStateVersion,
		ProjectID:     projectID,
		ProjectName:   projectName,
		Status:        models.ProjectStatusInitializing,
		Mode:          mode,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	m.states[projectID] = st
	if m.autoPersist {
		if err := m.persistLocked(st); err != nil {
			return nil, err
		}
	}
	return copyState(st), nil
}

// Get returns the current state of a project.
func (m *Manager) Get(projectID string) (*models.ProjectState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[projectID]
	if !ok {
		return nil, false
	}
	return copyState(st), true
}

// Update applies a partial update. LastUpdatedAt advances monotonically
// even when the wall clock does not.
func (m *Manager) Update(projectID string, update StateUpdate) (*models.ProjectState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[projectID]
	if !ok {
		return nil, fmt.Errorf("no state for project %s", projectID)
	}

	if update.Status != nil {
		st.Status = *update.Status
	}
	if update.Features != nil {
		st.Features = update.Features
	}
	if update.CurrentFeatureIndex != nil {
		st.CurrentFeatureIndex = *update.CurrentFeatureIndex
	}
	if update.CurrentTaskIndex != nil {
		st.CurrentTaskIndex = *update.CurrentTaskIndex
	}
	if update.CompletedTasks != nil {
		st.CompletedTasks = *update.CompletedTasks
	}
	if update.TotalTasks != nil {
		st.TotalTasks = *update.TotalTasks
	}

	now := m.now()
	if !now.After(st.LastUpdatedAt) {
		now = st.LastUpdatedAt.Add(time.Millisecond)
	}
	st.LastUpdatedAt = now

	if m.autoPersist {
		if err := m.persistLocked(st); err != nil {
			return nil, err
		}
	}
	return copyState(st), nil
}

// Save persists the current state of a project explicitly.
func (m *Manager) Save(projectID string) error {
	m.mu.RLock()
	st, ok := m.states[projectID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no state for project %s", projectID)
	}
	return m.persistLocked(st)
}

// Apply replaces a project's in-memory state wholesale and persists it.
// Checkpoint restore uses this.
func (m *Manager) Apply(st *models.ProjectState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ProjectID] = copyState(st)
	return m.persistLocked(st)
}

// Load fetches a project's state from the store into the cache.
func (m *Manager) Load(projectID string) (*models.ProjectState, error) {
	raw, err := m.db.LoadProjectState(projectID)
	if err != nil {
		return nil, err
	}
	var st models.ProjectState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", projectID, err)
	}

	m.mu.Lock()
	m.states[projectID] = &st
	m.mu.Unlock()
	return copyState(&st), nil
}

func (m *Manager) persistLocked(st *models.ProjectState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", st.ProjectID, err)
	}
	if err := m.db.SaveProjectState(st.ProjectID, raw, st.LastUpdatedAt.UTC().Unix()); err != nil {
		return err
	}
	m.debugLog("[state] persisted project %s (%s, %d/%d tasks)",
		st.ProjectID, st.Status, st.CompletedTasks, st.TotalTasks)
	return nil
}

func copyState(st *models.ProjectState) *models.ProjectState {
	out := *st
	if st.Features != nil {
		out.Features = append([]models.Feature(nil), st.Features...)
	}
	return &out
}
