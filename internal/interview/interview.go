// Package interview runs the requirements-gathering conversation that
// precedes planning. An Engine drives sessions against the model, an
// Extractor lifts tagged requirements out of replies, and a SessionManager
// keeps sessions durable across restarts.
package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

// SessionStatus is the lifecycle state of an interview session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("interview: session not found")

// StandardAreas are the functional areas the engine checks for coverage
// gaps once an interview has momentum.
var StandardAreas = []string{
	"authentication", "authorization", "data_model", "api", "ui_ux",
	"performance", "security", "integrations", "deployment",
}

// Message is one turn of an interview conversation.
type Message struct {
	Role    llm.Role  `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one interview's full state. It serializes to JSON whole, so
// the store can persist it without schema churn.
type Session struct {
	ID        string             `json:"id"`
	ProjectID string             `json:"project_id"`
	Mode      models.ProjectMode `json:"mode"`
	Status    SessionStatus      `json:"status"`
	// EvolutionContext is the repository map prepended to the system
	// prompt in evolution mode.
	EvolutionContext      string                `json:"evolution_context,omitempty"`
	Messages              []Message             `json:"messages"`
	ExtractedRequirements []*models.Requirement `json:"extracted_requirements"`
	ExploredAreas         []string              `json:"explored_areas"`
	StartedAt             time.Time             `json:"started_at"`
	LastActivityAt        time.Time             `json:"last_activity_at"`
	CompletedAt           *time.Time            `json:"completed_at,omitempty"`
}

// StartOptions configure a new session.
type StartOptions struct {
	Mode models.ProjectMode
	// EvolutionContext carries the repo map for evolution interviews.
	EvolutionContext string
}

// Turn is what ProcessMessage returns for one exchange.
type Turn struct {
	// Response is the assistant's conversational reply.
	Response string
	// Extracted are the requirements captured from this reply.
	Extracted []*models.Requirement
	// SuggestedGaps are standard areas the interview has not touched yet.
	SuggestedGaps []string
}

// Engine drives interview sessions. Requirements it captures go straight
// into the project store so planning can pick them up.
type Engine struct {
	client    llm.Client
	db        *state.DB
	events    *bus.Bus
	extractor *Extractor

	mu       sync.RWMutex
	sessions map[string]*Session

	now      func() time.Time
	debugLog func(format string, args ...interface{})
}

// NewEngine creates an Engine. events may be nil.
func NewEngine(client llm.Client, db *state.DB, events *bus.Bus) *Engine {
	return &Engine{
		client:    client,
		db:        db,
		events:    events,
		extractor: NewExtractor(),
		sessions:  make(map[string]*Session),
		now:       time.Now,
		debugLog:  func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (e *Engine) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// StartSession opens a new active session for a project.
func (e *Engine) StartSession(projectID string, opts StartOptions) (*Session, error) {
	mode := opts.Mode
	if mode == "" {
		mode = models.ModeGenesis
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid interview mode %q", opts.Mode)
	}

	now := e.now()
	session := &Session{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Mode:             mode,
		Status:           SessionActive,
		EvolutionContext: opts.EvolutionContext,
		StartedAt:        now,
		LastActivityAt:   now,
	}

	e.mu.Lock()
	e.sessions[session.ID] = session
	e.mu.Unlock()

	e.emit(bus.InterviewStarted, bus.InterviewPayload{
		SessionID: session.ID,
		ProjectID: projectID,
	})
	e.debugLog("[interview] started session %s for project %s (%s)", session.ID, projectID, mode)
	return session, nil
}

// ProcessMessage runs one exchange: user text in, assistant reply plus any
// captured requirements out.
func (e *Engine) ProcessMessage(ctx context.Context, sessionID, userText string) (*Turn, error) {
	e.mu.Lock()
	session, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status != SessionActive {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s, not active", sessionID, session.Status)
	}
	now := e.now()
	session.Messages = append(session.Messages, Message{Role: llm.RoleUser, Content: userText, At: now})
	session.LastActivityAt = now
	messages := e.conversation(session)
	projectID := session.ProjectID
	e.mu.Unlock()

	e.emit(bus.InterviewQuestionAsked, bus.InterviewPayload{
		SessionID: sessionID,
		ProjectID: projectID,
		Message:   userText,
	})

	resp, err := e.client.Chat(ctx, messages, llm.Options{
		MaxTokens:    2048,
		Temperature:  0.7,
		DisableTools: true,
	})
	if err != nil {
		return nil, fmt.Errorf("interview exchange: %w", err)
	}

	extraction := e.extractor.Extract(resp.Content, projectID)
	if extraction.FilteredCount > 0 {
		e.debugLog("[interview] dropped %d of %d requirement blocks", extraction.FilteredCount, extraction.RawCount)
	}
	for _, req := range extraction.Requirements {
		if err := e.db.SaveRequirement(req); err != nil {
			return nil, fmt.Errorf("persist requirement: %w", err)
		}
		e.emit(bus.InterviewRequirementCaptured, bus.InterviewPayload{
			SessionID:     sessionID,
			ProjectID:     projectID,
			RequirementID: req.ID,
			Message:       req.Text,
		})
	}

	e.mu.Lock()
	now = e.now()
	session.Messages = append(session.Messages, Message{Role: llm.RoleAssistant, Content: resp.Content, At: now})
	session.LastActivityAt = now
	session.ExtractedRequirements = append(session.ExtractedRequirements, extraction.Requirements...)
	for _, req := range extraction.Requirements {
		if req.Area != "" && !contains(session.ExploredAreas, req.Area) {
			session.ExploredAreas = append(session.ExploredAreas, req.Area)
		}
	}
	gaps := suggestGaps(session)
	e.mu.Unlock()

	return &Turn{
		Response:      resp.Content,
		Extracted:     extraction.Requirements,
		SuggestedGaps: gaps,
	}, nil
}

// EndSession marks a session completed and emits the interview summary.
func (e *Engine) EndSession(sessionID string) (*Session, error) {
	e.mu.Lock()
	session, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	now := e.now()
	session.Status = SessionCompleted
	session.CompletedAt = &now
	session.LastActivityAt = now

	categories := make(map[models.RequirementCategory]struct{})
	for _, req := range session.ExtractedRequirements {
		categories[req.Category] = struct{}{}
	}
	total := len(session.ExtractedRequirements)
	duration := int64(now.Sub(session.StartedAt).Seconds())
	projectID := session.ProjectID
	e.mu.Unlock()

	e.emit(bus.InterviewCompleted, bus.InterviewPayload{
		SessionID:         sessionID,
		ProjectID:         projectID,
		TotalRequirements: total,
		Categories:        len(categories),
		DurationSeconds:   duration,
	})
	e.debugLog("[interview] session %s completed: %d requirements in %ds", sessionID, total, duration)
	return session, nil
}

// Pause suspends an active session.
func (e *Engine) Pause(sessionID string) error {
	return e.setStatus(sessionID, SessionActive, SessionPaused)
}

// Resume reactivates a paused session.
func (e *Engine) Resume(sessionID string) error {
	return e.setStatus(sessionID, SessionPaused, SessionActive)
}

func (e *Engine) setStatus(sessionID string, from, to SessionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status != from {
		return fmt.Errorf("session %s is %s, not %s", sessionID, session.Status, from)
	}
	session.Status = to
	session.LastActivityAt = e.now()
	return nil
}

// Session returns a session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Install registers a session loaded from durable storage, replacing any
// in-memory session with the same id.
func (e *Engine) Install(session *Session) {
	e.mu.Lock()
	e.sessions[session.ID] = session
	e.mu.Unlock()
}

// OpenSessions returns snapshots of every active or paused session, for
// the autosave loop.
func (e *Engine) OpenSessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Session
	for _, s := range e.sessions {
		if s.Status == SessionCompleted {
			continue
		}
		copied := *s
		copied.Messages = append([]Message(nil), s.Messages...)
		copied.ExtractedRequirements = append([]*models.Requirement(nil), s.ExtractedRequirements...)
		copied.ExploredAreas = append([]string(nil), s.ExploredAreas...)
		out = append(out, &copied)
	}
	return out
}

// conversation builds the full message list for a session: the mode's
// system prompt followed by every turn so far. Caller holds the lock.
func (e *Engine) conversation(session *Session) []llm.Message {
	system := genesisPrompt
	if session.Mode == models.ModeEvolution {
		system = evolutionPrompt
		if session.EvolutionContext != "" {
			system += "\n\nRepository map:\n\n" + session.EvolutionContext
		}
	}

	messages := make([]llm.Message, 0, len(session.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range session.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// suggestGaps lists standard areas the interview has not covered. It stays
// quiet until the conversation has enough substance to make the nudge
// useful. Caller holds the lock.
func suggestGaps(session *Session) []string {
	if len(session.ExtractedRequirements) < 3 || len(session.ExploredAreas) < 2 {
		return nil
	}
	var gaps []string
	for _, area := range StandardAreas {
		if !contains(session.ExploredAreas, area) {
			gaps = append(gaps, area)
		}
	}
	return gaps
}

func (e *Engine) emit(event string, payload bus.InterviewPayload) {
	if e.events != nil {
		e.events.Emit(event, payload)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
