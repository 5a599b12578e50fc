// Package review routes escalated tasks to a human gate. Pending reviews
// are cached in memory for fast listing and persisted so a restart does
// not lose them.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

// ErrReviewNotFound is returned when a review id is unknown.
var ErrReviewNotFound = errors.New("review: not found")

// ErrAlreadyResolved is returned when approving or rejecting a review
// that already has a decision.
var ErrAlreadyResolved = errors.New("review: already resolved")

// Request describes the review being opened.
type Request struct {
	TaskID    string
	ProjectID string
	Reason    models.ReviewReason
	// Context carries what the reviewer needs: QA errors, conflict files.
	Context string
}

// checkpointer is the slice of the checkpoint manager the service uses
// for best-effort safety snapshots.
type checkpointer interface {
	CreateAuto(ctx context.Context, projectID, trigger string) (*models.Checkpoint, error)
}

// Service manages human reviews.
type Service struct {
	db          *state.DB
	events      *bus.Bus
	checkpoints checkpointer

	mu      sync.RWMutex
	pending map[string]*models.Review

	now      func() time.Time
	debugLog func(format string, args ...interface{})
}

// NewService creates a Service. events and checkpoints may be nil.
func NewService(db *state.DB, events *bus.Bus, checkpoints checkpointer) *Service {
	return &Service{
		db:          db,
		events:      events,
		checkpoints: checkpoints,
		pending:     make(map[string]*models.Review),
		now:         time.Now,
		debugLog:    func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (s *Service) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// Rehydrate loads pending reviews from the store on startup. Reviews
// whose task no longer exists are dropped with a warning; they cannot be
// acted on.
func (s *Service) Rehydrate(ctx context.Context) error {
	reviews, err := s.db.PendingReviews()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reviews {
		if _, err := s.db.GetTask(r.TaskID); errors.Is(err, state.ErrNotFound) {
			s.debugLog("[review] dropping orphaned review %s: task %s no longer exists", r.ID, r.TaskID)
			r.Status = models.ReviewRejected
			r.Resolution = "orphaned: task no longer exists"
			resolved := s.now()
			r.ResolvedAt = &resolved
			if err := s.db.SaveReview(r); err != nil {
				s.debugLog("[review] persisting orphan drop for %s failed: %v", r.ID, err)
			}
			continue
		}
		s.pending[r.ID] = r
	}
	s.debugLog("[review] rehydrated %d pending reviews", len(s.pending))
	return nil
}

// Open creates a pending review, persists it, takes a best-effort safety
// checkpoint, and emits review:requested.
func (s *Service) Open(ctx context.Context, req Request) (*models.Review, error) {
	review := &models.Review{
		ID:        uuid.NewString(),
		TaskID:    req.TaskID,
		ProjectID: req.ProjectID,
		Reason:    req.Reason,
		Context:   req.Context,
		Status:    models.ReviewPending,
		CreatedAt: s.now(),
	}
	if err := s.db.SaveReview(review); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending[review.ID] = review
	s.mu.Unlock()

	if s.checkpoints != nil {
		if _, err := s.checkpoints.CreateAuto(ctx, req.ProjectID, "review:"+string(req.Reason)); err != nil {
			s.debugLog("[review] safety checkpoint for %s failed: %v", review.ID, err)
		}
	}
	if s.events != nil {
		s.events.Emit(bus.ReviewRequested, bus.ReviewPayload{
			ReviewID:  review.ID,
			TaskID:    req.TaskID,
			ProjectID: req.ProjectID,
			Reason:    req.Reason,
		})
	}
	s.debugLog("[review] opened %s for task %s (%s)", review.ID, req.TaskID, req.Reason)
	return review, nil
}

// Approve resolves a review positively.
func (s *Service) Approve(id, resolution string) (*models.Review, error) {
	return s.resolve(id, models.ReviewApproved, resolution, bus.ReviewApproved)
}

// Reject resolves a review negatively with feedback.
func (s *Service) Reject(id, feedback string) (*models.Review, error) {
	return s.resolve(id, models.ReviewRejected, feedback, bus.ReviewRejected)
}

func (s *Service) resolve(id string, status models.ReviewStatus, resolution, event string) (*models.Review, error) {
	s.mu.Lock()
	review, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		// Maybe resolved already or unknown entirely.
		if stored, err := s.db.GetReview(id); err == nil {
			if stored.Status != models.ReviewPending {
				return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
			}
			review = stored
			s.mu.Lock()
		} else {
			return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
		}
	}

	resolved := s.now()
	review.Status = status
	review.Resolution = resolution
	review.ResolvedAt = &resolved
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.db.SaveReview(review); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Emit(event, bus.ReviewPayload{
			ReviewID:   review.ID,
			TaskID:     review.TaskID,
			ProjectID:  review.ProjectID,
			Reason:     review.Reason,
			Resolution: resolution,
		})
	}
	s.debugLog("[review] %s %s", id, status)
	return review, nil
}

// Pending returns the cached pending reviews, oldest first.
func (s *Service) Pending() []*models.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Review, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns one review by id, consulting the cache then the store.
func (s *Service) Get(id string) (*models.Review, error) {
	s.mu.RLock()
	if r, ok := s.pending[id]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	r, err := s.db.GetReview(id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	return r, err
}
