package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

type fakeCheckpointer struct {
	calls    int
	triggers []string
	err      error
}

func (f *fakeCheckpointer) CreateAuto(ctx context.Context, projectID, trigger string) (*models.Checkpoint, error) {
	f.calls++
	f.triggers = append(f.triggers, trigger)
	return &models.Checkpoint{ID: "cp"}, f.err
}

func setup(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := db.SaveProject(&models.Project{
		ID: "p1", Name: "demo", Mode: models.ModeGenesis, RootPath: "/tmp/demo",
		Status: models.ProjectStatusRunning, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveTask(&models.Task{ID: "t1", ProjectID: "p1", Name: "task", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestOpenPersistsAndEmits(t *testing.T) {
	db := setup(t)
	events := bus.New()
	var requested int
	events.On(bus.ReviewRequested, func(bus.Event) { requested++ })
	cp := &fakeCheckpointer{}
	svc := NewService(db, events, cp)

	review, err := svc.Open(context.Background(), Request{
		TaskID: "t1", ProjectID: "p1",
		Reason: models.ReasonQAExhausted, Context: "50 iterations, build still red",
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if review.Status != models.ReviewPending {
		t.Errorf("Status = %q", review.Status)
	}
	if requested != 1 {
		t.Errorf("saw %d requested events, want 1", requested)
	}
	if cp.calls != 1 || cp.triggers[0] != "review:qa_exhausted" {
		t.Errorf("checkpointer calls = %d, triggers = %v", cp.calls, cp.triggers)
	}

	stored, err := db.GetReview(review.ID)
	if err != nil || stored.Context != "50 iterations, build still red" {
		t.Errorf("stored = %+v, err = %v", stored, err)
	}
}

func TestOpenSurvivesCheckpointFailure(t *testing.T) {
	db := setup(t)
	cp := &fakeCheckpointer{err: errors.New("disk full")}
	svc := NewService(db, nil, cp)

	if _, err := svc.Open(context.Background(), Request{
		TaskID: "t1", ProjectID: "p1", Reason: models.ReasonMergeConflict,
	}); err != nil {
		t.Errorf("Open() error = %v, checkpoint failure must not block the review", err)
	}
}

func TestApproveResolves(t *testing.T) {
	db := setup(t)
	events := bus.New()
	var approved int
	events.On(bus.ReviewApproved, func(bus.Event) { approved++ })
	svc := NewService(db, events, nil)

	review, err := svc.Open(context.Background(), Request{TaskID: "t1", ProjectID: "p1", Reason: models.ReasonQAExhausted})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.Approve(review.ID, "merged manually")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if resolved.Status != models.ReviewApproved || resolved.ResolvedAt == nil {
		t.Errorf("resolved = %+v", resolved)
	}
	if approved != 1 {
		t.Errorf("saw %d approved events, want 1", approved)
	}
	if len(svc.Pending()) != 0 {
		t.Error("approved review must leave the pending cache")
	}

	if _, err := svc.Approve(review.ID, "again"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second Approve error = %v, want ErrAlreadyResolved", err)
	}
}

func TestRejectCarriesFeedback(t *testing.T) {
	db := setup(t)
	svc := NewService(db, nil, nil)

	review, err := svc.Open(context.Background(), Request{TaskID: "t1", ProjectID: "p1", Reason: models.ReasonTaskFailure})
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := svc.Reject(review.ID, "wrong approach, split the handler")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if rejected.Status != models.ReviewRejected || rejected.Resolution != "wrong approach, split the handler" {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestResolveUnknownReview(t *testing.T) {
	db := setup(t)
	svc := NewService(db, nil, nil)
	if _, err := svc.Approve("missing", ""); !errors.Is(err, ErrReviewNotFound) {
		t.Errorf("error = %v, want ErrReviewNotFound", err)
	}
}

func TestRehydrateDropsOrphans(t *testing.T) {
	db := setup(t)
	svc := NewService(db, nil, nil)

	live, err := svc.Open(context.Background(), Request{TaskID: "t1", ProjectID: "p1", Reason: models.ReasonQAExhausted})
	if err != nil {
		t.Fatal(err)
	}
	// A pending review pointing at a task that no longer exists.
	now := time.Now().UTC()
	if err := db.SaveReview(&models.Review{
		ID: "orphan", TaskID: "gone", ProjectID: "p1",
		Reason: models.ReasonMergeConflict, Status: models.ReviewPending, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh service simulates a restart.
	restarted := NewService(db, nil, nil)
	if err := restarted.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}

	pending := restarted.Pending()
	if len(pending) != 1 || pending[0].ID != live.ID {
		t.Errorf("pending after rehydrate = %+v", pending)
	}
	orphan, err := db.GetReview("orphan")
	if err != nil {
		t.Fatal(err)
	}
	if orphan.Status == models.ReviewPending {
		t.Error("orphaned review must not stay pending")
	}
}

func TestPendingOrderedOldestFirst(t *testing.T) {
	db := setup(t)
	svc := NewService(db, nil, nil)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(2 * time.Minute), base, base.Add(time.Minute)}
	var ids []string
	for _, at := range times {
		svc.now = func() time.Time { return at }
		r, err := svc.Open(context.Background(), Request{TaskID: "t1", ProjectID: "p1", Reason: models.ReasonManual})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}

	pending := svc.Pending()
	if len(pending) != 3 {
		t.Fatalf("got %d pending", len(pending))
	}
	if pending[0].ID != ids[1] || pending[2].ID != ids[0] {
		t.Error("pending must be ordered oldest first")
	}
}
