package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/pkg/models"
)

func task(id string, priority int, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		Name:      id,
		Status:    models.TaskStatusPending,
		Priority:  priority,
		DependsOn: deps,
		CreatedAt: time.Now(),
	}
}

func TestDequeueOrdering(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("low", 5), 0)
	q.Enqueue(task("high", 1), 0)
	q.Enqueue(task("mid", 3), 0)

	var got []string
	for tk := q.Dequeue(); tk != nil; tk = q.Dequeue() {
		got = append(got, tk.ID)
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestReadyRespectsWaveAndDeps(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)
	q.Enqueue(task("t2", 0, "t1"), 1)

	ready := q.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t1" {
		t.Fatalf("ready = %v, want [t1]", ready)
	}

	// Dequeue t1; t2 is still gated on both wave and dependency.
	if tk := q.Dequeue(); tk == nil || tk.ID != "t1" {
		t.Fatal("expected to dequeue t1")
	}
	if tk := q.Dequeue(); tk != nil {
		t.Fatalf("dequeued %s before its dependency completed", tk.ID)
	}

	if err := q.MarkComplete("t1"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if q.CurrentWave() != 1 {
		t.Errorf("CurrentWave = %d, want 1", q.CurrentWave())
	}
	if tk := q.Dequeue(); tk == nil || tk.ID != "t2" {
		t.Fatal("t2 should be ready once t1 completed and the wave advanced")
	}
}

func TestGetFindsAssignedTasks(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)

	if q.Get("t1") == nil {
		t.Fatal("Get should find a queued task")
	}
	q.Dequeue()
	if q.Get("t1") == nil {
		t.Fatal("Get must still find a dequeued task until it is marked")
	}
	if err := q.MarkComplete("t1"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if q.Get("t1") != nil {
		t.Fatal("Get should return nil after terminal mark")
	}
}

func TestTerminalMarksAreExclusive(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("ok", 0), 0)
	q.Enqueue(task("bad", 0), 0)
	q.Dequeue()
	q.Dequeue()

	if err := q.MarkComplete("ok"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if err := q.MarkFailed("bad"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	completed, failed := q.CompletedIDs(), q.FailedIDs()
	if len(completed) != 1 || completed[0] != "ok" {
		t.Errorf("completed = %v", completed)
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("failed = %v", failed)
	}

	var notFound *ErrTaskNotFound
	if err := q.MarkComplete("ok"); !errors.As(err, &notFound) {
		t.Errorf("double mark error = %v, want *ErrTaskNotFound", err)
	}
}

func TestUpdateStatusEmitsEvent(t *testing.T) {
	events := bus.New()
	var seen []bus.Event
	events.On(bus.TaskStatusChanged, func(ev bus.Event) { seen = append(seen, ev) })

	q := New(events)
	q.Enqueue(task("t1", 0), 0)
	q.Dequeue()

	if err := q.UpdateStatus("t1", models.TaskStatusInProgress); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("saw %d events, want 1", len(seen))
	}
	payload := seen[0].Payload.(bus.TaskPayload)
	if payload.TaskID != "t1" || payload.Status != models.TaskStatusInProgress {
		t.Errorf("payload = %+v", payload)
	}
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	q := New(nil)
	tk := task("t1", 0)
	tk.Status = models.TaskStatusInProgress
	q.Enqueue(tk, 0)

	if err := q.UpdateStatus("t1", models.TaskStatusPending); err == nil {
		t.Error("backward transition should be rejected")
	}
	if err := q.UpdateStatus("missing", models.TaskStatusInProgress); err == nil {
		t.Error("unknown task should error")
	}
}

func TestWaveAdvanceSkipsEmptyWaves(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)
	// Wave 1 is empty; work resumes at wave 2.
	q.Enqueue(task("t3", 0, "t1"), 2)

	q.Dequeue()
	if err := q.MarkComplete("t1"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if q.CurrentWave() != 2 {
		t.Errorf("CurrentWave = %d, want 2", q.CurrentWave())
	}
	if tk := q.Dequeue(); tk == nil || tk.ID != "t3" {
		t.Fatal("t3 should be dispatchable after skipping the empty wave")
	}
}

func TestBlockedTasks(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)
	q.Enqueue(task("t2", 0, "t1"), 1)

	q.Dequeue()
	if err := q.MarkFailed("t1"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	blocked := q.BlockedTasks()
	if len(blocked) != 1 || blocked[0].ID != "t2" {
		t.Fatalf("blocked = %v, want [t2]", blocked)
	}
}

func TestByWave(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)
	q.Enqueue(task("t2", 0), 1)
	q.Enqueue(task("t3", 0), 1)
	q.Dequeue()

	wave1 := q.ByWave(1)
	if len(wave1) != 2 {
		t.Fatalf("ByWave(1) = %d tasks, want 2", len(wave1))
	}
	// Assigned tasks still count toward their wave.
	wave0 := q.ByWave(0)
	if len(wave0) != 1 || wave0[0].ID != "t1" {
		t.Fatalf("ByWave(0) = %v, want [t1]", wave0)
	}
}

func TestCounts(t *testing.T) {
	q := New(nil)
	q.Enqueue(task("t1", 0), 0)
	q.Enqueue(task("t2", 0), 0)
	q.Dequeue()

	queued, assigned, completed, failed := q.Counts()
	if queued != 1 || assigned != 1 || completed != 0 || failed != 0 {
		t.Errorf("Counts = %d/%d/%d/%d", queued, assigned, completed, failed)
	}
}
