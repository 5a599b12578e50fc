package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	return NewRegistry(path, dir), path
}

func TestRegistryRoundTrip(t *testing.T) {
	r, path := testRegistry(t)

	wt := &Worktree{
		TaskID:       "task-1",
		Path:         "/tmp/task-1",
		Branch:       "nexus/task/task-1/123",
		BaseBranch:   "main",
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}
	if err := r.Put(wt); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Reopen from disk to prove persistence.
	reopened := NewRegistry(path, "")
	got, ok := reopened.Get("task-1")
	if !ok {
		t.Fatal("Get() after reopen did not find the record")
	}
	if got.Branch != wt.Branch || got.Status != StatusActive {
		t.Errorf("reloaded entry = %+v", got)
	}
}

func TestRegistryDelete(t *testing.T) {
	r, _ := testRegistry(t)

	if err := r.Put(&Worktree{TaskID: "task-1", Status: StatusActive}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := r.Delete("task-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := r.Get("task-1"); ok {
		t.Error("record should be gone after Delete")
	}

	// Deleting a missing record is not an error.
	if err := r.Delete("task-1"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestRegistrySetStatus(t *testing.T) {
	r, _ := testRegistry(t)

	if err := r.Put(&Worktree{TaskID: "task-1", Status: StatusActive}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := r.SetStatus("task-1", StatusStale); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, _ := r.Get("task-1")
	if got.Status != StatusStale {
		t.Errorf("Status = %q, want stale", got.Status)
	}

	if err := r.SetStatus("missing", StatusStale); err == nil {
		t.Error("SetStatus on missing task should error")
	}
}

func TestRegistryTouch(t *testing.T) {
	r, _ := testRegistry(t)

	old := time.Now().Add(-time.Hour).UTC()
	if err := r.Put(&Worktree{TaskID: "task-1", Status: StatusActive, LastActivity: old}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	now := time.Now().UTC()
	if err := r.Touch("task-1", now); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got, _ := r.Get("task-1")
	if !got.LastActivity.Equal(now) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, now)
	}

	if err := r.Touch("missing", now); err == nil {
		t.Error("Touch on missing task should error")
	}
}

func TestRegistryStealsStaleLock(t *testing.T) {
	r, path := testRegistry(t)

	lockPath := filepath.Join(filepath.Dir(path), ".lock")
	if err := os.WriteFile(lockPath, []byte("99999\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, stale, stale); err != nil {
		t.Fatal(err)
	}

	if err := r.Put(&Worktree{TaskID: "task-1", Status: StatusActive}); err != nil {
		t.Fatalf("Put() with stale lock error = %v", err)
	}
}

func TestRegistryRejectsUnknownVersion(t *testing.T) {
	r, path := testRegistry(t)
	if err := os.WriteFile(path, []byte(`{"version": 99, "worktrees": {}}`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.All(); err == nil {
		t.Error("reading a future registry version should error")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusIdle, StatusStale} {
		if !s.Valid() {
			t.Errorf("Status %q should be valid", s)
		}
	}
	if Status("zombie").Valid() {
		t.Error("unknown status should be invalid")
	}
}
