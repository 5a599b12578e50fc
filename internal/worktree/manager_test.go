package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

// fakeGit simulates the git worktree and branch operations against the
// real filesystem so registry reconciliation can be tested.
type fakeGit struct {
	added           []string
	removed         []string
	deletedBranches []string
	pruneCalls      int
	listOutput      string
}

func (f *fakeGit) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	f.added = append(f.added, path+"|"+branch+"|"+base)
	return os.MkdirAll(path, 0755)
}

func (f *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error {
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeGit) WorktreePrune(ctx context.Context) error {
	f.pruneCalls++
	return nil
}

func (f *fakeGit) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return f.listOutput, nil
}

func (f *fakeGit) CreateBranch(ctx context.Context, name, from string) error { return nil }
func (f *fakeGit) CheckoutBranch(ctx context.Context, name string) error     { return nil }
func (f *fakeGit) DeleteBranch(ctx context.Context, name string, force bool) error {
	f.deletedBranches = append(f.deletedBranches, name)
	return nil
}
func (f *fakeGit) ListBranches(ctx context.Context) ([]string, error)          { return nil, nil }
func (f *fakeGit) BranchExists(ctx context.Context, name string) (bool, error) { return false, nil }

func newTestManager(t *testing.T) (*Manager, *fakeGit, string) {
	t.Helper()
	root := t.TempDir()
	fake := &fakeGit{}
	m, err := NewManager(root, fake)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, fake, root
}

func TestBranchName(t *testing.T) {
	name := BranchName("task-42", time.Now())
	if !regexp.MustCompile(`^nexus/task/task-42/\d+$`).MatchString(name) {
		t.Errorf("BranchName = %q, want nexus/task/task-42/<millis>", name)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		since time.Duration
		want  Status
	}{
		{time.Minute, StatusActive},
		{14 * time.Minute, StatusActive},
		{16 * time.Minute, StatusIdle},
		{29 * time.Minute, StatusIdle},
		{31 * time.Minute, StatusStale},
		{2 * time.Hour, StatusStale},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.since); got != tt.want {
			t.Errorf("StatusFor(%v) = %q, want %q", tt.since, got, tt.want)
		}
	}
}

func TestCreateRegistersWorktree(t *testing.T) {
	m, fake, root := newTestManager(t)

	wt, err := m.Create(context.Background(), "task-1", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(root, ".nexus", "worktrees", "task-1")
	if wt.Path != wantPath {
		t.Errorf("Path = %q, want %q", wt.Path, wantPath)
	}
	if wt.Status != StatusActive {
		t.Errorf("Status = %q, want active", wt.Status)
	}
	if len(fake.added) != 1 {
		t.Fatalf("git saw %d adds, want 1", len(fake.added))
	}

	got, ok := m.Get("task-1")
	if !ok {
		t.Fatal("Get() did not find the created worktree")
	}
	if got.Branch != wt.Branch || got.BaseBranch != "main" {
		t.Errorf("registry entry = %+v", got)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "task-1", "main"); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	_, err := m.Create(ctx, "task-1", "main")
	var exists *ExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("second Create() error = %v, want *ExistsError", err)
	}
	if exists.TaskID != "task-1" {
		t.Errorf("ExistsError.TaskID = %q", exists.TaskID)
	}
}

func TestRemoveKeepsBranchByDefault(t *testing.T) {
	m, fake, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "task-1", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.Remove(ctx, "task-1", RemoveOptions{}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if _, ok := m.Get("task-1"); ok {
		t.Error("registry should drop removed worktrees")
	}
	if len(fake.deletedBranches) != 0 {
		t.Errorf("branch must survive by default, deleted %v", fake.deletedBranches)
	}
}

func TestRemoveDeleteBranch(t *testing.T) {
	m, fake, _ := newTestManager(t)
	ctx := context.Background()

	wt, err := m.Create(ctx, "task-1", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.Remove(ctx, "task-1", RemoveOptions{DeleteBranch: true}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if len(fake.deletedBranches) != 1 || fake.deletedBranches[0] != wt.Branch {
		t.Errorf("deleted branches = %v, want [%s]", fake.deletedBranches, wt.Branch)
	}
}

func TestRemoveUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.Remove(context.Background(), "nope", RemoveOptions{}); err == nil {
		t.Error("Remove for unknown task should error")
	}
}

func TestUpdateActivityAndRefreshStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	if _, err := m.Create(ctx, "task-1", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Twenty minutes later with no activity the worktree is idle.
	m.now = func() time.Time { return base.Add(20 * time.Minute) }
	entries, err := m.RefreshStatus()
	if err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if entries[0].Status != StatusIdle {
		t.Errorf("Status = %q, want idle", entries[0].Status)
	}

	// Activity resets the clock.
	if err := m.UpdateActivity("task-1"); err != nil {
		t.Fatalf("UpdateActivity() error = %v", err)
	}
	entries, err = m.RefreshStatus()
	if err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if entries[0].Status != StatusActive {
		t.Errorf("Status after activity = %q, want active", entries[0].Status)
	}

	// Forty more minutes of silence and it goes stale.
	m.now = func() time.Time { return base.Add(time.Hour) }
	entries, err = m.RefreshStatus()
	if err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if entries[0].Status != StatusStale {
		t.Errorf("Status = %q, want stale", entries[0].Status)
	}
}

func TestCleanupSweepsStaleAndOld(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	if _, err := m.Create(ctx, "task-old", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	m.now = func() time.Time { return base.Add(90 * time.Minute) }
	if _, err := m.Create(ctx, "task-fresh", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	report, err := m.Cleanup(ctx, CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "task-old" {
		t.Errorf("Removed = %v, want [task-old]", report.Removed)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "task-fresh" {
		t.Errorf("Skipped = %v, want [task-fresh]", report.Skipped)
	}
	if _, ok := m.Get("task-old"); ok {
		t.Error("stale worktree should be dropped from the registry")
	}
	if _, ok := m.Get("task-fresh"); !ok {
		t.Error("fresh worktree must survive cleanup")
	}
}

func TestCleanupDryRun(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	if _, err := m.Create(ctx, "task-1", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	report, err := m.Cleanup(ctx, CleanupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Removed) != 1 {
		t.Errorf("Removed = %v, want one entry", report.Removed)
	}
	if _, ok := m.Get("task-1"); !ok {
		t.Error("dry run must not actually remove anything")
	}
}

func TestCleanupForceIgnoresAge(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "task-1", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	report, err := m.Cleanup(ctx, CleanupOptions{Force: true})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Removed) != 1 {
		t.Errorf("Removed = %v, want one entry", report.Removed)
	}
}

func TestCleanupRemovesStrayDirectories(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	stray := filepath.Join(m.BaseDir(), "task-stray")
	if err := os.MkdirAll(stray, 0755); err != nil {
		t.Fatal(err)
	}

	report, err := m.Cleanup(ctx, CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "task-stray" {
		t.Errorf("Removed = %v, want [task-stray]", report.Removed)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray directory should be removed")
	}
}

func TestReconcile(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	// Registered but directory vanished.
	if _, err := m.Create(ctx, "task-gone", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	gone, _ := m.Get("task-gone")
	if err := os.RemoveAll(gone.Path); err != nil {
		t.Fatal(err)
	}

	// Active task: must survive.
	if _, err := m.Create(ctx, "task-active", "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := m.Reconcile(ctx, []string{"task-active"})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, ok := m.Get("task-gone"); ok {
		t.Error("vanished worktree should be dropped from the registry")
	}
	if _, ok := m.Get("task-active"); !ok {
		t.Error("active worktree must survive reconciliation")
	}
}
