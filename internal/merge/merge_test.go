package merge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nexus-ai/nexus/internal/git"
)

// fakeService scripts the git operations the merger drives.
type fakeService struct {
	status      string
	mergeResult git.MergeResult
	mergeErr    error
	conflicted  []string
	commitHash  string
	commitErr   error
	diffStat    git.DiffStat
	hasRemote   bool

	checkedOut []string
	stashed    bool
	popped     bool
	aborted    bool
	staged     bool
	pulled     bool
	pushed     []string
}

func (f *fakeService) IsRepository(ctx context.Context) bool             { return true }
func (f *fakeService) Status(ctx context.Context) (string, error)       { return f.status, nil }
func (f *fakeService) CurrentBranch(ctx context.Context) (string, error) { return "main", nil }
func (f *fakeService) CurrentCommit(ctx context.Context) (string, error) { return "abc123", nil }

func (f *fakeService) CreateBranch(ctx context.Context, name, from string) error { return nil }
func (f *fakeService) CheckoutBranch(ctx context.Context, name string) error {
	f.checkedOut = append(f.checkedOut, name)
	return nil
}
func (f *fakeService) DeleteBranch(ctx context.Context, name string, force bool) error { return nil }
func (f *fakeService) ListBranches(ctx context.Context) ([]string, error)              { return nil, nil }
func (f *fakeService) BranchExists(ctx context.Context, name string) (bool, error)     { return true, nil }

func (f *fakeService) StageFiles(ctx context.Context, files ...string) error { return nil }
func (f *fakeService) StageAll(ctx context.Context) error {
	f.staged = true
	return nil
}
func (f *fakeService) Commit(ctx context.Context, message string) (string, error) {
	return f.commitHash, f.commitErr
}
func (f *fakeService) Log(ctx context.Context, limit int) ([]git.CommitInfo, error) { return nil, nil }

func (f *fakeService) Diff(ctx context.Context, opts git.DiffOptions) (string, error) { return "", nil }
func (f *fakeService) DiffStat(ctx context.Context, opts git.DiffOptions) (git.DiffStat, error) {
	return f.diffStat, nil
}
func (f *fakeService) ConflictedFiles(ctx context.Context) ([]string, error) {
	return f.conflicted, nil
}

func (f *fakeService) Merge(ctx context.Context, branch string, opts git.MergeOptions) (git.MergeResult, error) {
	return f.mergeResult, f.mergeErr
}
func (f *fakeService) AbortMerge(ctx context.Context) error {
	f.aborted = true
	return nil
}
func (f *fakeService) MergeBase(ctx context.Context, ref1, ref2 string) (string, error) {
	return "", nil
}

func (f *fakeService) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	return nil
}
func (f *fakeService) WorktreeRemove(ctx context.Context, path string, force bool) error { return nil }
func (f *fakeService) WorktreePrune(ctx context.Context) error                           { return nil }
func (f *fakeService) WorktreeListPorcelain(ctx context.Context) (string, error)         { return "", nil }

func (f *fakeService) HasRemote(ctx context.Context) bool { return f.hasRemote }
func (f *fakeService) PullFFOnly(ctx context.Context) error {
	f.pulled = true
	return nil
}
func (f *fakeService) Push(ctx context.Context, remote, branch string) error {
	f.pushed = append(f.pushed, remote+"/"+branch)
	return nil
}

func (f *fakeService) Stash(ctx context.Context, message string) error {
	f.stashed = true
	return nil
}
func (f *fakeService) StashPop(ctx context.Context) error {
	f.popped = true
	return nil
}

var _ git.Service = (*fakeService)(nil)

// fakeRunner replays queued outputs for git show calls.
type fakeRunner struct {
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var out string
	if i < len(f.outputs) {
		out = f.outputs[i]
	}
	return []byte(out), err
}
func (f *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return f.Run(ctx, workDir, "sh", "-c", command)
}
func (f *fakeRunner) Exists(ctx context.Context, workDir, path string) bool { return false }
func (f *fakeRunner) LookPath(name string) (string, error)                  { return name, nil }

func TestMergeCleanSuccess(t *testing.T) {
	svc := &fakeService{
		mergeResult: git.MergeResult{Success: true, MergeCommit: "deadbeef"},
		diffStat:    git.DiffStat{FilesChanged: 3, Insertions: 40, Deletions: 5},
	}
	m := NewMerger(t.TempDir(), svc, &fakeRunner{})

	result, err := m.Merge(context.Background(), Request{
		SourceBranch: "nexus/task/t1/123", TargetBranch: "main", NoFF: true,
	})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success || result.CommitHash != "deadbeef" {
		t.Errorf("result = %+v", result)
	}
	if result.FilesChanged != 3 || result.Insertions != 40 || result.Deletions != 5 {
		t.Errorf("stats = %+v", result)
	}
	if len(svc.checkedOut) != 1 || svc.checkedOut[0] != "main" {
		t.Errorf("checkedOut = %v", svc.checkedOut)
	}
}

func TestMergeConflictAbortsAndReports(t *testing.T) {
	svc := &fakeService{
		mergeResult: git.MergeResult{Success: false, Conflicts: []string{"internal/core.go"}},
	}
	// git show fails for both sides so nothing is smart-mergeable.
	runner := &fakeRunner{errs: []error{errors.New("bad object"), errors.New("bad object")}}
	m := NewMerger(t.TempDir(), svc, runner)

	result, err := m.Merge(context.Background(), Request{SourceBranch: "feat", TargetBranch: "main"})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Success {
		t.Error("conflicted merge must not report success")
	}
	if len(result.ConflictFiles) != 1 || result.ConflictFiles[0] != "internal/core.go" {
		t.Errorf("ConflictFiles = %v", result.ConflictFiles)
	}
	if !svc.aborted {
		t.Error("merge must be aborted after unresolved conflicts")
	}
}

func TestMergeStashesDirtyTree(t *testing.T) {
	svc := &fakeService{
		status:      " M config.yaml",
		mergeResult: git.MergeResult{Success: true, MergeCommit: "deadbeef"},
	}
	m := NewMerger(t.TempDir(), svc, &fakeRunner{})

	if _, err := m.Merge(context.Background(), Request{SourceBranch: "feat", TargetBranch: "main"}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !svc.stashed || !svc.popped {
		t.Errorf("stashed = %v, popped = %v, want both", svc.stashed, svc.popped)
	}
}

func TestMergePullsWhenRemoteExists(t *testing.T) {
	svc := &fakeService{
		hasRemote:   true,
		mergeResult: git.MergeResult{Success: true, MergeCommit: "deadbeef"},
	}
	m := NewMerger(t.TempDir(), svc, &fakeRunner{})

	if _, err := m.Merge(context.Background(), Request{SourceBranch: "feat", TargetBranch: "main"}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !svc.pulled {
		t.Error("should pull --ff-only before merging when a remote exists")
	}
}

func TestMergeSmartResolvesGitignore(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		mergeResult: git.MergeResult{Success: false, Conflicts: []string{".gitignore"}},
		commitHash:  "cafe",
	}
	runner := &fakeRunner{outputs: []string{"node_modules/\ndist/", "node_modules/\n.env"}}
	m := NewMerger(dir, svc, runner)

	result, err := m.Merge(context.Background(), Request{SourceBranch: "feat", TargetBranch: "main"})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success || len(result.SmartResolved) != 1 {
		t.Fatalf("result = %+v, want smart-resolved success", result)
	}
	if !svc.staged {
		t.Error("smart-merged files must be staged")
	}
	merged, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"node_modules/", "dist/", ".env"} {
		if !strings.Contains(string(merged), want) {
			t.Errorf("merged .gitignore missing %q:\n%s", want, merged)
		}
	}
}

func TestResolveSmartLockFileRegenerates(t *testing.T) {
	runner := &fakeRunner{outputs: []string{"{}"}}
	result := ResolveSmart(context.Background(), runner, t.TempDir(),
		[]string{"package-lock.json"}, "main", "feat")
	if !result.Complete() {
		t.Fatalf("result = %+v", result)
	}
	if len(result.RegenerateCommands) != 1 || result.RegenerateCommands[0] != "npm install" {
		t.Errorf("RegenerateCommands = %v", result.RegenerateCommands)
	}
}

func TestMergePackageJSONUnionsDeps(t *testing.T) {
	target := []byte(`{"name": "app", "dependencies": {"react": "^18.0.0", "lodash": "^4.0.0"}}`)
	source := []byte(`{"name": "app", "dependencies": {"react": "^18.2.0", "zod": "^3.0.0"}}`)

	merged, err := mergePackageJSON(target, source)
	if err != nil {
		t.Fatalf("mergePackageJSON() error = %v", err)
	}
	var doc struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(merged, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Dependencies) != 3 {
		t.Errorf("dependencies = %v, want 3 entries", doc.Dependencies)
	}
	if doc.Dependencies["react"] != "^18.2.0" {
		t.Errorf("react = %q, source side should win version clashes", doc.Dependencies["react"])
	}
}

func TestPushToRemote(t *testing.T) {
	svc := &fakeService{hasRemote: true}
	m := NewMerger(t.TempDir(), svc, &fakeRunner{})
	if err := m.PushToRemote(context.Background(), "main"); err != nil {
		t.Fatalf("PushToRemote() error = %v", err)
	}
	if len(svc.pushed) != 1 || svc.pushed[0] != "origin/main" {
		t.Errorf("pushed = %v", svc.pushed)
	}

	local := &fakeService{}
	m2 := NewMerger(t.TempDir(), local, &fakeRunner{})
	if err := m2.PushToRemote(context.Background(), "main"); err != ErrNoRemote {
		t.Errorf("error = %v, want ErrNoRemote", err)
	}
	if len(local.pushed) != 0 {
		t.Error("push without a remote must not call git push")
	}
}
