// Package merge lands finished task branches on the integration branch,
// resolving package-manager file conflicts automatically where the file
// format allows it.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nexus-ai/nexus/internal/exec"
	"github.com/nexus-ai/nexus/internal/git"
)

// Request describes one merge.
type Request struct {
	SourceBranch string
	TargetBranch string
	// WorkDir overrides the repository the merge runs in; empty means the
	// merger's own repository.
	WorkDir string
	Squash  bool
	NoFF    bool
	Message string
}

// Result is the outcome of a merge. A conflicted merge is reported, not
// returned as an error; the repository is left clean either way.
type Result struct {
	Success       bool
	CommitHash    string
	ConflictFiles []string
	// SmartResolved lists conflicts resolved by format-aware merging.
	SmartResolved []string
	// RegenerateCommands lists commands to rerun for discarded lock files.
	RegenerateCommands []string
	FilesChanged       int
	Insertions         int
	Deletions          int
}

// Merger lands task branches on a target branch.
type Merger struct {
	repoRoot   string
	git        git.Service
	runner     exec.CommandRunner
	serviceFor func(dir string) git.Service
	debugLog   func(format string, args ...interface{})
}

// NewMerger creates a Merger bound to the repository at repoRoot.
func NewMerger(repoRoot string, gitSvc git.Service, runner exec.CommandRunner) *Merger {
	return &Merger{
		repoRoot: repoRoot,
		git:      gitSvc,
		runner:   runner,
		serviceFor: func(dir string) git.Service {
			return git.NewServiceWithRunner(dir, runner)
		},
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLogger sets the debug logging function.
func (m *Merger) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// Merge lands req.SourceBranch on req.TargetBranch. Dirty state on the
// target is stashed around the merge. Conflicts are first run through the
// smart resolver; what it cannot merge aborts the merge and comes back in
// ConflictFiles.
func (m *Merger) Merge(ctx context.Context, req Request) (*Result, error) {
	svc := m.git
	repoDir := m.repoRoot
	if req.WorkDir != "" {
		svc = m.serviceFor(req.WorkDir)
		repoDir = req.WorkDir
	}

	stashed := false
	if status, err := svc.Status(ctx); err == nil && strings.TrimSpace(status) != "" {
		if err := svc.Stash(ctx, "pre-merge "+req.SourceBranch); err == nil {
			stashed = true
		} else {
			m.debugLog("[merge] stash before merging %s failed: %v", req.SourceBranch, err)
		}
	}
	defer func() {
		if stashed {
			if err := svc.StashPop(ctx); err != nil {
				m.debugLog("[merge] stash pop failed: %v", err)
			}
		}
	}()

	if err := svc.CheckoutBranch(ctx, req.TargetBranch); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", req.TargetBranch, err)
	}
	if svc.HasRemote(ctx) {
		if err := svc.PullFFOnly(ctx); err != nil {
			m.debugLog("[merge] pull --ff-only on %s failed: %v", req.TargetBranch, err)
		}
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", req.SourceBranch, req.TargetBranch)
	}
	mergeResult, err := svc.Merge(ctx, req.SourceBranch, git.MergeOptions{
		NoFF:    req.NoFF,
		Squash:  req.Squash,
		Message: message,
	})
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", req.SourceBranch, err)
	}

	if !mergeResult.Success {
		return m.handleConflicts(ctx, svc, repoDir, req, message, mergeResult.Conflicts)
	}

	result := &Result{Success: true, CommitHash: mergeResult.MergeCommit}
	m.fillStats(ctx, svc, result)
	m.debugLog("[merge] %s -> %s: %d files changed (+%d -%d)",
		req.SourceBranch, req.TargetBranch, result.FilesChanged, result.Insertions, result.Deletions)
	return result, nil
}

// handleConflicts tries format-aware resolution; anything left aborts the
// merge so the repository never stays mid-merge.
func (m *Merger) handleConflicts(ctx context.Context, svc git.Service, repoDir string, req Request, message string, conflicts []string) (*Result, error) {
	if len(conflicts) == 0 {
		if listed, err := svc.ConflictedFiles(ctx); err == nil {
			conflicts = listed
		}
	}

	smart := ResolveSmart(ctx, m.runner, repoDir, conflicts, req.TargetBranch, req.SourceBranch)
	if smart.Complete() {
		for path, contents := range smart.MergedFiles {
			if err := writeRepoFile(repoDir, path, contents); err != nil {
				m.debugLog("[merge] writing smart-merged %s failed: %v", path, err)
				smart.Unresolved = append(smart.Unresolved, path)
			}
		}
	}
	if smart.Complete() && len(smart.MergedFiles) > 0 {
		if err := svc.StageAll(ctx); err == nil {
			if hash, err := svc.Commit(ctx, message); err == nil {
				result := &Result{
					Success:            true,
					CommitHash:         hash,
					SmartResolved:      keys(smart.MergedFiles),
					RegenerateCommands: smart.RegenerateCommands,
				}
				m.fillStats(ctx, svc, result)
				m.debugLog("[merge] %s -> %s: %d conflicts smart-resolved",
					req.SourceBranch, req.TargetBranch, len(result.SmartResolved))
				return result, nil
			}
		}
	}

	if err := svc.AbortMerge(ctx); err != nil {
		m.debugLog("[merge] abort after conflict failed: %v", err)
	}
	m.debugLog("[merge] %s -> %s conflicted on %d files", req.SourceBranch, req.TargetBranch, len(conflicts))
	return &Result{Success: false, ConflictFiles: conflicts}, nil
}

func (m *Merger) fillStats(ctx context.Context, svc git.Service, result *Result) {
	ref := result.CommitHash
	if ref == "" {
		return
	}
	stat, err := svc.DiffStat(ctx, git.DiffOptions{Ref1: ref + "~1", Ref2: ref})
	if err != nil {
		m.debugLog("[merge] diff stat for %s failed: %v", ref, err)
		return
	}
	result.FilesChanged = stat.FilesChanged
	result.Insertions = stat.Insertions
	result.Deletions = stat.Deletions
}

// ErrNoRemote reports that the repository has no remote to push to.
var ErrNoRemote = errors.New("no remote configured")

// PushToRemote pushes a branch to origin. Callers treat failures as
// advisory: a missing remote or a rejected push never unwinds a merge.
func (m *Merger) PushToRemote(ctx context.Context, branch string) error {
	if !m.git.HasRemote(ctx) {
		return ErrNoRemote
	}
	if err := m.git.Push(ctx, "origin", branch); err != nil {
		m.debugLog("[merge] push %s failed: %v", branch, err)
		return err
	}
	return nil
}

func keys(files map[string][]byte) []string {
	out := make([]string, 0, len(files))
	for path := range files {
		out = append(out, path)
	}
	return out
}
