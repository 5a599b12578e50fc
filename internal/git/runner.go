package git

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/nexus-ai/nexus/internal/exec"
)

// ExecService implements Service by shelling out to git.
type ExecService struct {
	repoPath string
	runner   exec.CommandRunner
}

// NewService creates a git service for the repository at repoPath.
func NewService(repoPath string) *ExecService {
	return &ExecService{repoPath: repoPath, runner: exec.NewRunner()}
}

// NewServiceWithRunner creates a git service with an injected command
// runner, used by tests.
func NewServiceWithRunner(repoPath string, runner exec.CommandRunner) *ExecService {
	return &ExecService{repoPath: repoPath, runner: runner}
}

// RepoPath returns the repository root this service operates on.
func (s *ExecService) RepoPath() string { return s.repoPath }

// run executes a git command and returns trimmed combined output.
func (s *ExecService) run(ctx context.Context, args ...string) (string, error) {
	out, err := s.runner.Run(ctx, s.repoPath, "git", args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, &GitError{Op: strings.Join(args, " "), Output: text, Err: err}
	}
	return text, nil
}

// ensureRepository guards every mutating operation.
func (s *ExecService) ensureRepository(ctx context.Context) error {
	if !s.IsRepository(ctx) {
		return fmt.Errorf("%s: %w", s.repoPath, ErrNotARepository)
	}
	return nil
}

// IsRepository reports whether repoPath is inside a git repository.
func (s *ExecService) IsRepository(ctx context.Context) bool {
	_, err := s.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Status returns the output of git status --porcelain.
func (s *ExecService) Status(ctx context.Context) (string, error) {
	return s.run(ctx, "status", "--porcelain")
}

// CurrentBranch returns the name of the checked-out branch.
func (s *ExecService) CurrentBranch(ctx context.Context) (string, error) {
	return s.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CurrentCommit returns the hash of HEAD.
func (s *ExecService) CurrentCommit(ctx context.Context) (string, error) {
	return s.run(ctx, "rev-parse", "HEAD")
}

// CreateBranch creates a branch, optionally from a start point.
func (s *ExecService) CreateBranch(ctx context.Context, name, from string) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	args := []string{"branch", name}
	if from != "" {
		args = append(args, from)
	}
	_, err := s.run(ctx, args...)
	return err
}

// CheckoutBranch switches to the named branch.
func (s *ExecService) CheckoutBranch(ctx context.Context, name string) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	out, err := s.run(ctx, "checkout", name)
	if err != nil && strings.Contains(out, "did not match any") {
		return fmt.Errorf("%s: %w", name, ErrBranchNotFound)
	}
	return err
}

// DeleteBranch deletes the named branch, -D when force is set.
func (s *ExecService) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	out, err := s.run(ctx, "branch", flag, name)
	if err != nil && strings.Contains(out, "not found") {
		return fmt.Errorf("%s: %w", name, ErrBranchNotFound)
	}
	return err
}

// ListBranches returns all local branch names.
func (s *ExecService) ListBranches(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// BranchExists reports whether a local branch exists. Exit code 1 from
// show-ref means the branch is absent, not an error.
func (s *ExecService) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := s.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// StageFiles stages the given paths.
func (s *ExecService) StageFiles(ctx context.Context, files ...string) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	_, err := s.run(ctx, append([]string{"add", "--"}, files...)...)
	return err
}

// StageAll stages everything under the repository root.
func (s *ExecService) StageAll(ctx context.Context) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	_, err := s.run(ctx, "add", "-A")
	return err
}

// Commit records the staged changes and returns the new commit hash.
// Identity is configured locally first if the repository has none.
func (s *ExecService) Commit(ctx context.Context, message string) (string, error) {
	if err := s.ensureRepository(ctx); err != nil {
		return "", err
	}
	s.ensureIdentity(ctx)

	// `diff --cached --quiet` exits 0 when the index is clean.
	if _, err := s.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return "", &CommitError{Reason: "nothing staged"}
	}

	if out, err := s.run(ctx, "commit", "-m", message); err != nil {
		return "", &CommitError{Reason: out}
	}
	return s.CurrentCommit(ctx)
}

// ensureIdentity sets a local committer identity when none is configured,
// so automated commits never fail on a fresh machine.
func (s *ExecService) ensureIdentity(ctx context.Context) {
	if out, _ := s.run(ctx, "config", "user.email"); out == "" {
		_, _ = s.run(ctx, "config", "user.email", "engine@nexus.local")
	}
	if out, _ := s.run(ctx, "config", "user.name"); out == "" {
		_, _ = s.run(ctx, "config", "user.name", "Nexus Engine")
	}
}

// Log returns up to limit most recent commits, newest first.
func (s *ExecService) Log(ctx context.Context, limit int) ([]CommitInfo, error) {
	args := []string{"log", "--pretty=format:%H%x09%an%x09%at%x09%s"}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var commits []CommitInfo
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			continue
		}
		ts, _ := strconv.ParseInt(parts[2], 10, 64)
		commits = append(commits, CommitInfo{Hash: parts[0], Author: parts[1], Date: ts, Message: parts[3]})
	}
	return commits, nil
}

func diffArgs(opts DiffOptions) []string {
	args := []string{"diff"}
	if opts.Staged {
		args = append(args, "--cached")
	}
	if opts.Ref1 != "" {
		args = append(args, opts.Ref1)
	}
	if opts.Ref2 != "" {
		args = append(args, opts.Ref2)
	}
	return args
}

// Diff returns the textual diff selected by opts.
func (s *ExecService) Diff(ctx context.Context, opts DiffOptions) (string, error) {
	return s.run(ctx, diffArgs(opts)...)
}

// DiffStat summarizes the diff selected by opts.
func (s *ExecService) DiffStat(ctx context.Context, opts DiffOptions) (DiffStat, error) {
	out, err := s.run(ctx, append(diffArgs(opts), "--shortstat")...)
	if err != nil {
		return DiffStat{}, err
	}
	return parseShortStat(out), nil
}

// parseShortStat reads "N files changed, M insertions(+), K deletions(-)".
// Any of the three clauses may be absent.
func parseShortStat(out string) DiffStat {
	var stat DiffStat
	for _, part := range strings.Split(out, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			stat.FilesChanged = n
		case strings.HasPrefix(fields[1], "insertion"):
			stat.Insertions = n
		case strings.HasPrefix(fields[1], "deletion"):
			stat.Deletions = n
		}
	}
	return stat
}

// ConflictedFiles lists paths with unmerged changes.
func (s *ExecService) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Merge merges branch into the current branch. A conflicted merge leaves
// the repository mid-merge and reports the conflicted paths; the caller
// decides whether to abort.
func (s *ExecService) Merge(ctx context.Context, branch string, opts MergeOptions) (MergeResult, error) {
	if err := s.ensureRepository(ctx); err != nil {
		return MergeResult{}, err
	}
	args := []string{"merge"}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	if opts.Squash {
		args = append(args, "--squash")
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	args = append(args, branch)

	out, err := s.run(ctx, args...)
	if err == nil {
		res := MergeResult{Success: true}
		if !opts.Squash {
			if hash, herr := s.CurrentCommit(ctx); herr == nil {
				res.MergeCommit = hash
			}
		}
		return res, nil
	}

	if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
		conflicts, cerr := s.ConflictedFiles(ctx)
		if cerr != nil {
			return MergeResult{}, cerr
		}
		return MergeResult{Success: false, Conflicts: conflicts}, nil
	}
	return MergeResult{}, err
}

// AbortMerge aborts an in-progress merge.
func (s *ExecService) AbortMerge(ctx context.Context) error {
	_, err := s.run(ctx, "merge", "--abort")
	return err
}

// MergeBase returns the common ancestor of two refs.
func (s *ExecService) MergeBase(ctx context.Context, ref1, ref2 string) (string, error) {
	return s.run(ctx, "merge-base", ref1, ref2)
}

// WorktreeAddNewBranch creates a worktree at path on a new branch cut from base.
func (s *ExecService) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := s.run(ctx, args...)
	return err
}

// WorktreeRemove removes the worktree at path.
func (s *ExecService) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := s.run(ctx, args...)
	return err
}

// WorktreePrune drops stale worktree bookkeeping.
func (s *ExecService) WorktreePrune(ctx context.Context) error {
	_, err := s.run(ctx, "worktree", "prune")
	return err
}

// WorktreeListPorcelain returns raw `worktree list --porcelain` output.
func (s *ExecService) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return s.run(ctx, "worktree", "list", "--porcelain")
}

// HasRemote reports whether any remote is configured.
func (s *ExecService) HasRemote(ctx context.Context) bool {
	out, err := s.run(ctx, "remote")
	return err == nil && out != ""
}

// PullFFOnly pulls fast-forward only. Errors are swallowed so local-only
// repositories keep working.
func (s *ExecService) PullFFOnly(ctx context.Context) error {
	_, _ = s.run(ctx, "pull", "--ff-only")
	return nil
}

// Push pushes a branch to the named remote.
func (s *ExecService) Push(ctx context.Context, remote, branch string) error {
	if err := s.ensureRepository(ctx); err != nil {
		return err
	}
	_, err := s.run(ctx, "push", remote, branch)
	return err
}

// Stash saves dirty working-tree state under a message.
func (s *ExecService) Stash(ctx context.Context, message string) error {
	_, err := s.run(ctx, "stash", "push", "-m", message)
	return err
}

// StashPop restores the most recent stash entry.
func (s *ExecService) StashPop(ctx context.Context) error {
	_, err := s.run(ctx, "stash", "pop")
	return err
}

// Verify ExecService implements Service at compile time.
var _ Service = (*ExecService)(nil)
