// Package git provides the repository primitives the engine builds on.
package git

import "context"

// CommitInfo describes one commit in the log.
type CommitInfo struct {
	Hash    string
	Author  string
	Date    int64
	Message string
}

// DiffOptions selects what Diff and DiffStat compare. With no refs the
// working tree is compared against HEAD; Staged compares the index.
type DiffOptions struct {
	Ref1   string
	Ref2   string
	Staged bool
}

// DiffStat summarizes a diff.
type DiffStat struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// MergeOptions control how Merge runs.
type MergeOptions struct {
	NoFF    bool
	Squash  bool
	Message string
}

// MergeResult reports the outcome of a merge. A conflicted merge is a
// result, not an error; the repository is left mid-merge so the caller can
// inspect and abort.
type MergeResult struct {
	Success     bool
	MergeCommit string
	Conflicts   []string
}

// RepoOperations covers repository-level queries.
type RepoOperations interface {
	// IsRepository reports whether the path is inside a git repository.
	IsRepository(ctx context.Context) bool
	// Status returns the output of git status --porcelain.
	Status(ctx context.Context) (string, error)
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch(ctx context.Context) (string, error)
	// CurrentCommit returns the hash of HEAD.
	CurrentCommit(ctx context.Context) (string, error)
}

// BranchOperations covers branch lifecycle.
type BranchOperations interface {
	// CreateBranch creates a branch, optionally from a start point.
	CreateBranch(ctx context.Context, name, from string) error
	// CheckoutBranch switches to the named branch.
	CheckoutBranch(ctx context.Context, name string) error
	// DeleteBranch deletes the named branch, -D when force is set.
	DeleteBranch(ctx context.Context, name string, force bool) error
	// ListBranches returns all local branch names.
	ListBranches(ctx context.Context) ([]string, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
}

// StageCommitOperations covers the index and commits.
type StageCommitOperations interface {
	// StageFiles stages the given paths; StageAll stages everything.
	StageFiles(ctx context.Context, files ...string) error
	StageAll(ctx context.Context) error
	// Commit records the staged changes and returns the new commit hash.
	// Returns *CommitError when nothing is staged.
	Commit(ctx context.Context, message string) (string, error)
	// Log returns up to limit most recent commits, newest first.
	Log(ctx context.Context, limit int) ([]CommitInfo, error)
}

// DiffOperations covers diffing.
type DiffOperations interface {
	Diff(ctx context.Context, opts DiffOptions) (string, error)
	DiffStat(ctx context.Context, opts DiffOptions) (DiffStat, error)
	// ConflictedFiles lists paths with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
}

// MergeOperations covers merging.
type MergeOperations interface {
	Merge(ctx context.Context, branch string, opts MergeOptions) (MergeResult, error)
	AbortMerge(ctx context.Context) error
	MergeBase(ctx context.Context, ref1, ref2 string) (string, error)
}

// WorktreeOperations covers git worktree management.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch cut
	// from base.
	WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error
	// WorktreeRemove removes the worktree at path.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreePrune drops stale worktree bookkeeping.
	WorktreePrune(ctx context.Context) error
	// WorktreeListPorcelain returns raw `worktree list --porcelain` output.
	WorktreeListPorcelain(ctx context.Context) (string, error)
}

// RemoteOperations covers interaction with remotes. All of these are
// best-effort in the engine; local-only repositories are fully supported.
type RemoteOperations interface {
	// HasRemote reports whether any remote is configured.
	HasRemote(ctx context.Context) bool
	// PullFFOnly pulls fast-forward only; errors are swallowed.
	PullFFOnly(ctx context.Context) error
	// Push pushes a branch to the named remote.
	Push(ctx context.Context, remote, branch string) error
}

// StashOperations covers stashing dirty state around merges.
type StashOperations interface {
	Stash(ctx context.Context, message string) error
	StashPop(ctx context.Context) error
}

// Service is the full git capability the engine consumes. Components
// should accept the focused interfaces where possible.
type Service interface {
	RepoOperations
	BranchOperations
	StageCommitOperations
	DiffOperations
	MergeOperations
	WorktreeOperations
	RemoteOperations
	StashOperations
}
