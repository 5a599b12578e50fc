package git

import (
	"errors"
	"fmt"
)

// ErrNotARepository is returned when the target path is not a git repository.
var ErrNotARepository = errors.New("not a git repository")

// ErrBranchNotFound is returned when a named branch does not exist.
var ErrBranchNotFound = errors.New("branch not found")

// CommitError is returned when a commit cannot be created, most commonly
// because nothing is staged.
type CommitError struct {
	Reason string
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed: %s", e.Reason)
}

// GitError wraps any other git failure with the command that produced it.
type GitError struct {
	Op     string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s: %v: %s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }
