// Package worktree manages the isolated git worktrees tasks execute in.
// Every task gets its own worktree on its own branch; a JSON registry under
// .nexus/worktrees/ tracks them so crashed runs can be cleaned up on the
// next start.
package worktree

import (
	"fmt"
	"time"
)

// Status tracks how recently a worktree has seen activity.
type Status string

const (
	// StatusActive means the worktree saw activity within the last 15 minutes.
	StatusActive Status = "active"
	// StatusIdle means the worktree has been quiet for 15 to 30 minutes.
	StatusIdle Status = "idle"
	// StatusStale means the worktree has been quiet for over 30 minutes and
	// is a cleanup candidate.
	StatusStale Status = "stale"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusStale:
		return true
	}
	return false
}

// Activity thresholds for RefreshStatus.
const (
	idleAfter  = 15 * time.Minute
	staleAfter = 30 * time.Minute
)

// StatusFor buckets a worktree by time since its last activity.
func StatusFor(sinceActivity time.Duration) Status {
	switch {
	case sinceActivity < idleAfter:
		return StatusActive
	case sinceActivity < staleAfter:
		return StatusIdle
	default:
		return StatusStale
	}
}

// Worktree is one registry entry.
type Worktree struct {
	// TaskID is the task this worktree belongs to.
	TaskID string `json:"taskId"`
	// Path is the absolute path to the worktree directory.
	Path string `json:"path"`
	// Branch is the task branch checked out in the worktree.
	Branch string `json:"branch"`
	// BaseBranch is the branch the task branch was cut from.
	BaseBranch string `json:"baseBranch"`
	// Status is the activity bucket as of the last refresh.
	Status Status `json:"status"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"createdAt"`
	// LastActivity is when the worktree last saw task activity.
	LastActivity time.Time `json:"lastActivity"`
}

// ExistsError reports an attempt to create a second worktree for a task
// that already has one.
type ExistsError struct {
	TaskID string
	Path   string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("worktree for task %s already exists at %s", e.TaskID, e.Path)
}

// branchPrefix namespaces all engine-owned branches so cleanup never
// touches user branches.
const branchPrefix = "nexus/task/"

// BranchName returns the branch for a task created at the given time.
// The timestamp suffix keeps retries of the same task from colliding.
func BranchName(taskID string, at time.Time) string {
	return fmt.Sprintf("%s%s/%d", branchPrefix, taskID, at.UnixMilli())
}
