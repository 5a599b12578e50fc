package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexus-ai/nexus/internal/git"
)

// defaultMaxAge is how old a worktree must be before Cleanup removes it
// without Force.
const defaultMaxAge = time.Hour

// gitService is the slice of the git service the manager needs.
type gitService interface {
	git.WorktreeOperations
	git.BranchOperations
}

// RemoveOptions control Remove.
type RemoveOptions struct {
	// DeleteBranch also deletes the task branch. Branch-delete failures
	// are ignored; the branch may already be gone.
	DeleteBranch bool
}

// CleanupOptions control Cleanup.
type CleanupOptions struct {
	// MaxAge removes worktrees older than this. Zero means one hour.
	MaxAge time.Duration
	// Force removes every worktree regardless of age or status.
	Force bool
	// DryRun reports what would be removed without removing anything.
	DryRun bool
}

// CleanupReport summarizes a cleanup sweep.
type CleanupReport struct {
	Removed []string
	Failed  []string
	Skipped []string
}

// Manager creates and tears down task worktrees, keeping the registry in
// step with what git and the filesystem actually hold.
type Manager struct {
	repoRoot string
	baseDir  string
	git      gitService
	registry *Registry
	mu       sync.Mutex

	// now is swappable for tests.
	now func() time.Time

	// debugLog is an optional logger for debug output
	debugLog func(format string, args ...interface{})
}

// NewManager creates a manager rooted at the given repository. Worktrees
// live under <repoRoot>/.nexus/worktrees and the registry beside them.
func NewManager(repoRoot string, svc gitService) (*Manager, error) {
	baseDir := filepath.Join(repoRoot, ".nexus", "worktrees")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{
		repoRoot: repoRoot,
		baseDir:  baseDir,
		git:      svc,
		registry: NewRegistry(filepath.Join(baseDir, "registry.json"), baseDir),
		now:      time.Now,
		debugLog: func(format string, args ...interface{}) {},
	}, nil
}

// SetDebugLogger sets a logger for debug output.
func (m *Manager) SetDebugLogger(logger func(format string, args ...interface{})) {
	if logger != nil {
		m.debugLog = logger
	}
}

// BaseDir returns the directory worktrees are created under.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes a fresh worktree for the task, cut from baseBranch. A task
// that already has a worktree gets *ExistsError; callers decide whether to
// remove and retry.
func (m *Manager) Create(ctx context.Context, taskID, baseBranch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if taskID == "" {
		return nil, fmt.Errorf("create worktree: task id is empty")
	}
	if existing, ok := m.registry.Get(taskID); ok {
		return nil, &ExistsError{TaskID: taskID, Path: existing.Path}
	}

	now := m.now()
	wt := &Worktree{
		TaskID:       taskID,
		Path:         filepath.Join(m.baseDir, taskID),
		Branch:       BranchName(taskID, now),
		BaseBranch:   baseBranch,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := m.git.WorktreeAddNewBranch(ctx, wt.Path, wt.Branch, baseBranch); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}
	if err := m.registry.Put(wt); err != nil {
		// Roll the worktree back rather than leave it untracked.
		_ = m.git.WorktreeRemove(ctx, wt.Path, true)
		return nil, err
	}

	m.debugLog("[worktree] created %s on %s", wt.Path, wt.Branch)
	return wt, nil
}

// Get returns the registered worktree for taskID.
func (m *Manager) Get(taskID string) (*Worktree, bool) {
	return m.registry.Get(taskID)
}

// List returns all registered worktrees.
func (m *Manager) List() ([]*Worktree, error) {
	return m.registry.All()
}

// UpdateActivity records that the task's worktree just saw activity.
func (m *Manager) UpdateActivity(taskID string) error {
	return m.registry.Touch(taskID, m.now())
}

// RefreshStatus rebuckets every worktree by time since its last activity
// and returns the refreshed entries.
func (m *Manager) RefreshStatus() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entries, err := m.registry.All()
	if err != nil {
		return nil, err
	}
	for _, wt := range entries {
		status := StatusFor(now.Sub(wt.LastActivity))
		if status == wt.Status {
			continue
		}
		wt.Status = status
		if err := m.registry.SetStatus(wt.TaskID, status); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Remove tears down the task's worktree: directory, git bookkeeping,
// registry entry, and optionally the branch. Directory removal failures
// fall back to a force delete plus prune.
func (m *Manager) Remove(ctx context.Context, taskID string, opts RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.registry.Get(taskID)
	if !ok {
		return fmt.Errorf("no worktree registered for task %s", taskID)
	}
	return m.teardown(ctx, wt, opts.DeleteBranch)
}

// teardown removes directory, bookkeeping, registry entry, and optionally
// the branch. Callers hold m.mu.
func (m *Manager) teardown(ctx context.Context, wt *Worktree, deleteBranch bool) error {
	if err := m.git.WorktreeRemove(ctx, wt.Path, true); err != nil {
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", wt.Path, err)
		}
	}
	_ = m.git.WorktreePrune(ctx)
	if deleteBranch && wt.Branch != "" {
		// Branch may already be gone; that is fine.
		_ = m.git.DeleteBranch(ctx, wt.Branch, true)
	}
	return m.registry.Delete(wt.TaskID)
}

// Cleanup sweeps the registry, removing worktrees that are stale or older
// than MaxAge. Force removes everything; DryRun only reports. Entries whose
// removal fails are listed in Failed and retained.
func (m *Manager) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	entries, err := m.registry.All()
	if err != nil {
		return nil, err
	}

	now := m.now()
	report := &CleanupReport{}
	for _, wt := range entries {
		stale := StatusFor(now.Sub(wt.LastActivity)) == StatusStale
		old := now.Sub(wt.CreatedAt) > maxAge
		if !opts.Force && !stale && !old {
			report.Skipped = append(report.Skipped, wt.TaskID)
			continue
		}
		if opts.DryRun {
			report.Removed = append(report.Removed, wt.TaskID)
			continue
		}
		if err := m.teardown(ctx, wt, true); err != nil {
			m.debugLog("[worktree] cleanup of %s failed: %v", wt.TaskID, err)
			report.Failed = append(report.Failed, wt.TaskID)
			continue
		}
		report.Removed = append(report.Removed, wt.TaskID)
	}

	// Stray directories under baseDir that the registry does not know.
	dirEntries, err := os.ReadDir(m.baseDir)
	if err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("read worktree base directory: %w", err)
	}
	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}
		taskID := entry.Name()
		if _, ok := m.registry.Get(taskID); ok {
			continue
		}
		if opts.DryRun {
			report.Removed = append(report.Removed, taskID)
			continue
		}
		path := filepath.Join(m.baseDir, taskID)
		if err := m.git.WorktreeRemove(ctx, path, true); err != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				report.Failed = append(report.Failed, taskID)
				continue
			}
		}
		m.debugLog("[worktree] removed stray directory %s", path)
		report.Removed = append(report.Removed, taskID)
	}

	if !opts.DryRun {
		_ = m.git.WorktreePrune(ctx)
	}
	return report, nil
}

// Reconcile drops registry entries whose directories vanished and removes
// engine worktrees git still tracks that the registry forgot. activeTasks
// protects worktrees of tasks still running. Returns how many entries were
// repaired.
func (m *Manager) Reconcile(ctx context.Context, activeTasks []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(activeTasks))
	for _, id := range activeTasks {
		active[id] = true
	}

	removed := 0

	entries, err := m.registry.All()
	if err != nil {
		return 0, err
	}
	registered := make(map[string]bool, len(entries))
	for _, wt := range entries {
		registered[wt.Path] = true
		if active[wt.TaskID] {
			continue
		}
		if _, statErr := os.Stat(wt.Path); os.IsNotExist(statErr) {
			m.debugLog("[worktree] dropping registry entry for missing path %s", wt.Path)
			if err := m.registry.Delete(wt.TaskID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	// Engine worktrees git tracks but the registry forgot.
	output, err := m.git.WorktreeListPorcelain(ctx)
	if err == nil {
		for _, path := range parsePorcelainPaths(output) {
			if path == m.repoRoot || registered[path] {
				continue
			}
			if !strings.HasPrefix(path, m.baseDir+string(filepath.Separator)) {
				continue
			}
			if active[filepath.Base(path)] {
				continue
			}
			m.debugLog("[worktree] removing untracked engine worktree %s", path)
			if err := m.git.WorktreeRemove(ctx, path, true); err != nil {
				_ = os.RemoveAll(path)
			}
			removed++
		}
	}

	_ = m.git.WorktreePrune(ctx)
	return removed, nil
}

// parsePorcelainPaths extracts worktree paths from
// `git worktree list --porcelain` output.
func parsePorcelainPaths(output string) []string {
	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths
}
