package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	registryVersion = 1
	// lockStaleAfter is how old a lock file must be before another
	// process may steal it. Registry writes finish in milliseconds, so a
	// lock this old belongs to a dead process.
	lockStaleAfter = 5 * time.Second
	lockRetryEvery = 50 * time.Millisecond
	lockWaitLimit  = 10 * time.Second
)

// registryFile is the on-disk format.
type registryFile struct {
	Version     int                  `json:"version"`
	BaseDir     string               `json:"baseDir"`
	LastUpdated time.Time            `json:"lastUpdated"`
	Worktrees   map[string]*Worktree `json:"worktrees"`
}

// Registry persists worktree records to a JSON file guarded by a lock
// file, so concurrent engine processes (run + cleanup) stay consistent.
type Registry struct {
	path    string
	baseDir string
	mu      sync.Mutex
}

// NewRegistry opens (or prepares to create) the registry at path.
func NewRegistry(path, baseDir string) *Registry {
	return &Registry{path: path, baseDir: baseDir}
}

// Put inserts or replaces the record for wt.TaskID.
func (r *Registry) Put(wt *Worktree) error {
	return r.update(func(file *registryFile) {
		file.Worktrees[wt.TaskID] = wt
	})
}

// Delete removes the record for taskID. Missing records are not an error.
func (r *Registry) Delete(taskID string) error {
	return r.update(func(file *registryFile) {
		delete(file.Worktrees, taskID)
	})
}

// SetStatus updates the status of an existing record.
func (r *Registry) SetStatus(taskID string, status Status) error {
	var missing bool
	err := r.update(func(file *registryFile) {
		wt, ok := file.Worktrees[taskID]
		if !ok {
			missing = true
			return
		}
		wt.Status = status
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("no worktree registered for task %s", taskID)
	}
	return nil
}

// Touch updates the last-activity time of an existing record.
func (r *Registry) Touch(taskID string, at time.Time) error {
	var missing bool
	err := r.update(func(file *registryFile) {
		wt, ok := file.Worktrees[taskID]
		if !ok {
			missing = true
			return
		}
		wt.LastActivity = at
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("no worktree registered for task %s", taskID)
	}
	return nil
}

// Get returns the record for taskID.
func (r *Registry) Get(taskID string) (*Worktree, bool) {
	file, err := r.snapshot()
	if err != nil {
		return nil, false
	}
	wt, ok := file.Worktrees[taskID]
	return wt, ok
}

// All returns every record.
func (r *Registry) All() ([]*Worktree, error) {
	file, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]*Worktree, 0, len(file.Worktrees))
	for _, wt := range file.Worktrees {
		out = append(out, wt)
	}
	return out, nil
}

// update runs fn against the current file contents under the lock and
// writes the result back atomically.
func (r *Registry) update(fn func(*registryFile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	file, err := r.load()
	if err != nil {
		return err
	}
	fn(file)
	file.LastUpdated = time.Now().UTC()
	return r.save(file)
}

// snapshot reads the file without mutating it.
func (r *Registry) snapshot() (*registryFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.load()
}

func (r *Registry) load() (*registryFile, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return &registryFile{
			Version:   registryVersion,
			BaseDir:   r.baseDir,
			Worktrees: make(map[string]*Worktree),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read worktree registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse worktree registry: %w", err)
	}
	if file.Version != registryVersion {
		return nil, fmt.Errorf("worktree registry version %d not supported", file.Version)
	}
	if file.Worktrees == nil {
		file.Worktrees = make(map[string]*Worktree)
	}
	return &file, nil
}

// save writes via a temp file and rename so readers never see a torn file.
func (r *Registry) save(file *registryFile) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode worktree registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write worktree registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace worktree registry: %w", err)
	}
	return nil
}

// acquireLock takes the sibling .lock file, stealing it when stale.
func (r *Registry) acquireLock() (func(), error) {
	lockPath := filepath.Join(filepath.Dir(r.path), ".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create registry lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				os.Remove(lockPath)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("registry lock %s held for over %s", lockPath, lockWaitLimit)
		}
		time.Sleep(lockRetryEvery)
	}
}
