// Package queue holds decomposed tasks and hands them out wave by wave.
// The queue is the single source of truth for task status during a run:
// the coordinator enqueues and dequeues, running tasks report back through
// MarkComplete, MarkFailed, and UpdateStatus, and a task stays findable by
// id from enqueue until it is terminally marked.
package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/pkg/models"
)

// ErrTaskNotFound reports an operation against a task id the queue does
// not hold.
type ErrTaskNotFound struct {
	TaskID string
}

func (e *ErrTaskNotFound) Error() string {
	return fmt.Sprintf("task %s not found in queue", e.TaskID)
}

// Queue schedules tasks by wave, priority, and age. Tasks live in one of
// two sets: queued (eligible for dispatch) and assigned (dequeued but not
// yet terminally marked).
type Queue struct {
	mu sync.Mutex

	queued   map[string]*models.Task
	assigned map[string]*models.Task

	completedIDs map[string]bool
	failedIDs    map[string]bool

	currentWave int
	maxWave     int

	events *bus.Bus
}

// New creates an empty queue. events may be nil; status changes are then
// not broadcast.
func New(events *bus.Bus) *Queue {
	return &Queue{
		queued:       make(map[string]*models.Task),
		assigned:     make(map[string]*models.Task),
		completedIDs: make(map[string]bool),
		failedIDs:    make(map[string]bool),
		events:       events,
	}
}

// Enqueue adds a task under the given wave. The task's WaveID is stamped.
func (q *Queue) Enqueue(task *models.Task, waveID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task.WaveID = waveID
	q.queued[task.ID] = task
	if waveID > q.maxWave {
		q.maxWave = waveID
	}
}

// Dequeue returns the highest-priority ready task and moves it to the
// assigned set, or nil when nothing is ready. It never blocks.
func (q *Queue) Dequeue() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := q.readyLocked()
	if len(ready) == 0 {
		return nil
	}
	task := ready[0]
	delete(q.queued, task.ID)
	q.assigned[task.ID] = task
	return task
}

// Peek returns the task Dequeue would return, without dequeuing it.
func (q *Queue) Peek() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := q.readyLocked()
	if len(ready) == 0 {
		return nil
	}
	return ready[0]
}

// ReadyTasks returns every queued task whose wave has been reached and
// whose dependencies are all completed, in dispatch order.
func (q *Queue) ReadyTasks() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked()
}

// readyLocked computes the ready set in dispatch order. Callers hold q.mu.
func (q *Queue) readyLocked() []*models.Task {
	var ready []*models.Task
	for _, task := range q.queued {
		if task.WaveID > q.currentWave {
			continue
		}
		if !q.depsCompletedLocked(task) {
			continue
		}
		ready = append(ready, task)
	}
	sortTasks(ready)
	return ready
}

func (q *Queue) depsCompletedLocked(task *models.Task) bool {
	for _, dep := range task.DependsOn {
		if !q.completedIDs[dep] {
			return false
		}
	}
	return true
}

// Get looks up a task by id in both the queued and assigned sets. It
// returns nil once the task has been terminally marked.
func (q *Queue) Get(id string) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked(id)
}

func (q *Queue) getLocked(id string) *models.Task {
	if task, ok := q.queued[id]; ok {
		return task
	}
	if task, ok := q.assigned[id]; ok {
		return task
	}
	return nil
}

// ByWave returns every live task in the given wave, queued or assigned.
func (q *Queue) ByWave(waveID int) []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.Task
	for _, task := range q.queued {
		if task.WaveID == waveID {
			out = append(out, task)
		}
	}
	for _, task := range q.assigned {
		if task.WaveID == waveID {
			out = append(out, task)
		}
	}
	sortTasks(out)
	return out
}

// UpdateStatus moves a live task to a new status, enforcing the forward-
// only transition machine, and emits task:status-changed.
func (q *Queue) UpdateStatus(id string, status models.TaskStatus) error {
	q.mu.Lock()
	task := q.getLocked(id)
	if task == nil {
		q.mu.Unlock()
		return &ErrTaskNotFound{TaskID: id}
	}
	if !task.Status.CanTransitionTo(status) {
		q.mu.Unlock()
		return fmt.Errorf("task %s: illegal status transition %s -> %s", id, task.Status, status)
	}
	task.Status = status
	name := task.Name
	wave := task.WaveID
	q.mu.Unlock()

	if q.events != nil {
		q.events.Emit(bus.TaskStatusChanged, bus.TaskPayload{
			TaskID:   id,
			TaskName: name,
			WaveID:   wave,
			Status:   status,
		}, bus.EmitOptions{Source: "queue"})
	}
	return nil
}

// MarkComplete records the task as completed and drops it from lookup.
func (q *Queue) MarkComplete(id string) error {
	return q.markTerminal(id, true)
}

// MarkFailed records the task as failed and drops it from lookup.
func (q *Queue) MarkFailed(id string) error {
	return q.markTerminal(id, false)
}

func (q *Queue) markTerminal(id string, completed bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.getLocked(id)
	if task == nil {
		return &ErrTaskNotFound{TaskID: id}
	}
	delete(q.queued, id)
	delete(q.assigned, id)
	if completed {
		q.completedIDs[id] = true
	} else {
		q.failedIDs[id] = true
	}
	q.advanceWaveLocked()
	return nil
}

// advanceWaveLocked moves currentWave forward to the next wave that still
// has work, skipping waves left empty by failures or uneven decomposition.
// Callers hold q.mu.
func (q *Queue) advanceWaveLocked() {
	for q.currentWave < q.maxWave {
		if q.waveHasWorkLocked(q.currentWave) {
			return
		}
		q.currentWave++
	}
}

func (q *Queue) waveHasWorkLocked(waveID int) bool {
	for _, task := range q.queued {
		if task.WaveID == waveID {
			return true
		}
	}
	for _, task := range q.assigned {
		if task.WaveID == waveID {
			return true
		}
	}
	return false
}

// CurrentWave returns the wave the queue is currently dispatching.
func (q *Queue) CurrentWave() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentWave
}

// BlockedTasks returns queued tasks that can never become ready because a
// dependency failed. The coordinator fails these rather than letting a
// wave hang forever.
func (q *Queue) BlockedTasks() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var blocked []*models.Task
	for _, task := range q.queued {
		for _, dep := range task.DependsOn {
			if q.failedIDs[dep] {
				blocked = append(blocked, task)
				break
			}
		}
	}
	sortTasks(blocked)
	return blocked
}

// Counts reports the queue's population by bucket.
func (q *Queue) Counts() (queued, assigned, completed, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued), len(q.assigned), len(q.completedIDs), len(q.failedIDs)
}

// CompletedIDs returns the ids of tasks marked complete.
func (q *Queue) CompletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return idsOf(q.completedIDs)
}

// FailedIDs returns the ids of tasks marked failed.
func (q *Queue) FailedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return idsOf(q.failedIDs)
}

func idsOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// sortTasks orders by wave ascending, then priority ascending, then
// creation time, then id for determinism.
func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.WaveID != b.WaveID {
			return a.WaveID < b.WaveID
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
