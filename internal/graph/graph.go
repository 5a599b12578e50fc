// Package graph resolves task dependencies into an executable schedule:
// wave partitioning, topological ordering, cycle detection, and the
// critical path. Operations are stateless over the task slice they are
// given; the resolver only carries configuration.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nexus-ai/nexus/pkg/models"
)

// defaultMaxWaveDepth bounds wave calculation on degenerate inputs.
const defaultMaxWaveDepth = 100

// CircularDependencyError reports tasks that could not be ordered because
// they form (or depend on) a cycle.
type CircularDependencyError struct {
	// Remaining holds the names of the tasks left unsorted.
	Remaining []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency among tasks: %s", strings.Join(e.Remaining, ", "))
}

// Resolver derives schedules from task dependency declarations.
type Resolver struct {
	maxWaveDepth int
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// NewResolver creates a resolver with default limits.
func NewResolver() *Resolver {
	return &Resolver{
		maxWaveDepth: defaultMaxWaveDepth,
		debugLog:     func(format string, args ...interface{}) {},
	}
}

// SetMaxWaveDepth overrides the wave depth bound.
func (r *Resolver) SetMaxWaveDepth(depth int) {
	if depth > 0 {
		r.maxWaveDepth = depth
	}
}

// SetDebugLog sets the debug logging function.
func (r *Resolver) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// CalculateWaves partitions tasks into waves by iteratively peeling off
// every task whose dependencies are already satisfied. A stall (remaining
// tasks, none eligible — cycles or unknown dependencies) is broken by
// force-admitting the first stalled task so scheduling always terminates.
// Each task's WaveID is stamped; waves are ordered deterministically by
// priority ascending then ID.
func (r *Resolver) CalculateWaves(tasks []*models.Task) []*models.Wave {
	satisfied := make(map[string]bool, len(tasks))
	remaining := make([]*models.Task, len(tasks))
	copy(remaining, tasks)
	sortTasks(remaining)

	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		known[task.ID] = true
	}

	var waves []*models.Wave
	for len(remaining) > 0 {
		var wave []*models.Task
		var next []*models.Task
		for _, task := range remaining {
			eligible := true
			for _, depID := range task.DependsOn {
				if !satisfied[depID] {
					eligible = false
					break
				}
			}
			if eligible {
				wave = append(wave, task)
			} else {
				next = append(next, task)
			}
		}

		if len(wave) == 0 {
			// Stall: cycle or unresolved dependency. Admit the first
			// stalled task so the schedule still terminates.
			stuck := next[0]
			r.debugLog("[graph] warning: forcing task %s (%s) into wave %d despite unmet dependencies %v",
				stuck.ID, stuck.Name, len(waves), unmet(stuck, satisfied, known))
			wave = append(wave, stuck)
			next = next[1:]
		}

		if len(waves) >= r.maxWaveDepth-1 && len(next) > 0 {
			// Depth bound reached: flush everything into the final wave.
			r.debugLog("[graph] warning: wave depth limit %d reached, admitting %d remaining tasks",
				r.maxWaveDepth, len(next))
			wave = append(wave, next...)
			next = nil
		}

		for _, task := range wave {
			satisfied[task.ID] = true
		}

		wv := &models.Wave{ID: len(waves), Tasks: wave}
		for _, task := range wave {
			task.WaveID = wv.ID
			wv.EstimatedMinutes += task.EstimatedMinutes
		}
		waves = append(waves, wv)
		remaining = next
	}

	r.debugLog("[graph] partitioned %d tasks into %d waves", len(tasks), len(waves))
	return waves
}

// unmet lists a task's unsatisfied dependency IDs, flagging unknown ones.
func unmet(task *models.Task, satisfied, known map[string]bool) []string {
	var out []string
	for _, depID := range task.DependsOn {
		if satisfied[depID] {
			continue
		}
		if !known[depID] {
			out = append(out, depID+" (unknown)")
		} else {
			out = append(out, depID)
		}
	}
	return out
}

// TopologicalSort orders tasks so every dependency precedes its dependents,
// using Kahn's algorithm. Returns CircularDependencyError naming the tasks
// that could not be placed.
func (r *Resolver) TopologicalSort(tasks []*models.Task) ([]*models.Task, error) {
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		inDegree[task.ID] = 0
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := byID[depID]; !exists {
				// Unknown dependencies cannot block the sort.
				continue
			}
			inDegree[task.ID]++
			dependents[depID] = append(dependents[depID], task.ID)
		}
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var ordered []*models.Task
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])

		var unblocked []string
		for _, depID := range dependents[id] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				unblocked = append(unblocked, depID)
			}
		}
		sort.Strings(unblocked)
		queue = append(queue, unblocked...)
	}

	if len(ordered) != len(tasks) {
		placed := make(map[string]bool, len(ordered))
		for _, task := range ordered {
			placed[task.ID] = true
		}
		var remaining []string
		for _, task := range tasks {
			if !placed[task.ID] {
				remaining = append(remaining, task.Name)
			}
		}
		sort.Strings(remaining)
		return nil, &CircularDependencyError{Remaining: remaining}
	}
	return ordered, nil
}

// DetectCycles returns every distinct dependency cycle as a path of task
// IDs, first and last element equal.
func (r *Resolver) DetectCycles(tasks []*models.Task) [][]string {
	byID := make(map[string]*models.Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		ids = append(ids, task.ID)
	}
	sort.Strings(ids)

	// 0 = unvisited, 1 = on stack, 2 = done.
	colors := make(map[string]int, len(tasks))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = 1
		stack = append(stack, id)

		task := byID[id]
		for _, depID := range task.DependsOn {
			if _, exists := byID[depID]; !exists {
				continue
			}
			switch colors[depID] {
			case 1:
				// Back edge: slice the stack from depID to here.
				for i, onStack := range stack {
					if onStack == depID {
						cycle := append([]string{}, stack[i:]...)
						cycle = append(cycle, depID)
						cycles = append(cycles, cycle)
						break
					}
				}
			case 0:
				visit(depID)
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
	}

	for _, id := range ids {
		if colors[id] == 0 {
			visit(id)
		}
	}
	return cycles
}

// CriticalPath returns the dependency chain with the largest total
// estimated time, the lower bound on schedule length however wide the
// agent pool is. Longest-path costs are memoized per task.
func (r *Resolver) CriticalPath(tasks []*models.Task) []*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	type pathInfo struct {
		minutes int
		next    string
	}
	memo := make(map[string]pathInfo, len(tasks))
	visiting := make(map[string]bool)

	// cost is the task's own time plus the most expensive dependency chain
	// under it. Cycles contribute zero rather than recursing forever.
	var cost func(id string) pathInfo
	cost = func(id string) pathInfo {
		if info, ok := memo[id]; ok {
			return info
		}
		if visiting[id] {
			return pathInfo{}
		}
		visiting[id] = true
		defer delete(visiting, id)

		task := byID[id]
		best := pathInfo{minutes: task.EstimatedMinutes}
		for _, depID := range task.DependsOn {
			if _, exists := byID[depID]; !exists {
				continue
			}
			if chain := cost(depID); task.EstimatedMinutes+chain.minutes > best.minutes {
				best = pathInfo{minutes: task.EstimatedMinutes + chain.minutes, next: depID}
			}
		}
		memo[id] = best
		return best
	}

	var startID string
	bestMinutes := -1
	idsSorted := make([]string, 0, len(tasks))
	for _, task := range tasks {
		idsSorted = append(idsSorted, task.ID)
	}
	sort.Strings(idsSorted)
	for _, id := range idsSorted {
		if info := cost(id); info.minutes > bestMinutes {
			bestMinutes = info.minutes
			startID = id
		}
	}

	// Walk from the most expensive endpoint down its chain, then reverse
	// so the path reads in execution order.
	var reversed []*models.Task
	for id := startID; id != ""; id = memo[id].next {
		reversed = append(reversed, byID[id])
	}
	path := make([]*models.Task, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// AllDependencies returns the transitive dependency IDs of a task, sorted.
func (r *Resolver) AllDependencies(tasks []*models.Task, taskID string) []string {
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		task, exists := byID[id]
		if !exists {
			return
		}
		for _, depID := range task.DependsOn {
			if !seen[depID] {
				seen[depID] = true
				walk(depID)
			}
		}
	}
	walk(taskID)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the IDs of tasks that directly depend on taskID, sorted.
func (r *Resolver) Dependents(tasks []*models.Task, taskID string) []string {
	var out []string
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if depID == taskID {
				out = append(out, task.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// NextAvailable returns pending tasks whose dependencies are all in
// completedIDs, in deterministic dispatch order.
func (r *Resolver) NextAvailable(tasks []*models.Task, completedIDs []string) []*models.Task {
	completed := make(map[string]bool, len(completedIDs))
	for _, id := range completedIDs {
		completed[id] = true
	}

	var available []*models.Task
	for _, task := range tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		ready := true
		for _, depID := range task.DependsOn {
			if !completed[depID] {
				ready = false
				break
			}
		}
		if ready {
			available = append(available, task)
		}
	}
	sortTasks(available)
	return available
}

// Validate checks the dependency declarations. Self-dependencies and
// cycles are fatal; unknown dependencies only produce warnings, since
// decomposition may leave unresolved names behind deliberately.
func (r *Resolver) Validate(tasks []*models.Task) ([]string, error) {
	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		known[task.ID] = true
	}

	var warnings []string
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if depID == task.ID {
				return warnings, fmt.Errorf("task %s (%s) depends on itself", task.ID, task.Name)
			}
			if !known[depID] {
				warnings = append(warnings, fmt.Sprintf("task %s depends on unknown task %s", task.ID, depID))
			}
		}
	}

	if cycles := r.DetectCycles(tasks); len(cycles) > 0 {
		return warnings, fmt.Errorf("dependency cycle: %s", strings.Join(cycles[0], " -> "))
	}
	return warnings, nil
}

// sortTasks orders by priority ascending, then ID, matching queue dispatch
// order so waves and queue agree.
func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(a, b int) bool {
		if tasks[a].Priority != tasks[b].Priority {
			return tasks[a].Priority < tasks[b].Priority
		}
		return tasks[a].ID < tasks[b].ID
	})
}
