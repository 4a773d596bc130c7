// Package taskgraph maintains the dependency-aware DAG of tasks.
package taskgraph

import (
	"sort"
	"sync"
	"time"

	"github.com/foofork/orchflow/internal/apperrors"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Status is a point-in-time snapshot of graph counters.
type Status struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
}

type node struct {
	task        *v1.Task
	dependents  []string // tasks that depend on this one, insertion order
	seq         int      // insertion sequence, for stable tie-breaking
}

// Graph is a thread-safe DAG of tasks.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	seq   int
}

// New creates an empty task graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddTask inserts t and its declared dependency edges. Re-adding an existing
// id overwrites the task's fields but preserves the dependents computed so
// far (I1). Edges to unknown predecessors are accepted; the task is simply
// unexecutable until they appear. If any edge would create a cycle, AddTask
// rolls back every edge it added during this call and, for a task id that
// did not previously exist, removes the node entirely, so no half-wired
// orphan is left. For an id that already existed, the overwritten task
// fields are not restored.
func (g *Graph) AddTask(t *v1.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, existed := g.nodes[t.ID]
	if existed {
		g.nodes[t.ID].task = t
	} else {
		g.seq++
		n := &node{task: t, seq: g.seq}
		// pick up tasks added earlier that already named this id as a
		// (forward-referenced) dependency
		for id, other := range g.nodes {
			if containsString(other.task.Dependencies, t.ID) {
				n.dependents = append(n.dependents, id)
			}
		}
		sort.Slice(n.dependents, func(i, j int) bool { return g.nodes[n.dependents[i]].seq < g.nodes[n.dependents[j]].seq })
		g.nodes[t.ID] = n
	}

	added := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if err := g.addDependencyLocked(t.ID, dep); err != nil {
			for _, d := range added {
				g.removeDependencyLocked(t.ID, d)
			}
			if !existed {
				delete(g.nodes, t.ID)
			}
			return err
		}
		added = append(added, dep)
	}
	return nil
}

// removeDependencyLocked undoes a previously committed "a depends on b"
// edge: the dependency entry on a and the dependent entry on b.
func (g *Graph) removeDependencyLocked(a, b string) {
	if na, ok := g.nodes[a]; ok {
		na.task.Dependencies = removeString(na.task.Dependencies, b)
	}
	if nb, ok := g.nodes[b]; ok {
		nb.dependents = removeString(nb.dependents, a)
	}
}

// AddDependency records "a depends on b" after checking it would not
// introduce a cycle.
func (g *Graph) AddDependency(a, b string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addDependencyLocked(a, b)
}

func (g *Graph) addDependencyLocked(a, b string) error {
	na, ok := g.nodes[a]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "AddDependency", "task %q not found", a)
	}
	already := false
	for _, d := range na.task.Dependencies {
		if d == b {
			already = true
			break
		}
	}
	if !already {
		na.task.Dependencies = append(na.task.Dependencies, b)
	}

	if g.wouldCycleLocked(a) {
		// roll back
		na.task.Dependencies = removeString(na.task.Dependencies, b)
		return apperrors.Newf(apperrors.KindCycleDetected, "AddDependency", "adding %q -> %q would create a cycle", a, b)
	}

	if nb, ok := g.nodes[b]; ok {
		if !containsString(nb.dependents, a) {
			nb.dependents = append(nb.dependents, a)
		}
	}
	return nil
}

// wouldCycleLocked runs a DFS with a recursion stack starting from start,
// reporting whether the dependency graph (as currently recorded) contains a
// cycle reachable from start. Must be called with g.mu held.
func (g *Graph) wouldCycleLocked(start string) bool {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		if onStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		onStack[id] = true
		if n, ok := g.nodes[id]; ok {
			for _, dep := range n.task.Dependencies {
				if visit(dep) {
					return true
				}
			}
		}
		onStack[id] = false
		return false
	}
	return visit(start)
}

// GetExecutableTasks returns all pending tasks whose every dependency is
// completed, sorted by priority descending with insertion-order tie-break.
func (g *Graph) GetExecutableTasks() []*v1.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*node
	for _, n := range g.nodes {
		if n.task.Status != v1.TaskStatusPending {
			continue
		}
		if g.allDepsCompletedLocked(n.task) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].task.Priority != out[j].task.Priority {
			return out[i].task.Priority > out[j].task.Priority
		}
		return out[i].seq < out[j].seq
	})

	tasks := make([]*v1.Task, len(out))
	for i, n := range out {
		tasks[i] = n.task
	}
	return tasks
}

func (g *Graph) allDepsCompletedLocked(t *v1.Task) bool {
	for _, dep := range t.Dependencies {
		dn, ok := g.nodes[dep]
		if !ok || dn.task.Status != v1.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// MarkRunning transitions a pending task to running and records which
// worker it was dispatched to.
func (g *Graph) MarkRunning(id, workerID, workerName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "MarkRunning", "task %q not found", id)
	}
	n.task.Status = v1.TaskStatusRunning
	n.task.AssignedWorker = workerID
	n.task.AssignedWorkerName = workerName
	n.task.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted transitions a task to completed (I4: terminal). Any pending
// dependent whose deps are now all satisfied will surface from
// GetExecutableTasks on the next call; blocked dependents of OTHER failed
// tasks are left alone.
func (g *Graph) MarkCompleted(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "MarkCompleted", "task %q not found", id)
	}
	n.task.Status = v1.TaskStatusCompleted
	n.task.UpdatedAt = time.Now()

	// Recheck any blocked dependents: if this completion was the last
	// blocking cause, they may return to pending once re-evaluated by the
	// caller's tick (I3 is re-checked on every tick, not eagerly here).
	return nil
}

// MarkFailed transitions a task to failed and cascades a blocked status to
// every pending (transitive) dependent (I3).
func (g *Graph) MarkFailed(id string, cause error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "MarkFailed", "task %q not found", id)
	}
	n.task.Status = v1.TaskStatusFailed
	n.task.UpdatedAt = time.Now()
	if cause != nil {
		n.task.Error = cause.Error()
	}

	g.cascadeBlockLocked(id, make(map[string]bool))
	return nil
}

func (g *Graph) cascadeBlockLocked(failedID string, seen map[string]bool) {
	n, ok := g.nodes[failedID]
	if !ok || seen[failedID] {
		return
	}
	seen[failedID] = true
	for _, depID := range n.dependents {
		dn, ok := g.nodes[depID]
		if !ok {
			continue
		}
		if dn.task.Status == v1.TaskStatusPending {
			dn.task.Status = v1.TaskStatusBlocked
			dn.task.UpdatedAt = time.Now()
		}
		g.cascadeBlockLocked(depID, seen)
	}
}

// Unblock re-checks every blocked task and returns any whose offending
// dependency chain no longer contains a failure, transitioning them back to
// pending. Called once per orchestrator tick.
func (g *Graph) Unblock() []*v1.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var unblocked []*v1.Task
	for _, n := range g.nodes {
		if n.task.Status != v1.TaskStatusBlocked {
			continue
		}
		if !g.hasFailedDependencyLocked(n.task, make(map[string]bool)) {
			n.task.Status = v1.TaskStatusPending
			n.task.UpdatedAt = time.Now()
			unblocked = append(unblocked, n.task)
		}
	}
	return unblocked
}

func (g *Graph) hasFailedDependencyLocked(t *v1.Task, seen map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		dn, ok := g.nodes[dep]
		if !ok {
			continue
		}
		if dn.task.Status == v1.TaskStatusFailed {
			return true
		}
		if g.hasFailedDependencyLocked(dn.task, seen) {
			return true
		}
	}
	return false
}

// HasCycle reports whether the dependency graph currently contains a cycle
// reachable from id. Used by the conflict detector's dependency check; under
// normal operation AddTask/AddDependency already reject edges that would
// create one, so this only fires if the caller bypassed those entry points.
func (g *Graph) HasCycle(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.wouldCycleLocked(id)
}

// Get returns the task with the given id, if present.
func (g *Graph) Get(id string) (*v1.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.task, true
}

// All returns every task currently in the graph, insertion order.
func (g *Graph) All() []*v1.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ordered := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]*v1.Task, len(ordered))
	for i, n := range ordered {
		out[i] = n.task
	}
	return out
}

// Remove detaches a task and symmetrically removes its edges.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for _, dep := range n.task.Dependencies {
		if dn, ok := g.nodes[dep]; ok {
			dn.dependents = removeString(dn.dependents, id)
		}
	}
	for _, depID := range n.dependents {
		if dn, ok := g.nodes[depID]; ok {
			dn.task.Dependencies = removeString(dn.task.Dependencies, id)
		}
	}
	delete(g.nodes, id)
}

// Status returns current counters across all tasks.
func (g *Graph) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var s Status
	for _, n := range g.nodes {
		switch n.task.Status {
		case v1.TaskStatusPending:
			s.Pending++
		case v1.TaskStatusRunning:
			s.Running++
		case v1.TaskStatusCompleted:
			s.Completed++
		case v1.TaskStatusFailed:
			s.Failed++
		case v1.TaskStatusBlocked:
			s.Blocked++
		}
	}
	return s
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
