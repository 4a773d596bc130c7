package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foofork/orchflow/internal/apperrors"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func newPending(id string, priority int, deps ...string) *v1.Task {
	return &v1.Task{
		ID:           id,
		Type:         v1.TaskTypeCode,
		Status:       v1.TaskStatusPending,
		Priority:     priority,
		Dependencies: deps,
	}
}

func TestGetExecutableTasksOrdersByPriorityThenInsertion(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("a", 1)))
	require.NoError(t, g.AddTask(newPending("b", 5)))
	require.NoError(t, g.AddTask(newPending("c", 5)))

	exec := g.GetExecutableTasks()
	ids := []string{exec[0].ID, exec[1].ID, exec[2].ID}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestGetExecutableTasksRequiresCompletedDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("base", 0)))
	require.NoError(t, g.AddTask(newPending("dependent", 0, "base")))

	exec := g.GetExecutableTasks()
	require.Len(t, exec, 1)
	assert.Equal(t, "base", exec[0].ID)

	require.NoError(t, g.MarkCompleted("base"))
	exec = g.GetExecutableTasks()
	require.Len(t, exec, 1)
	assert.Equal(t, "dependent", exec[0].ID)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("a", 0)))
	require.NoError(t, g.AddTask(newPending("b", 0, "a")))

	err := g.AddDependency("a", "b")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCycleDetected, kind)

	task, ok := g.Get("a")
	require.True(t, ok)
	assert.NotContains(t, task.Dependencies, "b")
}

func TestAddDependencyRejectsCycleThroughNewTask(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("a", 0)))
	require.NoError(t, g.AddTask(newPending("b", 0, "a")))

	// b already depends on a; a brand new task "c" depending on b is
	// accepted, but then making a depend on c would close a -> c -> b -> a
	// and must be rejected without leaving a with a dependency on c.
	err := g.AddTask(newPending("c", 0, "b"))
	require.NoError(t, err, "c -> b -> a is not itself a cycle yet")

	err = g.AddDependency("a", "c")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCycleDetected, kind)

	// a must not have picked up a dependency on c from the rejected edge.
	aTask, _ := g.Get("a")
	assert.NotContains(t, aTask.Dependencies, "c")
}

func TestAddTaskRollsBackBrandNewCyclicNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("a", 0, "b")))

	// b does not exist yet, so a -> b is accepted as a forward reference.
	// Submitting b for the first time with a dependency back on a would
	// close a -> b -> a; the whole submission of b must be rejected and b
	// must not be left in the graph at all.
	err := g.AddTask(newPending("b", 0, "a"))
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCycleDetected, kind)

	_, ok = g.Get("b")
	assert.False(t, ok, "b must not exist after its only dependency was rejected as a cycle")

	exec := g.GetExecutableTasks()
	assert.Empty(t, exec, "b must not be dispatched as a spurious standalone task")
}

func TestMarkFailedCascadesBlockedStatus(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("root", 0)))
	require.NoError(t, g.AddTask(newPending("mid", 0, "root")))
	require.NoError(t, g.AddTask(newPending("leaf", 0, "mid")))

	require.NoError(t, g.MarkFailed("root", nil))

	mid, _ := g.Get("mid")
	leaf, _ := g.Get("leaf")
	assert.Equal(t, v1.TaskStatusBlocked, mid.Status)
	assert.Equal(t, v1.TaskStatusBlocked, leaf.Status)

	assert.Empty(t, g.GetExecutableTasks())
}

func TestUnblockReturnsTasksOnceFailureResolved(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("root", 0)))
	require.NoError(t, g.AddTask(newPending("dependent", 0, "root")))
	require.NoError(t, g.MarkFailed("root", nil))

	dependent, _ := g.Get("dependent")
	require.Equal(t, v1.TaskStatusBlocked, dependent.Status)

	// simulate resubmission of root under a fresh id structure is out of
	// scope here; instead directly flip root back to completed to model the
	// "offending dependency later completes" re-check path.
	root, _ := g.Get("root")
	root.Status = v1.TaskStatusCompleted

	unblocked := g.Unblock()
	require.Len(t, unblocked, 1)
	assert.Equal(t, "dependent", unblocked[0].ID)
	assert.Equal(t, v1.TaskStatusPending, dependent.Status)
}

func TestStatusCounts(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(newPending("a", 0)))
	require.NoError(t, g.AddTask(newPending("b", 0)))
	require.NoError(t, g.MarkCompleted("a"))

	s := g.Status()
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Completed)
}
