package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

type fakeGraph struct {
	tasks map[string]*v1.Task
	cycle bool
}

func (f *fakeGraph) Get(id string) (*v1.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeGraph) HasCycle(id string) bool { return f.cycle }

func TestDetectorFileConflictSeverity(t *testing.T) {
	d := NewDetector(Limits{})
	held := &v1.Task{ID: "held", Description: "read main.go for context"}
	d.Reservations().Allocate(Extract(held))

	readOnly := &v1.Task{ID: "reader", Description: "analyze main.go for bugs"}
	conflicts := d.Check(readOnly, &fakeGraph{tasks: map[string]*v1.Task{}}, 0, 0, nil)
	require.Len(t, conflicts, 1)
	assert.Equal(t, v1.SeverityWarning, conflicts[0].Severity)

	writer := &v1.Task{ID: "writer", Description: "modify main.go to add logging"}
	conflicts = d.Check(writer, &fakeGraph{tasks: map[string]*v1.Task{}}, 0, 0, nil)
	require.Len(t, conflicts, 1)
	assert.Equal(t, v1.SeverityError, conflicts[0].Severity)
}

func TestDetectorPortConflictIsAlwaysError(t *testing.T) {
	d := NewDetector(Limits{})
	held := &v1.Task{ID: "held", Description: "start server on port 8080"}
	d.Reservations().Allocate(Extract(held))

	candidate := &v1.Task{ID: "new", Description: "bind port 8080 for health checks"}
	conflicts := d.Check(candidate, &fakeGraph{tasks: map[string]*v1.Task{}}, 0, 0, nil)
	require.Len(t, conflicts, 1)
	assert.Equal(t, v1.ConflictPort, conflicts[0].Type)
	assert.Equal(t, v1.SeverityError, conflicts[0].Severity)
}

func TestDetectorExclusiveServiceConflict(t *testing.T) {
	d := NewDetector(Limits{ExclusiveServices: []string{"postgres"}})
	held := &v1.Task{ID: "held", Description: "migrate the postgres schema"}
	d.Reservations().Allocate(Extract(held))

	candidate := &v1.Task{ID: "new", Description: "query postgres for report data"}
	conflicts := d.Check(candidate, &fakeGraph{tasks: map[string]*v1.Task{}}, 0, 0, nil)
	require.Len(t, conflicts, 1)
	assert.Equal(t, v1.SeverityError, conflicts[0].Severity)
}

func TestDetectorDependencyConflicts(t *testing.T) {
	d := NewDetector(Limits{})
	graph := &fakeGraph{tasks: map[string]*v1.Task{
		"missing-ignored": {ID: "other", Status: v1.TaskStatusCompleted},
		"failed-dep":       {ID: "failed-dep", Status: v1.TaskStatusFailed},
	}}

	candidate := &v1.Task{ID: "candidate", Dependencies: []string{"absent", "failed-dep"}}
	conflicts := d.Check(candidate, graph, 0, 0, nil)

	require.Len(t, conflicts, 2)
	for _, c := range conflicts {
		assert.Equal(t, v1.ConflictDependency, c.Type)
		assert.Equal(t, v1.SeverityError, c.Severity)
	}
}

func TestDetectorResourceCapacityWarns(t *testing.T) {
	d := NewDetector(Limits{CPUPercent: 50, MemoryMB: 1024})
	candidate := &v1.Task{ID: "heavy", Type: v1.TaskTypeHiveMind}

	conflicts := d.Check(candidate, &fakeGraph{tasks: map[string]*v1.Task{}}, 0, 0, nil)
	var sawCapacity bool
	for _, c := range conflicts {
		if c.Type == v1.ConflictCapacity {
			sawCapacity = true
			assert.Equal(t, v1.SeverityWarning, c.Severity)
		}
	}
	assert.True(t, sawCapacity)
}

func TestReservationsAllocateReleaseIsIdempotent(t *testing.T) {
	r := NewReservations()
	c := Claim{TaskID: "t1", Files: []string{"a.go"}, Ports: []int{9000}, Services: []string{"redis"}}
	r.Allocate(c)
	r.Allocate(c) // re-allocating same task must not leak/duplicate

	_, ok := r.FileHolder("a.go")
	assert.True(t, ok)

	r.Release("t1")
	_, ok = r.FileHolder("a.go")
	assert.False(t, ok)
	_, ok = r.PortHolder(9000)
	assert.False(t, ok)
	_, ok = r.ServiceHolder("redis")
	assert.False(t, ok)

	r.Release("t1") // releasing again is a no-op, not an error
}
