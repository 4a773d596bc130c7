package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/common/config"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/state"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func newTestOrchestrator(t *testing.T, tweak func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Orchestrator.TickInterval = time.Hour // never fires; tests call tick() directly
	cfg.Orchestrator.MaxConcurrentTasks = 10
	cfg.Worker.MaxWorkers = 10
	cfg.Worker.OutputRingSize = 100
	cfg.Worker.ResourcePollInterval = time.Hour
	cfg.Conflict.CPULimitPercent = 10000
	cfg.Conflict.MemoryLimitMB = 1000000
	cfg.Conflict.ExclusiveServices = []string{"postgres"}
	cfg.State.DataDir = t.TempDir()
	cfg.State.AutosaveMs = time.Hour
	if tweak != nil {
		tweak(cfg)
	}

	bus := events.NewMemoryBus(nil)
	t.Cleanup(bus.Close)

	store, err := state.Open(cfg.State.DataDir, cfg.State.AutosaveMs, nil)
	require.NoError(t, err)

	o, err := New(cfg, bus, store, nil)
	require.NoError(t, err)
	return o
}

func TestSubmitAndDispatchHappyPath(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	task, err := o.SubmitTask(ctx, v1.TaskTypeCode, "fix main.go", 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusPending, task.Status)

	o.tick(ctx)

	got, ok := o.graph.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, v1.TaskStatusRunning, got.Status)
	assert.NotEmpty(t, got.AssignedWorker)
	assert.NotEmpty(t, got.RenderedCommand)

	workers, err := o.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, got.AssignedWorker, workers[0].ID)
	assert.Equal(t, got.ID, workers[0].CurrentTask)
}

func TestGraphRejectsCycleBetweenSubmittedTasks(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	a, err := o.SubmitTask(ctx, v1.TaskTypeCode, "task a", 0, nil, nil)
	require.NoError(t, err)
	b, err := o.SubmitTask(ctx, v1.TaskTypeCode, "task b", 0, nil, []string{a.ID})
	require.NoError(t, err)

	err = o.graph.AddDependency(a.ID, b.ID)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCycleDetected, kind)
}

func TestCapacityThrottling(t *testing.T) {
	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Orchestrator.MaxConcurrentTasks = 1
	})
	ctx := context.Background()

	t1, err := o.SubmitTask(ctx, v1.TaskTypeCode, "first task", 10, nil, nil)
	require.NoError(t, err)
	t2, err := o.SubmitTask(ctx, v1.TaskTypeCode, "second task", 5, nil, nil)
	require.NoError(t, err)

	o.tick(ctx)

	got1, _ := o.graph.Get(t1.ID)
	got2, _ := o.graph.Get(t2.ID)
	assert.Equal(t, v1.TaskStatusRunning, got1.Status, "higher priority task should be admitted first")
	assert.Equal(t, v1.TaskStatusPending, got2.Status, "second task should wait for capacity")
}

func TestConflictingFileClaimsBlockSecondWriter(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	t1, err := o.SubmitTask(ctx, v1.TaskTypeCode, "write main.go", 10, map[string]any{"files": []string{"main.go"}}, nil)
	require.NoError(t, err)
	t2, err := o.SubmitTask(ctx, v1.TaskTypeCode, "modify main.go", 10, map[string]any{"files": []string{"main.go"}}, nil)
	require.NoError(t, err)

	o.tick(ctx)

	got1, _ := o.graph.Get(t1.ID)
	got2, _ := o.graph.Get(t2.ID)
	assert.Equal(t, v1.TaskStatusRunning, got1.Status)
	assert.Equal(t, v1.TaskStatusPending, got2.Status, "conflicting write claim should hold the second task back")
}

func TestCompleteTaskReleasesWorkerAndRecordsHistory(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	task, err := o.SubmitTask(ctx, v1.TaskTypeResearch, "investigate flaky test", 0, nil, nil)
	require.NoError(t, err)
	o.tick(ctx)

	got, _ := o.graph.Get(task.ID)
	require.Equal(t, v1.TaskStatusRunning, got.Status)
	workerID := got.AssignedWorker

	require.NoError(t, o.CompleteTask(ctx, task.ID, true, ""))

	completed, _ := o.graph.Get(task.ID)
	assert.Equal(t, v1.TaskStatusCompleted, completed.Status)

	w, ok := o.workers.Get(workerID)
	require.True(t, ok)
	assert.Empty(t, w.Snapshot().CurrentTask, "worker should be released back to idle")

	assert.Equal(t, 1.0, o.scheduler.History().SuccessRate(v1.TaskTypeResearch))
}

func TestStateRestartReconciliation(t *testing.T) {
	dataDir := t.TempDir()
	bus := events.NewMemoryBus(nil)
	t.Cleanup(bus.Close)

	store, err := state.Open(dataDir, time.Hour, nil)
	require.NoError(t, err)
	store.Mutate(func(s *v1.Session) {
		s.Tasks = append(s.Tasks, &v1.Task{
			ID:     "stale-task",
			Type:   v1.TaskTypeCode,
			Status: v1.TaskStatusRunning,
		})
	})
	require.NoError(t, store.ForceSave())

	cfg := &config.Config{}
	cfg.Worker.MaxWorkers = 10
	cfg.Orchestrator.TickInterval = time.Hour
	cfg.Orchestrator.MaxConcurrentTasks = 10
	cfg.State.DataDir = dataDir
	cfg.State.AutosaveMs = time.Hour
	cfg.Conflict.CPULimitPercent = 10000
	cfg.Conflict.MemoryLimitMB = 1000000

	o, err := New(cfg, bus, store, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(context.Background())

	got, ok := o.graph.Get("stale-task")
	require.True(t, ok)
	assert.Equal(t, v1.TaskStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)
}
