package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/conflict"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/scheduler"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// tick runs one dispatch cycle: unblock recoverable tasks, filter the
// executable set through the conflict detector, rank and admit what fits
// the capacity envelope, then dispatch each admitted task to a worker.
// Lock order, where more than one subsystem is touched, is always
// graph -> workers -> detector -> store, matching every other call site.
func (o *Orchestrator) tick(ctx context.Context) {
	o.expireDeadlines()

	for _, t := range o.graph.Unblock() {
		o.bus.Publish(events.TaskUpdate(t))
	}

	executable := o.graph.GetExecutableTasks()
	if len(executable) == 0 {
		return
	}

	runningCPU, runningMemory, liveCount := o.runningTotals()

	// Conflicts are checked in priority order, reserving each survivor's
	// claim immediately so a later candidate in the same tick sees it as
	// held. Reservations for candidates the capacity filter ultimately
	// rejects are released below so they don't leak into the next tick.
	candidates := make([]*v1.Task, 0, len(executable))
	for _, t := range executable {
		conflicts := o.checkConflicts(t)
		if v1.HasError(conflicts) {
			o.holdForConflict(t, conflicts)
			continue
		}
		o.detector.Reservations().Allocate(conflict.Extract(t))
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return
	}

	limits := scheduler.Limits{
		CPUPercent:         o.cfg.Conflict.CPULimitPercent,
		MemoryMB:           o.cfg.Conflict.MemoryLimitMB,
		MaxConcurrentTasks: o.cfg.Orchestrator.MaxConcurrentTasks,
	}
	decisions := o.scheduler.Rank(candidates, runningCPU, runningMemory, liveCount, limits)

	admitted := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		admitted[d.Task.ID] = true
	}
	for _, t := range candidates {
		if !admitted[t.ID] {
			o.detector.Reservations().Release(t.ID)
		}
	}

	for _, d := range decisions {
		o.dispatch(d)
	}

	o.syncSession()
}

// holdForConflict records why an executable task was held back this tick on
// the task itself and broadcasts it, so a conflict reaches a submitter that
// is only watching task.update events rather than polling tool responses.
// Republishing is skipped once the same reason is already recorded.
func (o *Orchestrator) holdForConflict(t *v1.Task, conflicts []v1.Conflict) {
	msg := conflictSummary(conflicts)
	o.logger.Debug("task held back by conflict", zap.String("task_id", t.ID), zap.Int("conflicts", len(conflicts)))
	if t.Error == msg {
		return
	}
	t.Error = msg
	t.UpdatedAt = time.Now()
	o.bus.Publish(events.TaskUpdate(t))
}

// dispatch assigns one admitted scheduling decision to an idle matching
// worker, spawning one if none is available.
func (o *Orchestrator) dispatch(d v1.SchedulingDecision) {
	task := d.Task
	caps := capabilitiesParam(task.Parameters)
	w, ok := o.idleMatchingWorker(task.Type, caps)
	if !ok {
		spawned, err := o.workers.Spawn(task.Type, caps, "")
		if err != nil {
			o.failDispatch(task, err)
			return
		}
		lines := spawned.TailOutput()
		go func() {
			for l := range lines {
				o.bus.Publish(events.WorkerOutput(l.WorkerID, l.Stream, l.Content))
			}
		}()
		w = spawned.Snapshot()
	}

	command, err := o.renderer.Render(task)
	if err != nil {
		o.failDispatch(task, apperrors.New(apperrors.KindDispatchFailed, "Render", err))
		return
	}

	// task reached dispatch by surviving this tick's conflict check, so any
	// reason it was held back on a prior tick no longer applies.
	task.Error = ""

	if err := o.workers.AssignTask(w.ID, task.ID, command); err != nil {
		o.detector.Reservations().Release(task.ID)
		o.failDispatch(task, err)
		return
	}

	task.RenderedCommand = command
	if err := o.graph.MarkRunning(task.ID, w.ID, w.DescriptiveName); err != nil {
		o.logger.Warn("failed to mark task running", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	o.logger.Info("task dispatched", zap.String("task_id", task.ID), zap.String("worker_id", w.ID))
	o.bus.Publish(events.TaskUpdate(task))
	if updated, ok := o.workers.Get(w.ID); ok {
		snap := updated.Snapshot()
		o.bus.Publish(events.WorkerUpdate(&snap))
	}
}

func (o *Orchestrator) failDispatch(task *v1.Task, cause error) {
	if err := o.graph.MarkFailed(task.ID, cause); err != nil {
		o.logger.Warn("failed to mark task failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	o.logger.Warn("task dispatch failed", zap.String("task_id", task.ID), zap.Error(cause))
	o.bus.Publish(events.TaskFailed(task, cause.Error()))
	o.syncSession()
	if err := o.store.ForceSave(); err != nil {
		o.bus.Publish(events.SaveError(err))
	}
}

// expireDeadlines pauses and tears down the worker of any running task past
// its declared deadline, marking the task failed rather than leaving it
// running indefinitely.
func (o *Orchestrator) expireDeadlines() {
	now := time.Now()
	for _, t := range o.graph.All() {
		if t.Status != v1.TaskStatusRunning || t.Deadline == nil || now.Before(*t.Deadline) {
			continue
		}
		if t.AssignedWorker != "" {
			_ = o.workers.Pause(t.AssignedWorker)
			if err := o.workers.Teardown(t.AssignedWorker); err != nil {
				o.logger.Warn("failed to tear down worker past deadline", zap.String("worker_id", t.AssignedWorker), zap.Error(err))
			}
			o.detector.Reservations().Release(t.ID)
		}
		o.failDispatch(t, errors.New("deadline exceeded"))
	}
}

// CompleteTask transitions a running task to its terminal state, releasing
// its worker and reservations and feeding the scheduler's learning ring.
// Called once an agent reports its own task's outcome back to the hub.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string, success bool, errMsg string) error {
	task, ok := o.graph.Get(taskID)
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "CompleteTask", "task %q not found", taskID)
	}

	workerID := task.AssignedWorker
	var cpuPeak, memPeak float64
	if workerID != "" {
		if w, ok := o.workers.Get(workerID); ok {
			snap := w.Snapshot()
			cpuPeak, memPeak = snap.Resources.CPUPercent, snap.Resources.MemoryMB
		}
		o.workers.ReleaseTask(workerID)
	}
	o.detector.Reservations().Release(taskID)

	duration := time.Since(task.CreatedAt)
	o.scheduler.RecordOutcome(v1.TaskOutcome{
		TaskType:   task.Type,
		DurationMs: duration.Milliseconds(),
		Success:    success,
		CPUPeak:    cpuPeak,
		MemoryPeak: memPeak,
		RecordedAt: time.Now(),
	})

	if success {
		if err := o.graph.MarkCompleted(taskID); err != nil {
			return err
		}
		o.bus.Publish(events.TaskCompleted(task))
	} else {
		cause := errors.New(errMsg)
		if errMsg == "" {
			cause = errors.New("task reported failure")
		}
		if err := o.graph.MarkFailed(taskID, cause); err != nil {
			return err
		}
		o.bus.Publish(events.TaskFailed(task, cause.Error()))
	}

	o.syncSession()
	if err := o.store.ForceSave(); err != nil {
		o.bus.Publish(events.SaveError(err))
		return err
	}
	o.bus.Publish(events.StateSaved())
	return nil
}
