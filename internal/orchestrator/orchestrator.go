// Package orchestrator wires the task graph, conflict detector, scheduler,
// worker manager, command renderer, state store and event bus into the
// single dispatch loop that drives orchflow, and exposes the narrow surface
// the RPC hub's built-in tools call into.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/config"
	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/conflict"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/render"
	"github.com/foofork/orchflow/internal/scheduler"
	"github.com/foofork/orchflow/internal/state"
	"github.com/foofork/orchflow/internal/taskgraph"
	"github.com/foofork/orchflow/internal/worker"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Orchestrator owns every subsystem and runs the fixed-interval dispatch
// tick that moves tasks from pending through running to a terminal state.
type Orchestrator struct {
	cfg *config.Config

	graph     *taskgraph.Graph
	detector  *conflict.Detector
	scheduler *scheduler.Scheduler
	workers   *worker.Manager
	renderer  render.CommandRenderer
	store     *state.Store
	bus       events.Bus
	logger    *logger.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stopTick  chan struct{}
	tickWg    sync.WaitGroup
}

// New wires a fresh Orchestrator. bus and store are supplied rather than
// constructed here so a caller (the RPC hub, a CLI entrypoint's shutdown
// sequence) can hold and close the same instances.
func New(cfg *config.Config, bus events.Bus, store *state.Store, log *logger.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logger.Default()
	}
	renderer, err := render.NewTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build command renderer: %w", err)
	}

	detector := conflict.NewDetector(conflict.Limits{
		CPUPercent:        cfg.Conflict.CPULimitPercent,
		MemoryMB:          cfg.Conflict.MemoryLimitMB,
		ExclusiveServices: cfg.Conflict.ExclusiveServices,
	})

	o := &Orchestrator{
		cfg:       cfg,
		graph:     taskgraph.New(),
		detector:  detector,
		scheduler: scheduler.New(log),
		workers: worker.NewManager(worker.Config{
			MaxWorkers:           cfg.Worker.MaxWorkers,
			OutputRingSize:       cfg.Worker.OutputRingSize,
			ResourcePollInterval: cfg.Worker.ResourcePollInterval,
		}, nil, nil, log),
		renderer: renderer,
		store:    store,
		bus:      bus,
		logger:   log.WithFields(zap.String("component", "orchestrator")),
	}
	return o, nil
}

// Start reconciles any persisted session into the task graph, then starts
// resource polling, autosave and the dispatch tick, in that order. None of
// these stages reports a start error; Start fails only when the
// orchestrator is already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator: already running")
	}

	o.reconcileLocked()

	o.workers.StartResourcePolling(ctx)
	o.store.StartAutosave()

	o.stopTick = make(chan struct{})
	interval := o.cfg.Orchestrator.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	o.tickWg.Add(1)
	go o.tickLoop(ctx, interval)

	o.running = true
	o.startedAt = time.Now()
	o.logger.Info("orchestrator started", zap.Duration("tick_interval", interval))
	return nil
}

// reconcileLocked replays the persisted session into the task graph. Workers
// never survive a process restart, so any task still running when the
// session was last saved is reported failed rather than silently dropped.
// Must be called with o.mu held.
func (o *Orchestrator) reconcileLocked() {
	session := o.store.Session()
	for _, t := range session.Tasks {
		if t.Status == v1.TaskStatusRunning {
			t.Status = v1.TaskStatusFailed
			t.Error = "interrupted by restart"
			t.UpdatedAt = time.Now()
		}
		if err := o.graph.AddTask(t); err != nil {
			o.logger.Warn("failed to reconcile persisted task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
	if len(session.Tasks) > 0 {
		o.logger.Info("reconciled persisted session", zap.Int("tasks", len(session.Tasks)))
	}
}

// Stop halts the dispatch tick, resource polling and autosave, in reverse
// start order, flushing a final snapshot before returning. Errors from
// individual stages are collected; the first is returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}

	close(o.stopTick)
	o.tickWg.Wait()

	o.workers.StopResourcePolling()

	var firstErr error
	if err := o.store.Shutdown(); err != nil {
		firstErr = fmt.Errorf("orchestrator: final snapshot flush: %w", err)
	}

	o.running = false
	o.logger.Info("orchestrator stopped", zap.Duration("uptime", time.Since(o.startedAt)))
	return firstErr
}

func (o *Orchestrator) tickLoop(ctx context.Context, interval time.Duration) {
	defer o.tickWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopTick:
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// syncSession rewrites the store's task and worker lists from the live
// graph and worker manager. Callers decide whether the resulting mutation
// is forced to disk immediately or left for the next autosave tick.
func (o *Orchestrator) syncSession() {
	tasks := o.graph.All()
	workerList := o.workers.List()
	workerPtrs := make([]*v1.Worker, len(workerList))
	for i := range workerList {
		w := workerList[i]
		workerPtrs[i] = &w
	}
	o.store.Mutate(func(s *v1.Session) {
		s.Tasks = tasks
		s.Workers = workerPtrs
	})
}

func capabilitiesParam(params map[string]any) []string {
	raw, ok := params["capabilities"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// idleMatchingWorker returns the lowest-CPU idle worker whose type matches
// taskType and whose declared capabilities cover every one of requiredCaps,
// if any.
func (o *Orchestrator) idleMatchingWorker(taskType v1.TaskType, requiredCaps []string) (v1.Worker, bool) {
	candidates := make([]v1.Worker, 0)
	for _, w := range o.workers.List() {
		if w.Status != v1.WorkerStatusRunning || w.CurrentTask != "" || w.Type != taskType {
			continue
		}
		if !workerHasCapabilities(w, requiredCaps) {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return v1.Worker{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Resources.CPUPercent < candidates[j].Resources.CPUPercent })
	return candidates[0], true
}

func workerHasCapabilities(w v1.Worker, required []string) bool {
	for _, c := range required {
		if !w.HasCapability(c) {
			return false
		}
	}
	return true
}

// checkConflicts runs the detector against t using the graph's current
// executing footprint, shared by the submit path and the dispatch tick so
// both see the same snapshot of running resource usage.
func (o *Orchestrator) checkConflicts(t *v1.Task) []v1.Conflict {
	runningCPU, runningMemory, _ := o.runningTotals()
	means := o.scheduler.History().Means()
	return o.detector.Check(t, o.graph, runningCPU, runningMemory, means)
}

// conflictSummary renders the first error-severity conflict as a one-line
// reason, suitable for both task.Error and a log line.
func conflictSummary(conflicts []v1.Conflict) string {
	for _, c := range conflicts {
		if c.Severity == v1.SeverityError {
			if c.ConflictingTask != "" {
				return fmt.Sprintf("blocked by conflicting task %s: %s", c.ConflictingTask, c.Description)
			}
			return c.Description
		}
	}
	return ""
}

// runningTotals sums the resource footprint of every worker currently
// assigned a task, used as the dispatch tick's baseline for capacity checks.
func (o *Orchestrator) runningTotals() (cpu, mem float64, count int) {
	for _, w := range o.workers.List() {
		if w.CurrentTask == "" {
			continue
		}
		cpu += w.Resources.CPUPercent
		mem += w.Resources.MemoryMB
		count++
	}
	return cpu, mem, count
}
