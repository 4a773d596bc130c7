package scheduler

import (
	"sort"

	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/conflict"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
	"go.uber.org/zap"
)

// Limits bounds what the capacity filter may admit in one tick.
type Limits struct {
	CPUPercent         float64
	MemoryMB           float64
	MaxConcurrentTasks int
}

// Scheduler scores and admits executable tasks within a capacity envelope.
type Scheduler struct {
	history *History
	logger  *logger.Logger
}

// New creates a Scheduler backed by its own learning ring.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		history: NewHistory(),
		logger:  log.WithFields(zap.String("component", "scheduler")),
	}
}

// History exposes the learning ring so the orchestrator can submit terminal
// outcomes and the conflict detector can consult historical means.
func (s *Scheduler) History() *History { return s.history }

// dependentCounts maps each task id to how many tasks in the given slice
// declare it as a dependency. Rank passes only the executable tasks, so
// pending tasks that are not yet executable are not counted.
func dependentCounts(pending []*v1.Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range pending {
		for _, dep := range t.Dependencies {
			counts[dep]++
		}
	}
	return counts
}

// Rank scores every executable task, sorts descending by total score, then
// walks the sorted list admitting candidates that fit within the capacity
// envelope and running-task-count ceiling. runningCPU/runningMemory
// reflect resources already committed by active tasks;
// liveTaskCount is the number of tasks currently running or about to run.
func (s *Scheduler) Rank(executable []*v1.Task, runningCPU, runningMemory float64, liveTaskCount int, limits Limits) []v1.SchedulingDecision {
	counts := dependentCounts(executable)
	means := s.history.Means()

	scored := make([]v1.SchedulingDecision, 0, len(executable))
	for _, t := range executable {
		req := conflict.Estimate(t, means)
		ctx := Context{
			PendingDependentCount: counts[t.ID],
			AvailableCPUPercent:   limits.CPUPercent - runningCPU,
			AvailableMemoryMB:     limits.MemoryMB - runningMemory,
			Requirements:          req,
			SuccessRate:           s.history.SuccessRate(t.Type),
			EstimatedDurationMin:  s.history.EstimatedDurationMinutes(t.Type),
		}

		total := 0
		var dominant string
		var best int
		for i, strat := range Strategies {
			score := strat.Fn(t, ctx)
			total += score
			if i == 0 || score > best {
				best = score
				dominant = strat.Name
			}
		}

		scored = append(scored, v1.SchedulingDecision{
			Task:              t,
			Score:             total,
			DominantStrategy:  dominant,
			EstimatedDuration: ctx.EstimatedDurationMin,
			Requirements:      req,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var admitted []v1.SchedulingDecision
	cpu, mem, count := runningCPU, runningMemory, liveTaskCount
	for _, d := range scored {
		if limits.MaxConcurrentTasks > 0 && count >= limits.MaxConcurrentTasks {
			s.logger.Debug("capacity filter stopped admitting tasks", zap.Int("max_concurrent", limits.MaxConcurrentTasks))
			break
		}
		if limits.CPUPercent > 0 && cpu+d.Requirements.CPUPercent > limits.CPUPercent {
			continue
		}
		if limits.MemoryMB > 0 && mem+d.Requirements.MemoryMB > limits.MemoryMB {
			continue
		}
		cpu += d.Requirements.CPUPercent
		mem += d.Requirements.MemoryMB
		count++
		admitted = append(admitted, d)
	}

	return admitted
}

// RecordOutcome submits one terminal-transition sample to the learning ring.
func (s *Scheduler) RecordOutcome(o v1.TaskOutcome) {
	s.history.Record(o)
}
