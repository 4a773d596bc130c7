package conflict

import v1 "github.com/foofork/orchflow/pkg/api/v1"

// defaultRequirement is the fallback per-task-type resource estimate used
// until the scheduler's historical ring has enough samples to override it.
var defaultRequirement = map[v1.TaskType]v1.Requirements{
	v1.TaskTypeResearch: {CPUPercent: 10, MemoryMB: 256},
	v1.TaskTypeCode:     {CPUPercent: 25, MemoryMB: 512},
	v1.TaskTypeTest:     {CPUPercent: 40, MemoryMB: 1024},
	v1.TaskTypeAnalysis: {CPUPercent: 30, MemoryMB: 768},
	v1.TaskTypeSwarm:    {CPUPercent: 60, MemoryMB: 2048},
	v1.TaskTypeHiveMind: {CPUPercent: 80, MemoryMB: 4096},
}

// HistoricalMeans optionally overrides the CPU/memory portion of an
// estimate, supplied by the scheduler's learning ring keyed by task type.
type HistoricalMeans map[v1.TaskType]v1.Requirements

// Estimate returns the resource requirement for t, preferring a historical
// mean for its type when means provides one.
func Estimate(t *v1.Task, means HistoricalMeans) v1.Requirements {
	req := defaultRequirement[t.Type]
	if means != nil {
		if m, ok := means[t.Type]; ok {
			req.CPUPercent = m.CPUPercent
			req.MemoryMB = m.MemoryMB
		}
	}
	claim := Extract(t)
	req.Files = claim.Files
	req.Ports = claim.Ports
	req.Services = claim.Services
	return req
}
