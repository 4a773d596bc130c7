package conflict

import (
	"fmt"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// GraphView is the minimal task-graph surface the detector needs to check
// dependency conflicts, kept narrow so this package does not import
// taskgraph directly for anything beyond it.
type GraphView interface {
	Get(id string) (*v1.Task, bool)
	HasCycle(id string) bool
}

// Limits are the configured system-wide resource ceilings a dispatch must
// stay within.
type Limits struct {
	CPUPercent float64
	MemoryMB   float64
	// ExclusiveServices lists services that may only ever be held by one
	// task at a time; any service not in this list is treated as
	// non-exclusive, and a claim on it while another task holds it yields a
	// warning rather than an error.
	ExclusiveServices []string
}

func (l Limits) isExclusive(service string) bool {
	for _, s := range l.ExclusiveServices {
		if s == service {
			return true
		}
	}
	return false
}

// Detector checks a candidate task against the live reservation table and
// task graph before it is allowed to dispatch.
type Detector struct {
	reservations *Reservations
	limits       Limits
}

// NewDetector creates a Detector backed by its own reservation table.
func NewDetector(limits Limits) *Detector {
	return &Detector{reservations: NewReservations(), limits: limits}
}

// Reservations exposes the underlying table so the orchestrator can
// allocate/release resources around a dispatch.
func (d *Detector) Reservations() *Reservations { return d.reservations }

// Check runs every conflict rule against candidate, given the task graph
// for dependency lookups and the running CPU/memory totals already
// committed by other active tasks.
func (d *Detector) Check(candidate *v1.Task, graph GraphView, runningCPU, runningMemory float64, means HistoricalMeans) []v1.Conflict {
	var conflicts []v1.Conflict

	claim := Extract(candidate)
	writeIntent := HasWriteIntent(candidate.Description)

	for _, f := range claim.Files {
		holder, ok := d.reservations.FileHolder(f)
		if !ok || holder == candidate.ID {
			continue
		}
		severity := v1.SeverityWarning
		if writeIntent {
			severity = v1.SeverityError
		}
		conflicts = append(conflicts, v1.Conflict{
			Type:            v1.ConflictFile,
			ConflictingTask: holder,
			Description:     fmt.Sprintf("file %q is already claimed by task %s", f, holder),
			Severity:        severity,
		})
	}

	for _, p := range claim.Ports {
		holder, ok := d.reservations.PortHolder(p)
		if !ok || holder == candidate.ID {
			continue
		}
		conflicts = append(conflicts, v1.Conflict{
			Type:            v1.ConflictPort,
			ConflictingTask: holder,
			Description:     fmt.Sprintf("port %d is already reserved by task %s", p, holder),
			Severity:        v1.SeverityError,
		})
	}

	for _, s := range claim.Services {
		holder, ok := d.reservations.ServiceHolder(s)
		if !ok || holder == candidate.ID {
			continue
		}
		if d.limits.isExclusive(s) {
			conflicts = append(conflicts, v1.Conflict{
				Type:            v1.ConflictService,
				ConflictingTask: holder,
				Description:     fmt.Sprintf("exclusive service %q is already held by task %s", s, holder),
				Severity:        v1.SeverityError,
			})
		} else {
			conflicts = append(conflicts, v1.Conflict{
				Type:            v1.ConflictService,
				ConflictingTask: holder,
				Description:     fmt.Sprintf("service %q is at declared capacity (held by task %s)", s, holder),
				Severity:        v1.SeverityWarning,
			})
		}
	}

	conflicts = append(conflicts, d.dependencyConflicts(candidate, graph)...)

	req := Estimate(candidate, means)
	if d.limits.CPUPercent > 0 && runningCPU+req.CPUPercent > d.limits.CPUPercent {
		conflicts = append(conflicts, v1.Conflict{
			Type:        v1.ConflictCapacity,
			Description: fmt.Sprintf("estimated CPU %.0f%% plus active %.0f%% exceeds limit %.0f%%", req.CPUPercent, runningCPU, d.limits.CPUPercent),
			Severity:    v1.SeverityWarning,
		})
	}
	if d.limits.MemoryMB > 0 && runningMemory+req.MemoryMB > d.limits.MemoryMB {
		conflicts = append(conflicts, v1.Conflict{
			Type:        v1.ConflictCapacity,
			Description: fmt.Sprintf("estimated memory %.0fMB plus active %.0fMB exceeds limit %.0fMB", req.MemoryMB, runningMemory, d.limits.MemoryMB),
			Severity:    v1.SeverityWarning,
		})
	}

	return conflicts
}

func (d *Detector) dependencyConflicts(candidate *v1.Task, graph GraphView) []v1.Conflict {
	var conflicts []v1.Conflict
	for _, depID := range candidate.Dependencies {
		dep, ok := graph.Get(depID)
		if !ok {
			conflicts = append(conflicts, v1.Conflict{
				Type:            v1.ConflictDependency,
				ConflictingTask: depID,
				Description:     fmt.Sprintf("dependency %q is not present in the task graph", depID),
				Severity:        v1.SeverityError,
			})
			continue
		}
		if dep.Status == v1.TaskStatusFailed {
			conflicts = append(conflicts, v1.Conflict{
				Type:            v1.ConflictDependency,
				ConflictingTask: depID,
				Description:     fmt.Sprintf("dependency %q has failed", depID),
				Severity:        v1.SeverityError,
			})
		}
	}
	if graph.HasCycle(candidate.ID) {
		conflicts = append(conflicts, v1.Conflict{
			Type:        v1.ConflictDependency,
			Description: "dependency graph contains a cycle reachable from this task",
			Severity:    v1.SeverityError,
		})
	}
	return conflicts
}
