// Package scheduler ranks executable tasks by a fixed set of scoring
// strategies and admits as many as the configured capacity envelope allows.
package scheduler

import (
	"math"
	"time"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Context is everything a strategy needs to score one task independently of
// the others in the current batch.
type Context struct {
	PendingDependentCount int // # tasks in the executable batch that depend on this one
	AvailableCPUPercent   float64
	AvailableMemoryMB     float64
	Requirements          v1.Requirements
	SuccessRate           float64 // [0,1], by task type
	EstimatedDurationMin  float64
}

// Strategy scores one task, returning an integer contribution to its total.
type Strategy struct {
	Name string
	Fn   func(t *v1.Task, c Context) int
}

// Strategies is the fixed, ordered list of scoring rules applied to every
// candidate task.
var Strategies = []Strategy{
	{Name: "priority", Fn: priorityStrategy},
	{Name: "dependency", Fn: dependencyStrategy},
	{Name: "resource", Fn: resourceStrategy},
	{Name: "deadline", Fn: deadlineStrategy},
	{Name: "learned", Fn: learnedStrategy},
}

func priorityStrategy(t *v1.Task, c Context) int {
	return 10 * t.Priority
}

func dependencyStrategy(t *v1.Task, c Context) int {
	if len(t.Dependencies) == 0 {
		return 50 + 15*c.PendingDependentCount
	}
	return 15 * c.PendingDependentCount
}

func resourceStrategy(t *v1.Task, c Context) int {
	if c.Requirements.CPUPercent <= c.AvailableCPUPercent && c.Requirements.MemoryMB <= c.AvailableMemoryMB {
		return 30
	}
	return -10
}

const (
	oneHour     = 60.0
	twentyFourH = 24 * oneHour
)

func deadlineStrategy(t *v1.Task, c Context) int {
	if t.Deadline == nil {
		return 0
	}
	minutesLeft := time.Until(*t.Deadline).Minutes()
	switch {
	case minutesLeft < oneHour:
		return 100
	case minutesLeft < twentyFourH:
		return 50
	default:
		return 0
	}
}

func learnedStrategy(t *v1.Task, c Context) int {
	return int(math.Round(20*c.SuccessRate - c.EstimatedDurationMin))
}
