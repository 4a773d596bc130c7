package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func TestRankOrdersByScoreDescending(t *testing.T) {
	s := New(nil)
	low := &v1.Task{ID: "low", Type: v1.TaskTypeCode, Priority: 1}
	high := &v1.Task{ID: "high", Type: v1.TaskTypeCode, Priority: 9}

	decisions := s.Rank([]*v1.Task{low, high}, 0, 0, 0, Limits{CPUPercent: 1000, MemoryMB: 100000, MaxConcurrentTasks: 10})
	require.Len(t, decisions, 2)
	assert.Equal(t, "high", decisions[0].Task.ID)
	assert.Greater(t, decisions[0].Score, decisions[1].Score)
}

func TestRankCapacityFilterStopsAtMaxConcurrent(t *testing.T) {
	s := New(nil)
	tasks := []*v1.Task{
		{ID: "a", Type: v1.TaskTypeCode, Priority: 5},
		{ID: "b", Type: v1.TaskTypeCode, Priority: 4},
		{ID: "c", Type: v1.TaskTypeCode, Priority: 3},
	}
	decisions := s.Rank(tasks, 0, 0, 0, Limits{CPUPercent: 1000, MemoryMB: 100000, MaxConcurrentTasks: 2})
	assert.Len(t, decisions, 2)
}

func TestRankCapacityFilterRejectsOverBudgetRegardlessOfScore(t *testing.T) {
	s := New(nil)
	tasks := []*v1.Task{{ID: "heavy", Type: v1.TaskTypeHiveMind, Priority: 9}}
	decisions := s.Rank(tasks, 0, 0, 0, Limits{CPUPercent: 10, MemoryMB: 100000, MaxConcurrentTasks: 10})
	assert.Empty(t, decisions)
}

func TestDeadlineStrategyScoresUrgentHigher(t *testing.T) {
	soon := time.Now().Add(30 * time.Minute)
	far := time.Now().Add(72 * time.Hour)
	urgent := &v1.Task{ID: "urgent", Deadline: &soon}
	relaxed := &v1.Task{ID: "relaxed", Deadline: &far}

	assert.Equal(t, 100, deadlineStrategy(urgent, Context{}))
	assert.Equal(t, 0, deadlineStrategy(relaxed, Context{}))
}

func TestHistoryRingEvictsOldestOnceFull(t *testing.T) {
	h := NewHistory()
	for i := 0; i < historyCap+10; i++ {
		// the first 10 samples fail and must be the ones evicted
		h.Record(v1.TaskOutcome{TaskType: v1.TaskTypeCode, Success: i >= 10, DurationMs: 1000})
	}
	rate := h.SuccessRate(v1.TaskTypeCode)
	assert.Equal(t, 1.0, rate)
}

func TestHistorySuccessRateDefaultsOptimisticWithNoSamples(t *testing.T) {
	h := NewHistory()
	assert.Equal(t, 1.0, h.SuccessRate(v1.TaskTypeResearch))
}
