package taskgraph

import (
	"time"

	"github.com/google/uuid"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// NewTask builds a pending task from submission fields, assigning an id and
// timestamps.
func NewTask(taskType v1.TaskType, description string, params map[string]any, priority int, deps []string, deadline *time.Time) *v1.Task {
	now := time.Now()
	return &v1.Task{
		ID:           uuid.NewString(),
		Type:         taskType,
		Description:  description,
		Parameters:   params,
		Priority:     priority,
		Deadline:     deadline,
		Dependencies: append([]string(nil), deps...),
		Status:       v1.TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
