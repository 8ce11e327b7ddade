package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when neither the enqueuer nor the task names a queue.
const DefaultQueueName = "default"

// TaskStatus is the lifecycle state of a stored task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority orders claimable tasks, higher first. Valid range is 0..100.
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid reports whether p is within 0..100.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Task is a unit of deferred work with a JSON payload.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	TaskName    string     `json:"task_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Claimable reports whether a worker may take the task at now: pending and
// due, or processing with an expired lock.
func (t *Task) Claimable(now time.Time) bool {
	switch t.Status {
	case TaskStatusPending:
		return !t.ScheduledAt.After(now)
	case TaskStatusProcessing:
		return t.LockedUntil != nil && t.LockedUntil.Before(now)
	}
	return false
}

// TasksDlq is a task that exhausted its retries, kept for inspection.
type TasksDlq struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Queue      string    `json:"queue"`
	TaskName   string    `json:"task_name"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   Priority  `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}

// retryBackoff is the delay before a failed task becomes claimable again:
// 30s per attempt made so far.
func retryBackoff(retryCount int) time.Duration {
	return time.Duration(retryCount) * 30 * time.Second
}
