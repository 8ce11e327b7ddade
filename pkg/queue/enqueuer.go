package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new tasks.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer builds tasks from payloads and hands them to storage.
type Enqueuer struct {
	repo              EnqueuerRepository
	defaultQueue      string
	defaultPriority   Priority
	defaultMaxRetries int
	now               func() time.Time
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue:      DefaultQueueName,
		defaultPriority:   PriorityDefault,
		defaultMaxRetries: 3,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:              repo,
		defaultQueue:      options.defaultQueue,
		defaultPriority:   options.defaultPriority,
		defaultMaxRetries: options.defaultMaxRetries,
		now:               time.Now,
	}, nil
}

// Enqueue stores payload as a pending task and returns its ID. It returns as
// soon as the task is persisted; execution happens on a Worker.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:      e.defaultQueue,
		priority:   e.defaultPriority,
		maxRetries: e.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	task, err := e.buildTask(payload, options)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}

	return task.ID, nil
}

func (e *Enqueuer) buildTask(payload any, options *enqueueOptions) (*Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	taskName := options.taskName
	if taskName == "" {
		taskName = qualifiedStructName(payload)
	}

	now := e.now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	return &Task{
		ID:          uuid.New(),
		Queue:       options.queue,
		TaskName:    taskName,
		Payload:     payloadBytes,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		MaxRetries:  options.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}, nil
}
