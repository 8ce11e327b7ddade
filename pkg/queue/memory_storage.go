package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryCompletedTTL is how long MemoryStorage keeps completed tasks.
const DefaultMemoryCompletedTTL = 5 * time.Minute

// MemoryStorage keeps tasks in process memory. It is the default backend for
// development and tests; tasks do not survive a restart.
//
// Pending and processing tasks are indexed per queue so claims never scan
// finished work. Completed tasks are dropped once their retention expires.
type MemoryStorage struct {
	mu           sync.RWMutex
	tasks        map[uuid.UUID]*Task
	active       map[string]map[uuid.UUID]*Task
	completed    []completedTask
	completedTTL time.Duration
	dlq          []TasksDlq
	wake         chan struct{}
	now          func() time.Time
}

type completedTask struct {
	id uuid.UUID
	at time.Time
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithMemoryCompletedTTL sets how long completed tasks stay readable through
// Task and Tasks. Zero or negative drops them on completion.
func WithMemoryCompletedTTL(ttl time.Duration) MemoryOption {
	return func(ms *MemoryStorage) {
		ms.completedTTL = max(ttl, 0)
	}
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:        make(map[uuid.UUID]*Task),
		active:       make(map[string]map[uuid.UUID]*Task),
		completedTTL: DefaultMemoryCompletedTTL,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	if _, exists := ms.tasks[task.ID]; exists {
		ms.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	taskCopy := *task
	ms.tasks[task.ID] = &taskCopy
	if taskCopy.Status == TaskStatusPending || taskCopy.Status == TaskStatusProcessing {
		ms.activate(&taskCopy)
	}
	ms.prune(ms.now())
	ms.mu.Unlock()

	signal(ms.wake)
	return nil
}

// ClaimTask also reclaims processing tasks whose lock has expired, which is
// how work held by a crashed worker gets picked up again.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, q := range queues {
		for _, task := range ms.active[q] {
			if !task.Claimable(now) {
				continue
			}
			if best == nil ||
				task.Priority > best.Priority ||
				(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
				best = task
			}
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	taskCopy := *best
	return &taskCopy, nil
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	now := ms.now()
	ms.deactivate(task)
	if ms.completedTTL <= 0 {
		delete(ms.tasks, taskID)
	} else {
		task.Status = TaskStatusCompleted
		task.ProcessedAt = &now
		task.LockedUntil = nil
		task.LockedBy = nil
		ms.completed = append(ms.completed, completedTask{id: taskID, at: now})
	}
	ms.prune(now)
	return nil
}

func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.RetryCount > task.MaxRetries {
		task.Status = TaskStatusFailed
		ms.deactivate(task)
		return nil
	}
	task.Status = TaskStatusPending
	task.ScheduledAt = ms.now().Add(retryBackoff(task.RetryCount))
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	entry := TasksDlq{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		Priority:   task.Priority,
		RetryCount: task.RetryCount,
		FailedAt:   ms.now(),
	}
	if task.Error != nil {
		entry.Error = *task.Error
	}
	ms.dlq = append(ms.dlq, entry)
	ms.deactivate(task)
	delete(ms.tasks, taskID)
	return nil
}

func (ms *MemoryStorage) ExtendLock(_ context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	lockUntil := ms.now().Add(duration)
	task.LockedUntil = &lockUntil
	return nil
}

// Notify returns a channel signalled after every CreateTask. Bursts coalesce
// into a single pending signal.
func (ms *MemoryStorage) Notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ms.wake:
				signal(out)
			}
		}
	}()
	return out
}

// Task returns a copy of the stored task.
func (ms *MemoryStorage) Task(taskID uuid.UUID) (Task, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Tasks returns copies of all tasks in queue, oldest first.
func (ms *MemoryStorage) Tasks(queue string) []Task {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Task, 0, len(ms.tasks))
	for _, task := range ms.tasks {
		if task.Queue == queue {
			out = append(out, *task)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// DeadLetters returns a copy of the dead letter queue.
func (ms *MemoryStorage) DeadLetters() []TasksDlq {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.dlq)
}

func (ms *MemoryStorage) Healthcheck(context.Context) error { return nil }

func (ms *MemoryStorage) Close() error { return nil }

// Len reports how many tasks are stored, completed ones included.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.tasks)
}

// The helpers below must be called with ms.mu held.

func (ms *MemoryStorage) activate(task *Task) {
	byID, ok := ms.active[task.Queue]
	if !ok {
		byID = make(map[uuid.UUID]*Task)
		ms.active[task.Queue] = byID
	}
	byID[task.ID] = task
}

func (ms *MemoryStorage) deactivate(task *Task) {
	byID := ms.active[task.Queue]
	delete(byID, task.ID)
	if len(byID) == 0 {
		delete(ms.active, task.Queue)
	}
}

// prune drops completed tasks whose retention ended. Completion times are
// appended in order, so only the head of the list is inspected.
func (ms *MemoryStorage) prune(now time.Time) {
	n := 0
	for n < len(ms.completed) && !ms.completed[n].at.Add(ms.completedTTL).After(now) {
		if task, ok := ms.tasks[ms.completed[n].id]; ok && task.Status == TaskStatusCompleted {
			delete(ms.tasks, task.ID)
		}
		n++
	}
	if n > 0 {
		ms.completed = slices.Delete(ms.completed, 0, n)
	}
}

func (ms *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return task, nil
}
