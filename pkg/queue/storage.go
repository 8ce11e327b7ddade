package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkerRepository is the storage side of task execution.
type WorkerRepository interface {
	// ClaimTask atomically locks the next claimable task in queues for
	// workerID, highest priority first, then earliest scheduled. Returns
	// ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records errorMsg and increments the retry count. A task with
	// budget left goes back to pending after retryBackoff; otherwise it is
	// marked failed.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// MoveToDLQ copies the task into the dead letter queue and removes it.
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error

	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// Notifier is implemented by storages that can wake workers when a task is
// created, so delivery does not wait for the next poll tick. The returned
// channel is closed when ctx is done.
type Notifier interface {
	Notify(ctx context.Context) <-chan struct{}
}

// Storage is a complete queue backend.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	Healthcheck(ctx context.Context) error
	Close() error
}

var (
	_ Storage  = (*MemoryStorage)(nil)
	_ Storage  = (*PostgresStorage)(nil)
	_ Storage  = (*RedisStorage)(nil)
	_ Notifier = (*MemoryStorage)(nil)
	_ Notifier = (*PostgresStorage)(nil)
	_ Notifier = (*RedisStorage)(nil)
)

// Validate reports ErrUnknownDriver for anything but memory, postgres and redis.
func (d Driver) Validate() error {
	switch d {
	case DriverMemory, DriverPostgres, DriverRedis:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownDriver, d)
}

// signal performs a non-blocking send, coalescing bursts into one wake-up.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
