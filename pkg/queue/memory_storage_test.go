package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/pkg/queue"
)

func newTask(q string, priority queue.Priority, scheduledAt time.Time) *queue.Task {
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       q,
		TaskName:    "test-task",
		Payload:     []byte(`{}`),
		Status:      queue.TaskStatusPending,
		Priority:    priority,
		MaxRetries:  2,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryStorage_CreateTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()

	task := newTask(queue.DefaultQueueName, queue.PriorityMedium, time.Now())
	require.NoError(t, s.CreateTask(ctx, task))

	task.Queue = "mutated"
	stored, ok := s.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, queue.DefaultQueueName, stored.Queue, "storage keeps its own copy")

	assert.ErrorIs(t, s.CreateTask(ctx, task), queue.ErrTaskExists)
	assert.ErrorContains(t, s.CreateTask(ctx, nil), "task cannot be nil")
}

func TestMemoryStorage_ClaimTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	worker := uuid.New()

	t.Run("priority then schedule order", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		now := time.Now()
		low := newTask("q", queue.PriorityLow, now.Add(-3*time.Second))
		highLate := newTask("q", queue.PriorityHigh, now.Add(-time.Second))
		highEarly := newTask("q", queue.PriorityHigh, now.Add(-2*time.Second))
		for _, task := range []*queue.Task{low, highLate, highEarly} {
			require.NoError(t, s.CreateTask(ctx, task))
		}

		var order []uuid.UUID
		for range 3 {
			claimed, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
			require.NoError(t, err)
			order = append(order, claimed.ID)
			assert.Equal(t, queue.TaskStatusProcessing, claimed.Status)
			assert.Equal(t, worker, *claimed.LockedBy)
		}
		assert.Equal(t, []uuid.UUID{highEarly.ID, highLate.ID, low.ID}, order)

		_, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("skips future and foreign queues", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		require.NoError(t, s.CreateTask(ctx, newTask("q", queue.PriorityMax, time.Now().Add(time.Hour))))
		require.NoError(t, s.CreateTask(ctx, newTask("other", queue.PriorityMax, time.Now())))

		_, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("expired lock is reclaimed", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask("q", queue.PriorityMedium, time.Now())
		require.NoError(t, s.CreateTask(ctx, task))

		_, err := s.ClaimTask(ctx, uuid.New(), []string{"q"}, -time.Second)
		require.NoError(t, err)

		again, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, task.ID, again.ID)
		assert.Equal(t, worker, *again.LockedBy)

		_, err = s.ClaimTask(ctx, uuid.New(), []string{"q"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim, "live lock blocks other workers")
	})
}

func TestMemoryStorage_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	worker := uuid.New()

	t.Run("complete", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask("q", queue.PriorityMedium, time.Now())
		require.NoError(t, s.CreateTask(ctx, task))

		assert.ErrorIs(t, s.CompleteTask(ctx, task.ID), queue.ErrTaskNotProcessing)

		_, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.ExtendLock(ctx, task.ID, time.Hour))
		require.NoError(t, s.CompleteTask(ctx, task.ID))

		stored, _ := s.Task(task.ID)
		assert.Equal(t, queue.TaskStatusCompleted, stored.Status)
		assert.NotNil(t, stored.ProcessedAt)
		assert.Nil(t, stored.LockedBy)

		assert.ErrorIs(t, s.CompleteTask(ctx, uuid.New()), queue.ErrTaskNotFound)
	})

	t.Run("fail with backoff then exhaust", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask("q", queue.PriorityMedium, time.Now())
		task.MaxRetries = 1
		require.NoError(t, s.CreateTask(ctx, task))

		_, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.FailTask(ctx, task.ID, "smtp down"))

		stored, _ := s.Task(task.ID)
		assert.Equal(t, queue.TaskStatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, "smtp down", *stored.Error)
		assert.True(t, stored.ScheduledAt.After(time.Now().Add(25*time.Second)))

		_, err = s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim, "backoff delays the retry")

		require.NoError(t, s.CreateTask(ctx, &queue.Task{ID: uuid.New(), Queue: "other", Status: queue.TaskStatusPending}))
		assert.Len(t, s.Tasks("q"), 1)
		assert.Len(t, s.Tasks("other"), 1)
	})

	t.Run("move to dlq", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask("q", queue.PriorityMedium, time.Now())
		task.MaxRetries = 0
		require.NoError(t, s.CreateTask(ctx, task))

		_, err := s.ClaimTask(ctx, worker, []string{"q"}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.FailTask(ctx, task.ID, "boom"))

		stored, _ := s.Task(task.ID)
		assert.Equal(t, queue.TaskStatusFailed, stored.Status)

		require.NoError(t, s.MoveToDLQ(ctx, task.ID))
		_, ok := s.Task(task.ID)
		assert.False(t, ok)

		dlq := s.DeadLetters()
		require.Len(t, dlq, 1)
		assert.Equal(t, task.ID, dlq[0].TaskID)
		assert.Equal(t, "boom", dlq[0].Error)
		assert.Equal(t, 1, dlq[0].RetryCount)

		assert.ErrorIs(t, s.MoveToDLQ(ctx, task.ID), queue.ErrTaskNotFound)
	})
}

func TestMemoryStorage_Notify(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := queue.NewMemoryStorage()
	ch := s.Notify(ctx)

	require.NoError(t, s.CreateTask(context.Background(), newTask("q", queue.PriorityMedium, time.Now())))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no wake-up after CreateTask")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}
