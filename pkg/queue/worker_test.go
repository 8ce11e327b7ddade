package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/queue"
)

type MockWorkerRepository struct {
	mock.Mock
}

func (m *MockWorkerRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	args := m.Called(ctx, workerID, queues, lockDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockWorkerRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return m.Called(ctx, taskID, errorMsg).Error(0)
}

func (m *MockWorkerRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	return m.Called(ctx, taskID, duration).Error(0)
}

type testPayload struct {
	Message string `json:"message"`
}

func newTestWorker(t *testing.T, repo queue.WorkerRepository, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()
	opts = append([]queue.WorkerOption{
		queue.WithQueues("q"),
		queue.WithPullInterval(10 * time.Millisecond),
		queue.WithWorkerLogger(logger.Noop()),
	}, opts...)
	w, err := queue.NewWorker(repo, opts...)
	require.NoError(t, err)
	return w
}

func TestNewWorker(t *testing.T) {
	t.Parallel()

	w, err := queue.NewWorker(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	assert.Nil(t, w)

	w, err = queue.NewWorker(queue.NewMemoryStorage(), queue.Config{
		PollInterval:       time.Second,
		LockTimeout:        time.Minute,
		ShutdownTimeout:    time.Second,
		MaxConcurrentTasks: 4,
	}.WorkerOptions()...)
	require.NoError(t, err)

	id, host, pid := w.WorkerInfo()
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, host)
	assert.Positive(t, pid)
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("requires handlers", func(t *testing.T) {
		t.Parallel()

		w := newTestWorker(t, new(MockWorkerRepository))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
		assert.ErrorIs(t, w.Stop(), queue.ErrWorkerNotStarted)
	})

	t.Run("double start", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()

		w := newTestWorker(t, repo)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }), nil)

		require.NoError(t, w.Start(context.Background()))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrWorkerStarted)
		require.NoError(t, w.Stop())
	})

	t.Run("run stops with context", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()

		w := newTestWorker(t, repo)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx)() }()

		time.Sleep(30 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
}

func TestWorker_Processing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("success completes task", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(s, queue.WithDefaultQueue("q"))
		require.NoError(t, err)

		got := make(chan string, 1)
		w := newTestWorker(t, s)
		w.RegisterHandlers(queue.NewTaskHandler(func(_ context.Context, p testPayload) error {
			got <- p.Message
			return nil
		}))
		require.NoError(t, w.Start(ctx))
		defer func() { _ = w.Stop() }()

		id, err := enq.Enqueue(ctx, testPayload{Message: "hello"})
		require.NoError(t, err)

		select {
		case msg := <-got:
			assert.Equal(t, "hello", msg)
		case <-time.After(2 * time.Second):
			t.Fatal("task not processed")
		}
		assert.Eventually(t, func() bool {
			task, ok := s.Task(id)
			return ok && task.Status == queue.TaskStatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("notifier wakes worker before poll tick", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(s, queue.WithDefaultQueue("q"))
		require.NoError(t, err)

		var calls atomic.Int32
		w := newTestWorker(t, s, queue.WithPullInterval(time.Hour))
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error {
			calls.Add(1)
			return nil
		}))
		require.NoError(t, w.Start(ctx))
		defer func() { _ = w.Stop() }()

		for range 3 {
			_, err := enq.Enqueue(ctx, testPayload{})
			require.NoError(t, err)
		}
		assert.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("failure exhausts retries into dlq", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{ID: uuid.New(), Queue: "q", TaskName: "queue_test.testPayload", Payload: []byte(`{}`), RetryCount: 2, MaxRetries: 2}
		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(nil, queue.ErrNoTaskToClaim).Maybe()
		repo.On("FailTask", mock.Anything, task.ID, "smtp down").Return(nil).Once()
		moved := make(chan struct{})
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().Run(func(mock.Arguments) { close(moved) })

		w := newTestWorker(t, repo)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error {
			return errors.New("smtp down")
		}))
		require.NoError(t, w.Start(ctx))

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task not moved to dlq")
		}
		require.NoError(t, w.Stop())
		repo.AssertExpectations(t)
	})

	t.Run("failure with budget left is only recorded", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{ID: uuid.New(), Queue: "q", TaskName: "queue_test.testPayload", Payload: []byte(`{}`), RetryCount: 0, MaxRetries: 3}
		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(nil, queue.ErrNoTaskToClaim).Maybe()
		failed := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "panic in handler: kaboom").Return(nil).Once().Run(func(mock.Arguments) { close(failed) })

		w := newTestWorker(t, repo)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error {
			panic("kaboom")
		}))
		require.NoError(t, w.Start(ctx))

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("panic not recorded as failure")
		}
		require.NoError(t, w.Stop())
		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "MoveToDLQ", mock.Anything, mock.Anything)
	})

	t.Run("missing handler goes straight to dlq", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{ID: uuid.New(), Queue: "q", TaskName: "unknown", Payload: []byte(`{}`), MaxRetries: 3}
		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, []string{"q"}, mock.Anything).Return(nil, queue.ErrNoTaskToClaim).Maybe()
		repo.On("FailTask", mock.Anything, task.ID, "no handler registered for task type: unknown").Return(nil).Once()
		moved := make(chan struct{})
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().Run(func(mock.Arguments) { close(moved) })

		w := newTestWorker(t, repo)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }))
		require.NoError(t, w.Start(ctx))

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task not moved to dlq")
		}
		require.NoError(t, w.Stop())
		repo.AssertExpectations(t)
	})

	t.Run("stop waits for in-flight task", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(s, queue.WithDefaultQueue("q"))
		require.NoError(t, err)

		started := make(chan struct{})
		var finished atomic.Bool
		w := newTestWorker(t, s)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, testPayload) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		}))
		require.NoError(t, w.Start(ctx))

		id, err := enq.Enqueue(ctx, testPayload{})
		require.NoError(t, err)
		<-started

		require.NoError(t, w.Stop())
		assert.True(t, finished.Load())
		task, _ := s.Task(id)
		assert.Equal(t, queue.TaskStatusCompleted, task.Status)
	})
}
