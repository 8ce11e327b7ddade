package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mockmailer/pkg/logger"
)

// Worker claims tasks from storage and runs them with registered handlers.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // guards stopping vs. wg.Add

	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a task worker. It does nothing until Start or Run.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       5 * time.Second,
		lockTimeout:        5 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	id := uuid.New()
	return &Worker{
		repo:            repo,
		handlers:        make(map[string]Handler),
		queues:          options.queues,
		workerID:        id,
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		wake:            make(chan struct{}, 1),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		log:             options.logger.With(logger.Component("queue.worker"), logger.WorkerID(id.String())),
	}, nil
}

// RegisterHandlers adds handlers keyed by Name(). A later handler with the
// same name replaces an earlier one; nil handlers are skipped.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins processing in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	var notify <-chan struct{}
	if n, ok := w.repo.(Notifier); ok {
		notify = n.Notify(w.ctx)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(notify)
	}()

	w.log.Info("worker started",
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)),
		slog.Bool("notify", notify != nil))

	return nil
}

// Stop cancels polling and waits up to the shutdown timeout for in-flight
// tasks. Tasks still running after that keep their locks and are reclaimed
// once the locks expire.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.log.Info("worker stopping, waiting for active tasks to complete")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("worker stopped")
		return nil
	case <-time.After(w.shutdownTimeout):
		return fmt.Errorf("worker %s: active tasks did not finish within %s", w.workerID, w.shutdownTimeout)
	}
}

// Run returns a function for errgroup: it starts the worker, blocks until
// ctx is done, then stops it.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run(notify <-chan struct{}) {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		case _, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
		}
		if !w.dispatch() {
			return
		}
	}
}

// dispatch starts one pull if a concurrency slot is free. It returns false
// once the worker is stopping.
func (w *Worker) dispatch() bool {
	select {
	case w.sem <- struct{}{}:
	default:
		w.log.Debug("all worker slots busy, skipping tick")
		return true
	}

	w.stopMu.Lock()
	if w.stopping.Load() {
		w.stopMu.Unlock()
		<-w.sem
		return false
	}
	w.wg.Add(1)
	w.stopMu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		claimed, err := w.pullAndProcess()
		if err != nil && !errors.Is(err, ErrHandlerNotFound) {
			w.log.Error("failed to process task", logger.Error(err))
		}
		if claimed {
			// More tasks may be waiting behind this one.
			signal(w.wake)
		}
	}()
	return true
}

func (w *Worker) pullAndProcess() (bool, error) {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) || errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	w.log.Debug("claimed task",
		logger.TaskID(task.ID.String()),
		logger.TaskName(task.TaskName),
		logger.Queue(task.Queue))

	return true, w.processTask(task)
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()
	// Storage updates must land even while the worker shuts down.
	opCtx := context.WithoutCancel(w.ctx)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panicked",
				logger.TaskID(task.ID.String()),
				logger.TaskName(task.TaskName),
				slog.Any("panic", r))
			retErr = w.handleTaskFailure(opCtx, task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return w.handleMissingHandler(opCtx, task)
	}

	ctx, cancel := context.WithTimeout(opCtx, w.lockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, task.Payload); err != nil {
		return w.handleTaskFailure(opCtx, task, err, time.Since(start))
	}
	return w.handleTaskSuccess(opCtx, task, time.Since(start))
}

// handleMissingHandler sends the task straight to the DLQ: retrying cannot
// succeed until a handler is deployed.
func (w *Worker) handleMissingHandler(ctx context.Context, task *Task) error {
	w.log.Error("no handler registered for task type",
		logger.TaskID(task.ID.String()),
		logger.TaskName(task.TaskName))

	if err := w.repo.FailTask(ctx, task.ID, ErrHandlerNotFound.Error()+": "+task.TaskName); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

// handleTaskFailure records the error, then moves the task to the DLQ when
// this attempt used up the retry budget. task.RetryCount is the value before
// FailTask incremented it.
func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	w.log.Error("task failed",
		logger.TaskID(task.ID.String()),
		logger.TaskName(task.TaskName),
		logger.RetryCount(task.RetryCount),
		slog.Int("max_retries", task.MaxRetries),
		logger.Duration(duration),
		logger.Error(execErr))

	if err := w.repo.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if task.RetryCount >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max retries: %w", task.ID, err)
		}
		w.log.Warn("task moved to dead letter queue",
			logger.TaskID(task.ID.String()),
			logger.TaskName(task.TaskName))
	}
	return nil
}

func (w *Worker) handleTaskSuccess(ctx context.Context, task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.log.Info("task completed successfully",
		logger.TaskID(task.ID.String()),
		logger.TaskName(task.TaskName),
		logger.Queue(task.Queue),
		logger.Duration(duration))
	return nil
}

// ExtendLockForTask extends the lock of a long-running task.
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// WorkerInfo identifies this worker process.
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
