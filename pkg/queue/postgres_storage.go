package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mockmailer/pkg/pg"
)

// PostgresNotifyChannel is the LISTEN/NOTIFY channel used to wake workers.
const PostgresNotifyChannel = "queue_tasks"

// PostgresStorage keeps tasks in the tasks and tasks_dlq tables created by
// db/migrations. Concurrent workers claim with FOR UPDATE SKIP LOCKED.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage wraps pool. The pool stays owned by the caller.
func NewPostgresStorage(pool *pgxpool.Pool) (*PostgresStorage, error) {
	if pool == nil {
		return nil, ErrRepositoryNil
	}
	return &PostgresStorage{pool: pool}, nil
}

const taskColumns = `id, queue, task_name, payload, status, priority, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, queue, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, task.ID, task.Queue, task.TaskName, task.Payload, task.Status, task.Priority,
		task.RetryCount, task.MaxRetries, task.ScheduledAt, task.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
		}
		return err
	}

	// Delivered to listeners on commit.
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, PostgresNotifyChannel, task.Queue); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'processing',
		    locked_by = $2,
		    locked_until = now() + make_interval(secs => $3)
		WHERE id = (
			SELECT id FROM tasks
			WHERE queue = ANY($1)
			  AND ((status = 'pending' AND scheduled_at <= now())
			    OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queues, workerID, lockDuration.Seconds())

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'completed', processed_at = now(), locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'
	`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1,
		    error = $2,
		    locked_until = NULL,
		    locked_by = NULL,
		    status = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE 'pending' END,
		    scheduled_at = CASE WHEN retry_count + 1 > max_retries THEN scheduled_at
		                        ELSE now() + make_interval(secs => (retry_count + 1) * $3::float8) END
		WHERE id = $1 AND status = 'processing'
	`, taskID, errorMsg, retryBackoff(1).Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM tasks WHERE id = $1
			RETURNING id, queue, task_name, payload, priority, retry_count, error
		)
		INSERT INTO tasks_dlq (id, task_id, queue, task_name, payload, priority, error, retry_count, failed_at)
		SELECT $2, id, queue, task_name, payload, priority, COALESCE(error, ''), retry_count, now()
		FROM moved
	`, taskID, uuid.New())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

func (s *PostgresStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET locked_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND status = 'processing'
	`, taskID, duration.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

// Task loads a task by ID.
func (s *PostgresStorage) Task(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, err
}

// DeadLetters lists the newest dead letters of queue.
func (s *PostgresStorage) DeadLetters(ctx context.Context, queue string, limit int) ([]TasksDlq, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, queue, task_name, payload, priority, error, retry_count, failed_at
		FROM tasks_dlq
		WHERE queue = $1
		ORDER BY failed_at DESC
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TasksDlq
	for rows.Next() {
		var d TasksDlq
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Queue, &d.TaskName, &d.Payload, &d.Priority, &d.Error, &d.RetryCount, &d.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Notify LISTENs on PostgresNotifyChannel using a dedicated pool connection.
// The channel closes when ctx is done or the connection fails; workers then
// fall back to polling.
func (s *PostgresStorage) Notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{PostgresNotifyChannel}.Sanitize()); err != nil {
			return
		}
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				return
			}
			signal(out)
		}
	}()
	return out
}

func (s *PostgresStorage) Healthcheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStorage) Close() error { return nil }

func (s *PostgresStorage) notProcessing(ctx context.Context, taskID uuid.UUID) error {
	var status TaskStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	if err := row.Scan(
		&t.ID, &t.Queue, &t.TaskName, &t.Payload, &t.Status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
