package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps each task as JSON under <prefix>:task:<id>, with two
// sorted sets per queue: pending scored by scheduled time and processing
// scored by lock expiry. Dead letters are pushed onto <prefix>:dlq.
type RedisStorage struct {
	rdb          redis.UniversalClient
	prefix       string
	completedTTL time.Duration
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithRedisPrefix namespaces all keys. Default "queue".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCompletedTTL sets how long completed tasks stay readable. Default 24h.
func WithCompletedTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStorage) {
		if ttl > 0 {
			s.completedTTL = ttl
		}
	}
}

// NewRedisStorage wraps rdb. The client stays owned by the caller.
func NewRedisStorage(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStorage, error) {
	if rdb == nil {
		return nil, ErrRepositoryNil
	}
	s := &RedisStorage{rdb: rdb, prefix: "queue", completedTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStorage) taskKeyPrefix() string {
	return s.prefix + ":task:"
}

func (s *RedisStorage) taskKey(id uuid.UUID) string {
	return s.taskKeyPrefix() + id.String()
}

func (s *RedisStorage) pendingKey(queue string) string {
	return s.prefix + ":queue:" + queue + ":pending"
}

func (s *RedisStorage) processingKey(queue string) string {
	return s.prefix + ":queue:" + queue + ":processing"
}

func (s *RedisStorage) dlqKey() string {
	return s.prefix + ":dlq"
}

func (s *RedisStorage) notifyKey() string {
	return s.prefix + ":notify"
}

func (s *RedisStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}

	created, err := createScript.Run(ctx, s.rdb,
		[]string{s.taskKey(task.ID), s.pendingKey(task.Queue)},
		string(raw), score(task.ScheduledAt), task.ID.String(), s.notifyKey(), task.Queue,
	).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	return nil
}

// createScript stores the task JSON and queues it in one step, so a task key
// never exists without its pending entry. Returns 0 when the ID is taken.
//
// KEYS: task key, pending set. ARGV: json, score_ms, id, notify channel, queue.
var createScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('PUBLISH', ARGV[4], ARGV[5])
return 1
`)

// claimScript picks the best claimable task across the queues passed as
// KEYS (pending, processing pairs), moves it to its processing set and
// rewrites its JSON. Returns the updated JSON or nil.
//
// ARGV: now_ms, lock_until_ms, lock_until_rfc3339, worker_id, task key prefix.
var claimScript = redis.NewScript(`
local best, bestPrio, bestSched, bestSrc, bestProc
for i = 1, #KEYS, 2 do
	local sources = { { KEYS[i], ARGV[1] }, { KEYS[i + 1], '(' .. ARGV[1] } }
	for _, src in ipairs(sources) do
		local ids = redis.call('ZRANGEBYSCORE', src[1], '-inf', src[2], 'WITHSCORES', 'LIMIT', 0, 100)
		for j = 1, #ids, 2 do
			local raw = redis.call('GET', ARGV[5] .. ids[j])
			if raw then
				local t = cjson.decode(raw)
				local sched = tonumber(ids[j + 1])
				if best == nil or t.priority > bestPrio or (t.priority == bestPrio and sched < bestSched) then
					best, bestPrio, bestSched, bestSrc, bestProc = ids[j], t.priority, sched, src[1], KEYS[i + 1]
				end
			else
				redis.call('ZREM', src[1], ids[j])
			end
		end
	end
end
if not best then
	return false
end
redis.call('ZREM', bestSrc, best)
redis.call('ZADD', bestProc, ARGV[2], best)
local key = ARGV[5] .. best
local t = cjson.decode(redis.call('GET', key))
t.status = 'processing'
t.locked_until = ARGV[3]
t.locked_by = ARGV[4]
local raw = cjson.encode(t)
redis.call('SET', key, raw)
return raw
`)

func (s *RedisStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	keys := make([]string, 0, len(queues)*2)
	for _, q := range queues {
		keys = append(keys, s.pendingKey(q), s.processingKey(q))
	}

	now := time.Now()
	lockUntil := now.Add(lockDuration)
	raw, err := claimScript.Run(ctx, s.rdb, keys,
		score(now), score(lockUntil), lockUntil.Format(time.RFC3339Nano), workerID.String(), s.taskKeyPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode claimed task: %w", err)
	}
	return &task, nil
}

func (s *RedisStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.update(ctx, taskID, func(t *Task, pipe redis.Pipeliner) (time.Duration, error) {
		now := time.Now()
		t.Status = TaskStatusCompleted
		t.ProcessedAt = &now
		t.LockedUntil, t.LockedBy = nil, nil
		pipe.ZRem(ctx, s.processingKey(t.Queue), t.ID.String())
		return s.completedTTL, nil
	})
}

func (s *RedisStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return s.update(ctx, taskID, func(t *Task, pipe redis.Pipeliner) (time.Duration, error) {
		t.RetryCount++
		t.Error = &errorMsg
		t.LockedUntil, t.LockedBy = nil, nil
		pipe.ZRem(ctx, s.processingKey(t.Queue), t.ID.String())

		if t.RetryCount > t.MaxRetries {
			t.Status = TaskStatusFailed
			return 0, nil
		}
		t.Status = TaskStatusPending
		t.ScheduledAt = time.Now().Add(retryBackoff(t.RetryCount))
		pipe.ZAdd(ctx, s.pendingKey(t.Queue), redis.Z{Score: score(t.ScheduledAt), Member: t.ID.String()})
		return 0, nil
	})
}

func (s *RedisStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	key := s.taskKey(taskID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		t, err := s.load(ctx, tx, taskID)
		if err != nil {
			return err
		}

		entry := TasksDlq{
			ID:         uuid.New(),
			TaskID:     t.ID,
			Queue:      t.Queue,
			TaskName:   t.TaskName,
			Payload:    t.Payload,
			Priority:   t.Priority,
			RetryCount: t.RetryCount,
			FailedAt:   time.Now(),
		}
		if t.Error != nil {
			entry.Error = *t.Error
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, s.dlqKey(), raw)
			pipe.ZRem(ctx, s.pendingKey(t.Queue), t.ID.String())
			pipe.ZRem(ctx, s.processingKey(t.Queue), t.ID.String())
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
}

func (s *RedisStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	return s.update(ctx, taskID, func(t *Task, pipe redis.Pipeliner) (time.Duration, error) {
		lockUntil := time.Now().Add(duration)
		t.LockedUntil = &lockUntil
		pipe.ZAdd(ctx, s.processingKey(t.Queue), redis.Z{Score: score(lockUntil), Member: t.ID.String()})
		return 0, nil
	})
}

// Task loads a task by ID.
func (s *RedisStorage) Task(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return s.load(ctx, s.rdb, taskID)
}

// DeadLetters returns up to limit dead letters, newest first.
func (s *RedisStorage) DeadLetters(ctx context.Context, limit int) ([]TasksDlq, error) {
	raws, err := s.rdb.LRange(ctx, s.dlqKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TasksDlq, 0, len(raws))
	for _, raw := range raws {
		var d TasksDlq
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Notify subscribes to the channel CreateTask publishes to.
func (s *RedisStorage) Notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := s.rdb.Subscribe(ctx, s.notifyKey())
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()
	return out
}

func (s *RedisStorage) Healthcheck(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStorage) Close() error { return nil }

// update loads a processing task under WATCH, applies fn and saves the
// result with the TTL fn returns.
func (s *RedisStorage) update(ctx context.Context, taskID uuid.UUID, fn func(t *Task, pipe redis.Pipeliner) (time.Duration, error)) error {
	key := s.taskKey(taskID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		t, err := s.load(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if t.Status != TaskStatusProcessing {
			return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ttl, err := fn(t, pipe)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, raw, ttl)
			return nil
		})
		return err
	})
}

// watch retries fn when another client modified key mid-transaction.
func (s *RedisStorage) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for range 3 {
		err = s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStorage) load(ctx context.Context, c stringGetter, taskID uuid.UUID) (*Task, error) {
	raw, err := c.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &t, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
