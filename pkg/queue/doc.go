// Package queue runs deferred work outside the request path.
//
// An Enqueuer serializes a payload to JSON and stores it as a pending Task.
// A Worker claims due tasks from one or more queues, decodes the payload and
// calls the Handler registered under the task's name. Failed tasks are
// retried with a linear backoff until their retry budget is spent, then
// moved to a dead letter queue.
//
// Three storages are provided: MemoryStorage for development and tests,
// PostgresStorage (FOR UPDATE SKIP LOCKED claims, LISTEN/NOTIFY wake-ups)
// and RedisStorage (sorted sets plus a Lua claim script, pub/sub wake-ups).
// Storages that implement Notifier wake workers as soon as a task is
// created; polling remains as a fallback.
//
//	storage := queue.NewMemoryStorage()
//	enq, _ := queue.NewEnqueuer(storage, queue.WithDefaultQueue("mailers"))
//	w, _ := queue.NewWorker(storage, queue.WithQueues("mailers"))
//	w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p Welcome) error {
//		return send(ctx, p)
//	}))
//	g.Go(w.Run(ctx))
//	id, err := enq.Enqueue(ctx, Welcome{To: "you@example.com"})
package queue
