package queue

import "time"

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultQueue      string
	defaultPriority   Priority
	defaultMaxRetries int
}

// WithDefaultQueue sets the queue used when Enqueue gets no WithQueue.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithDefaultPriority ignores invalid priorities.
func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

// WithDefaultMaxRetries accepts 0..10.
func WithDefaultMaxRetries(n int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n >= 0 && n <= 10 {
			o.defaultMaxRetries = n
		}
	}
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue       string
	priority    Priority
	maxRetries  int
	delay       time.Duration
	scheduledAt *time.Time
	taskName    string
}

func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithPriority is validated by Enqueue, which rejects values outside 0..100.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxRetries sets the retry budget. Values outside 0..10 are ignored.
func WithMaxRetries(maxRetries int) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithScheduledAt takes precedence over WithDelay.
func WithScheduledAt(scheduledAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &scheduledAt
	}
}

// WithTaskName overrides the type-derived task name.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.taskName = name
		}
	}
}
