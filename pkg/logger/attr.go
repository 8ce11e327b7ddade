package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// RequestID records the request identifier under the key "request_id".
// Empty IDs produce an empty Attr.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// TaskID records a background task identifier under the key "task_id".
func TaskID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("task_id", id)
}

// TaskName records the task type name under the key "task_name".
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// Queue records the queue name under the key "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// WorkerID records the worker identifier under the key "worker_id".
func WorkerID(id any) slog.Attr {
	return slog.Any("worker_id", id)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Recipient records an email recipient under the key "recipient".
func Recipient(addr string) slog.Attr {
	return slog.String("recipient", addr)
}
