package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes tasks whose TaskName equals Name().
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewTaskHandler adapts a typed function into a Handler named after T, which
// matches the default task name Enqueue gives a T payload.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	var payload T
	return NewNamedTaskHandler(qualifiedStructName(payload), handler)
}

// NewNamedTaskHandler is NewTaskHandler with an explicit name, for tasks
// enqueued with WithTaskName.
func NewNamedTaskHandler[T any](name string, handler TaskHandlerFunc[T]) Handler {
	return &taskHandler[T]{name: name, handler: handler}
}

type taskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Name() string {
	return h.name
}

func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}
