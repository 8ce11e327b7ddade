package queue

import "errors"

var (
	ErrRepositoryNil   = errors.New("repository cannot be nil")
	ErrPayloadNil      = errors.New("payload cannot be nil")
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrNoTaskToClaim is returned by ClaimTask when nothing is due. Workers
	// treat it as an empty poll, not a failure.
	ErrNoTaskToClaim = errors.New("no task to claim")

	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrTaskNotProcessing = errors.New("task is not in processing state")

	ErrHandlerNotFound = errors.New("no handler registered for task type")
	ErrNoHandlers      = errors.New("no task handlers registered")

	ErrWorkerStarted    = errors.New("worker already started")
	ErrWorkerNotStarted = errors.New("worker not started")

	ErrUnknownDriver = errors.New("unknown queue driver")
)
