package api

import (
	"errors"
	"net/http"

	"github.com/taskmill/taskmill/internal/task"
)

// MapErrorToStatusCode maps engine errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, task.ErrTaskExists):
		return http.StatusConflict

	// The task exists but has not finished yet
	case errors.Is(err, task.ErrTaskNotReady):
		return http.StatusAccepted

	// The wait deadline elapsed before the task finished
	case errors.Is(err, task.ErrWaitTimeout):
		return http.StatusRequestTimeout

	// Scheduling failures: the engine cannot accept work right now
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrExecutorClosed):
		return http.StatusServiceUnavailable

	// Submitting a callable the executor cannot dispatch
	case errors.Is(err, task.ErrNotRegistered):
		return http.StatusBadRequest

	// Default: internal server error (includes task execution failures)
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message based
// on the error type. Task execution failures are the one case where detail is
// deliberately surfaced: the stored error string is application data, not an
// internal secret.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var execErr *task.ExecutionError
	if errors.As(err, &execErr) {
		return "Task failed: " + execErr.Message
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrTaskExists):
		return "Task already exists"

	case errors.Is(err, task.ErrTaskNotReady):
		return "Task has not completed yet"

	case errors.Is(err, task.ErrWaitTimeout):
		return "Timed out waiting for task to complete"

	case errors.Is(err, task.ErrQueueFull):
		return "Task queue is full, try again later"

	case errors.Is(err, task.ErrExecutorClosed):
		return "Engine is shutting down"

	case errors.Is(err, task.ErrNotRegistered):
		return "Function is not registered for this executor"

	default:
		return "An unexpected error occurred"
	}
}

