package task

import (
	"errors"
	"fmt"
)

// Common engine errors. Expected conditions ("not found", "not ready",
// "timed out") are sentinel values callers match with errors.Is rather than
// exceptional control flow: absence and non-readiness are first-class
// outcomes of the API, not defects.
var (
	// ErrTaskNotFound is returned when a task ID is unknown to the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when a store is asked to create a record
	// whose ID is already present. Callers supply fresh random IDs, so
	// hitting this indicates a caller bug rather than a race to retry.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotReady is returned by a non-waiting result query against a
	// task that has not yet reached a terminal state.
	ErrTaskNotReady = errors.New("task not ready")

	// ErrWaitTimeout is returned by a waiting result query whose deadline
	// elapsed before the task reached a terminal state. It is distinct
	// from ErrTaskNotReady so callers can tell "I gave up waiting" from
	// "it's not done yet".
	ErrWaitTimeout = errors.New("timed out waiting for task result")

	// ErrQueueFull is returned synchronously when an executor cannot
	// accept more work. No record carries this failure asynchronously
	// because scheduling failed before execution began.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrExecutorClosed is returned when work is submitted to an executor
	// that has been shut down.
	ErrExecutorClosed = errors.New("executor is shut down")

	// ErrNotRegistered is returned when a callable that must cross a
	// process or broker boundary was not registered under a stable name.
	ErrNotRegistered = errors.New("callable is not registered for out-of-process dispatch")
)

// ExecutionError reports that a task's callable failed. It is stored as data
// on the record by the completion callback and only surfaced as an error at
// the result-query boundary when a caller asks for the result of a
// known-failed task.
type ExecutionError struct {
	TaskID     string
	Message    string
	StackTrace string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// PanicError wraps a panic recovered at the executor boundary, preserving
// the stack for the record's diagnostic detail. A panicking callable must
// never take down a worker, so executors convert panics into this error and
// funnel them through the completion callback like any other failure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callable panicked: %v", e.Value)
}
