package task

import "time"

// Status represents the current state of a task record.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"

	// StatusCancelled is a best-effort label for a task whose deletion was
	// requested while its underlying execution could not be interrupted.
	// The reference cancellation path removes the record outright, so this
	// status is part of the vocabulary stores must accept but is never
	// produced by the Manager itself.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
// Note that cancellation removes the record rather than parking it in a
// terminal state, so CANCELLED is terminal by definition as well.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record is one submitted unit of work and its lifecycle state.
//
// The owning Store holds the authoritative copy; every read hands callers a
// snapshot. StartedAt is set when the Manager hands the task to the Executor,
// not when a worker actually begins executing it. Under load this slightly
// understates queueing delay, and callers are expected to rely on that
// documented meaning of "running".
type Record struct {
	// TaskID is the opaque unique identifier, generated at creation.
	TaskID string `json:"task_id"`

	// GroupName is the logical task group the record belongs to.
	GroupName string `json:"group_name"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is set once at record creation.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is set when the task is handed to the executor.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is set when execution ends, successfully or not.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result holds the callable's return value; populated only when
	// Status is completed.
	Result any `json:"result,omitempty"`

	// Error holds a human-readable failure description; populated only
	// when Status is failed.
	Error string `json:"error,omitempty"`

	// StackTrace holds optional full failure detail for diagnostics.
	StackTrace string `json:"stack_trace,omitempty"`
}

// Clone returns a copy of the record that callers may inspect without
// aliasing the store's authoritative copy. The Result payload is shared;
// it is treated as opaque and immutable once set.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
