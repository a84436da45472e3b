package task

import "context"

// Store defines the bookkeeping interface for task records, keyed by task ID.
//
// Implementations own the authoritative copy of every record and must
// synchronize access internally so that the submission path and the
// completion callback cannot interleave into a corrupted record. All reads
// return snapshots, never live references.
//
// Implementations MAY apply an opportunistic TTL sweep (dropping records
// whose CompletedAt is older than a configured duration) on any operation.
// The sweep is best-effort and must not be relied on for exact timing.
type Store interface {
	// CreateTask inserts a new record with status pending and
	// CreatedAt set to now. Returns ErrTaskExists if the ID is taken;
	// callers must supply fresh, collision-free identifiers.
	CreateTask(ctx context.Context, taskID, groupName string) (*Record, error)

	// GetTask returns a snapshot of the current record, or
	// ErrTaskNotFound.
	GetTask(ctx context.Context, taskID string) (*Record, error)

	// UpdateTask replaces the stored record wholesale. Last-writer-wins
	// is acceptable: exactly one writer mutates a given task's state
	// machine at a time.
	UpdateTask(ctx context.Context, rec *Record) error

	// DeleteTask removes the record, reporting whether it existed.
	DeleteTask(ctx context.Context, taskID string) (bool, error)

	// ListTasks returns up to limit records, most recently created
	// first. A non-positive limit returns all records.
	ListTasks(ctx context.Context, limit int) ([]*Record, error)
}
