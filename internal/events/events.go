package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a transition in a task's life.
type EventType string

// Lifecycle event types.
const (
	TypeTaskSubmitted EventType = "task.submitted"
	TypeTaskCompleted EventType = "task.completed"
	TypeTaskFailed    EventType = "task.failed"
	TypeTaskCancelled EventType = "task.cancelled"
)

// LifecycleEvent records one transition in a task's life. It carries only
// identifying data, not the task's result payload: handlers needing the
// outcome read it from the store.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is the transition this event records
	Type EventType `json:"type"`

	// TaskID and Group identify the task
	TaskID string `json:"task_id"`
	Group  string `json:"group"`

	// Error holds the failure message for task.failed events
	Error string `json:"error,omitempty"`

	// OccurredAt is when the transition happened
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLifecycleEvent creates a LifecycleEvent for the given transition.
func NewLifecycleEvent(eventType EventType, taskID, group string) *LifecycleEvent {
	return &LifecycleEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		Group:      group,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle lifecycle
// events. Handlers must tolerate being called concurrently.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventEmitter defines an interface for components that can emit lifecycle
// events. This lets the engine publish transitions without direct knowledge
// of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if any handler failed.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}
