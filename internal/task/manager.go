package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskmill/taskmill/internal/events"
)

// DefaultPollInterval is how often a waiting result query re-reads the
// store. Polling rather than blocking on a condition variable keeps the
// Store interface free of notification machinery and works the same for
// in-process and out-of-process backends.
const DefaultPollInterval = 100 * time.Millisecond

// ManagerConfig holds per-manager tuning knobs.
type ManagerConfig struct {
	// PollInterval overrides DefaultPollInterval for waiting result
	// queries. Zero keeps the default.
	PollInterval time.Duration

	// DispatchMode is the configured policy for the front end serving
	// this task group. The manager only carries it; ShouldRunAsync
	// consumes it.
	DispatchMode Mode

	// Events receives a lifecycle event at each task transition. Nil
	// disables emission.
	Events events.EventEmitter
}

// Manager coordinates a Store and an Executor for one task group: it turns
// a submission into a record plus an executor dispatch, and answers status,
// result, cancel and list queries against the store.
type Manager struct {
	group        string
	store        Store
	executor     Executor
	pollInterval time.Duration
	dispatchMode Mode
	logger       *slog.Logger
	metrics      *Metrics
	events       events.EventEmitter
}

// NewManager creates a Manager for the named task group.
func NewManager(group string, store Store, executor Executor, config ManagerConfig, logger *slog.Logger, metrics *Metrics) *Manager {
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	dispatchMode := config.DispatchMode
	if dispatchMode == "" {
		dispatchMode = ModeQueryFlag
	}
	return &Manager{
		group:        group,
		store:        store,
		executor:     executor,
		pollInterval: pollInterval,
		dispatchMode: dispatchMode,
		logger:       logger.With("group", group),
		metrics:      metrics,
		events:       config.Events,
	}
}

// emitEvent publishes a lifecycle event when an emitter is configured.
// Emission is best-effort: a failing handler never affects the task.
func (m *Manager) emitEvent(ctx context.Context, eventType events.EventType, taskID, taskError string) {
	if m.events == nil {
		return
	}
	event := events.NewLifecycleEvent(eventType, taskID, m.group)
	event.Error = taskError
	if err := m.events.EmitEvent(ctx, event); err != nil {
		m.logger.Warn("lifecycle event handler failed",
			"event_type", eventType,
			"task_id", taskID,
			"error", err)
	}
}

// Group returns the task group this manager serves.
func (m *Manager) Group() string { return m.group }

// DispatchMode returns the configured dispatch policy mode for this group.
func (m *Manager) DispatchMode() Mode { return m.dispatchMode }

// CreateTask submits a callable for asynchronous execution and returns the
// new task ID without waiting for completion.
//
// The record is marked running before the executor actually picks the work
// up: "running" means "handed to the executor", not "currently executing on
// a worker". Scheduling failures (queue full, executor shut down) are
// returned synchronously and leave no record behind, since no record could
// carry the failure asynchronously.
func (m *Manager) CreateTask(ctx context.Context, c Callable, args []any, kwargs map[string]any) (string, error) {
	taskID := uuid.New().String()

	rec, err := m.store.CreateTask(ctx, taskID, m.group)
	if err != nil {
		return "", fmt.Errorf("failed to create task record: %w", err)
	}

	now := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	if err := m.store.UpdateTask(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to mark task running: %w", err)
	}

	if err := m.executor.SubmitTask(taskID, c, args, kwargs, m.taskCallback); err != nil {
		if _, delErr := m.store.DeleteTask(ctx, taskID); delErr != nil {
			m.logger.Error("failed to remove record after scheduling failure",
				"task_id", taskID,
				"error", delErr)
		}
		return "", fmt.Errorf("failed to schedule task: %w", err)
	}

	m.metrics.TaskSubmitted(m.group)
	m.emitEvent(ctx, events.TypeTaskSubmitted, taskID, "")
	m.logger.Debug("task submitted", "task_id", taskID)
	return taskID, nil
}

// taskCallback is invoked by the executor exactly once per task. When the
// record has been deleted in the meantime (cancellation), the outcome is
// discarded: cancellation is non-preemptive, it only makes the eventual
// result invisible.
func (m *Manager) taskCallback(taskID string, result any, err error) {
	ctx := context.Background()

	rec, getErr := m.store.GetTask(ctx, taskID)
	if getErr != nil {
		if errors.Is(getErr, ErrTaskNotFound) {
			m.logger.Debug("discarding outcome of deleted task", "task_id", taskID)
			return
		}
		m.logger.Error("failed to read record in completion callback",
			"task_id", taskID,
			"error", getErr)
		return
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		var pe *PanicError
		if errors.As(err, &pe) {
			rec.StackTrace = string(pe.Stack)
		}
	} else {
		rec.Status = StatusCompleted
		rec.Result = result
	}

	if updErr := m.store.UpdateTask(ctx, rec); updErr != nil {
		// A concurrent delete between the read and the write loses the
		// outcome, which is the documented cancellation semantic.
		if errors.Is(updErr, ErrTaskNotFound) {
			m.logger.Debug("discarding outcome of deleted task", "task_id", taskID)
			return
		}
		m.logger.Error("failed to persist task outcome",
			"task_id", taskID,
			"status", rec.Status,
			"error", updErr)
		return
	}

	if rec.Status == StatusFailed {
		m.metrics.TaskFailed(m.group)
		m.emitEvent(ctx, events.TypeTaskFailed, taskID, rec.Error)
		m.logger.Info("task failed", "task_id", taskID, "error", rec.Error)
	} else {
		m.metrics.TaskCompleted(m.group)
		m.emitEvent(ctx, events.TypeTaskCompleted, taskID, "")
		m.logger.Debug("task completed", "task_id", taskID)
	}
	if rec.StartedAt != nil {
		m.metrics.TaskDuration(now.Sub(*rec.StartedAt))
	}
}

// GetStatus returns a snapshot of the task record, or ErrTaskNotFound.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*Record, error) {
	return m.store.GetTask(ctx, taskID)
}

// GetResult returns the task's result once it is available.
//
// With wait=false it reports immediately: the result for a completed task,
// an ExecutionError for a failed one, ErrTaskNotFound for an unknown ID, or
// ErrTaskNotReady while the task is still pending/running.
//
// With wait=true it polls the store until the task reaches a terminal state
// or timeout elapses, in which case it returns ErrWaitTimeout, distinct
// from ErrTaskNotReady so callers can tell "I gave up waiting" from "it's
// not done yet". The timeout is respected to within one poll interval.
func (m *Manager) GetResult(ctx context.Context, taskID string, wait bool, timeout time.Duration) (any, error) {
	if !wait {
		return m.checkResult(ctx, taskID)
	}

	deadline := time.Now().Add(timeout)
	for {
		result, err := m.checkResult(ctx, taskID)
		if !errors.Is(err, ErrTaskNotReady) {
			return result, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, taskID, timeout)
		}

		interval := m.pollInterval
		if remaining < interval {
			interval = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// checkResult performs one non-waiting result inspection.
func (m *Manager) checkResult(ctx context.Context, taskID string) (any, error) {
	rec, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case StatusCompleted:
		return rec.Result, nil
	case StatusFailed:
		return nil, &ExecutionError{
			TaskID:     taskID,
			Message:    rec.Error,
			StackTrace: rec.StackTrace,
		}
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotReady, taskID, rec.Status)
	}
}

// CancelTask removes the task record, reporting whether one existed.
// Cancellation is non-preemptive: a callable already executing runs to
// completion, but its callback finds no record and discards the outcome.
func (m *Manager) CancelTask(ctx context.Context, taskID string) (bool, error) {
	existed, err := m.store.DeleteTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if existed {
		m.metrics.TaskCancelled(m.group)
		m.emitEvent(ctx, events.TypeTaskCancelled, taskID, "")
		m.logger.Debug("task cancelled", "task_id", taskID)
	}
	return existed, nil
}

// ListTasks returns up to limit records, most recently created first.
func (m *Manager) ListTasks(ctx context.Context, limit int) ([]*Record, error) {
	return m.store.ListTasks(ctx, limit)
}

// Shutdown stops the executor, draining in-flight work.
func (m *Manager) Shutdown() {
	m.executor.Shutdown(true)
}
