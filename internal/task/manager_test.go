package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/events"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	exec := NewPoolExecutor(PoolConfig{WorkerCount: 2, QueueSize: 20}, testLogger())
	t.Cleanup(func() { exec.Shutdown(true) })
	return NewManager("test-group", NewMemoryStore(0), exec, ManagerConfig{}, testLogger(), nil)
}

func delayedValue(d time.Duration, v any) Func {
	return func(context.Context, []any, map[string]any) (any, error) {
		time.Sleep(d)
		return v, nil
	}
}

func TestManager_CompletesWithResult(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	taskID, err := m.CreateTask(ctx, delayedValue(30*time.Millisecond, 42), nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	// Right after submission the task is pending or running.
	rec, err := m.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusPending, StatusRunning}, rec.Status)

	result, err := m.GetResult(ctx, taskID, true, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	rec, err = m.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 42, rec.Result)
	assert.Empty(t, rec.Error)

	// Timestamps are ordered: created <= started <= completed.
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.False(t, rec.StartedAt.Before(rec.CreatedAt))
	assert.False(t, rec.CompletedAt.Before(*rec.StartedAt))
}

func TestManager_FailureIsStoredAsData(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	failing := Func(func(context.Context, []any, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	taskID, err := m.CreateTask(ctx, failing, nil, nil)
	require.NoError(t, err)

	_, err = m.GetResult(ctx, taskID, true, 5*time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "boom")
	assert.Equal(t, taskID, execErr.TaskID)

	rec, err := m.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "boom")
	// Result and error are mutually exclusive.
	assert.Nil(t, rec.Result)

	// The non-waiting query reports the same stored failure.
	_, err = m.GetResult(ctx, taskID, false, 0)
	assert.ErrorAs(t, err, &execErr)
}

func TestManager_PanicCapturesStackTrace(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	panicky := Func(func(context.Context, []any, map[string]any) (any, error) {
		panic("kaboom")
	})
	taskID, err := m.CreateTask(ctx, panicky, nil, nil)
	require.NoError(t, err)

	_, err = m.GetResult(ctx, taskID, true, 5*time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "kaboom")
	assert.NotEmpty(t, execErr.StackTrace)

	rec, err := m.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.StackTrace)
}

func TestManager_UnknownTask(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.GetStatus(ctx, "unknown-id")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = m.GetResult(ctx, "unknown-id", false, 0)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_NotReadyVersusTimedOut(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	taskID, err := m.CreateTask(ctx, delayedValue(2*time.Second, "late"), nil, nil)
	require.NoError(t, err)

	// Non-waiting poll against a non-terminal task: not ready.
	_, err = m.GetResult(ctx, taskID, false, 0)
	assert.ErrorIs(t, err, ErrTaskNotReady)

	// Waiting poll past its deadline: timed out, within about one poll
	// interval of the requested timeout, not after the full task delay.
	start := time.Now()
	_, err = m.GetResult(ctx, taskID, true, 100*time.Millisecond)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.NotErrorIs(t, err, ErrTaskNotReady)
	assert.Less(t, elapsed, time.Second)
}

func TestManager_CancelIsIdempotentAndFinal(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	release := make(chan struct{})
	blocking := Func(func(context.Context, []any, map[string]any) (any, error) {
		<-release
		return "ghost", nil
	})
	taskID, err := m.CreateTask(ctx, blocking, nil, nil)
	require.NoError(t, err)

	existed, err := m.CancelTask(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, existed)

	// Second cancel reports absence.
	existed, err = m.CancelTask(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = m.GetStatus(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// Cancellation is non-preemptive: the callable finishes, but its
	// outcome is discarded and no record reappears.
	close(release)
	assert.Eventually(t, func() bool {
		_, err := m.GetStatus(ctx, taskID)
		return errors.Is(err, ErrTaskNotFound)
	}, time.Second, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	_, err = m.GetStatus(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_TaskIDsAreUnique(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := m.CreateTask(ctx, delayedValue(0, i), nil, nil)
		require.NoError(t, err)
		assert.False(t, seen[id], "task ID %s returned twice", id)
		seen[id] = true
	}
}

func TestManager_TerminalStateIsStable(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	taskID, err := m.CreateTask(ctx, delayedValue(0, "v"), nil, nil)
	require.NoError(t, err)

	result, err := m.GetResult(ctx, taskID, true, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "v", result)

	// Repeated observations of a terminal task agree.
	for i := 0; i < 5; i++ {
		rec, err := m.GetStatus(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.Equal(t, "v", rec.Result)
	}
}

func TestManager_ListTasks(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.CreateTask(ctx, delayedValue(0, i), nil, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	recs, err := m.ListTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Most recently created first.
	assert.False(t, recs[0].CreatedAt.Before(recs[1].CreatedAt))
}

func TestManager_SchedulingFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	exec := NewMockExecutor()
	exec.SubmitFn = func(string, Callable, []any, map[string]any, DoneFunc) error {
		return fmt.Errorf("%w: queue capacity 1 reached", ErrQueueFull)
	}
	m := NewManager("g", store, exec, ManagerConfig{}, testLogger(), nil)

	_, err := m.CreateTask(context.Background(), delayedValue(0, nil), nil, nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	recs, err := store.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestManager_CallbackAfterDeleteIsNoOp(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	var captured DoneFunc
	var capturedID string
	exec := NewMockExecutor()
	exec.SubmitFn = func(taskID string, _ Callable, _ []any, _ map[string]any, done DoneFunc) error {
		captured = done
		capturedID = taskID
		return nil
	}
	m := NewManager("g", store, exec, ManagerConfig{}, testLogger(), nil)
	ctx := context.Background()

	taskID, err := m.CreateTask(ctx, delayedValue(0, "v"), nil, nil)
	require.NoError(t, err)

	existed, err := m.CancelTask(ctx, taskID)
	require.NoError(t, err)
	require.True(t, existed)

	// The late completion finds no record and discards the outcome.
	captured(capturedID, "v", nil)

	_, err = m.GetStatus(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_RunningMeansHandedOff(t *testing.T) {
	t.Parallel()

	// With an executor that never runs the callable, the record still
	// reads running: the status denotes "handed to the executor".
	store := NewMockStore()
	exec := NewMockExecutor()
	exec.SubmitFn = func(string, Callable, []any, map[string]any, DoneFunc) error {
		return nil
	}
	m := NewManager("g", store, exec, ManagerConfig{}, testLogger(), nil)
	ctx := context.Background()

	taskID, err := m.CreateTask(ctx, delayedValue(0, nil), nil, nil)
	require.NoError(t, err)

	rec, err := m.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)
}

// captureEmitter records lifecycle events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []*events.LifecycleEvent
}

func (c *captureEmitter) EmitEvent(ctx context.Context, event *events.LifecycleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEmitter) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func TestManager_EmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	m := NewManager("evented", NewMemoryStore(0), NewMockExecutor(),
		ManagerConfig{Events: emitter}, testLogger(), nil)
	ctx := context.Background()

	// Success: the synchronous executor completes before CreateTask
	// returns, so completed is emitted before submitted.
	taskID, err := m.CreateTask(ctx, delayedValue(0, "ok"), nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []events.EventType{events.TypeTaskSubmitted, events.TypeTaskCompleted}, emitter.types())

	removed, err := m.CancelTask(ctx, taskID)
	require.NoError(t, err)
	require.True(t, removed)
	assert.Contains(t, emitter.types(), events.TypeTaskCancelled)

	// Failure carries the error message on the event.
	_, err = m.CreateTask(ctx, Func(func(context.Context, []any, map[string]any) (any, error) {
		return nil, errors.New("went sideways")
	}), nil, nil)
	require.NoError(t, err)

	var failed *events.LifecycleEvent
	emitter.mu.Lock()
	for _, e := range emitter.events {
		if e.Type == events.TypeTaskFailed {
			failed = e
		}
	}
	emitter.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, "went sideways", failed.Error)
	assert.Equal(t, "evented", failed.Group)
}
