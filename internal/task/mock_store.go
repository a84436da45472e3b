package task

import "context"

// MockStore wraps a MemoryStore with overridable operations for testing
// failure paths. Overrides default to the in-memory behavior.
type MockStore struct {
	backing  *MemoryStore
	CreateFn func(ctx context.Context, taskID, groupName string) (*Record, error)
	GetFn    func(ctx context.Context, taskID string) (*Record, error)
	UpdateFn func(ctx context.Context, rec *Record) error
	DeleteFn func(ctx context.Context, taskID string) (bool, error)
	ListFn   func(ctx context.Context, limit int) ([]*Record, error)
}

// NewMockStore creates a MockStore backed by a fresh MemoryStore.
func NewMockStore() *MockStore {
	s := &MockStore{backing: NewMemoryStore(0)}
	s.CreateFn = s.backing.CreateTask
	s.GetFn = s.backing.GetTask
	s.UpdateFn = s.backing.UpdateTask
	s.DeleteFn = s.backing.DeleteTask
	s.ListFn = s.backing.ListTasks
	return s
}

// CreateTask implements Store.
func (s *MockStore) CreateTask(ctx context.Context, taskID, groupName string) (*Record, error) {
	return s.CreateFn(ctx, taskID, groupName)
}

// GetTask implements Store.
func (s *MockStore) GetTask(ctx context.Context, taskID string) (*Record, error) {
	return s.GetFn(ctx, taskID)
}

// UpdateTask implements Store.
func (s *MockStore) UpdateTask(ctx context.Context, rec *Record) error {
	return s.UpdateFn(ctx, rec)
}

// DeleteTask implements Store.
func (s *MockStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	return s.DeleteFn(ctx, taskID)
}

// ListTasks implements Store.
func (s *MockStore) ListTasks(ctx context.Context, limit int) ([]*Record, error) {
	return s.ListFn(ctx, limit)
}

// MockExecutor implements Executor with an overridable submit hook. The
// default runs the callable synchronously on the submitting goroutine and
// invokes the callback before SubmitTask returns, which makes manager tests
// deterministic.
type MockExecutor struct {
	SubmitFn   func(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error
	ShutdownFn func(wait bool)
}

// NewMockExecutor creates a MockExecutor with synchronous defaults.
func NewMockExecutor() *MockExecutor {
	e := &MockExecutor{}
	e.SubmitFn = func(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error {
		result, err := RunCallable(context.Background(), c, args, kwargs)
		done(taskID, result, err)
		return nil
	}
	e.ShutdownFn = func(wait bool) {}
	return e
}

// SubmitTask implements Executor.
func (e *MockExecutor) SubmitTask(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error {
	return e.SubmitFn(taskID, c, args, kwargs, done)
}

// Shutdown implements Executor.
func (e *MockExecutor) Shutdown(wait bool) {
	e.ShutdownFn(wait)
}
