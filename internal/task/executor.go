package task

import "context"

// Callable is the unit of work the engine runs: an opaque
// (args, kwargs) -> result function that may also fail. The engine never
// inspects arguments or results; they pass through to the record untouched.
type Callable interface {
	Call(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// Func adapts a plain function to the Callable interface.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Call implements Callable.
func (f Func) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return f(ctx, args, kwargs)
}

// Named is implemented by callables that can be dispatched outside the
// submitting goroutine's process: a worker subprocess or a broker consumer
// resolves the name against the proc registry and runs the registered
// function. Closures and unregistered functions cannot cross that boundary.
type Named interface {
	Callable
	TaskName() string
}

// DoneFunc is the completion callback an executor invokes exactly once per
// submitted task: with (result, nil) on success, or (nil, err) when the
// callable returned an error or panicked.
type DoneFunc func(taskID string, result any, err error)

// Executor runs a callable out of the caller's execution path and reports
// the outcome asynchronously through the completion callback.
//
// SubmitTask must return promptly; scheduling failures (ErrQueueFull,
// ErrExecutorClosed, ErrNotRegistered) are the only errors it reports
// synchronously. Failures inside the callable are always caught at the
// executor boundary and funneled through done; they never propagate out of
// SubmitTask and never crash the worker pool.
type Executor interface {
	SubmitTask(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error

	// Shutdown stops accepting new work. When wait is true it blocks
	// until in-flight work drains.
	Shutdown(wait bool)
}
