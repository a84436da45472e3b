package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// PoolConfig holds configuration for the goroutine pool executor.
type PoolConfig struct {
	// WorkerCount determines how many concurrent workers run tasks.
	// Zero or negative falls back to 1.
	WorkerCount int

	// QueueSize determines the buffer size for the submission queue.
	// A saturated queue surfaces as ErrQueueFull rather than unbounded
	// memory growth.
	QueueSize int
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

type poolJob struct {
	taskID string
	c      Callable
	args   []any
	kwargs map[string]any
	done   DoneFunc
}

// PoolExecutor runs callables on a bounded pool of worker goroutines. It is
// the worker-thread variant: callables share process memory, which suits
// I/O-bound work that does not contend for the scheduler.
type PoolExecutor struct {
	jobs   chan poolJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPoolExecutor creates a pool executor and starts its workers. The
// executor accepts work immediately and runs until Shutdown.
func NewPoolExecutor(config PoolConfig, logger *slog.Logger) *PoolExecutor {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultPoolConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &PoolExecutor{
		jobs:   make(chan poolJob, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return e
}

// SubmitTask implements Executor. It never blocks: a full queue is reported
// synchronously as ErrQueueFull.
func (e *PoolExecutor) SubmitTask(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}

	select {
	case e.jobs <- poolJob{taskID: taskID, c: c, args: args, kwargs: kwargs, done: done}:
		e.mu.Unlock()
		e.logger.Debug("task scheduled",
			"task_id", taskID,
			"queue_len", len(e.jobs),
			"queue_cap", cap(e.jobs))
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(e.jobs))
	}
}

// Shutdown implements Executor. With wait=true it drains queued work before
// returning; otherwise queued jobs are discarded and in-flight callables are
// signalled through their context.
func (e *PoolExecutor) Shutdown(wait bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()

	if wait {
		e.wg.Wait()
		e.cancel()
		return
	}
	e.cancel()
}

// worker consumes jobs until the queue closes or the executor is torn down.
func (e *PoolExecutor) worker(id int) {
	defer e.wg.Done()

	e.logger.Debug("starting worker", "worker_id", id)
	for {
		select {
		case <-e.ctx.Done():
			e.logger.Debug("stopping worker", "worker_id", id)
			return
		case job, ok := <-e.jobs:
			if !ok {
				e.logger.Debug("job queue closed, stopping worker", "worker_id", id)
				return
			}
			result, err := RunCallable(e.ctx, job.c, job.args, job.kwargs)
			job.done(job.taskID, result, err)
		}
	}
}

// RunCallable executes a callable, converting panics into errors so one
// task's failure cannot take down a worker. Executor implementations in
// other packages use it for the same panic containment.
func RunCallable(ctx context.Context, c Callable, args []any, kwargs map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return c.Call(ctx, args, kwargs)
}
