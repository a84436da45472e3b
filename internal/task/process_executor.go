package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// procWorkerEnv marks a child process as a task worker. The process executor
// re-invokes the running binary with this variable set; the child reads one
// job document on stdin, runs the registered function, and writes one
// outcome document on stdout.
const procWorkerEnv = "TASKMILL_PROC_WORKER"

// procJobDoc is the wire form of a job crossing the process boundary.
// Arguments and results must survive a JSON round trip, which is exactly the
// serializability restriction the worker-process model imposes.
type procJobDoc struct {
	TaskID string         `json:"task_id"`
	Name   string         `json:"name"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// procOutcomeDoc is the wire form of a completed job.
type procOutcomeDoc struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Failed bool   `json:"failed"`
}

// ProcessConfig holds configuration for the worker-process executor.
type ProcessConfig struct {
	// WorkerCount bounds how many subprocesses run concurrently.
	// Zero or negative falls back to the number of CPUs, since this
	// executor targets CPU-bound callables.
	WorkerCount int

	// QueueSize determines the buffer size for the submission queue.
	QueueSize int
}

// DefaultProcessConfig returns a ProcessConfig with reasonable defaults.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		WorkerCount: runtime.NumCPU(),
		QueueSize:   100,
	}
}

type procJob struct {
	doc  procJobDoc
	done DoneFunc
}

// ProcessExecutor runs callables in worker subprocesses. It is the
// worker-process variant: appropriate for CPU-bound callables that would
// otherwise contend for one process's scheduler. Callables must be
// registered with RegisterProc, and their arguments and results must be
// JSON-serializable, since closures and unshared state cannot cross the
// process boundary.
type ProcessExecutor struct {
	jobs   chan procJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewProcessExecutor creates a process executor and starts its dispatch
// workers.
func NewProcessExecutor(config ProcessConfig, logger *slog.Logger) *ProcessExecutor {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultProcessConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ProcessExecutor{
		jobs:   make(chan procJob, queueSize),
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

// SubmitTask implements Executor. Unregistered callables and
// non-serializable arguments are scheduling failures, reported
// synchronously: there is no way to carry them across the boundary.
func (e *ProcessExecutor) SubmitTask(taskID string, c Callable, args []any, kwargs map[string]any, done DoneFunc) error {
	named, ok := c.(Named)
	if !ok {
		return fmt.Errorf("%w: callable does not carry a registered name", ErrNotRegistered)
	}
	if _, ok := LookupProc(named.TaskName()); !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, named.TaskName())
	}

	doc := procJobDoc{TaskID: taskID, Name: named.TaskName(), Args: args, Kwargs: kwargs}
	if _, err := json.Marshal(doc); err != nil {
		return fmt.Errorf("task arguments are not serializable: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	select {
	case e.jobs <- procJob{doc: doc, done: done}:
		e.mu.Unlock()
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(e.jobs))
	}
}

// Shutdown implements Executor.
func (e *ProcessExecutor) Shutdown(wait bool) {
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

// worker dispatches queued jobs to subprocesses, one at a time per worker.
func (e *ProcessExecutor) worker(id int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case job, ok := <-e.jobs:
			if !ok {
				return
			}
			result, err := e.runSubprocess(job.doc)
			if err != nil {
				e.logger.Debug("subprocess task failed",
					"task_id", job.doc.TaskID,
					"proc", job.doc.Name,
					"worker_id", id,
					"error", err)
			}
			job.done(job.doc.TaskID, result, err)
		}
	}
}

// runSubprocess re-invokes the current binary as a worker, feeds it the job
// on stdin, and decodes the outcome from stdout.
func (e *ProcessExecutor) runSubprocess(doc procJobDoc) (any, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate worker binary: %w", err)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("cannot encode job: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(e.ctx, exe)
	cmd.Env = append(os.Environ(), procWorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worker process failed: %w (stderr: %s)", err, stderr.String())
	}

	var outcome procOutcomeDoc
	if err := json.Unmarshal(stdout.Bytes(), &outcome); err != nil {
		return nil, fmt.Errorf("worker produced malformed outcome: %w", err)
	}
	if outcome.Failed {
		return nil, fmt.Errorf("%s", outcome.Error)
	}
	return outcome.Result, nil
}

// RunProcWorkerIfRequested runs the worker side of the process executor when
// the current process was spawned as a worker, then exits. It must be called
// early in main (and in TestMain for test binaries that exercise the process
// executor) before any other work.
func RunProcWorkerIfRequested() {
	if os.Getenv(procWorkerEnv) == "" {
		return
	}

	var doc procJobDoc
	if err := json.NewDecoder(os.Stdin).Decode(&doc); err != nil {
		fmt.Fprintf(os.Stderr, "malformed job document: %v\n", err)
		os.Exit(1)
	}

	named, ok := LookupProc(doc.Name)
	outcome := procOutcomeDoc{}
	if !ok {
		outcome.Failed = true
		outcome.Error = fmt.Sprintf("proc %q is not registered in the worker binary", doc.Name)
	} else {
		result, err := RunCallable(context.Background(), named, doc.Args, doc.Kwargs)
		if err != nil {
			outcome.Failed = true
			outcome.Error = err.Error()
		} else {
			outcome.Result = result
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(outcome); err != nil {
		fmt.Fprintf(os.Stderr, "cannot encode outcome: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
