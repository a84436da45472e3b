// Package amqpexec implements the task engine's Executor interface on a
// RabbitMQ queue: jobs are published as JSON and consumed by an in-process
// worker group that resolves registered proc names and reports through the
// standard completion callback. Like the worker-process executor, callables
// must be registered under a stable name and their arguments must survive a
// JSON round trip.
package amqpexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/taskmill/taskmill/internal/task"
)

// Config describes the broker connection parameters.
type Config struct {
	URL         string
	Queue       string
	WorkerCount int
	Prefetch    int
}

// jobDoc is the wire form of a job crossing the broker.
type jobDoc struct {
	TaskID string         `json:"task_id"`
	Name   string         `json:"name"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Executor is an AMQP-backed task executor.
//
// Completion callbacks are tracked per task in the publishing process, so
// outcomes are only delivered for jobs this instance submitted. Jobs
// published by other instances are still executed (the registered function
// runs), but their outcome is dropped here: recording cross-instance
// outcomes is the job of a shared Store backend, not the executor.
type Executor struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]task.DoneFunc
}

// New connects to the broker, declares the queue, and starts the consumer
// workers.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url must not be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "taskmill.tasks"
	}
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set amqp qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare amqp queue: %w", err)
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start amqp consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		conn:    conn,
		ch:      ch,
		queue:   queue,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("executor", "amqp", "queue", queue),
		pending: make(map[string]task.DoneFunc),
	}

	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.consume(msgs)
	}
	return e, nil
}

// SubmitTask implements task.Executor. Broker publish failures are
// scheduling failures, reported synchronously.
func (e *Executor) SubmitTask(taskID string, c task.Callable, args []any, kwargs map[string]any, done task.DoneFunc) error {
	named, ok := c.(task.Named)
	if !ok {
		return fmt.Errorf("%w: callable does not carry a registered name", task.ErrNotRegistered)
	}
	if _, ok := task.LookupProc(named.TaskName()); !ok {
		return fmt.Errorf("%w: %s", task.ErrNotRegistered, named.TaskName())
	}

	payload, err := json.Marshal(jobDoc{TaskID: taskID, Name: named.TaskName(), Args: args, Kwargs: kwargs})
	if err != nil {
		return fmt.Errorf("task arguments are not serializable: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return task.ErrExecutorClosed
	}
	e.pending[taskID] = done
	e.mu.Unlock()

	err = e.ch.PublishWithContext(e.ctx, "", e.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		e.mu.Lock()
		delete(e.pending, taskID)
		e.mu.Unlock()
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

// Shutdown implements task.Executor.
func (e *Executor) Shutdown(wait bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if !wait {
		e.cancel()
	}
	// Closing the channel ends the consumer deliveries; with wait=true
	// in-flight handlers finish first.
	_ = e.ch.Close()
	e.wg.Wait()
	e.cancel()
	_ = e.conn.Close()
}

// consume processes deliveries until the channel closes or the executor is
// torn down. A failing handler still acks: retry policy belongs to callers,
// and the outcome (including the failure) is already reported through the
// completion callback.
func (e *Executor) consume(msgs <-chan amqp.Delivery) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			e.handle(msg)
		}
	}
}

func (e *Executor) handle(msg amqp.Delivery) {
	defer func() {
		if err := msg.Ack(false); err != nil {
			e.logger.Warn("failed to ack delivery", "error", err)
		}
	}()

	var doc jobDoc
	if err := json.Unmarshal(msg.Body, &doc); err != nil {
		e.logger.Warn("dropping malformed job document", "error", err)
		return
	}

	var result any
	var err error
	named, ok := task.LookupProc(doc.Name)
	if !ok {
		err = fmt.Errorf("proc %q is not registered in this consumer", doc.Name)
	} else {
		result, err = task.RunCallable(e.ctx, named, doc.Args, doc.Kwargs)
	}

	e.mu.Lock()
	done, ok := e.pending[doc.TaskID]
	delete(e.pending, doc.TaskID)
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("dropping outcome of job submitted elsewhere", "task_id", doc.TaskID)
		return
	}
	done(doc.TaskID, result, err)
}
