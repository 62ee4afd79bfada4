// Package tasks runs fire-and-forget work off the request path and owns the
// periodic jobs started by the server.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ICJIA/icjia-accessibility-status/internal/metrics"
)

// ErrQueueFull is reported to the error sink when a task is dropped.
var ErrQueueFull = errors.New("task queue full")

// ErrorSink receives the error of every failed or dropped task.
type ErrorSink func(task string, err error)

type job struct {
	name string
	fn   func(context.Context) error
}

// Queue is a bounded buffer drained by a fixed number of workers. Submit
// never blocks; when the buffer is full the task is dropped.
type Queue struct {
	jobs   chan job
	sink   ErrorSink
	ctx    context.Context
	cancel context.CancelFunc

	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers goroutines reading from a buffer of size. A nil
// sink logs through logger.
func NewQueue(workers, size int, logger *slog.Logger, sink ErrorSink) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:   make(chan job, size),
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	return q
}

// LogSink returns a sink that logs the failure at warn level and counts it.
func LogSink(logger *slog.Logger) ErrorSink {
	return func(task string, err error) {
		metrics.BackgroundTaskFailures.WithLabelValues(task).Inc()
		logger.Warn("background task failed", "task", task, "error", err)
	}
}

// Submit enqueues fn under name. It reports false when the task was dropped
// because the queue is full or closed.
func (q *Queue) Submit(name string, fn func(context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.sink(name, errors.New("task queue closed"))
		return false
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.pending.Done()
		q.sink(name, ErrQueueFull)
		return false
	}
}

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Close stops accepting work, lets the workers drain what is buffered and
// waits for them, or until ctx is done. Remaining tasks then see a
// cancelled context.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			q.sink(j.name, errors.New("task panicked"))
		}
	}()
	if err := j.fn(q.ctx); err != nil {
		q.sink(j.name, err)
	}
}
