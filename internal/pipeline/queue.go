package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyQueued is returned when a recording already has a pending or
// running execution; artifact versioning assumes one execution per
// recording at a time.
var ErrAlreadyQueued = errors.New("recording already queued or running")

// ErrQueueFull is returned when the task buffer is at capacity.
var ErrQueueFull = errors.New("task queue is full")

type task struct {
	recordingID string
	opts        RunOptions
}

// Queue feeds run requests to the executor from a fixed pool of workers.
// The control-plane server enqueues; workers drain in arrival order.
type Queue struct {
	exec    *Executor
	tasks   chan task
	workers int

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
	started  bool
}

// NewQueue builds a queue over the executor. workers bounds how many
// recordings execute concurrently; buffer bounds how many wait.
func NewQueue(exec *Executor, workers, buffer int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Queue{
		exec:     exec,
		tasks:    make(chan task, buffer),
		workers:  workers,
		inflight: make(map[string]bool),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Shutdown closes the queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-q.tasks:
					if !ok {
						return
					}
					q.run(ctx, t)
				}
			}
		}()
	}
}

// Enqueue submits a run request. It fails fast rather than blocking so
// HTTP handlers can report backpressure.
func (q *Queue) Enqueue(recordingID string, opts RunOptions) error {
	q.mu.Lock()
	if q.inflight[recordingID] {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, recordingID)
	}
	q.inflight[recordingID] = true
	q.mu.Unlock()

	select {
	case q.tasks <- task{recordingID: recordingID, opts: opts}:
		return nil
	default:
		q.mu.Lock()
		delete(q.inflight, recordingID)
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Running reports whether a recording has a pending or active execution.
func (q *Queue) Running(recordingID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight[recordingID]
}

// Shutdown stops accepting work and waits for in-flight executions, or
// returns early when ctx expires.
func (q *Queue) Shutdown(ctx context.Context) error {
	close(q.tasks)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context, t task) {
	defer func() {
		q.mu.Lock()
		delete(q.inflight, t.recordingID)
		q.mu.Unlock()
	}()
	if _, err := q.exec.Run(ctx, t.recordingID, t.opts); err != nil {
		emit(t.opts.OnProgress, ProgressEvent{
			Category:    CategoryPipeline,
			Message:     fmt.Sprintf("execution failed: %v", err),
			RecordingID: t.recordingID,
		})
	}
}
