// Package queue implements the orchestrator's bounded work queue: a
// stream of (token, node) tasks that blocks the producer at its
// high-water mark, giving the orchestrator's backpressure a concrete
// mechanism. Publishing blocks when full rather than dropping — ELSPETH's
// source iteration must pace to the queue, not silently lose work.
package queue

import (
	"context"
	"sync"

	"github.com/tachyon-beep/elspeth/internal/elslog"
)

// Task is one unit of orchestrator work: drive tokenID through nodeID.
type Task struct {
	TokenID string
	NodeID  string
}

// Queue is the work-queue abstraction the orchestrator depends on.
// Implementations: MemoryQueue (single process) and a Redis-backed queue
// (internal/queue/redis.go) for distributed deployments.
type Queue interface {
	// Push blocks until the task is enqueued or ctx is cancelled — the
	// backpressure mechanism.
	Push(ctx context.Context, task Task) error
	// Pop blocks until a task is available or ctx is cancelled.
	Pop(ctx context.Context) (Task, error)
	// Depth reports the current queue depth, for the high-water-mark
	// pacing decision.
	Depth() int
	Close() error
}

// MemoryQueue is a bounded-channel queue for single-process runs.
type MemoryQueue struct {
	ch     chan Task
	log    *elslog.Logger
	closed chan struct{}
	once   sync.Once
}

// NewMemoryQueue returns a queue whose channel buffer is highWaterMark —
// Push blocks once that many tasks are outstanding.
func NewMemoryQueue(highWaterMark int, log *elslog.Logger) *MemoryQueue {
	return &MemoryQueue{
		ch:     make(chan Task, highWaterMark),
		log:    log,
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, task Task) error {
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return errClosed
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Task, error) {
	select {
	case task := <-q.ch:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-q.closed:
		return Task{}, errClosed
	}
}

func (q *MemoryQueue) Depth() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.closed)
		q.log.Info("work queue closed")
	})
	return nil
}

type queueClosedError struct{}

func (queueClosedError) Error() string { return "queue closed" }

var errClosed = queueClosedError{}
