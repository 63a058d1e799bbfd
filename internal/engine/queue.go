package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jdholdren/skim/internal/logger"
	"github.com/jdholdren/skim/internal/skim"
)

type (
	// Queue is an unbounded FIFO mailbox drained by a single goroutine.
	// Operations never overlap and run in the order they were queued.
	Queue struct {
		name string

		mu      sync.Mutex
		pending []task
		closed  bool

		wake chan struct{}
		done chan struct{}
	}

	task struct {
		name string
		run  func(ctx context.Context)
	}
)

func NewQueue(name string) *Queue {
	return &Queue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Go queues op without waiting for it. It fails with [skim.ErrClosed] once
// the queue stopped.
func (q *Queue) Go(name string, op func(ctx context.Context)) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return skim.ErrClosed
	}
	q.pending = append(q.pending, task{name: name, run: op})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return nil
}

// Done is closed once the queue stopped draining.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Run drains the queue until ctx is done. Operations still pending then are
// dropped.
func (q *Queue) Run(ctx context.Context) error {
	defer q.stop()

	for {
		t, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		opCtx := logger.Ctx(ctx, slog.String("queue", q.name), slog.String("op", t.name))
		slog.DebugContext(opCtx, "running op")
		t.run(opCtx)
	}
}

func (q *Queue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return task{}, false
	}
	t := q.pending[0]
	q.pending[0] = task{}
	q.pending = q.pending[1:]

	return t, true
}

func (q *Queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}

type result[T any] struct {
	v   T
	err error
}

// do queues fn and waits for its result.
func do[T any](ctx context.Context, q *Queue, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero T
		res  = make(chan result[T], 1)
	)
	if err := q.Go(name, func(ctx context.Context) {
		v, err := fn(ctx)
		res <- result[T]{v: v, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case r := <-res:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.Done():
		// The op may have finished right before the queue stopped.
		select {
		case r := <-res:
			return r.v, r.err
		default:
			return zero, skim.ErrClosed
		}
	}
}
