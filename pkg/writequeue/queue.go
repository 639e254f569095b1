// Package writequeue serializes mutating work through a single owning
// goroutine, giving the durable store and the in-memory indexes an explicit
// single-writer discipline.
package writequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/recall-labs/mnemo/internal/observability"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("writequeue: closed")

// Task is one unit of mutating work.
type Task func(ctx context.Context) error

type record struct {
	name       string
	ctx        context.Context
	task       Task
	enqueuedAt time.Time
	result     chan error
}

// Queue runs submitted tasks one at a time, in submission order.
type Queue struct {
	tasks  chan *record
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a queue with the given buffer and starts its worker.
func New(logger zerolog.Logger, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	q := &Queue{
		tasks:  make(chan *record, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case rec := <-q.tasks:
			observability.SetWriteQueueDepth(len(q.tasks))
			start := time.Now()
			err := rec.task(rec.ctx)
			q.logger.Debug().
				Str("task", rec.name).
				Dur("wait", start.Sub(rec.enqueuedAt)).
				Dur("duration", time.Since(start)).
				Err(err).
				Msg("Write task completed")
			rec.result <- err
		}
	}
}

// Do submits a task and waits for its result. If ctx is canceled while
// waiting, Do returns early; the task itself still runs to completion, so
// cancellation discards the pending result without corrupting state.
func (q *Queue) Do(ctx context.Context, name string, task Task) error {
	rec := &record{
		name:       name,
		ctx:        ctx,
		task:       task,
		enqueuedAt: time.Now(),
		result:     make(chan error, 1),
	}

	select {
	case q.tasks <- rec:
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-rec.result:
		return err
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Tasks still queued are dropped; their submitters
// receive ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
