// Package worker runs fire-and-forget tasks off the request hot path.
//
// Tasks are submitted to a bounded channel and executed by a fixed pool of
// goroutines. When the channel is full, new tasks are dropped and counted —
// background work never applies backpressure to the caller. Panics inside a
// task are recovered and logged.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
)

const (
	channelBuffer  = 10_000
	defaultWorkers = 4
)

// Task is one unit of background work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Queue is the bounded background task pool.
type Queue struct {
	ch        chan Task
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry
}

// New starts a Queue with the given number of workers (defaulted when <= 0).
// ctx bounds the lifetime of all task executions.
func New(ctx context.Context, workers int, log *slog.Logger, m *metrics.Registry) (*Queue, error) {
	if ctx == nil {
		return nil, fmt.Errorf("worker: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	q := &Queue{
		ch:      make(chan Task, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     log,
		metrics: m,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.run()
	}

	return q, nil
}

// Submit enqueues a task. Returns false when the queue is full and the task
// was dropped.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- Task{Name: name, Fn: fn}:
		return true
	default:
		atomic.AddInt64(&q.dropped, 1)
		if q.metrics != nil {
			q.metrics.RecordBackgroundTask(name, "dropped")
		}
		return false
	}
}

// Dropped returns how many tasks were rejected because the queue was full.
func (q *Queue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

// Close stops intake and waits for queued tasks to drain.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case t := <-q.ch:
			q.exec(t)

		case <-q.done:
			for {
				select {
				case t := <-q.ch:
					q.exec(t)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			if q.metrics != nil {
				q.metrics.RecordBackgroundTask(t.Name, "panic")
			}
			q.log.Error("background task panic",
				slog.String("task", t.Name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := t.Fn(q.baseCtx); err != nil {
		if q.metrics != nil {
			q.metrics.RecordBackgroundTask(t.Name, "error")
		}
		q.log.Warn("background task failed",
			slog.String("task", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if q.metrics != nil {
		q.metrics.RecordBackgroundTask(t.Name, "ok")
	}
}
