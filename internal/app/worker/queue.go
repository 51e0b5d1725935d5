// Package worker provides a named work queue where enqueueing a task under a
// pending name replaces the earlier task instead of duplicating it.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var ErrQueueClosed = errors.New("work queue is closed")

// Task is a unit of deferred work.
type Task struct {
	Name    string
	Delay   time.Duration // Wait before the first attempt
	Retries int           // Additional attempts after a failure
	Backoff time.Duration // Base delay between attempts, doubled on each retry
	Run     func(ctx context.Context) error
}

// job is one scheduled instance of a task.
type job struct {
	generation uint64
	cancel     context.CancelFunc
}

// Queue runs tasks in the background, at most one pending instance per name.
type Queue struct {
	mu         sync.Mutex
	pending    map[string]*job
	generation uint64
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a new work queue.
func NewQueue() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		pending: make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue schedules the task. A pending task with the same name is cancelled
// and replaced.
func (q *Queue) Enqueue(task Task) error {
	if task.Name == "" {
		return errors.New("task name is required")
	}
	if task.Run == nil {
		return errors.Newf("task %s has no run function", task.Name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if prev, ok := q.pending[task.Name]; ok {
		prev.cancel()
		zlog.Debug().Msgf("replacing pending task: name=%s", task.Name)
	}

	q.generation++
	ctx, cancel := context.WithCancel(q.ctx)
	j := &job{generation: q.generation, cancel: cancel}
	q.pending[task.Name] = j

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.finish(task.Name, j)
		q.run(ctx, task)
	}()
	return nil
}

// Pending reports whether a task with the given name is scheduled or running.
func (q *Queue) Pending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[name]
	return ok
}

// Wait blocks until every task has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
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

// Close cancels every pending task and waits for them to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = make(map[string]*job)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// finish removes the job unless it has already been replaced.
func (q *Queue) finish(name string, j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j.cancel()
	if cur, ok := q.pending[name]; ok && cur.generation == j.generation {
		delete(q.pending, name)
	}
}

// run executes the task with its delay and bounded retries.
func (q *Queue) run(ctx context.Context, task Task) {
	if !sleep(ctx, task.Delay) {
		return
	}

	attempts := task.Retries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := task.Backoff * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("retrying task %s in %v (attempt %d/%d)", task.Name, delay, i+1, attempts)
			if !sleep(ctx, delay) {
				return
			}
		}

		err := task.Run(ctx)
		if err == nil {
			zlog.Debug().Msgf("task completed: name=%s attempt=%d", task.Name, i+1)
			return
		}
		if ctx.Err() != nil {
			return
		}
		zlog.Warn().Msgf("task failed: name=%s attempt=%d/%d error=%v", task.Name, i+1, attempts, err)
	}
	zlog.Error().Msgf("task gave up: name=%s attempts=%d", task.Name, attempts)
}

// sleep waits for d. It returns false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
