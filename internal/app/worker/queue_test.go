package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestQueue_RunsTask(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var runs atomic.Int32
	require.NoError(t, q.Enqueue(Task{
		Name: "start",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	waitQueue(t, q)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, q.Pending("start"))
}

func TestQueue_EnqueueReplacesPending(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var first, second atomic.Int32
	require.NoError(t, q.Enqueue(Task{
		Name:  "start",
		Delay: time.Hour,
		Run: func(ctx context.Context) error {
			first.Add(1)
			return nil
		},
	}))
	assert.True(t, q.Pending("start"))

	require.NoError(t, q.Enqueue(Task{
		Name: "start",
		Run: func(ctx context.Context) error {
			second.Add(1)
			return nil
		},
	}))

	waitQueue(t, q)
	assert.Equal(t, int32(0), first.Load(), "replaced task must not run")
	assert.Equal(t, int32(1), second.Load())
	assert.False(t, q.Pending("start"))
}

func TestQueue_RetriesAreBounded(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue(Task{
		Name:    "start",
		Retries: 2,
		Backoff: time.Millisecond,
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.New("service start rejected")
		},
	}))

	waitQueue(t, q)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueue_RetryStopsOnSuccess(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue(Task{
		Name:    "start",
		Retries: 5,
		Backoff: time.Millisecond,
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 2 {
				return errors.New("not yet")
			}
			return nil
		},
	}))

	waitQueue(t, q)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()

	require.NoError(t, q.Enqueue(Task{
		Name:  "b",
		Delay: time.Hour,
		Run:   func(ctx context.Context) error { return nil },
	}))
	q.Close()
	q.Close()

	err := q.Enqueue(Task{Name: "c", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	assert.Error(t, q.Enqueue(Task{Run: func(ctx context.Context) error { return nil }}))
	assert.Error(t, q.Enqueue(Task{Name: "x"}))
}
