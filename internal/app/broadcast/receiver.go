package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrReceiverFull   = errors.New("receiver buffer is full")
	ErrReceiverClosed = errors.New("receiver is closed")
)

// Event is one delivered report.
type Event struct {
	ID         string    `json:"id"`
	SequenceNo uint64    `json:"sequenceNo"`
	Report     Report    `json:"report"`
	Payload    Payload   `json:"payload,omitempty"`
	Time       time.Time `json:"time"`
}

// Receiver consumes events for the reports it was registered with.
type Receiver interface {
	// ID identifies the receiver; registering the same ID twice is a no-op.
	ID() string
	// Receive handles one event. Errors are logged by the fabric.
	Receive(ctx context.Context, event Event) error
}

type funcReceiver struct {
	id string
	fn func(ctx context.Context, event Event) error
}

// NewFuncReceiver adapts a function to the Receiver interface.
func NewFuncReceiver(id string, fn func(ctx context.Context, event Event) error) Receiver {
	return &funcReceiver{id: id, fn: fn}
}

func (r *funcReceiver) ID() string { return r.id }

func (r *funcReceiver) Receive(ctx context.Context, event Event) error {
	return r.fn(ctx, event)
}

// ChannelReceiver buffers events on a channel. Events are dropped with
// ErrReceiverFull when the buffer is full.
type ChannelReceiver struct {
	id     string
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChannelReceiver creates a receiver backed by a buffered channel.
func NewChannelReceiver(id string, bufferSize int) *ChannelReceiver {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ChannelReceiver{
		id: id,
		ch: make(chan Event, bufferSize),
	}
}

func (r *ChannelReceiver) ID() string { return r.id }

// Receive enqueues the event without blocking.
func (r *ChannelReceiver) Receive(ctx context.Context, event Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrReceiverClosed
	}
	select {
	case r.ch <- event:
		return nil
	default:
		return ErrReceiverFull
	}
}

// Events returns the event channel. It is closed by Close.
func (r *ChannelReceiver) Events() <-chan Event {
	return r.ch
}

// Close stops accepting events and closes the channel.
func (r *ChannelReceiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}
