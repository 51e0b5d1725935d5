package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// delivery is one queued send to a single target.
type delivery struct {
	event Event
	send  func(ctx context.Context) error
}

// mailbox delivers to one target in dispatch order. Each send gets the
// fabric timeout; a send that overruns it is logged and awaited before the
// next one starts, so a target never sees two deliveries at once.
type mailbox struct {
	target   string
	timeout  time.Duration
	inflight *sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending []delivery
	closed  bool
	done    chan struct{}
}

func newMailbox(target string, timeout time.Duration, inflight *sync.WaitGroup) *mailbox {
	m := &mailbox{
		target:   target,
		timeout:  timeout,
		inflight: inflight,
		done:     make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

// enqueue appends a delivery without blocking. It reports false once the
// mailbox is closed.
func (m *mailbox) enqueue(d delivery) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.inflight.Add(1)
	m.pending = append(m.pending, d)
	m.cond.Signal()
	return true
}

// close drops queued deliveries and stops the mailbox after the current send.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := len(m.pending)
	m.pending = nil
	m.cond.Signal()
	m.mu.Unlock()

	for i := 0; i < dropped; i++ {
		m.inflight.Done()
	}
	if dropped > 0 {
		zlog.Debug().Msgf("dropped queued deliveries: target=%s count=%d", m.target, dropped)
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.pending) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		d := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.deliver(d)
	}
}

func (m *mailbox) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("receiver panicked: %v", r)
			}
		}()
		done <- d.send(ctx)
	}()

	select {
	case err := <-done:
		m.inflight.Done()
		if err != nil {
			zlog.Warn().Msgf("delivery failed: target=%s report=%s seq=%d error=%v",
				m.target, d.event.Report, d.event.SequenceNo, err)
		}
	case <-ctx.Done():
		m.inflight.Done()
		zlog.Warn().Msgf("delivery timed out: target=%s report=%s seq=%d",
			m.target, d.event.Report, d.event.SequenceNo)
		<-done
	}
}
