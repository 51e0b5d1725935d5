// Package execution hosts the two execution contexts that can own call
// handling, plus the routing and launch machinery that picks between them.
package execution

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/dispatch"
	"github.com/osa030/callrelay/internal/app/session"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
	"github.com/osa030/callrelay/internal/domain/status"
)

var (
	ErrContextNotRunning = errors.New("execution context is not running")
	ErrInboxFull         = errors.New("execution context inbox is full")
)

const defaultInboxSize = 32

// Config configures an execution context.
type Config struct {
	Label     status.ExecutionContext
	Publisher broadcast.Dispatcher
	Presenter session.Presenter
	Sensor    dispatch.ProximitySensor
	InboxSize int
	// OnStart runs before the context is marked running. A returned error
	// aborts the start.
	OnStart func(ctx context.Context) error
}

// Context is one place call handling can run. It owns its sessions and the
// dispatcher acting on them, and receives fabric events through its inbox.
type Context struct {
	label      status.ExecutionContext
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	sensor     dispatch.ProximitySensor
	publisher  broadcast.Dispatcher
	onStart    func(ctx context.Context) error
	inboxSize  int

	running atomic.Bool

	// Lifecycle
	mu     sync.Mutex
	inbox  chan broadcast.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewContext creates a stopped execution context.
func NewContext(cfg Config) *Context {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	sessions := session.NewManager(cfg.Label.String(), cfg.Publisher, cfg.Presenter)
	return &Context{
		label:      cfg.Label,
		sessions:   sessions,
		dispatcher: dispatch.New(sessionSource{manager: sessions}, cfg.Sensor),
		sensor:     cfg.Sensor,
		publisher:  cfg.Publisher,
		onStart:    cfg.OnStart,
		inboxSize:  cfg.InboxSize,
	}
}

// Label returns the context label.
func (c *Context) Label() status.ExecutionContext {
	return c.label
}

// ServiceID is the id this context registers as an active service.
func (c *Context) ServiceID() string {
	return "context." + strings.ToLower(c.label.String())
}

// Sessions returns the session manager of this context.
func (c *Context) Sessions() *session.Manager {
	return c.sessions
}

// IsRunning reports whether the inbox loop is running. It never blocks.
func (c *Context) IsRunning() bool {
	return c.running.Load()
}

// HasLiveSession reports whether this context holds a live session for
// callID, whether or not its loop is running.
func (c *Context) HasLiveSession(callID string) bool {
	return c.sessions.HasLive(callID)
}

// CallState returns the state of the session for callID, if this context has one.
func (c *Context) CallState(callID string) (state.CallState, bool) {
	s, ok := c.sessions.Get(callID)
	if !ok {
		return state.StateEnded, false
	}
	return s.State(), true
}

// Start starts the inbox loop. Starting a running context is a no-op.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}
	if c.onStart != nil {
		if err := c.onStart(ctx); err != nil {
			return errors.Wrapf(err, "failed to start %s context", c.label)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.inbox = make(chan broadcast.Event, c.inboxSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)

	go c.loop(loopCtx, c.inbox, c.done)

	zlog.Info().Msgf("execution context started: context=%s", c.label)
	c.announce(broadcast.ReportContextStarted)
	return nil
}

// Stop stops the inbox loop and waits for it to exit. Live sessions are kept.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return
	}
	c.running.Store(false)
	c.cancel()
	<-c.done

	zlog.Info().Msgf("execution context stopped: context=%s", c.label)
	c.announce(broadcast.ReportContextStopped)
}

// Dispatch applies action to this context's sessions.
func (c *Context) Dispatch(ctx context.Context, action call.ServiceAction, meta *call.Metadata) {
	c.dispatcher.Dispatch(ctx, action, meta)
}

// DispatchNamed applies a named action. Unknown names are rejected.
func (c *Context) DispatchNamed(ctx context.Context, name string, meta *call.Metadata) error {
	return c.dispatcher.DispatchNamed(ctx, name, meta)
}

// StartService implements broadcast.ServiceStarter by queueing the event on
// the inbox without waiting for it to be handled.
func (c *Context) StartService(ctx context.Context, serviceID string, event broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return errors.Wrapf(ErrContextNotRunning, "service=%s", serviceID)
	}
	select {
	case c.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.Wrapf(ErrInboxFull, "service=%s", serviceID)
	}
}

func (c *Context) loop(ctx context.Context, inbox <-chan broadcast.Event, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-inbox:
			c.handle(ctx, event)
		}
	}
}

// handle reacts to service-start events. call.action events addressed to a
// different context are ignored. A TearDown request only ends sessions
// announced before the request itself.
func (c *Context) handle(ctx context.Context, event broadcast.Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("panic handling event: context=%s report=%s panic=%v", c.label, event.Report, r)
		}
	}()

	switch event.Report {
	case broadcast.ReportCallAction:
		if target := event.Payload.String("context"); target != "" && !strings.EqualFold(target, c.label.String()) {
			return
		}
		name := event.Payload.String("action")
		if name == call.ActionTearDown.String() {
			c.tearDownBefore(ctx, event.SequenceNo)
			return
		}
		meta, err := call.MetadataFromPayload(event.Payload)
		if err != nil {
			zlog.Debug().Msgf("action event without usable metadata: context=%s error=%v", c.label, err)
		}
		if err := c.DispatchNamed(ctx, name, meta); err != nil {
			zlog.Warn().Msgf("rejected action event: context=%s action=%s error=%v", c.label, name, err)
		}
	default:
		zlog.Debug().Msgf("event observed: context=%s report=%s seq=%d", c.label, event.Report, event.SequenceNo)
	}
}

// tearDownBefore ends the sessions announced before seq. A zero seq ends
// every session.
func (c *Context) tearDownBefore(ctx context.Context, seq uint64) {
	if seq == 0 {
		c.Dispatch(ctx, call.ActionTearDown, nil)
		return
	}
	scoped := dispatch.New(sessionSource{manager: c.sessions, before: seq}, c.sensor)
	scoped.Dispatch(ctx, call.ActionTearDown, nil)
}

func (c *Context) announce(report broadcast.Report) {
	if c.publisher == nil {
		return
	}
	c.publisher.Dispatch(report, broadcast.Payload{"context": c.label.String()})
}

// sessionSource exposes a session manager to the dispatcher. A non-zero
// before limits Sessions to those announced earlier.
type sessionSource struct {
	manager *session.Manager
	before  uint64
}

func (s sessionSource) Lookup(callID string) (dispatch.Session, bool) {
	sess, ok := s.manager.Get(callID)
	if !ok {
		return nil, false
	}
	return sess, true
}

func (s sessionSource) Sessions() []dispatch.Session {
	all := s.manager.All()
	out := make([]dispatch.Session, 0, len(all))
	for _, sess := range all {
		if s.before != 0 && !sess.StartedBefore(s.before) {
			continue
		}
		out = append(out, sess)
	}
	return out
}
