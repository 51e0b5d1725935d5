package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/registers"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/app/worker"
	"github.com/osa030/callrelay/internal/domain/call"
	"github.com/osa030/callrelay/internal/domain/status"
)

type recordingPublisher struct {
	mu      sync.Mutex
	seq     uint64
	reports []broadcast.Report
}

func (p *recordingPublisher) Dispatch(report broadcast.Report, payload broadcast.Payload) broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.reports = append(p.reports, report)
	return broadcast.Event{SequenceNo: p.seq, Report: report, Payload: payload}
}

// next returns the sequence number the next dispatch will get.
func (p *recordingPublisher) next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq + 1
}

func (p *recordingPublisher) has(report broadcast.Report) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.reports {
		if r == report {
			return true
		}
	}
	return false
}

type countingSensor struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (s *countingSensor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
}

func (s *countingSensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func newTestContext(label status.ExecutionContext) (*Context, *recordingPublisher) {
	pub := &recordingPublisher{}
	c := NewContext(Config{
		Label:     label,
		Publisher: pub,
		Sensor:    &countingSensor{},
	})
	return c, pub
}

func incoming(t *testing.T, c *Context, callID string) {
	t.Helper()
	_, err := c.Sessions().StartIncoming(call.Metadata{CallID: callID, Handle: call.NewHandle("+15550000000")})
	require.NoError(t, err)
}

func callState(c *Context, callID string) state.CallState {
	s, ok := c.Sessions().Get(callID)
	if !ok {
		return state.StateEnded
	}
	return s.State()
}

func TestContext_StartStop(t *testing.T) {
	c, pub := newTestContext(status.ContextBackground)
	assert.False(t, c.IsRunning())
	assert.Equal(t, "context.background", c.ServiceID())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	assert.True(t, pub.has(broadcast.ReportContextStarted))

	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())
	assert.True(t, pub.has(broadcast.ReportContextStopped))

	// Restartable after stop
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	c.Stop()
}

func TestContext_StartHookFailure(t *testing.T) {
	c := NewContext(Config{
		Label:   status.ContextBackground,
		Sensor:  &countingSensor{},
		OnStart: func(ctx context.Context) error { return errors.New("host refused") },
	})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host refused")
	assert.False(t, c.IsRunning())
}

func TestContext_StartServiceRequiresRunning(t *testing.T) {
	c, _ := newTestContext(status.ContextMain)

	err := c.StartService(context.Background(), c.ServiceID(), broadcast.Event{Report: broadcast.ReportCallAction})
	assert.True(t, errors.Is(err, ErrContextNotRunning))
}

func TestContext_HandlesActionEvents(t *testing.T) {
	c, _ := newTestContext(status.ContextBackground)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	incoming(t, c, "call-1")

	payload := broadcast.Payload(call.Metadata{CallID: "call-1"}.ToPayload())
	payload["action"] = call.ActionAnswerCall.String()
	require.NoError(t, c.StartService(context.Background(), c.ServiceID(),
		broadcast.Event{Report: broadcast.ReportCallAction, Payload: payload}))

	assert.Eventually(t, func() bool {
		return callState(c, "call-1") == state.StateActive
	}, time.Second, 5*time.Millisecond)
}

func TestContext_IgnoresActionsForOtherContext(t *testing.T) {
	c, _ := newTestContext(status.ContextBackground)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	incoming(t, c, "call-1")

	payload := broadcast.Payload(call.Metadata{CallID: "call-1"}.ToPayload())
	payload["action"] = call.ActionDeclineCall.String()
	payload["context"] = status.ContextMain.String()
	require.NoError(t, c.StartService(context.Background(), c.ServiceID(),
		broadcast.Event{Report: broadcast.ReportCallAction, Payload: payload}))

	// The inbox is FIFO: once call-2 is answered the skipped event was consumed.
	incoming(t, c, "call-2")
	answer := broadcast.Payload(call.Metadata{CallID: "call-2"}.ToPayload())
	answer["action"] = call.ActionAnswerCall.String()
	require.NoError(t, c.StartService(context.Background(), c.ServiceID(),
		broadcast.Event{Report: broadcast.ReportCallAction, Payload: answer}))

	assert.Eventually(t, func() bool {
		return callState(c, "call-2") == state.StateActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, state.StateRinging, callState(c, "call-1"))
}

func tearDownRequest(seq uint64) broadcast.Event {
	return broadcast.Event{
		SequenceNo: seq,
		Report:     broadcast.ReportCallAction,
		Payload:    broadcast.Payload{"action": call.ActionTearDown.String()},
	}
}

func TestContext_TearDownRequest(t *testing.T) {
	c, _ := newTestContext(status.ContextMain)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	incoming(t, c, "a")
	incoming(t, c, "b")

	require.NoError(t, c.StartService(context.Background(), c.ServiceID(), tearDownRequest(0)))

	assert.Eventually(t, func() bool {
		return c.Sessions().Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestContext_TearDownRequestSparesLaterCalls(t *testing.T) {
	c, pub := newTestContext(status.ContextMain)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	incoming(t, c, "before")

	requested := pub.next()
	pub.Dispatch(broadcast.ReportCallAction, nil)
	incoming(t, c, "after")

	require.NoError(t, c.StartService(context.Background(), c.ServiceID(), tearDownRequest(requested)))

	assert.Eventually(t, func() bool {
		return !c.HasLiveSession("before")
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.HasLiveSession("after"))
}

func TestContext_TornDownAnnouncementIsIgnored(t *testing.T) {
	c, _ := newTestContext(status.ContextMain)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	incoming(t, c, "a")

	require.NoError(t, c.StartService(context.Background(), c.ServiceID(),
		broadcast.Event{Report: broadcast.ReportCallTornDown}))

	// The inbox is FIFO: once b is answered the announcement was consumed.
	incoming(t, c, "b")
	answer := broadcast.Payload(call.Metadata{CallID: "b"}.ToPayload())
	answer["action"] = call.ActionAnswerCall.String()
	require.NoError(t, c.StartService(context.Background(), c.ServiceID(),
		broadcast.Event{Report: broadcast.ReportCallAction, Payload: answer}))

	assert.Eventually(t, func() bool {
		return callState(c, "b") == state.StateActive
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.HasLiveSession("a"))
}

func TestContext_HasLiveSession(t *testing.T) {
	c, _ := newTestContext(status.ContextMain)
	incoming(t, c, "call-1")

	assert.True(t, c.HasLiveSession("call-1"), "a stopped context still owns its calls")
	assert.False(t, c.HasLiveSession("other"))

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	assert.True(t, c.HasLiveSession("call-1"))
}

func TestRouter_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		signaling *status.SignalingStatus
		phase     *status.ActivityPhase
		liveIn    *status.ExecutionContext
		running   bool
		want      status.ExecutionContext
	}{
		{
			name: "nothing set",
			want: status.ContextBackground,
		},
		{
			name:      "signaling connecting",
			signaling: ptr(status.SignalingConnecting),
			want:      status.ContextMain,
		},
		{
			name:  "activity resumed",
			phase: ptr(status.PhaseResume),
			want:  status.ContextMain,
		},
		{
			name:      "live session in background overrides heuristic",
			signaling: ptr(status.SignalingConnect),
			liveIn:    ptr(status.ContextBackground),
			running:   true,
			want:      status.ContextBackground,
		},
		{
			name:    "live session in main",
			liveIn:  ptr(status.ContextMain),
			running: true,
			want:    status.ContextMain,
		},
		{
			name:   "live session in background that never started",
			phase:  ptr(status.PhaseResume),
			liveIn: ptr(status.ContextBackground),
			want:   status.ContextBackground,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newTestContext(status.ContextMain)
			background, _ := newTestContext(status.ContextBackground)
			regs := registers.NewRegisters(nil)
			if tt.signaling != nil {
				regs.SetSignalingStatus(*tt.signaling)
			}
			if tt.phase != nil {
				regs.SetActivityPhase(*tt.phase)
			}
			router := NewRouter(main, background, regs)

			if tt.liveIn != nil {
				owner := router.Context(*tt.liveIn)
				if tt.running {
					require.NoError(t, owner.Start(context.Background()))
					t.Cleanup(owner.Stop)
				}
				incoming(t, owner, "call-1")
			}

			assert.Equal(t, tt.want, router.Resolve("call-1").Label())
		})
	}
}

func TestLauncher_LaunchRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	background := NewContext(Config{
		Label:  status.ContextBackground,
		Sensor: &countingSensor{},
		OnStart: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	})
	t.Cleanup(background.Stop)

	queue := worker.NewQueue()
	t.Cleanup(queue.Close)
	launcher := NewLauncher(queue, background, LaunchConfig{Retries: 3, Backoff: time.Millisecond})

	require.NoError(t, launcher.Launch())
	assert.Eventually(t, launcher.IsRunning, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestLauncher_ScheduleReplacesPending(t *testing.T) {
	background, _ := newTestContext(status.ContextBackground)
	t.Cleanup(background.Stop)

	queue := worker.NewQueue()
	t.Cleanup(queue.Close)
	launcher := NewLauncher(queue, background, LaunchConfig{StartupDelay: time.Hour})

	require.NoError(t, launcher.Schedule())
	require.NoError(t, launcher.Schedule())
	assert.True(t, launcher.Pending())
	assert.False(t, launcher.IsRunning())

	// An immediate launch replaces the delayed one.
	require.NoError(t, launcher.Launch())
	assert.Eventually(t, launcher.IsRunning, time.Second, 5*time.Millisecond)
}

func ptr[T any](v T) *T {
	return &v
}
