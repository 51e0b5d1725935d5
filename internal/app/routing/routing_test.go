package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/callrelay/internal/domain/status"
)

// fakeStatus is a registers.Reader with fixed values.
type fakeStatus struct {
	signaling *status.SignalingStatus
	activity  *status.ActivityPhase
}

func (f fakeStatus) SignalingStatus() (status.SignalingStatus, bool) {
	if f.signaling == nil {
		return 0, false
	}
	return *f.signaling, true
}

func (f fakeStatus) ActivityPhase() (status.ActivityPhase, bool) {
	if f.activity == nil {
		return 0, false
	}
	return *f.activity, true
}

type fakePrefs bool

func (p fakePrefs) LaunchBackgroundEvenIfAppIsOpen() bool { return bool(p) }

type fakeProbe bool

func (p fakeProbe) IsRunning() bool { return bool(p) }

func sig(s status.SignalingStatus) *status.SignalingStatus { return &s }
func phase(p status.ActivityPhase) *status.ActivityPhase   { return &p }

var (
	allSignaling = []status.SignalingStatus{
		status.SignalingDisconnect,
		status.SignalingConnecting,
		status.SignalingConnect,
		status.SignalingDisconnecting,
		status.SignalingFailure,
	}
	allPhases = []status.ActivityPhase{
		status.PhaseCreate,
		status.PhaseStart,
		status.PhaseResume,
		status.PhasePause,
		status.PhaseStop,
		status.PhaseDestroy,
		status.PhaseAny,
	}
)

func TestSelectContext_ConnectingSignalingSelectsMain(t *testing.T) {
	for _, s := range []status.SignalingStatus{status.SignalingConnect, status.SignalingConnecting} {
		assert.Equal(t, status.ContextMain, SelectContext(fakeStatus{signaling: sig(s)}), "%s with unset phase", s)
		for _, p := range allPhases {
			got := SelectContext(fakeStatus{signaling: sig(s), activity: phase(p)})
			assert.Equal(t, status.ContextMain, got, "%s / %s", s, p)
		}
	}
}

func TestSelectContext_SignalingWinsOverActivity(t *testing.T) {
	for _, s := range allSignaling {
		if s.IsConnecting() {
			continue
		}
		for _, p := range allPhases {
			got := SelectContext(fakeStatus{signaling: sig(s), activity: phase(p)})
			assert.Equal(t, status.ContextBackground, got, "%s / %s", s, p)
		}
	}
}

func TestSelectContext_ActivityFallback(t *testing.T) {
	tests := []struct {
		name     string
		activity *status.ActivityPhase
		want     status.ExecutionContext
	}{
		{name: "resume", activity: phase(status.PhaseResume), want: status.ContextMain},
		{name: "pause", activity: phase(status.PhasePause), want: status.ContextMain},
		{name: "stop", activity: phase(status.PhaseStop), want: status.ContextMain},
		{name: "create", activity: phase(status.PhaseCreate), want: status.ContextBackground},
		{name: "start", activity: phase(status.PhaseStart), want: status.ContextBackground},
		{name: "destroy", activity: phase(status.PhaseDestroy), want: status.ContextBackground},
		{name: "any", activity: phase(status.PhaseAny), want: status.ContextBackground},
		{name: "unset", activity: nil, want: status.ContextBackground},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectContext(fakeStatus{activity: tt.activity}))
		})
	}
}

func TestLaunchPolicy_ShouldLaunchBackground(t *testing.T) {
	tests := []struct {
		name    string
		prefs   bool
		status  fakeStatus
		running bool
		want    bool
	}{
		{
			name:    "preference forces launch while main selected",
			prefs:   true,
			status:  fakeStatus{signaling: sig(status.SignalingConnect)},
			running: false,
			want:    true,
		},
		{
			name:    "preference forces launch while already running",
			prefs:   true,
			status:  fakeStatus{},
			running: true,
			want:    true,
		},
		{
			name:   "main selected by signaling",
			status: fakeStatus{signaling: sig(status.SignalingConnecting)},
			want:   false,
		},
		{
			name:   "main selected by activity",
			status: fakeStatus{activity: phase(status.PhaseResume)},
			want:   false,
		},
		{
			name:    "background selected and not running",
			status:  fakeStatus{},
			running: false,
			want:    true,
		},
		{
			name:    "background selected but already running",
			status:  fakeStatus{signaling: sig(status.SignalingDisconnect)},
			running: true,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLaunchPolicy(fakePrefs(tt.prefs), tt.status, fakeProbe(tt.running))
			assert.Equal(t, tt.want, p.ShouldLaunchBackground())
		})
	}
}
