package session

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

type fakePublisher struct {
	mu      sync.Mutex
	reports []broadcast.Report
	last    broadcast.Payload
}

func (p *fakePublisher) Dispatch(report broadcast.Report, payload broadcast.Payload) broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	p.last = payload
	return broadcast.Event{Report: report, Payload: payload}
}

type fakePresenter struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePresenter) Show(meta call.Metadata) {
	p.record("show:" + meta.CallID)
}

func (p *fakePresenter) Update(meta call.Metadata) {
	p.record("update:" + meta.CallID)
}

func (p *fakePresenter) Hide(callID string) {
	p.record("hide:" + callID)
}

func (p *fakePresenter) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
}

func newTestManager() (*Manager, *fakePublisher, *fakePresenter) {
	pub := &fakePublisher{}
	pres := &fakePresenter{}
	return NewManager("main", pub, pres), pub, pres
}

func incoming(id string) call.Metadata {
	return call.Metadata{CallID: id, Handle: call.NewHandle("+15551234567"), DisplayName: "John Doe"}
}

func TestManager_StartIncoming(t *testing.T) {
	m, pub, pres := newTestManager()

	s, err := m.StartIncoming(incoming("abc"))
	require.NoError(t, err)
	assert.Equal(t, state.StateRinging, s.State())
	assert.Equal(t, state.DirectionIncoming, s.Direction())
	assert.True(t, m.HasLive("abc"))
	assert.Equal(t, []string{"show:abc"}, pres.calls)
	assert.Equal(t, []broadcast.Report{broadcast.ReportCallIncoming}, pub.reports)
	assert.Equal(t, "main", pub.last["context"])

	_, err = m.StartIncoming(incoming("abc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExists))

	_, err = m.StartIncoming(call.Metadata{})
	assert.True(t, errors.Is(err, call.ErrInvalidMetadata))
}

func TestManager_StartOutgoingGeneratesID(t *testing.T) {
	m, pub, _ := newTestManager()

	s, err := m.StartOutgoing(call.Metadata{Handle: call.NewHandle("100")})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, state.DirectionOutgoing, s.Direction())
	assert.Equal(t, []broadcast.Report{broadcast.ReportCallOutgoing}, pub.reports)
}

func TestSession_AnswerThenHangUp(t *testing.T) {
	m, pub, pres := newTestManager()
	s, err := m.StartIncoming(incoming("abc"))
	require.NoError(t, err)

	require.NoError(t, s.OnAnswer())
	assert.Equal(t, state.StateActive, s.State())
	assert.NotNil(t, s.Info().AnsweredAt)

	require.NoError(t, s.HungUp())
	assert.Equal(t, state.StateEnded, s.State())
	assert.False(t, m.HasLive("abc"))
	assert.Equal(t, 0, m.Count())

	assert.Equal(t, []string{"show:abc", "update:abc", "hide:abc"}, pres.calls)
	assert.Equal(t, []broadcast.Report{
		broadcast.ReportCallIncoming,
		broadcast.ReportCallAnswered,
		broadcast.ReportCallEnded,
	}, pub.reports)
	assert.Equal(t, "ended", pub.last["state"])
}

func TestSession_DeclineOnlyWhileRinging(t *testing.T) {
	m, _, _ := newTestManager()
	s, err := m.StartIncoming(incoming("abc"))
	require.NoError(t, err)
	require.NoError(t, s.OnAnswer())

	err = s.DeclineCall()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, state.StateActive, s.State())

	other, err := m.StartIncoming(incoming("def"))
	require.NoError(t, err)
	require.NoError(t, other.DeclineCall())
	assert.Equal(t, state.StateEnded, other.State())
}

func TestSession_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		op   func(s *Session) error
	}{
		{name: "mute while ringing", op: func(s *Session) error { return s.ChangeMuteState(true) }},
		{name: "hold while ringing", op: func(s *Session) error { return s.OnHold() }},
		{name: "unhold while ringing", op: func(s *Session) error { return s.OnUnhold() }},
		{name: "dtmf while ringing", op: func(s *Session) error { return s.OnPlayDtmfTone("1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager()
			s, err := m.StartIncoming(incoming("abc"))
			require.NoError(t, err)

			err = tt.op(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestSession_TogglesWhileActive(t *testing.T) {
	m, _, _ := newTestManager()
	s, err := m.StartOutgoing(incoming("out-1"))
	require.NoError(t, err)
	require.NoError(t, s.Establish())

	require.NoError(t, s.ChangeMuteState(true))
	require.NoError(t, s.OnHold())
	require.NoError(t, s.ChangeSpeakerState(true))
	require.NoError(t, s.OnPlayDtmfTone("5"))
	require.NoError(t, s.OnPlayDtmfTone("#"))

	assert.True(t, s.IsMuted())
	assert.True(t, s.IsHeld())
	assert.True(t, s.IsSpeaker())
	assert.Equal(t, []string{"5", "#"}, s.Tones())

	require.NoError(t, s.OnUnhold())
	assert.False(t, s.IsHeld())

	meta := s.Metadata()
	assert.True(t, meta.HasMute)
	assert.True(t, meta.HasSpeaker)
	assert.False(t, meta.HasHold)
}

func TestSession_UpdateData(t *testing.T) {
	m, _, _ := newTestManager()
	s, err := m.StartIncoming(incoming("abc"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateData(call.Metadata{CallID: "abc", DisplayName: "Johnny", HasVideo: true}))
	meta := s.Metadata()
	assert.Equal(t, "Johnny", meta.DisplayName)
	assert.Equal(t, "+15551234567", meta.Handle.Value)
	assert.True(t, meta.HasVideo)

	err = s.UpdateData(call.Metadata{CallID: "other"})
	assert.True(t, errors.Is(err, ErrCallIDMismatch))

	require.NoError(t, s.HungUp())
	err = s.UpdateData(call.Metadata{CallID: "abc"})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestManager_Infos(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.StartIncoming(incoming("b"))
	require.NoError(t, err)
	_, err = m.StartIncoming(incoming("a"))
	require.NoError(t, err)

	infos := m.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].CallID)
	assert.Equal(t, "ringing", infos[0].State)
	assert.Equal(t, "incoming", infos[0].Direction)
}
