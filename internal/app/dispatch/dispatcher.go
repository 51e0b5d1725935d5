// Package dispatch turns named service actions into call session operations.
package dispatch

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/domain/call"
)

// Session is the set of operations a call session exposes to the dispatcher.
// Implementations reject operations invalid for their current state.
type Session interface {
	OnAnswer() error
	DeclineCall() error
	HungUp() error
	Establish() error
	ChangeMuteState(muted bool) error
	OnHold() error
	OnUnhold() error
	UpdateData(meta call.Metadata) error
	OnPlayDtmfTone(code string) error
	ChangeSpeakerState(enabled bool) error
}

// SessionRegistry resolves sessions by call id.
type SessionRegistry interface {
	Lookup(callID string) (Session, bool)
	Sessions() []Session
}

// ProximitySensor is held while a call is connected. Start and Stop are idempotent.
type ProximitySensor interface {
	Start()
	Stop()
}

// Dispatcher routes service actions to sessions.
type Dispatcher struct {
	sessions SessionRegistry
	sensor   ProximitySensor
}

// New creates a dispatcher.
func New(sessions SessionRegistry, sensor ProximitySensor) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		sensor:   sensor,
	}
}

// DispatchNamed parses the action name and dispatches it. An unknown name is
// returned as call.ErrUnknownAction.
func (d *Dispatcher) DispatchNamed(ctx context.Context, name string, meta *call.Metadata) error {
	action, err := call.ParseServiceAction(name)
	if err != nil {
		return err
	}
	d.Dispatch(ctx, action, meta)
	return nil
}

// Dispatch applies the action. Missing metadata and unknown call ids are
// no-ops; session errors are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, action call.ServiceAction, meta *call.Metadata) {
	if action == call.ActionTearDown {
		d.tearDown()
		return
	}

	if meta == nil {
		zlog.Debug().Msgf("action without metadata, ignoring: action=%s", action)
		return
	}
	s, ok := d.sessions.Lookup(meta.CallID)
	if !ok {
		zlog.Debug().Msgf("no session for action, ignoring: action=%s call_id=%s", action, meta.CallID)
		return
	}

	var err error
	switch action {
	case call.ActionAnswerCall:
		d.sensor.Start()
		err = s.OnAnswer()
	case call.ActionEstablishCall:
		d.sensor.Start()
		err = s.Establish()
	case call.ActionDeclineCall:
		err = d.thenStopSensor(s.DeclineCall)
	case call.ActionHungUpCall:
		err = d.thenStopSensor(s.HungUp)
	case call.ActionMuting:
		err = s.ChangeMuteState(meta.HasMute)
	case call.ActionHolding:
		if meta.HasHold {
			err = s.OnHold()
		} else {
			err = s.OnUnhold()
		}
	case call.ActionUpdateCall:
		err = s.UpdateData(*meta)
	case call.ActionSendDTMF:
		if meta.DualToneMultiFrequency == "" {
			zlog.Debug().Msgf("dtmf action without tone, ignoring: call_id=%s", meta.CallID)
			return
		}
		err = s.OnPlayDtmfTone(meta.DualToneMultiFrequency)
	case call.ActionSpeaker:
		err = s.ChangeSpeakerState(meta.HasSpeaker)
	default:
		zlog.Warn().Msgf("unhandled action: action=%s call_id=%s", action, meta.CallID)
		return
	}

	if err != nil {
		zlog.Warn().Msgf("session rejected action: action=%s call_id=%s error=%v", action, meta.CallID, err)
	}
}

// thenStopSensor runs op and releases the sensor even if op fails or panics.
func (d *Dispatcher) thenStopSensor(op func() error) error {
	defer d.sensor.Stop()
	return op()
}

// tearDown ends every known session and releases the sensor.
func (d *Dispatcher) tearDown() {
	defer d.sensor.Stop()

	sessions := d.sessions.Sessions()
	zlog.Info().Msgf("tearing down sessions: count=%d", len(sessions))
	for _, s := range sessions {
		if err := s.HungUp(); err != nil {
			zlog.Warn().Msgf("failed to end session during teardown: error=%v", err)
		}
	}
}
