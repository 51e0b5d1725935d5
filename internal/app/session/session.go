package session

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrCallIDMismatch    = errors.New("call id mismatch")
)

// hooks are invoked by a session after a successful operation.
type hooks struct {
	onChanged func(*Session)
	onEnded   func(*Session)
}

// Session is one ringing or active call.
type Session struct {
	mu sync.Mutex

	meta      call.Metadata
	direction state.Direction
	state     state.CallState

	muted   bool
	held    bool
	speaker bool
	tones   []string

	createdAt  time.Time
	createdSeq uint64 // sequence number of the creation announcement, 0 until announced
	answeredAt *time.Time
	endedAt    *time.Time

	publisher broadcast.Dispatcher
	hooks     hooks
}

// newSession creates a ringing session.
func newSession(meta call.Metadata, direction state.Direction, publisher broadcast.Dispatcher, h hooks) *Session {
	return &Session{
		meta:      meta,
		direction: direction,
		state:     state.StateRinging,
		muted:     meta.HasMute,
		held:      meta.HasHold,
		speaker:   meta.HasSpeaker,
		createdAt: time.Now(),
		publisher: publisher,
		hooks:     h,
	}
}

// ID returns the call id.
func (s *Session) ID() string {
	return s.meta.CallID
}

// Metadata returns a copy of the current metadata with the live toggle state.
func (s *Session) Metadata() call.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked()
}

// StartedBefore reports whether the session was announced before the event
// numbered seq. Sessions still being created report false.
func (s *Session) StartedBefore(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdSeq != 0 && s.createdSeq < seq
}

// State returns the current call state.
func (s *Session) State() state.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Direction returns who started the call.
func (s *Session) Direction() state.Direction {
	return s.direction
}

// IsMuted returns the microphone state.
func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// IsHeld returns the hold state.
func (s *Session) IsHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// IsSpeaker returns the speaker state.
func (s *Session) IsSpeaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// Tones returns the DTMF tones played so far.
func (s *Session) Tones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tones))
	copy(out, s.tones)
	return out
}

// OnAnswer connects a ringing call.
func (s *Session) OnAnswer() error {
	return s.transition("answer", broadcast.ReportCallAnswered, func() error {
		if s.state != state.StateRinging {
			return s.invalidLocked("answer")
		}
		s.activateLocked()
		return nil
	})
}

// Establish marks an outgoing call as connected by the remote party.
func (s *Session) Establish() error {
	return s.transition("establish", broadcast.ReportCallEstablished, func() error {
		if s.state != state.StateRinging {
			return s.invalidLocked("establish")
		}
		s.activateLocked()
		return nil
	})
}

// DeclineCall ends a ringing call.
func (s *Session) DeclineCall() error {
	return s.transition("decline", broadcast.ReportCallDeclined, func() error {
		if s.state != state.StateRinging {
			return s.invalidLocked("decline")
		}
		s.endLocked()
		return nil
	})
}

// HungUp ends a ringing or active call.
func (s *Session) HungUp() error {
	return s.transition("hang up", broadcast.ReportCallEnded, func() error {
		if !s.state.IsLive() {
			return s.invalidLocked("hang up")
		}
		s.endLocked()
		return nil
	})
}

// ChangeMuteState mutes or unmutes an active call.
func (s *Session) ChangeMuteState(muted bool) error {
	return s.transition("mute", broadcast.ReportCallMuted, func() error {
		if s.state != state.StateActive {
			return s.invalidLocked("mute")
		}
		s.muted = muted
		return nil
	})
}

// OnHold puts an active call on hold.
func (s *Session) OnHold() error {
	return s.setHold(true)
}

// OnUnhold resumes a held call.
func (s *Session) OnUnhold() error {
	return s.setHold(false)
}

func (s *Session) setHold(held bool) error {
	return s.transition("hold", broadcast.ReportCallHeld, func() error {
		if s.state != state.StateActive {
			return s.invalidLocked("hold")
		}
		s.held = held
		return nil
	})
}

// UpdateData replaces the descriptive metadata of a live call. The call id
// cannot change.
func (s *Session) UpdateData(meta call.Metadata) error {
	return s.transition("update", broadcast.ReportCallUpdated, func() error {
		if !s.state.IsLive() {
			return s.invalidLocked("update")
		}
		if meta.CallID != s.meta.CallID {
			return errors.Wrapf(ErrCallIDMismatch, "session=%s update=%s", s.meta.CallID, meta.CallID)
		}
		if !meta.Handle.IsEmpty() {
			s.meta.Handle = meta.Handle
		}
		if meta.DisplayName != "" {
			s.meta.DisplayName = meta.DisplayName
		}
		s.meta.HasVideo = meta.HasVideo
		return nil
	})
}

// OnPlayDtmfTone plays a keypad tone on an active call.
func (s *Session) OnPlayDtmfTone(code string) error {
	return s.transition("dtmf", broadcast.ReportCallDTMF, func() error {
		if s.state != state.StateActive {
			return s.invalidLocked("dtmf")
		}
		s.tones = append(s.tones, code)
		s.meta.DualToneMultiFrequency = code
		return nil
	})
}

// ChangeSpeakerState routes audio to or from the loudspeaker.
func (s *Session) ChangeSpeakerState(enabled bool) error {
	return s.transition("speaker", broadcast.ReportCallSpeaker, func() error {
		if !s.state.IsLive() {
			return s.invalidLocked("speaker")
		}
		s.speaker = enabled
		return nil
	})
}

// transition applies fn under the lock, then announces the report and runs
// hooks outside of it.
func (s *Session) transition(op string, report broadcast.Report, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	ended := s.state == state.StateEnded
	payload := broadcast.Payload(s.metadataLocked().ToPayload())
	payload["state"] = s.state.String()
	payload["direction"] = s.direction.String()
	s.mu.Unlock()

	zlog.Debug().Msgf("call %s: call_id=%s", op, s.ID())

	if s.publisher != nil {
		s.publisher.Dispatch(report, payload)
	}
	if ended {
		if s.hooks.onEnded != nil {
			s.hooks.onEnded(s)
		}
	} else if s.hooks.onChanged != nil {
		s.hooks.onChanged(s)
	}
	return nil
}

func (s *Session) invalidLocked(op string) error {
	return errors.Wrapf(ErrInvalidTransition, "cannot %s call %s in state %s", op, s.meta.CallID, s.state)
}

func (s *Session) activateLocked() {
	now := time.Now()
	s.state = state.StateActive
	s.answeredAt = &now
}

func (s *Session) endLocked() {
	now := time.Now()
	s.state = state.StateEnded
	s.endedAt = &now
}

func (s *Session) metadataLocked() call.Metadata {
	m := s.meta
	m.HasMute = s.muted
	m.HasHold = s.held
	m.HasSpeaker = s.speaker
	return m
}
