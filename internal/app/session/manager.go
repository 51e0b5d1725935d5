// Package session provides call session objects and their per-context manager.
package session

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/session/registry"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

var ErrSessionExists = errors.New("session already exists")

// Presenter renders the call notification.
type Presenter interface {
	Show(meta call.Metadata)
	Update(meta call.Metadata)
	Hide(callID string)
}

// Info is a point-in-time view of a session.
type Info struct {
	CallID      string     `json:"callId"`
	Handle      string     `json:"handle"`
	DisplayName string     `json:"displayName,omitempty"`
	State       string     `json:"state"`
	Direction   string     `json:"direction"`
	HasVideo    bool       `json:"hasVideo"`
	Muted       bool       `json:"muted"`
	Held        bool       `json:"held"`
	Speaker     bool       `json:"speaker"`
	CreatedAt   time.Time  `json:"createdAt"`
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		CallID:      s.meta.CallID,
		Handle:      s.meta.Handle.Value,
		DisplayName: s.meta.DisplayName,
		State:       s.state.String(),
		Direction:   s.direction.String(),
		HasVideo:    s.meta.HasVideo,
		Muted:       s.muted,
		Held:        s.held,
		Speaker:     s.speaker,
		CreatedAt:   s.createdAt,
		AnsweredAt:  s.answeredAt,
	}
}

// Manager owns the live sessions of one execution context.
type Manager struct {
	name      string
	calls     *registry.Registry[*Session]
	publisher broadcast.Dispatcher
	presenter Presenter
}

// NewManager creates a session manager. name identifies the owning context in logs.
func NewManager(name string, publisher broadcast.Dispatcher, presenter Presenter) *Manager {
	return &Manager{
		name:      name,
		calls:     registry.New[*Session](),
		publisher: publisher,
		presenter: presenter,
	}
}

// StartIncoming creates a ringing incoming session and shows its notification.
func (m *Manager) StartIncoming(meta call.Metadata) (*Session, error) {
	return m.start(meta, state.DirectionIncoming, broadcast.ReportCallIncoming)
}

// StartOutgoing creates a ringing outgoing session. An empty call id is
// replaced with a generated one.
func (m *Manager) StartOutgoing(meta call.Metadata) (*Session, error) {
	if meta.CallID == "" {
		meta = meta.WithCallID(uuid.New().String())
	}
	return m.start(meta, state.DirectionOutgoing, broadcast.ReportCallOutgoing)
}

func (m *Manager) start(meta call.Metadata, direction state.Direction, report broadcast.Report) (*Session, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	s := newSession(meta, direction, m.publisher, hooks{
		onChanged: m.onChanged,
		onEnded:   m.onEnded,
	})
	if err := m.calls.Add(s); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "context=%s", m.name), ErrSessionExists)
	}

	zlog.Info().Msgf("call started: context=%s call_id=%s direction=%s handle=%s",
		m.name, meta.CallID, direction, meta.Handle)

	if m.presenter != nil {
		m.presenter.Show(s.Metadata())
	}
	if m.publisher != nil {
		payload := broadcast.Payload(s.Metadata().ToPayload())
		payload["context"] = m.name
		event := m.publisher.Dispatch(report, payload)
		s.mu.Lock()
		s.createdSeq = event.SequenceNo
		s.mu.Unlock()
	}
	return s, nil
}

// Get returns the session for callID.
func (m *Manager) Get(callID string) (*Session, bool) {
	return m.calls.Get(callID)
}

// All returns every live session ordered by call id.
func (m *Manager) All() []*Session {
	return m.calls.All()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.calls.Count()
}

// HasLive reports whether callID has a session that has not ended.
func (m *Manager) HasLive(callID string) bool {
	s, ok := m.calls.Get(callID)
	return ok && s.State().IsLive()
}

// Infos returns snapshots of every live session.
func (m *Manager) Infos() []Info {
	all := m.calls.All()
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.Info())
	}
	return infos
}

func (m *Manager) onChanged(s *Session) {
	if m.presenter != nil {
		m.presenter.Update(s.Metadata())
	}
}

func (m *Manager) onEnded(s *Session) {
	m.calls.Remove(s.ID())
	zlog.Info().Msgf("call ended: context=%s call_id=%s", m.name, s.ID())
	if m.presenter != nil {
		m.presenter.Hide(s.ID())
	}
}
