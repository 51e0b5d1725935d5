// Package notification provides the call notification presenter.
package notification

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/domain/call"
)

// Renderer draws and removes platform notifications.
type Renderer interface {
	Render(meta call.Metadata) error
	Cancel(callID string) error
}

// Presenter tracks which call notifications are visible and announces every
// transition on the fabric. Rendering failures are logged and do not affect
// the tracked state.
type Presenter struct {
	mu        sync.RWMutex
	shown     map[string]call.Metadata
	renderer  Renderer
	publisher broadcast.Dispatcher
}

// NewPresenter creates a presenter. renderer and publisher may be nil.
func NewPresenter(renderer Renderer, publisher broadcast.Dispatcher) *Presenter {
	return &Presenter{
		shown:     make(map[string]call.Metadata),
		renderer:  renderer,
		publisher: publisher,
	}
}

// Show displays the notification for a call.
func (p *Presenter) Show(meta call.Metadata) {
	p.mu.Lock()
	p.shown[meta.CallID] = meta
	p.mu.Unlock()

	p.render(meta)
	p.announce(broadcast.ReportNotificationShown, meta)
}

// Update refreshes the notification of a call that is already shown.
func (p *Presenter) Update(meta call.Metadata) {
	p.mu.Lock()
	if _, ok := p.shown[meta.CallID]; !ok {
		p.mu.Unlock()
		zlog.Debug().Msgf("notification not shown, skipping update: call_id=%s", meta.CallID)
		return
	}
	p.shown[meta.CallID] = meta
	p.mu.Unlock()

	p.render(meta)
	p.announce(broadcast.ReportNotificationUpdated, meta)
}

// Hide removes the notification for a call.
func (p *Presenter) Hide(callID string) {
	p.mu.Lock()
	meta, ok := p.shown[callID]
	delete(p.shown, callID)
	p.mu.Unlock()

	if !ok {
		return
	}
	if p.renderer != nil {
		if err := p.renderer.Cancel(callID); err != nil {
			zlog.Warn().Msgf("failed to cancel notification: call_id=%s error=%v", callID, err)
		}
	}
	p.announce(broadcast.ReportNotificationHidden, meta)
}

// HideAll removes every visible notification.
func (p *Presenter) HideAll() {
	for _, id := range p.Shown() {
		p.Hide(id)
	}
}

// IsShown reports whether a call has a visible notification.
func (p *Presenter) IsShown(callID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.shown[callID]
	return ok
}

// Shown returns the call ids with visible notifications.
func (p *Presenter) Shown() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.shown))
	for id := range p.shown {
		ids = append(ids, id)
	}
	return ids
}

func (p *Presenter) render(meta call.Metadata) {
	if p.renderer == nil {
		return
	}
	if err := p.renderer.Render(meta); err != nil {
		zlog.Warn().Msgf("failed to render notification: call_id=%s error=%v", meta.CallID, err)
	}
}

func (p *Presenter) announce(report broadcast.Report, meta call.Metadata) {
	if p.publisher == nil {
		return
	}
	p.publisher.Dispatch(report, broadcast.Payload{
		"callId":      meta.CallID,
		"handle":      meta.Handle.Value,
		"displayName": meta.DisplayName,
		"hasVideo":    meta.HasVideo,
	})
}
