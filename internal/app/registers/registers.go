// Package registers provides the process-wide last-known-value registers for
// signaling connectivity and host activity lifecycle.
package registers

import (
	"sync"
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/domain/status"
)

// Reader exposes the current register values. Reads never block.
type Reader interface {
	SignalingStatus() (status.SignalingStatus, bool)
	ActivityPhase() (status.ActivityPhase, bool)
}

// Registers holds the signaling status and activity phase. Writes are
// serialized and each write announces the new value exactly once.
type Registers struct {
	mu sync.Mutex // serializes writers

	signaling atomic.Pointer[status.SignalingStatus]
	activity  atomic.Pointer[status.ActivityPhase]

	publisher broadcast.Dispatcher
}

// NewRegisters creates registers that announce changes through publisher.
// A nil publisher disables announcements.
func NewRegisters(publisher broadcast.Dispatcher) *Registers {
	return &Registers{publisher: publisher}
}

// SignalingStatus returns the last stored signaling status.
func (r *Registers) SignalingStatus() (status.SignalingStatus, bool) {
	if v := r.signaling.Load(); v != nil {
		return *v, true
	}
	return 0, false
}

// ActivityPhase returns the last stored activity phase.
func (r *Registers) ActivityPhase() (status.ActivityPhase, bool) {
	if v := r.activity.Load(); v != nil {
		return *v, true
	}
	return 0, false
}

// SetSignalingStatus stores s and announces it.
func (r *Registers) SetSignalingStatus(s status.SignalingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.signaling.Store(&s)
	zlog.Debug().Msgf("signaling status updated: status=%s", s)
	r.announce(broadcast.ReportSignalingStatus, broadcast.Payload{"status": s.String()})
}

// SetActivityPhase stores p and announces it.
func (r *Registers) SetActivityPhase(p status.ActivityPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activity.Store(&p)
	zlog.Debug().Msgf("activity phase updated: phase=%s", p)
	r.announce(broadcast.ReportActivityPhase, broadcast.Payload{"phase": p.String()})
}

// announce publishes the change. Dispatch is fire-and-forget, but a panicking
// publisher must still not undo the stored value.
func (r *Registers) announce(report broadcast.Report, payload broadcast.Payload) {
	if r.publisher == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			zlog.Warn().Msgf("failed to announce register change: report=%s error=%v", report, rec)
		}
	}()
	r.publisher.Dispatch(report, payload)
}
