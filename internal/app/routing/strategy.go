// Package routing decides which execution context owns call handling and
// whether the background context must be launched.
package routing

import (
	"github.com/osa030/callrelay/internal/app/registers"
	"github.com/osa030/callrelay/internal/domain/status"
)

// SelectBySignaling maps a signaling status to a context. A live or pending
// connection keeps handling in the main context.
func SelectBySignaling(s status.SignalingStatus) status.ExecutionContext {
	if s.IsConnecting() {
		return status.ContextMain
	}
	return status.ContextBackground
}

// SelectByActivity maps the activity phase to a context. An unset phase
// selects the background context.
func SelectByActivity(p status.ActivityPhase, ok bool) status.ExecutionContext {
	if ok && p.IsAttached() {
		return status.ContextMain
	}
	return status.ContextBackground
}

// SelectContext picks the context from the current register values.
// Signaling status wins whenever it is set; the activity phase is only
// consulted when no signaling status has been recorded.
func SelectContext(r registers.Reader) status.ExecutionContext {
	if s, ok := r.SignalingStatus(); ok {
		return SelectBySignaling(s)
	}
	p, ok := r.ActivityPhase()
	return SelectByActivity(p, ok)
}
