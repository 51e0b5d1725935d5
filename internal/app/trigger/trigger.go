// Package trigger normalizes inbound signals (notification taps, telephony
// callbacks, SMS messages) into service actions on the owning context.
package trigger

import (
	"context"

	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

// Handler is an execution context able to act on its sessions.
type Handler interface {
	Dispatch(ctx context.Context, action call.ServiceAction, meta *call.Metadata)
	CallState(callID string) (state.CallState, bool)
}

// Resolver picks the handler owning a call.
type Resolver interface {
	Resolve(callID string) Handler
	Handlers() []Handler
}
