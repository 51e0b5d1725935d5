package trigger

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/domain/call"
)

// TelephonyAdapter forwards named actions from telephony callbacks.
type TelephonyAdapter struct {
	resolver Resolver
}

// NewTelephonyAdapter creates a telephony adapter.
func NewTelephonyAdapter(resolver Resolver) *TelephonyAdapter {
	return &TelephonyAdapter{resolver: resolver}
}

// Handle applies the named service action. TearDown reaches every context;
// other actions go to the context owning the call.
func (a *TelephonyAdapter) Handle(ctx context.Context, name string, meta *call.Metadata) error {
	action, err := call.ParseServiceAction(name)
	if err != nil {
		return err
	}

	if action == call.ActionTearDown {
		for _, h := range a.resolver.Handlers() {
			h.Dispatch(ctx, action, nil)
		}
		return nil
	}
	if meta == nil {
		zlog.Debug().Msgf("telephony action without metadata, ignoring: action=%s", action)
		return nil
	}

	a.resolver.Resolve(meta.CallID).Dispatch(ctx, action, meta)
	return nil
}
