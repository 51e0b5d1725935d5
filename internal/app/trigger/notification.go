package trigger

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

// NotificationAction is a button on the call notification.
type NotificationAction int

const (
	NotificationAnswer NotificationAction = iota
	NotificationHangup
)

func (a NotificationAction) String() string {
	switch a {
	case NotificationAnswer:
		return "Answer"
	case NotificationHangup:
		return "Hangup"
	default:
		return "Unknown"
	}
}

// ParseNotificationAction parses "answer" or "hangup" (case-insensitive).
func ParseNotificationAction(name string) (NotificationAction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "answer":
		return NotificationAnswer, nil
	case "hangup":
		return NotificationHangup, nil
	default:
		return 0, errors.Wrapf(call.ErrUnknownAction, "notification action %q", name)
	}
}

// NotificationAdapter turns notification taps into service actions.
type NotificationAdapter struct {
	resolver Resolver
}

// NewNotificationAdapter creates a notification adapter.
func NewNotificationAdapter(resolver Resolver) *NotificationAdapter {
	return &NotificationAdapter{resolver: resolver}
}

// Handle applies the named notification action to the call in meta.
// Unknown names are rejected; missing metadata is a no-op.
func (a *NotificationAdapter) Handle(ctx context.Context, name string, meta *call.Metadata) error {
	action, err := ParseNotificationAction(name)
	if err != nil {
		return err
	}
	if meta == nil || meta.Validate() != nil {
		zlog.Debug().Msgf("notification action without call, ignoring: action=%s", action)
		return nil
	}

	handler := a.resolver.Resolve(meta.CallID)
	target := a.serviceAction(action, handler, meta.CallID)
	zlog.Info().Msgf("notification action: action=%s call_id=%s dispatch=%s", action, meta.CallID, target)
	handler.Dispatch(ctx, target, meta)
	return nil
}

// HandlePayload decodes metadata from a flat payload and applies the action.
func (a *NotificationAdapter) HandlePayload(ctx context.Context, name string, payload map[string]any) error {
	meta, err := call.MetadataFromPayload(payload)
	if err != nil && !errors.Is(err, call.ErrInvalidMetadata) {
		return err
	}
	return a.Handle(ctx, name, meta)
}

// serviceAction maps Hangup to a decline while the call is still ringing.
func (a *NotificationAdapter) serviceAction(action NotificationAction, handler Handler, callID string) call.ServiceAction {
	if action == NotificationAnswer {
		return call.ActionAnswerCall
	}
	if s, ok := handler.CallState(callID); ok && s == state.StateRinging {
		return call.ActionDeclineCall
	}
	return call.ActionHungUpCall
}
