package call

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrUnknownAction = errors.New("unknown action")

// ServiceAction is a named operation that drives a call session.
type ServiceAction int

const (
	ActionAnswerCall ServiceAction = iota
	ActionDeclineCall
	ActionHungUpCall
	ActionEstablishCall
	ActionMuting
	ActionHolding
	ActionUpdateCall
	ActionSendDTMF
	ActionSpeaker
	ActionTearDown
)

var actionNames = [...]string{
	ActionAnswerCall:    "AnswerCall",
	ActionDeclineCall:   "DeclineCall",
	ActionHungUpCall:    "HungUpCall",
	ActionEstablishCall: "EstablishCall",
	ActionMuting:        "Muting",
	ActionHolding:       "Holding",
	ActionUpdateCall:    "UpdateCall",
	ActionSendDTMF:      "SendDTMF",
	ActionSpeaker:       "Speaker",
	ActionTearDown:      "TearDown",
}

// Actions returns every known service action in declaration order.
func Actions() []ServiceAction {
	actions := make([]ServiceAction, 0, len(actionNames))
	for i := range actionNames {
		actions = append(actions, ServiceAction(i))
	}
	return actions
}

// String returns the wire name of the action.
func (a ServiceAction) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "Unknown"
	}
	return actionNames[a]
}

// RequiresMetadata reports whether the action targets a single call.
func (a ServiceAction) RequiresMetadata() bool {
	return a != ActionTearDown
}

// ParseServiceAction resolves an action from its wire name (case-insensitive).
func ParseServiceAction(name string) (ServiceAction, error) {
	for i, n := range actionNames {
		if strings.EqualFold(n, name) {
			return ServiceAction(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownAction, "%q", name)
}
