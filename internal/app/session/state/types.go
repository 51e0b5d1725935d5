// Package state provides the call session state enums.
package state

// CallState represents where a call is in its lifecycle.
type CallState int

const (
	StateRinging CallState = iota // Created, not yet connected
	StateActive                   // Connected
	StateEnded                    // Declined or hung up
)

// String returns the string representation of the state.
func (s CallState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IsLive reports whether the call has not ended.
func (s CallState) IsLive() bool {
	return s == StateRinging || s == StateActive
}

// Direction represents who started the call.
type Direction int

const (
	DirectionIncoming Direction = iota // Remote party called
	DirectionOutgoing                  // Local user called
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}
