// Package status provides the connectivity and lifecycle enums shared by the
// routing layer.
package status

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownStatus = errors.New("unknown signaling status")
	ErrUnknownPhase  = errors.New("unknown activity phase")
)

// SignalingStatus represents the state of the signaling connection.
type SignalingStatus int

const (
	SignalingDisconnect    SignalingStatus = iota // No connection
	SignalingConnecting                           // Connection attempt in flight
	SignalingConnect                              // Connected
	SignalingDisconnecting                        // Connection being closed
	SignalingFailure                              // Last attempt failed
)

var signalingNames = map[SignalingStatus]string{
	SignalingDisconnect:    "DISCONNECT",
	SignalingConnecting:    "CONNECTING",
	SignalingConnect:       "CONNECT",
	SignalingDisconnecting: "DISCONNECTING",
	SignalingFailure:       "FAILURE",
}

// String returns the string representation of the signaling status.
func (s SignalingStatus) String() string {
	if name, ok := signalingNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsConnecting reports whether a connection is established or being established.
func (s SignalingStatus) IsConnecting() bool {
	return s == SignalingConnect || s == SignalingConnecting
}

// ParseSignalingStatus parses a signaling status name (case-insensitive).
func ParseSignalingStatus(name string) (SignalingStatus, error) {
	for s, n := range signalingNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownStatus, "%q", name)
}

// ActivityPhase represents the lifecycle phase of the host activity.
type ActivityPhase int

const (
	PhaseCreate  ActivityPhase = iota // Activity created
	PhaseStart                        // Activity started
	PhaseResume                       // Activity in foreground
	PhasePause                        // Activity partially hidden
	PhaseStop                         // Activity hidden but alive
	PhaseDestroy                      // Activity destroyed
	PhaseAny                          // Unclassified lifecycle callback
)

var phaseNames = map[ActivityPhase]string{
	PhaseCreate:  "CREATE",
	PhaseStart:   "START",
	PhaseResume:  "RESUME",
	PhasePause:   "PAUSE",
	PhaseStop:    "STOP",
	PhaseDestroy: "DESTROY",
	PhaseAny:     "ANY",
}

// String returns the string representation of the phase.
func (p ActivityPhase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsAttached reports whether the activity is resumed, paused or stopped,
// i.e. still bound to a live foreground context.
func (p ActivityPhase) IsAttached() bool {
	return p == PhaseResume || p == PhasePause || p == PhaseStop
}

// ParseActivityPhase parses an activity phase name (case-insensitive).
func ParseActivityPhase(name string) (ActivityPhase, error) {
	for p, n := range phaseNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownPhase, "%q", name)
}

// ExecutionContext identifies where call handling runs.
type ExecutionContext int

const (
	ContextMain       ExecutionContext = iota // Bound to the visible activity
	ContextBackground                         // Headless, survives without the activity
)

// String returns the string representation of the execution context.
func (c ExecutionContext) String() string {
	switch c {
	case ContextMain:
		return "MAIN"
	case ContextBackground:
		return "BACKGROUND"
	default:
		return "UNKNOWN"
	}
}
