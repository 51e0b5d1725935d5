// Package broadcast provides the in-process event fabric used to announce call
// and status changes to any interested component.
package broadcast

import (
	"github.com/cockroachdb/errors"
)

var ErrUnknownReport = errors.New("unknown report")

// Report is the name of an outward announcement.
type Report string

const (
	ReportSignalingStatus Report = "signaling.status"
	ReportActivityPhase   Report = "activity.phase"

	ReportCallIncoming    Report = "call.incoming"
	ReportCallOutgoing    Report = "call.outgoing"
	ReportCallAnswered    Report = "call.answered"
	ReportCallDeclined    Report = "call.declined"
	ReportCallEnded       Report = "call.ended"
	ReportCallEstablished Report = "call.established"
	ReportCallMuted       Report = "call.muted"
	ReportCallHeld        Report = "call.held"
	ReportCallUpdated     Report = "call.updated"
	ReportCallDTMF        Report = "call.dtmf"
	ReportCallSpeaker     Report = "call.speaker"
	ReportCallAction      Report = "call.action"
	ReportCallTornDown    Report = "call.torndown"

	ReportNotificationShown   Report = "notification.shown"
	ReportNotificationUpdated Report = "notification.updated"
	ReportNotificationHidden  Report = "notification.hidden"

	ReportProximity      Report = "sensor.proximity"
	ReportContextStarted Report = "context.started"
	ReportContextStopped Report = "context.stopped"
)

var knownReports = []Report{
	ReportSignalingStatus,
	ReportActivityPhase,
	ReportCallIncoming,
	ReportCallOutgoing,
	ReportCallAnswered,
	ReportCallDeclined,
	ReportCallEnded,
	ReportCallEstablished,
	ReportCallMuted,
	ReportCallHeld,
	ReportCallUpdated,
	ReportCallDTMF,
	ReportCallSpeaker,
	ReportCallAction,
	ReportCallTornDown,
	ReportNotificationShown,
	ReportNotificationUpdated,
	ReportNotificationHidden,
	ReportProximity,
	ReportContextStarted,
	ReportContextStopped,
}

// Reports returns all known report names.
func Reports() []Report {
	out := make([]Report, len(knownReports))
	copy(out, knownReports)
	return out
}

// ParseReport validates a report name.
func ParseReport(name string) (Report, error) {
	for _, r := range knownReports {
		if string(r) == name {
			return r, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownReport, "%q", name)
}
