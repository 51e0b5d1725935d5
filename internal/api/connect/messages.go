package connect

import (
	"github.com/osa030/callrelay/internal/app/callkeep"
	"github.com/osa030/callrelay/internal/domain/call"
)

// ServiceName is the fully-qualified control service name.
const ServiceName = "callrelay.v1.ControlService"

// Procedure paths.
const (
	DispatchProcedure                = "/" + ServiceName + "/Dispatch"
	NotificationActionProcedure      = "/" + ServiceName + "/NotificationAction"
	ReportDispatchProcedure          = "/" + ServiceName + "/ReportDispatch"
	RegisterActiveServiceProcedure   = "/" + ServiceName + "/RegisterActiveService"
	UnregisterActiveServiceProcedure = "/" + ServiceName + "/UnregisterActiveService"
	SetSignalingStatusProcedure      = "/" + ServiceName + "/SetSignalingStatus"
	SetActivityPhaseProcedure        = "/" + ServiceName + "/SetActivityPhase"
	ReceiveSMSProcedure              = "/" + ServiceName + "/ReceiveSMS"
	StartCallProcedure               = "/" + ServiceName + "/StartCall"
	TearDownProcedure                = "/" + ServiceName + "/TearDown"
	GetStatusProcedure               = "/" + ServiceName + "/GetStatus"
	SubscribeProcedure               = "/" + ServiceName + "/Subscribe"
)

// CallMetadata is the wire form of call metadata.
type CallMetadata struct {
	CallID                 string `json:"callId"`
	Handle                 string `json:"handle,omitempty"`
	DisplayName            string `json:"displayName,omitempty"`
	HasVideo               bool   `json:"hasVideo,omitempty"`
	HasMute                bool   `json:"hasMute,omitempty"`
	HasHold                bool   `json:"hasHold,omitempty"`
	HasSpeaker             bool   `json:"hasSpeaker,omitempty"`
	DualToneMultiFrequency string `json:"dualToneMultiFrequency,omitempty"`
	RingtonePath           string `json:"ringtonePath,omitempty"`
}

// toDomain converts the wire form. A nil receiver yields nil metadata.
func (m *CallMetadata) toDomain() *call.Metadata {
	if m == nil {
		return nil
	}
	return &call.Metadata{
		CallID:                 m.CallID,
		Handle:                 call.NewHandle(m.Handle),
		DisplayName:            m.DisplayName,
		HasVideo:               m.HasVideo,
		HasMute:                m.HasMute,
		HasHold:                m.HasHold,
		HasSpeaker:             m.HasSpeaker,
		DualToneMultiFrequency: m.DualToneMultiFrequency,
		RingtonePath:           m.RingtonePath,
	}
}

type Empty struct{}

type DispatchRequest struct {
	Action string        `json:"action"`
	Call   *CallMetadata `json:"call,omitempty"`
}

type NotificationActionRequest struct {
	Action string        `json:"action"`
	Call   *CallMetadata `json:"call,omitempty"`
}

type ReportDispatchRequest struct {
	Report  string         `json:"report"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ReportDispatchResponse struct {
	EventID    string `json:"eventId"`
	SequenceNo uint64 `json:"sequenceNo"`
}

type ServiceRequest struct {
	ServiceID string `json:"serviceId"`
}

type ServiceResponse struct {
	Changed bool `json:"changed"`
}

type SetSignalingStatusRequest struct {
	Status string `json:"status"`
}

type SetActivityPhaseRequest struct {
	Phase string `json:"phase"`
}

type ReceiveSMSRequest struct {
	Messages []string `json:"messages"`
}

type ReceiveSMSResponse struct {
	Started int `json:"started"`
}

type StartCallRequest struct {
	Call     CallMetadata `json:"call"`
	Outgoing bool         `json:"outgoing,omitempty"`
}

type StartCallResponse struct {
	CallID string `json:"callId"`
}

type GetStatusResponse struct {
	Status callkeep.Status `json:"status"`
}

type SubscribeRequest struct {
	Reports []string `json:"reports,omitempty"`
}
