package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/callkeep"
	"github.com/osa030/callrelay/internal/app/session"
	"github.com/osa030/callrelay/internal/domain/call"
	"github.com/osa030/callrelay/internal/domain/status"
)

// ControlService implements the control API on top of the call relay.
type ControlService struct {
	relay            *callkeep.Service
	subscriberBuffer int

	done      chan struct{}
	closeOnce sync.Once
}

// NewControlService creates a new ControlService.
func NewControlService(relay *callkeep.Service, subscriberBuffer int) *ControlService {
	return &ControlService{
		relay:            relay,
		subscriberBuffer: subscriberBuffer,
		done:             make(chan struct{}),
	}
}

// Close ends every open subscription stream.
func (s *ControlService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// NewHandler mounts every procedure plus /healthz on a router. All
// procedures require the control token.
func NewHandler(svc *ControlService, token string) http.Handler {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewTokenInterceptor(token)),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle(DispatchProcedure, connect.NewUnaryHandler(DispatchProcedure, svc.Dispatch, opts...))
	r.Handle(NotificationActionProcedure, connect.NewUnaryHandler(NotificationActionProcedure, svc.NotificationAction, opts...))
	r.Handle(ReportDispatchProcedure, connect.NewUnaryHandler(ReportDispatchProcedure, svc.ReportDispatch, opts...))
	r.Handle(RegisterActiveServiceProcedure, connect.NewUnaryHandler(RegisterActiveServiceProcedure, svc.RegisterActiveService, opts...))
	r.Handle(UnregisterActiveServiceProcedure, connect.NewUnaryHandler(UnregisterActiveServiceProcedure, svc.UnregisterActiveService, opts...))
	r.Handle(SetSignalingStatusProcedure, connect.NewUnaryHandler(SetSignalingStatusProcedure, svc.SetSignalingStatus, opts...))
	r.Handle(SetActivityPhaseProcedure, connect.NewUnaryHandler(SetActivityPhaseProcedure, svc.SetActivityPhase, opts...))
	r.Handle(ReceiveSMSProcedure, connect.NewUnaryHandler(ReceiveSMSProcedure, svc.ReceiveSMS, opts...))
	r.Handle(StartCallProcedure, connect.NewUnaryHandler(StartCallProcedure, svc.StartCall, opts...))
	r.Handle(TearDownProcedure, connect.NewUnaryHandler(TearDownProcedure, svc.TearDown, opts...))
	r.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	r.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.Subscribe, opts...))
	return r
}

// Dispatch applies a named service action.
func (s *ControlService) Dispatch(
	ctx context.Context,
	req *connect.Request[DispatchRequest],
) (*connect.Response[Empty], error) {
	if err := s.relay.Dispatch(ctx, req.Msg.Action, req.Msg.Call.toDomain()); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// NotificationAction applies a notification button tap.
func (s *ControlService) NotificationAction(
	ctx context.Context,
	req *connect.Request[NotificationActionRequest],
) (*connect.Response[Empty], error) {
	if err := s.relay.NotificationAction(ctx, req.Msg.Action, req.Msg.Call.toDomain()); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ReportDispatch publishes a report on the fabric.
func (s *ControlService) ReportDispatch(
	ctx context.Context,
	req *connect.Request[ReportDispatchRequest],
) (*connect.Response[ReportDispatchResponse], error) {
	report, err := broadcast.ParseReport(req.Msg.Report)
	if err != nil {
		return nil, toConnectError(err)
	}
	event := s.relay.ReportDispatch(report, req.Msg.Payload)
	return connect.NewResponse(&ReportDispatchResponse{
		EventID:    event.ID,
		SequenceNo: event.SequenceNo,
	}), nil
}

// RegisterActiveService adds a service to the start-with-extras channel.
func (s *ControlService) RegisterActiveService(
	ctx context.Context,
	req *connect.Request[ServiceRequest],
) (*connect.Response[ServiceResponse], error) {
	if req.Msg.ServiceID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("service id is required"))
	}
	return connect.NewResponse(&ServiceResponse{
		Changed: s.relay.RegisterActiveService(req.Msg.ServiceID),
	}), nil
}

// UnregisterActiveService removes a service from the start-with-extras channel.
func (s *ControlService) UnregisterActiveService(
	ctx context.Context,
	req *connect.Request[ServiceRequest],
) (*connect.Response[ServiceResponse], error) {
	return connect.NewResponse(&ServiceResponse{
		Changed: s.relay.UnregisterActiveService(req.Msg.ServiceID),
	}), nil
}

// SetSignalingStatus records the signaling connection status.
func (s *ControlService) SetSignalingStatus(
	ctx context.Context,
	req *connect.Request[SetSignalingStatusRequest],
) (*connect.Response[Empty], error) {
	st, err := status.ParseSignalingStatus(req.Msg.Status)
	if err != nil {
		return nil, toConnectError(err)
	}
	s.relay.SetSignalingStatus(st)
	return connect.NewResponse(&Empty{}), nil
}

// SetActivityPhase records the host activity phase. RESUME and DESTROY also
// attach and detach the MAIN context.
func (s *ControlService) SetActivityPhase(
	ctx context.Context,
	req *connect.Request[SetActivityPhaseRequest],
) (*connect.Response[Empty], error) {
	phase, err := status.ParseActivityPhase(req.Msg.Phase)
	if err != nil {
		return nil, toConnectError(err)
	}
	switch phase {
	case status.PhaseResume:
		if err := s.relay.AttachActivity(ctx); err != nil {
			return nil, toConnectError(err)
		}
	case status.PhaseDestroy:
		s.relay.DetachActivity()
	default:
		s.relay.SetActivityPhase(phase)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ReceiveSMS evaluates inbound text messages.
func (s *ControlService) ReceiveSMS(
	ctx context.Context,
	req *connect.Request[ReceiveSMSRequest],
) (*connect.Response[ReceiveSMSResponse], error) {
	return connect.NewResponse(&ReceiveSMSResponse{
		Started: s.relay.ReceiveSMS(ctx, req.Msg.Messages...),
	}), nil
}

// StartCall starts an incoming or outgoing call.
func (s *ControlService) StartCall(
	ctx context.Context,
	req *connect.Request[StartCallRequest],
) (*connect.Response[StartCallResponse], error) {
	meta := req.Msg.Call.toDomain()
	if req.Msg.Outgoing {
		info, err := s.relay.StartOutgoingCall(ctx, *meta)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&StartCallResponse{CallID: info.CallID}), nil
	}

	if err := s.relay.StartIncomingCall(ctx, *meta); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&StartCallResponse{CallID: meta.CallID}), nil
}

// TearDown ends every session.
func (s *ControlService) TearDown(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[Empty], error) {
	s.relay.TearDown(ctx)
	return connect.NewResponse(&Empty{}), nil
}

// GetStatus returns the current relay status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[GetStatusResponse], error) {
	return connect.NewResponse(&GetStatusResponse{Status: s.relay.Status()}), nil
}

// Subscribe streams fabric events for the requested reports until the client
// goes away. An empty report list subscribes to everything.
func (s *ControlService) Subscribe(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[broadcast.Event],
) error {
	reports, err := parseReports(req.Msg.Reports)
	if err != nil {
		return toConnectError(err)
	}

	fabric := s.relay.Fabric()
	receiver := broadcast.NewChannelReceiver("subscriber-"+uuid.New().String(), s.subscriberBuffer)
	fabric.Register(receiver, reports...)
	defer func() {
		fabric.Unregister(receiver.ID())
		receiver.Close()
	}()
	zlog.Info().Msgf("subscriber attached: receiver=%s reports=%d", receiver.ID(), len(reports))

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msgf("subscriber detached: receiver=%s", receiver.ID())
			return nil
		case <-s.done:
			return nil
		case event, ok := <-receiver.Events():
			if !ok {
				return nil
			}
			if err := stream.Send(&event); err != nil {
				return err
			}
		}
	}
}

func parseReports(names []string) ([]broadcast.Report, error) {
	if len(names) == 0 {
		return broadcast.Reports(), nil
	}
	reports := make([]broadcast.Report, 0, len(names))
	for _, name := range names {
		r, err := broadcast.ParseReport(name)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// toConnectError maps relay errors onto connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, call.ErrUnknownAction),
		errors.Is(err, call.ErrInvalidMetadata),
		errors.Is(err, status.ErrUnknownStatus),
		errors.Is(err, status.ErrUnknownPhase),
		errors.Is(err, broadcast.ErrUnknownReport):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrSessionExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, callkeep.ErrCallRejected):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
