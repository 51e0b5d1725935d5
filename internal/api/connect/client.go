package connect

import (
	"context"

	"connectrpc.com/connect"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/callkeep"
)

// Client calls the control API.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a control API client that sends token on every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		opts: []connect.ClientOption{
			connect.WithCodec(jsonCodec{}),
			connect.WithInterceptors(NewTokenInterceptor(token)),
		},
	}
}

func unary[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, c.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Dispatch sends a named service action.
func (c *Client) Dispatch(ctx context.Context, action string, meta *CallMetadata) error {
	_, err := unary[DispatchRequest, Empty](ctx, c, DispatchProcedure, &DispatchRequest{Action: action, Call: meta})
	return err
}

// NotificationAction sends a notification button tap.
func (c *Client) NotificationAction(ctx context.Context, action string, meta *CallMetadata) error {
	_, err := unary[NotificationActionRequest, Empty](ctx, c, NotificationActionProcedure,
		&NotificationActionRequest{Action: action, Call: meta})
	return err
}

// ReportDispatch publishes a report.
func (c *Client) ReportDispatch(ctx context.Context, report string, payload map[string]any) (*ReportDispatchResponse, error) {
	return unary[ReportDispatchRequest, ReportDispatchResponse](ctx, c, ReportDispatchProcedure,
		&ReportDispatchRequest{Report: report, Payload: payload})
}

// RegisterActiveService registers an active service.
func (c *Client) RegisterActiveService(ctx context.Context, id string) (bool, error) {
	resp, err := unary[ServiceRequest, ServiceResponse](ctx, c, RegisterActiveServiceProcedure, &ServiceRequest{ServiceID: id})
	if err != nil {
		return false, err
	}
	return resp.Changed, nil
}

// UnregisterActiveService unregisters an active service.
func (c *Client) UnregisterActiveService(ctx context.Context, id string) (bool, error) {
	resp, err := unary[ServiceRequest, ServiceResponse](ctx, c, UnregisterActiveServiceProcedure, &ServiceRequest{ServiceID: id})
	if err != nil {
		return false, err
	}
	return resp.Changed, nil
}

// SetSignalingStatus sets the signaling register.
func (c *Client) SetSignalingStatus(ctx context.Context, st string) error {
	_, err := unary[SetSignalingStatusRequest, Empty](ctx, c, SetSignalingStatusProcedure, &SetSignalingStatusRequest{Status: st})
	return err
}

// SetActivityPhase sets the activity register.
func (c *Client) SetActivityPhase(ctx context.Context, phase string) error {
	_, err := unary[SetActivityPhaseRequest, Empty](ctx, c, SetActivityPhaseProcedure, &SetActivityPhaseRequest{Phase: phase})
	return err
}

// ReceiveSMS submits text messages and returns the number of calls started.
func (c *Client) ReceiveSMS(ctx context.Context, messages ...string) (int, error) {
	resp, err := unary[ReceiveSMSRequest, ReceiveSMSResponse](ctx, c, ReceiveSMSProcedure, &ReceiveSMSRequest{Messages: messages})
	if err != nil {
		return 0, err
	}
	return resp.Started, nil
}

// StartCall starts a call and returns its id.
func (c *Client) StartCall(ctx context.Context, meta CallMetadata, outgoing bool) (string, error) {
	resp, err := unary[StartCallRequest, StartCallResponse](ctx, c, StartCallProcedure,
		&StartCallRequest{Call: meta, Outgoing: outgoing})
	if err != nil {
		return "", err
	}
	return resp.CallID, nil
}

// TearDown ends every session.
func (c *Client) TearDown(ctx context.Context) error {
	_, err := unary[Empty, Empty](ctx, c, TearDownProcedure, &Empty{})
	return err
}

// GetStatus fetches the relay status.
func (c *Client) GetStatus(ctx context.Context) (*callkeep.Status, error) {
	resp, err := unary[Empty, GetStatusResponse](ctx, c, GetStatusProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

// Subscribe streams events to fn until ctx is cancelled, the server closes
// the stream or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, reports []string, fn func(broadcast.Event) error) error {
	client := connect.NewClient[SubscribeRequest, broadcast.Event](c.httpClient, c.baseURL+SubscribeProcedure, c.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&SubscribeRequest{Reports: reports}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(*stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
