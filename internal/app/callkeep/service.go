// Package callkeep composes the call relay: status registers, broadcast
// fabric, both execution contexts and the inbound trigger adapters.
package callkeep

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/execution"
	"github.com/osa030/callrelay/internal/app/filter"
	"github.com/osa030/callrelay/internal/app/notification"
	"github.com/osa030/callrelay/internal/app/registers"
	"github.com/osa030/callrelay/internal/app/routing"
	"github.com/osa030/callrelay/internal/app/sensor"
	"github.com/osa030/callrelay/internal/app/session"
	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/app/trigger"
	"github.com/osa030/callrelay/internal/app/worker"
	"github.com/osa030/callrelay/internal/domain/call"
	"github.com/osa030/callrelay/internal/domain/status"
)

// ErrCallRejected marks calls refused by the screening chain.
var ErrCallRejected = errors.New("call rejected")

// Preferences is the persisted configuration read by the service.
type Preferences interface {
	routing.Preferences
	trigger.SMSPreferences
	SignalingServiceEnabled() bool
}

// Deps configures a Service.
type Deps struct {
	Fabric    *broadcast.Fabric
	Prefs     Preferences
	Renderer  notification.Renderer // optional
	Device    sensor.Device         // optional
	Launch    execution.LaunchConfig
	InboxSize int
	// OnBackgroundStart runs on every background start attempt; an error
	// makes the attempt fail and be retried.
	OnBackgroundStart func(ctx context.Context) error
}

// Service is the call relay entry point.
type Service struct {
	fabric     *broadcast.Fabric
	prefs      Preferences
	registers  *registers.Registers
	presenter  *notification.Presenter
	proximity  *sensor.Proximity
	main       *execution.Context
	background *execution.Context
	router     *execution.Router
	policy     *routing.LaunchPolicy
	queue      *worker.Queue
	launcher   *execution.Launcher
	screening  *filter.Chain

	notifications *trigger.NotificationAdapter
	telephony     *trigger.TelephonyAdapter
	sms           *trigger.SMSAdapter
}

// New wires a service. Both contexts start stopped.
func New(deps Deps) *Service {
	if deps.Fabric == nil {
		deps.Fabric = broadcast.NewFabric(broadcast.Config{})
	}
	s := &Service{
		fabric: deps.Fabric,
		prefs:  deps.Prefs,
		queue:     worker.NewQueue(),
		screening: filter.NewChain(),
	}
	s.registers = registers.NewRegisters(s.fabric)
	s.presenter = notification.NewPresenter(deps.Renderer, s.fabric)
	s.proximity = sensor.NewProximity(deps.Device, s.fabric)

	s.main = execution.NewContext(execution.Config{
		Label:     status.ContextMain,
		Publisher: s.fabric,
		Presenter: s.presenter,
		Sensor:    s.proximity,
		InboxSize: deps.InboxSize,
	})
	s.background = execution.NewContext(execution.Config{
		Label:     status.ContextBackground,
		Publisher: s.fabric,
		Presenter: s.presenter,
		Sensor:    s.proximity,
		InboxSize: deps.InboxSize,
		OnStart: func(ctx context.Context) error {
			if deps.OnBackgroundStart != nil {
				if err := deps.OnBackgroundStart(ctx); err != nil {
					return err
				}
			}
			s.fabric.AddService(s.background.ServiceID())
			return nil
		},
	})

	s.router = execution.NewRouter(s.main, s.background, s.registers)
	s.launcher = execution.NewLauncher(s.queue, s.background, deps.Launch)
	s.policy = routing.NewLaunchPolicy(s.prefs, s.registers, s.launcher)

	resolver := contextResolver{router: s.router}
	s.notifications = trigger.NewNotificationAdapter(resolver)
	s.telephony = trigger.NewTelephonyAdapter(resolver)
	s.sms = trigger.NewSMSAdapter(s.prefs, s)

	s.fabric.SetStarter(broadcast.ServiceStarterFunc(s.startService))
	return s
}

// Fabric returns the broadcast fabric.
func (s *Service) Fabric() *broadcast.Fabric {
	return s.fabric
}

// Registers returns the status registers.
func (s *Service) Registers() *registers.Registers {
	return s.registers
}

// UseFilters installs the screening chain built from enabled filter settings.
// It must be called before the service handles calls.
func (s *Service) UseFilters(enabled map[string]map[string]any) error {
	chain, err := filter.Build(enabled, filter.Deps{Sessions: s})
	if err != nil {
		return err
	}
	s.screening = chain
	return nil
}

// HasLive reports whether callID is live in either context.
func (s *Service) HasLive(callID string) bool {
	for _, c := range s.router.Contexts() {
		if c.Sessions().HasLive(callID) {
			return true
		}
	}
	return false
}

// LiveCount returns the number of sessions across both contexts.
func (s *Service) LiveCount() int {
	n := 0
	for _, c := range s.router.Contexts() {
		n += c.Sessions().Count()
	}
	return n
}

// screen runs the screening chain for a new call.
func (s *Service) screen(ctx context.Context, meta call.Metadata, direction state.Direction) error {
	result := s.screening.Execute(ctx, filter.CallRequest{Meta: meta, Direction: direction})
	if result.Accepted {
		return nil
	}
	zlog.Info().Msgf("call rejected: call_id=%s direction=%s code=%s", meta.CallID, direction, result.Code)
	return errors.Mark(errors.Newf("call %s rejected: %s", meta.CallID, result.Code), ErrCallRejected)
}

// OnBoot schedules background startup when the signaling service is enabled.
// Repeated calls replace the pending startup instead of adding another.
func (s *Service) OnBoot() (bool, error) {
	if !s.prefs.SignalingServiceEnabled() {
		zlog.Info().Msg("signaling service disabled, skipping boot startup")
		return false, nil
	}
	if err := s.launcher.Schedule(); err != nil {
		return false, errors.Wrap(err, "failed to schedule background startup")
	}
	zlog.Info().Msg("background startup scheduled")
	return true, nil
}

// StartIncomingCall creates a ringing session in the resolved context and
// launches the background context when the launch policy says so.
func (s *Service) StartIncomingCall(ctx context.Context, meta call.Metadata) error {
	if meta.RingtonePath == "" {
		meta.RingtonePath = s.prefs.RingtonePath()
	}
	if err := s.screen(ctx, meta, state.DirectionIncoming); err != nil {
		return err
	}
	target := s.router.Resolve(meta.CallID)
	if _, err := target.Sessions().StartIncoming(meta); err != nil {
		return err
	}
	s.launchIfNeeded()
	return nil
}

// StartOutgoingCall creates a ringing outgoing session in the resolved context.
func (s *Service) StartOutgoingCall(ctx context.Context, meta call.Metadata) (session.Info, error) {
	if err := s.screen(ctx, meta, state.DirectionOutgoing); err != nil {
		return session.Info{}, err
	}
	target := s.router.Resolve(meta.CallID)
	sess, err := target.Sessions().StartOutgoing(meta)
	if err != nil {
		return session.Info{}, err
	}
	s.launchIfNeeded()
	return sess.Info(), nil
}

// launchIfNeeded evaluates the launch policy fresh and starts the background
// context asynchronously.
func (s *Service) launchIfNeeded() {
	if !s.policy.ShouldLaunchBackground() {
		return
	}
	if err := s.launcher.Launch(); err != nil {
		zlog.Warn().Msgf("failed to launch background context: error=%v", err)
	}
}

// Dispatch applies a named service action from a telephony callback.
func (s *Service) Dispatch(ctx context.Context, action string, meta *call.Metadata) error {
	return s.telephony.Handle(ctx, action, meta)
}

// NotificationAction applies a notification button tap.
func (s *Service) NotificationAction(ctx context.Context, action string, meta *call.Metadata) error {
	return s.notifications.Handle(ctx, action, meta)
}

// ReceiveSMS evaluates inbound messages and returns the number of calls started.
func (s *Service) ReceiveSMS(ctx context.Context, messages ...string) int {
	return s.sms.Receive(ctx, messages...)
}

// ReportDispatch publishes a report on the fabric.
func (s *Service) ReportDispatch(report broadcast.Report, payload broadcast.Payload) broadcast.Event {
	return s.fabric.Dispatch(report, payload)
}

// RegisterActiveService adds a service to the start-with-extras channel.
func (s *Service) RegisterActiveService(id string) bool {
	return s.fabric.AddService(id)
}

// UnregisterActiveService removes a service from the start-with-extras channel.
func (s *Service) UnregisterActiveService(id string) bool {
	return s.fabric.RemoveService(id)
}

// SetSignalingStatus records the signaling connection status.
func (s *Service) SetSignalingStatus(st status.SignalingStatus) {
	s.registers.SetSignalingStatus(st)
}

// SetActivityPhase records the host activity phase.
func (s *Service) SetActivityPhase(p status.ActivityPhase) {
	s.registers.SetActivityPhase(p)
}

// TearDown ends every session in both contexts, then announces that the
// teardown happened. The announcement is not acted on by the contexts.
func (s *Service) TearDown(ctx context.Context) {
	for _, c := range s.router.Contexts() {
		c.Dispatch(ctx, call.ActionTearDown, nil)
	}
	s.fabric.Dispatch(broadcast.ReportCallTornDown, nil)
}

// AttachActivity starts the MAIN context for a visible activity.
func (s *Service) AttachActivity(ctx context.Context) error {
	if err := s.main.Start(ctx); err != nil {
		return err
	}
	s.fabric.AddService(s.main.ServiceID())
	s.registers.SetActivityPhase(status.PhaseResume)
	return nil
}

// DetachActivity stops the MAIN context once its activity is gone.
func (s *Service) DetachActivity() {
	s.registers.SetActivityPhase(status.PhaseDestroy)
	s.fabric.RemoveService(s.main.ServiceID())
	s.main.Stop()
}

// Close stops both contexts and waits for in-flight work.
func (s *Service) Close(ctx context.Context) error {
	s.queue.Close()
	s.proximity.Stop()
	for _, c := range s.router.Contexts() {
		s.fabric.RemoveService(c.ServiceID())
		c.Stop()
	}
	return s.fabric.Flush(ctx)
}

// startService routes service-start requests to the execution contexts.
// Other registered services belong to external processes and only get logged.
func (s *Service) startService(ctx context.Context, serviceID string, event broadcast.Event) error {
	for _, c := range s.router.Contexts() {
		if c.ServiceID() == serviceID {
			return c.StartService(ctx, serviceID, event)
		}
	}
	zlog.Debug().Msgf("service start requested: service=%s report=%s", serviceID, event.Report)
	return nil
}

// ContextStatus describes one execution context.
type ContextStatus struct {
	Label    string         `json:"label"`
	Running  bool           `json:"running"`
	Sessions []session.Info `json:"sessions"`
}

// Status is a point-in-time snapshot of the relay.
type Status struct {
	SignalingStatus string          `json:"signalingStatus,omitempty"`
	ActivityPhase   string          `json:"activityPhase,omitempty"`
	Selected        string          `json:"selected"`
	LaunchPending   bool            `json:"launchPending"`
	Proximity       bool            `json:"proximity"`
	Contexts        []ContextStatus `json:"contexts"`
	Services        []string        `json:"services"`
	Receivers       int             `json:"receivers"`
	Notifications   []string        `json:"notifications"`
}

// Status returns a snapshot for the control API.
func (s *Service) Status() Status {
	st := Status{
		Selected:      routing.SelectContext(s.registers).String(),
		LaunchPending: s.launcher.Pending(),
		Proximity:     s.proximity.IsActive(),
		Services:      s.fabric.Services(),
		Receivers:     s.fabric.ReceiverCount(),
		Notifications: s.presenter.Shown(),
	}
	if v, ok := s.registers.SignalingStatus(); ok {
		st.SignalingStatus = v.String()
	}
	if v, ok := s.registers.ActivityPhase(); ok {
		st.ActivityPhase = v.String()
	}
	sort.Strings(st.Notifications)
	for _, c := range s.router.Contexts() {
		st.Contexts = append(st.Contexts, ContextStatus{
			Label:    c.Label().String(),
			Running:  c.IsRunning(),
			Sessions: c.Sessions().Infos(),
		})
	}
	return st
}

// contextResolver exposes the router to the trigger adapters.
type contextResolver struct {
	router *execution.Router
}

func (r contextResolver) Resolve(callID string) trigger.Handler {
	return r.router.Resolve(callID)
}

func (r contextResolver) Handlers() []trigger.Handler {
	contexts := r.router.Contexts()
	handlers := make([]trigger.Handler, 0, len(contexts))
	for _, c := range contexts {
		handlers = append(handlers, c)
	}
	return handlers
}
