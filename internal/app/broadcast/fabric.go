package broadcast

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

const defaultDeliveryTimeout = 500 * time.Millisecond

// Dispatcher announces reports. Dispatch never fails and never blocks on
// delivery; zero listeners is a valid outcome.
type Dispatcher interface {
	Dispatch(report Report, payload Payload) Event
}

// ServiceStarter delivers a start request carrying the event to a registered
// background service.
type ServiceStarter interface {
	StartService(ctx context.Context, serviceID string, event Event) error
}

// ServiceStarterFunc adapts a function to the ServiceStarter interface.
type ServiceStarterFunc func(ctx context.Context, serviceID string, event Event) error

// StartService calls f.
func (f ServiceStarterFunc) StartService(ctx context.Context, serviceID string, event Event) error {
	return f(ctx, serviceID, event)
}

// Config holds fabric configuration.
type Config struct {
	DeliveryTimeout time.Duration // Per-receiver delivery deadline
	Starter         ServiceStarter
}

// registration is one installed receiver, its report filter and its mailbox.
type registration struct {
	receiver Receiver
	filter   map[Report]struct{}
	mailbox  *mailbox
}

// Fabric routes reports to registered receivers and active services. Each
// receiver and each service gets its events in dispatch order.
type Fabric struct {
	mu        sync.RWMutex
	receivers map[string]*registration

	servicesMu sync.RWMutex
	services   map[string]*mailbox
	starter    ServiceStarter

	orderMu    sync.Mutex
	sequenceNo atomic.Uint64
	timeout    time.Duration
	inflight   sync.WaitGroup
}

// NewFabric creates a new broadcast fabric.
func NewFabric(cfg Config) *Fabric {
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Fabric{
		receivers: make(map[string]*registration),
		services:  make(map[string]*mailbox),
		starter:   cfg.Starter,
		timeout:   timeout,
	}
}

// SetStarter replaces the service starter used by the active-service channel.
func (f *Fabric) SetStarter(starter ServiceStarter) {
	f.servicesMu.Lock()
	defer f.servicesMu.Unlock()
	f.starter = starter
}

// Register installs a receiver for the given reports. Registering a receiver
// ID that is already installed leaves the existing registration untouched and
// returns false.
func (f *Fabric) Register(r Receiver, reports ...Report) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.receivers[r.ID()]; ok {
		zlog.Info().Msgf("receiver already registered, ignoring: receiver=%s", r.ID())
		return false
	}

	filter := make(map[Report]struct{}, len(reports))
	for _, report := range reports {
		filter[report] = struct{}{}
	}
	f.receivers[r.ID()] = &registration{
		receiver: r,
		filter:   filter,
		mailbox:  newMailbox("receiver "+r.ID(), f.timeout, &f.inflight),
	}

	zlog.Debug().Msgf("receiver registered: receiver=%s reports=%v", r.ID(), reports)
	return true
}

// Unregister removes a receiver. It reports whether the receiver was installed.
func (f *Fabric) Unregister(receiverID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, ok := f.receivers[receiverID]
	if !ok {
		return false
	}
	reg.mailbox.close()
	delete(f.receivers, receiverID)
	zlog.Debug().Msgf("receiver unregistered: receiver=%s", receiverID)
	return true
}

// IsRegistered reports whether a receiver ID is installed.
func (f *Fabric) IsRegistered(receiverID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.receivers[receiverID]
	return ok
}

// ReceiverCount returns the number of installed receivers.
func (f *Fabric) ReceiverCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.receivers)
}

// AddService marks a background service as active. It reports whether the
// service was newly added.
func (f *Fabric) AddService(serviceID string) bool {
	f.servicesMu.Lock()
	defer f.servicesMu.Unlock()

	if _, ok := f.services[serviceID]; ok {
		return false
	}
	f.services[serviceID] = newMailbox("service "+serviceID, f.timeout, &f.inflight)
	zlog.Debug().Msgf("active service added: service=%s", serviceID)
	return true
}

// RemoveService removes a background service from the active set.
func (f *Fabric) RemoveService(serviceID string) bool {
	f.servicesMu.Lock()
	defer f.servicesMu.Unlock()

	box, ok := f.services[serviceID]
	if !ok {
		return false
	}
	box.close()
	delete(f.services, serviceID)
	zlog.Debug().Msgf("active service removed: service=%s", serviceID)
	return true
}

// Services returns the sorted IDs of active services.
func (f *Fabric) Services() []string {
	f.servicesMu.RLock()
	defer f.servicesMu.RUnlock()

	ids := make([]string, 0, len(f.services))
	for id := range f.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch queues the report for every matching receiver and one start
// request per active service. Delivery happens asynchronously; failures are
// logged and never returned.
func (f *Fabric) Dispatch(report Report, payload Payload) Event {
	clean, dropped := payload.Sanitize()
	if len(dropped) > 0 {
		zlog.Warn().Msgf("dropping non-primitive payload values: report=%s keys=%v", report, dropped)
	}

	event := Event{
		ID:      uuid.New().String(),
		Report:  report,
		Payload: clean,
		Time:    time.Now(),
	}

	// Numbering and enqueueing happen under one lock so every mailbox sees
	// increasing sequence numbers.
	f.orderMu.Lock()
	defer f.orderMu.Unlock()
	f.mu.RLock()
	f.servicesMu.RLock()
	event.SequenceNo = f.sequenceNo.Add(1)

	receivers := 0
	for _, reg := range f.receivers {
		if _, ok := reg.filter[report]; !ok {
			continue
		}
		r := reg.receiver
		if reg.mailbox.enqueue(delivery{event: event, send: func(ctx context.Context) error {
			return r.Receive(ctx, event)
		}}) {
			receivers++
		}
	}

	services := 0
	if starter := f.starter; starter != nil {
		for id, box := range f.services {
			if box.enqueue(delivery{event: event, send: func(ctx context.Context) error {
				return starter.StartService(ctx, id, event)
			}}) {
				services++
			}
		}
	}
	f.servicesMu.RUnlock()
	f.mu.RUnlock()

	zlog.Debug().Msgf("report dispatched: report=%s seq=%d receivers=%d services=%d",
		report, event.SequenceNo, receivers, services)
	return event
}

// Flush waits until every in-flight delivery has finished or ctx is done.
func (f *Fabric) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close removes all receivers and active services.
func (f *Fabric) Close() {
	f.mu.Lock()
	for _, reg := range f.receivers {
		reg.mailbox.close()
	}
	f.receivers = make(map[string]*registration)
	f.mu.Unlock()

	f.servicesMu.Lock()
	for _, box := range f.services {
		box.close()
	}
	f.services = make(map[string]*mailbox)
	f.servicesMu.Unlock()
}
