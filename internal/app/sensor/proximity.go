// Package sensor provides the proximity sensor resource held during calls.
package sensor

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/broadcast"
)

// Device is the hardware binding that arms and releases the sensor.
type Device interface {
	Enable()
	Disable()
}

// Proximity tracks whether the proximity sensor is armed. Start and Stop are
// idempotent; only state changes reach the device.
type Proximity struct {
	mu        sync.Mutex
	active    bool
	device    Device
	publisher broadcast.Dispatcher
}

// NewProximity creates a proximity sensor. device and publisher may be nil.
func NewProximity(device Device, publisher broadcast.Dispatcher) *Proximity {
	return &Proximity{device: device, publisher: publisher}
}

// Start arms the sensor.
func (p *Proximity) Start() {
	p.set(true)
}

// Stop releases the sensor.
func (p *Proximity) Stop() {
	p.set(false)
}

// IsActive reports whether the sensor is armed.
func (p *Proximity) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Proximity) set(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == active {
		return
	}
	p.active = active

	if p.device != nil {
		if active {
			p.device.Enable()
		} else {
			p.device.Disable()
		}
	}
	zlog.Debug().Msgf("proximity sensor changed: active=%t", active)
	if p.publisher != nil {
		p.publisher.Dispatch(broadcast.ReportProximity, broadcast.Payload{"active": active})
	}
}
