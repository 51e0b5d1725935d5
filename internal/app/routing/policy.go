package routing

import (
	"github.com/osa030/callrelay/internal/app/registers"
	"github.com/osa030/callrelay/internal/domain/status"
)

// Preferences exposes the persisted launch preference.
type Preferences interface {
	LaunchBackgroundEvenIfAppIsOpen() bool
}

// BackgroundProbe reports whether the background context is running.
type BackgroundProbe interface {
	IsRunning() bool
}

// LaunchPolicy decides whether an inbound event must start the background
// context. It holds no state of its own and is evaluated fresh on each call.
type LaunchPolicy struct {
	prefs      Preferences
	status     registers.Reader
	background BackgroundProbe
}

// NewLaunchPolicy creates a launch policy.
func NewLaunchPolicy(prefs Preferences, reader registers.Reader, background BackgroundProbe) *LaunchPolicy {
	return &LaunchPolicy{
		prefs:      prefs,
		status:     reader,
		background: background,
	}
}

// ShouldLaunchBackground returns true when the preference forces a launch, or
// when the background context is selected and not yet running.
func (p *LaunchPolicy) ShouldLaunchBackground() bool {
	if p.prefs.LaunchBackgroundEvenIfAppIsOpen() {
		return true
	}
	return SelectContext(p.status) == status.ContextBackground && !p.background.IsRunning()
}
