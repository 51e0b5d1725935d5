// Package filter provides the screening chain applied to new calls.
package filter

import (
	"context"

	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

// CallRequest represents a call about to be created.
type CallRequest struct {
	Meta      call.Metadata
	Direction state.Direction
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duplicate_call", "blocked_handle", "too_many_calls"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// SessionView is the read-only session state filters may consult.
type SessionView interface {
	HasLive(callID string) bool
	LiveCount() int
}

// Deps carries the collaborators a filter may need.
type Deps struct {
	Sessions SessionView
}

// Filter is the interface for call filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to calls in the given direction.
	AppliesTo(direction state.Direction) bool
	// Check performs the filter check.
	Check(ctx context.Context, req CallRequest) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func(deps Deps) Filter)

// Register registers a filter factory.
func Register(name string, factory func(deps Deps) Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func(deps Deps) Filter {
	return registry
}
