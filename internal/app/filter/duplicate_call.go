package filter

import (
	"context"

	"github.com/osa030/callrelay/internal/app/session/state"
)

// DuplicateCallFilter rejects a call whose id is already live in any
// execution context.
type DuplicateCallFilter struct {
	sessions SessionView
}

// NewDuplicateCallFilter creates a new duplicate call filter.
func NewDuplicateCallFilter(sessions SessionView) *DuplicateCallFilter {
	return &DuplicateCallFilter{sessions: sessions}
}

func (f *DuplicateCallFilter) Name() string {
	return "duplicate_call_filter"
}

func (f *DuplicateCallFilter) Description() string {
	return "Rejects a call id that is already live in either context"
}

func (f *DuplicateCallFilter) ReturnCodes() []string {
	return []string{"duplicate_call"}
}

func (f *DuplicateCallFilter) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

func (f *DuplicateCallFilter) AppliesTo(direction state.Direction) bool {
	return true
}

func (f *DuplicateCallFilter) Check(ctx context.Context, req CallRequest) Result {
	if f.sessions == nil || req.Meta.CallID == "" {
		return Accept()
	}
	if f.sessions.HasLive(req.Meta.CallID) {
		return Reject("duplicate_call")
	}
	return Accept()
}

func init() {
	Register("duplicate_call_filter", func(deps Deps) Filter {
		return NewDuplicateCallFilter(deps.Sessions)
	})
}
