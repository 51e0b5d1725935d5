package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/callrelay/internal/app/session/state"
	"github.com/osa030/callrelay/internal/domain/call"
)

type fakeSessions struct {
	live  map[string]bool
	count int
}

func (s fakeSessions) HasLive(callID string) bool { return s.live[callID] }
func (s fakeSessions) LiveCount() int             { return s.count }

func incomingRequest(callID, handle string) CallRequest {
	return CallRequest{
		Meta:      call.Metadata{CallID: callID, Handle: call.NewHandle(handle)},
		Direction: state.DirectionIncoming,
	}
}

func TestDuplicateCallFilter_Check(t *testing.T) {
	filter := NewDuplicateCallFilter(fakeSessions{live: map[string]bool{"live-1": true}})

	result := filter.Check(context.Background(), incomingRequest("live-1", "+1"))
	assert.False(t, result.Accepted)
	assert.Equal(t, "duplicate_call", result.Code)

	result = filter.Check(context.Background(), incomingRequest("new-1", "+1"))
	assert.True(t, result.Accepted)

	assert.True(t, NewDuplicateCallFilter(nil).Check(context.Background(), incomingRequest("live-1", "+1")).Accepted,
		"filter without a session view accepts everything")
}

func TestBlockedHandleFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		handles      []any
		handle       string
		direction    state.Direction
		wantAccepted bool
	}{
		{
			name:         "exact match",
			handles:      []any{"+15551234567"},
			handle:       "+15551234567",
			direction:    state.DirectionIncoming,
			wantAccepted: false,
		},
		{
			name:         "formatted match",
			handles:      []any{"+1 (555) 123-4567"},
			handle:       "+15551234567",
			direction:    state.DirectionIncoming,
			wantAccepted: false,
		},
		{
			name:         "not blocked",
			handles:      []any{"+15550000000"},
			handle:       "+15551234567",
			direction:    state.DirectionIncoming,
			wantAccepted: true,
		},
		{
			name:         "empty block list",
			handle:       "+15551234567",
			direction:    state.DirectionIncoming,
			wantAccepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := NewBlockedHandleFilter()
			require.NoError(t, filter.ValidateConfig(map[string]any{"handles": tt.handles}))

			result := filter.Check(context.Background(), incomingRequest("c", tt.handle))
			assert.Equal(t, tt.wantAccepted, result.Accepted,
				"BlockedHandleFilter.Check() accepted status mismatch")
			if !tt.wantAccepted {
				assert.Equal(t, "blocked_handle", result.Code)
			}
		})
	}
}

func TestBlockedHandleFilter_AppliesTo(t *testing.T) {
	filter := NewBlockedHandleFilter()
	assert.True(t, filter.AppliesTo(state.DirectionIncoming))
	assert.False(t, filter.AppliesTo(state.DirectionOutgoing))
}

func TestConcurrentLimitFilter(t *testing.T) {
	tests := []struct {
		name         string
		settings     map[string]any
		live         int
		wantErr      bool
		wantAccepted bool
	}{
		{name: "default limit not reached", settings: map[string]any{}, live: 1, wantAccepted: true},
		{name: "default limit reached", settings: map[string]any{}, live: 2, wantAccepted: false},
		{name: "custom limit", settings: map[string]any{"max_calls": 5}, live: 4, wantAccepted: true},
		{name: "string value", settings: map[string]any{"max_calls": "1"}, live: 1, wantAccepted: false},
		{name: "limit out of range", settings: map[string]any{"max_calls": 500}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := NewConcurrentLimitFilter(fakeSessions{count: tt.live})
			err := filter.ValidateConfig(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			result := filter.Check(context.Background(), incomingRequest("c", "+1"))
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "too_many_calls", result.Code)
			}
		})
	}
}

func TestConcurrentLimitFilter_Unconfigured(t *testing.T) {
	filter := NewConcurrentLimitFilter(fakeSessions{count: 100})
	assert.True(t, filter.Check(context.Background(), incomingRequest("c", "+1")).Accepted)
}

func TestChain_Execute(t *testing.T) {
	sessions := fakeSessions{live: map[string]bool{"dup": true}, count: 1}
	chain, err := Build(map[string]map[string]any{
		"blocked_handle_filter":   {"handles": []any{"+15550000000"}},
		"duplicate_call_filter":   nil,
		"concurrent_limit_filter": {"max_calls": 3},
	}, Deps{Sessions: sessions})
	require.NoError(t, err)
	require.Len(t, chain.Filters(), 3)
	assert.Equal(t, "blocked_handle_filter", chain.Filters()[0].Name())

	assert.True(t, chain.Execute(context.Background(), incomingRequest("new", "+15551111111")).Accepted)
	assert.Equal(t, "duplicate_call", chain.Execute(context.Background(), incomingRequest("dup", "+15551111111")).Code)
	assert.Equal(t, "blocked_handle", chain.Execute(context.Background(), incomingRequest("new", "+15550000000")).Code)

	outgoing := incomingRequest("new", "+15550000000")
	outgoing.Direction = state.DirectionOutgoing
	assert.True(t, chain.Execute(context.Background(), outgoing).Accepted,
		"blocked handles only screen incoming calls")
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(map[string]map[string]any{"no_such_filter": nil}, Deps{})
	assert.Error(t, err)

	_, err = Build(map[string]map[string]any{"concurrent_limit_filter": {"max_calls": -1}}, Deps{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registered := GetRegistered()
	for _, name := range []string{"duplicate_call_filter", "blocked_handle_filter", "concurrent_limit_filter"} {
		factory, ok := registered[name]
		require.True(t, ok, name)
		f := factory(Deps{})
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.ReturnCodes())
		assert.NotEmpty(t, f.Description())
	}
}
