package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/session/state"
)

// ConcurrentLimitConfig represents the configuration for ConcurrentLimitFilter.
type ConcurrentLimitConfig struct {
	MaxCalls int `yaml:"max_calls" mapstructure:"max_calls" default:"2" validate:"gte=1,lte=100"`
}

// ConcurrentLimitFilter rejects new calls once the live call count reaches the limit.
type ConcurrentLimitFilter struct {
	sessions SessionView
	config   *ConcurrentLimitConfig
}

// NewConcurrentLimitFilter creates a new concurrent limit filter.
func NewConcurrentLimitFilter(sessions SessionView) *ConcurrentLimitFilter {
	return &ConcurrentLimitFilter{sessions: sessions}
}

func (f *ConcurrentLimitFilter) Name() string {
	return "concurrent_limit_filter"
}

func (f *ConcurrentLimitFilter) Description() string {
	return "Rejects new calls while the number of live calls is at the limit"
}

func (f *ConcurrentLimitFilter) ReturnCodes() []string {
	return []string{"too_many_calls"}
}

func (f *ConcurrentLimitFilter) ValidateConfig(settings map[string]any) error {
	var config ConcurrentLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("concurrent limit filter config: %+v", config)
	return nil
}

func (f *ConcurrentLimitFilter) AppliesTo(direction state.Direction) bool {
	return true
}

func (f *ConcurrentLimitFilter) Check(ctx context.Context, req CallRequest) Result {
	// If config is not set, accept all calls
	if f.config == nil || f.sessions == nil {
		return Accept()
	}
	if f.sessions.LiveCount() >= f.config.MaxCalls {
		return Reject("too_many_calls")
	}
	return Accept()
}

func init() {
	Register("concurrent_limit_filter", func(deps Deps) Filter {
		return NewConcurrentLimitFilter(deps.Sessions)
	})
}
