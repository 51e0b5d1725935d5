package filter

import (
	"context"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/session/state"
)

// BlockedHandleConfig represents the configuration for BlockedHandleFilter.
type BlockedHandleConfig struct {
	Handles []string `yaml:"handles" mapstructure:"handles" validate:"dive,required"`
}

// BlockedHandleFilter rejects incoming calls from blocked addresses.
// Addresses are compared after removing formatting characters, so
// "+1 (555) 123-4567" and "+15551234567" match.
type BlockedHandleFilter struct {
	blocked map[string]struct{}
}

// NewBlockedHandleFilter creates a new blocked handle filter.
func NewBlockedHandleFilter() *BlockedHandleFilter {
	return &BlockedHandleFilter{}
}

func (f *BlockedHandleFilter) Name() string {
	return "blocked_handle_filter"
}

func (f *BlockedHandleFilter) Description() string {
	return "Rejects incoming calls from configured addresses"
}

func (f *BlockedHandleFilter) ReturnCodes() []string {
	return []string{"blocked_handle"}
}

func (f *BlockedHandleFilter) ValidateConfig(settings map[string]any) error {
	var config BlockedHandleConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	f.blocked = make(map[string]struct{}, len(config.Handles))
	for _, h := range config.Handles {
		f.blocked[normalizeHandle(h)] = struct{}{}
	}
	zlog.Info().Msgf("blocked handle filter config: handles=%d", len(f.blocked))
	return nil
}

func (f *BlockedHandleFilter) AppliesTo(direction state.Direction) bool {
	// Outgoing calls are never screened
	return direction == state.DirectionIncoming
}

func (f *BlockedHandleFilter) Check(ctx context.Context, req CallRequest) Result {
	if len(f.blocked) == 0 {
		return Accept()
	}
	if _, ok := f.blocked[normalizeHandle(req.Meta.Handle.String())]; ok {
		return Reject("blocked_handle")
	}
	return Accept()
}

// normalizeHandle drops whitespace and common phone number punctuation.
func normalizeHandle(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(h)))
}

func init() {
	Register("blocked_handle_filter", func(deps Deps) Filter {
		return NewBlockedHandleFilter()
	})
}
