package trigger

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/domain/call"
)

// smsGroups is the number of capture groups the configured pattern must have:
// call id, handle, url-encoded display name, video flag.
const smsGroups = 4

var (
	errNoPattern  = errors.New("sms pattern not configured")
	errGroupCount = errors.Newf("sms pattern must have %d capture groups", smsGroups)
)

// SMSPreferences supplies the SMS trigger configuration.
type SMSPreferences interface {
	SMSPrefix() string
	SMSRegex() string
	RingtonePath() string
}

// CallStarter starts an inbound call.
type CallStarter interface {
	StartIncomingCall(ctx context.Context, meta call.Metadata) error
}

// SMSAdapter starts inbound calls from matching text messages.
type SMSAdapter struct {
	prefs   SMSPreferences
	starter CallStarter
}

// NewSMSAdapter creates an SMS adapter.
func NewSMSAdapter(prefs SMSPreferences, starter CallStarter) *SMSAdapter {
	return &SMSAdapter{
		prefs:   prefs,
		starter: starter,
	}
}

// Receive evaluates each message independently and returns the number of
// calls started. Configuration is read fresh on every call; a missing prefix
// or malformed pattern drops the whole batch.
func (a *SMSAdapter) Receive(ctx context.Context, messages ...string) int {
	prefix := a.prefs.SMSPrefix()
	if prefix == "" {
		zlog.Debug().Msg("sms prefix not configured, ignoring messages")
		return 0
	}
	re, err := compilePattern(a.prefs.SMSRegex())
	if err != nil {
		zlog.Warn().Msgf("invalid sms pattern, ignoring messages: error=%v", err)
		return 0
	}
	ringtone := a.prefs.RingtonePath()

	started := 0
	for _, msg := range messages {
		meta, ok := ParseSMS(msg, prefix, re)
		if !ok {
			continue
		}
		meta.RingtonePath = ringtone
		if err := a.starter.StartIncomingCall(ctx, *meta); err != nil {
			zlog.Warn().Msgf("failed to start call from sms: call_id=%s error=%v", meta.CallID, err)
			continue
		}
		started++
	}
	return started
}

// ParseSMS matches msg against prefix and pattern and builds call metadata.
func ParseSMS(msg, prefix string, re *regexp.Regexp) (*call.Metadata, bool) {
	msg = strings.TrimSpace(msg)
	if !strings.HasPrefix(msg, prefix) {
		return nil, false
	}
	groups := re.FindStringSubmatch(msg)
	if len(groups) != smsGroups+1 {
		return nil, false
	}

	name, err := url.QueryUnescape(groups[3])
	if err != nil {
		name = groups[3]
	}
	meta := &call.Metadata{
		CallID:      groups[1],
		Handle:      call.NewHandle(groups[2]),
		DisplayName: name,
		HasVideo:    strings.EqualFold(groups[4], "true"),
	}
	if meta.Validate() != nil {
		return nil, false
	}
	return meta, true
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, errNoPattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile sms pattern")
	}
	if re.NumSubexp() != smsGroups {
		return nil, errGroupCount
	}
	return re, nil
}
