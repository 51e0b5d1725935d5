// Package call provides the call metadata and service action domain types.
package call

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

var ErrInvalidMetadata = errors.New("invalid call metadata")

// Handle is a normalized call address, typically a phone number.
type Handle struct {
	Value string `mapstructure:"value" json:"value"`
}

// NewHandle creates a handle from a raw address, trimming surrounding whitespace.
func NewHandle(raw string) Handle {
	return Handle{Value: strings.TrimSpace(raw)}
}

// String returns the raw address.
func (h Handle) String() string {
	return h.Value
}

// IsEmpty reports whether the handle carries no address.
func (h Handle) IsEmpty() bool {
	return h.Value == ""
}

// Metadata identifies one call session and carries its last requested toggles.
type Metadata struct {
	CallID                 string `mapstructure:"callId" json:"callId"`
	Handle                 Handle `mapstructure:"handle" json:"handle"`
	DisplayName            string `mapstructure:"displayName" json:"displayName,omitempty"`
	HasVideo               bool   `mapstructure:"hasVideo" json:"hasVideo,omitempty"`
	HasMute                bool   `mapstructure:"hasMute" json:"hasMute,omitempty"`
	HasHold                bool   `mapstructure:"hasHold" json:"hasHold,omitempty"`
	HasSpeaker             bool   `mapstructure:"hasSpeaker" json:"hasSpeaker,omitempty"`
	DualToneMultiFrequency string `mapstructure:"dualToneMultiFrequency" json:"dualToneMultiFrequency,omitempty"`
	RingtonePath           string `mapstructure:"ringtonePath" json:"ringtonePath,omitempty"`
}

// Validate checks the invariants every metadata value must hold.
func (m *Metadata) Validate() error {
	if m == nil {
		return errors.Wrap(ErrInvalidMetadata, "metadata is nil")
	}
	if strings.TrimSpace(m.CallID) == "" {
		return errors.Wrap(ErrInvalidMetadata, "call id is empty")
	}
	return nil
}

// WithCallID returns a copy of the metadata bound to another call id.
func (m Metadata) WithCallID(callID string) Metadata {
	m.CallID = callID
	return m
}

// ToPayload flattens the metadata into primitive key/value pairs.
// The handle is stored under "handle" as its raw address.
func (m Metadata) ToPayload() map[string]any {
	payload := map[string]any{
		"callId":      m.CallID,
		"handle":      m.Handle.Value,
		"displayName": m.DisplayName,
		"hasVideo":    m.HasVideo,
		"hasMute":     m.HasMute,
		"hasHold":     m.HasHold,
		"hasSpeaker":  m.HasSpeaker,
	}
	if m.DualToneMultiFrequency != "" {
		payload["dualToneMultiFrequency"] = m.DualToneMultiFrequency
	}
	if m.RingtonePath != "" {
		payload["ringtonePath"] = m.RingtonePath
	}
	return payload
}

// MetadataFromPayload decodes a flat payload produced by ToPayload.
// Boolean values sent as "true"/"false" strings are accepted.
func MetadataFromPayload(payload map[string]any) (*Metadata, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(ErrInvalidMetadata, "payload is empty")
	}

	var m Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncType(handleDecodeHook),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metadata decoder")
	}
	if err := decoder.Decode(payload); err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrInvalidMetadata), "failed to decode metadata")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// handleDecodeHook turns the flat "handle" string back into a Handle.
func handleDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Handle{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return NewHandle(data.(string)), nil
}
