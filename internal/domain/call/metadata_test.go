package call

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_Validate(t *testing.T) {
	var nilMeta *Metadata
	assert.Error(t, nilMeta.Validate())
	assert.Error(t, (&Metadata{CallID: "  "}).Validate())
	assert.NoError(t, (&Metadata{CallID: "abc"}).Validate())
}

func TestMetadataFromPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    *Metadata
		wantErr bool
	}{
		{
			name: "typed values",
			payload: map[string]any{
				"callId":      "abc123",
				"handle":      "+15551234567",
				"displayName": "John Doe",
				"hasVideo":    true,
			},
			want: &Metadata{
				CallID:      "abc123",
				Handle:      Handle{Value: "+15551234567"},
				DisplayName: "John Doe",
				HasVideo:    true,
			},
		},
		{
			name: "string booleans from intent extras",
			payload: map[string]any{
				"callId":                 "c-1",
				"handle":                 " 100 ",
				"hasMute":                "true",
				"hasHold":                "false",
				"dualToneMultiFrequency": "5",
			},
			want: &Metadata{
				CallID:                 "c-1",
				Handle:                 Handle{Value: "100"},
				HasMute:                true,
				DualToneMultiFrequency: "5",
			},
		},
		{
			name:    "missing call id",
			payload: map[string]any{"handle": "100"},
			wantErr: true,
		},
		{
			name:    "empty payload",
			payload: nil,
			wantErr: true,
		},
		{
			name:    "undecodable field",
			payload: map[string]any{"callId": "c-1", "hasVideo": map[string]any{"on": 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MetadataFromPayload(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidMetadata))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadata_PayloadRoundTrip(t *testing.T) {
	meta := Metadata{
		CallID:       "call-7",
		Handle:       NewHandle("+4420"),
		DisplayName:  "Ann",
		HasSpeaker:   true,
		RingtonePath: "/sdcard/ring.mp3",
	}

	payload := meta.ToPayload()
	assert.Equal(t, "+4420", payload["handle"])
	assert.NotContains(t, payload, "dualToneMultiFrequency")

	decoded, err := MetadataFromPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, meta, *decoded)
}

func TestParseServiceAction(t *testing.T) {
	for _, action := range Actions() {
		got, err := ParseServiceAction(action.String())
		require.NoError(t, err)
		assert.Equal(t, action, got)
	}

	got, err := ParseServiceAction("answercall")
	require.NoError(t, err)
	assert.Equal(t, ActionAnswerCall, got)

	_, err = ParseServiceAction("Transfer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestServiceAction_RequiresMetadata(t *testing.T) {
	for _, action := range Actions() {
		assert.Equal(t, action != ActionTearDown, action.RequiresMetadata(), action.String())
	}
	assert.Equal(t, "Unknown", ServiceAction(42).String())
}
