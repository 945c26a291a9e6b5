package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryFailureEvent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantTS    int64
		wantError bool
	}{
		{
			name:     "numeric timestamp and string code",
			input:    `{"raw_rcpt_to":"a@b.com","error_code":"550","timestamp":1700000000,"message_id":"abc123"}`,
			wantCode: "550",
			wantTS:   1700000000,
		},
		{
			name:     "string timestamp and numeric code",
			input:    `{"raw_rcpt_to":"a@b.com","error_code":554,"timestamp":"1454442600","message_id":"m-1"}`,
			wantCode: "554",
			wantTS:   1454442600,
		},
		{
			name:   "fractional timestamp",
			input:  `{"timestamp":"1454442600.75"}`,
			wantTS: 1454442600,
		},
		{
			name:     "missing optional numbers",
			input:    `{"raw_rcpt_to":"a@b.com"}`,
			wantCode: "",
			wantTS:   0,
		},
		{name: "boolean code", input: `{"error_code":true}`, wantError: true},
		{name: "garbage timestamp", input: `{"timestamp":"yesterday"}`, wantError: true},
		{name: "wrong field type", input: `{"raw_rcpt_to":42}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var event DeliveryFailureEvent
			err := json.Unmarshal([]byte(tt.input), &event)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, event.ErrorCode)
			assert.Equal(t, tt.wantTS, event.Timestamp)
		})
	}
}

func TestDeliveryFailureEvent_LastAttempt(t *testing.T) {
	event := DeliveryFailureEvent{Timestamp: 1700000000}
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), event.LastAttempt())
}

func TestExtractMessageEvent(t *testing.T) {
	decode := func(s string) any {
		var v any
		require.NoError(t, json.Unmarshal([]byte(s), &v))
		return v
	}

	event, ok := ExtractMessageEvent(decode(`{"msys":{"message_event":{"type":"bounce"}}}`))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "bounce"}, event)

	for _, body := range []string{`{}`, `[]`, `"ping"`, `{"msys":{}}`, `{"msys":[]}`, `{"msys":{"track_event":{}}}`} {
		_, ok := ExtractMessageEvent(decode(body))
		assert.False(t, ok, body)
	}
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "https://example.com/message", CallbackURL("example.com"))
	assert.Equal(t, "https://[::1]/message", CallbackURL("::1"))
}
