package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeliveryFailureEvent is a SparkPost bounce or out-of-band message event.
// Only the fields needed to build a bounce message are decoded.
type DeliveryFailureEvent struct {
	Type      string `json:"type,omitempty"`
	RawRcptTo string `json:"raw_rcpt_to" validate:"required"`
	RawReason string `json:"raw_reason" validate:"required"`
	ErrorCode string `json:"error_code" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	// Timestamp is seconds since the Unix epoch.
	Timestamp int64  `json:"timestamp" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

// UnmarshalJSON accepts error_code and timestamp as JSON strings or numbers;
// SparkPost sends both forms.
func (e *DeliveryFailureEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type      string          `json:"type"`
		RawRcptTo string          `json:"raw_rcpt_to"`
		RawReason string          `json:"raw_reason"`
		ErrorCode json.RawMessage `json:"error_code"`
		Reason    string          `json:"reason"`
		Timestamp json.RawMessage `json:"timestamp"`
		MessageID string          `json:"message_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	errorCode, err := stringOrNumber(wire.ErrorCode)
	if err != nil {
		return fmt.Errorf("error_code: %w", err)
	}
	ts, err := stringOrNumber(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	seconds, err := parseUnixSeconds(ts)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}

	*e = DeliveryFailureEvent{
		Type:      wire.Type,
		RawRcptTo: wire.RawRcptTo,
		RawReason: wire.RawReason,
		ErrorCode: errorCode,
		Reason:    wire.Reason,
		Timestamp: seconds,
		MessageID: wire.MessageID,
	}
	return nil
}

// LastAttempt is the event timestamp as a time in UTC.
func (e DeliveryFailureEvent) LastAttempt() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

func stringOrNumber(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

func parseUnixSeconds(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unix time %q", s)
	}
	return int64(f), nil
}

// ExtractMessageEvent finds msys.message_event in a decoded webhook payload.
// ok is false when the payload does not have that shape; SparkPost's endpoint
// test and other non-event bodies look like this.
func ExtractMessageEvent(payload any) (event any, ok bool) {
	root, isMap := payload.(map[string]any)
	if !isMap {
		return nil, false
	}
	msys, isMap := root["msys"].(map[string]any)
	if !isMap {
		return nil, false
	}
	event, ok = msys["message_event"]
	return event, ok
}
