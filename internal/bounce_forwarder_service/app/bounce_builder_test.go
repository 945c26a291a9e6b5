package app

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func testEvent() domain.DeliveryFailureEvent {
	return domain.DeliveryFailureEvent{
		Type:      domain.EventTypeBounce,
		RawRcptTo: "a@b.com",
		RawReason: "550 mailbox unavailable",
		ErrorCode: "550",
		Reason:    "mailbox unavailable",
		Timestamp: 1700000000,
		MessageID: "abc123",
	}
}

func newTestBuilder() *BounceBuilder {
	return NewBounceBuilder("bounces@example.com", "ops@example.com").WithClock(func() time.Time { return fixedNow })
}

type parsedPart struct {
	contentType string
	encoding    string
	body        string
}

func parseBounce(t *testing.T, raw []byte) (*mail.Header, []parsedPart) {
	t.Helper()
	entity, err := message.Read(bytes.NewReader(raw))
	require.NoError(t, err)
	h := mail.Header{Header: entity.Header}

	mr := entity.MultipartReader()
	require.NotNil(t, mr, "bounce must be multipart")

	var parts []parsedPart
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ct, _, err := p.Header.ContentType()
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		parts = append(parts, parsedPart{
			contentType: ct,
			encoding:    p.Header.Get("Content-Transfer-Encoding"),
			body:        string(body),
		})
	}
	return &h, parts
}

func TestBounceBuilder_Build(t *testing.T) {
	payload := []byte(`[{"msys":{"message_event":{"raw_rcpt_to":"a@b.com","type":"bounce"}}}]`)

	raw, err := newTestBuilder().Build(BounceInput{Event: testEvent(), Payload: payload, ReportingMTA: "fwd.example.com"})
	require.NoError(t, err)

	h, parts := parseBounce(t, raw)

	from, err := h.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "Mail Delivery System", from[0].Name)
	assert.Equal(t, "bounces@example.com", from[0].Address)

	to, err := h.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "ops@example.com", to[0].Address)

	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Mail Delivery Failure", subject)
	assert.Equal(t, "abc123", h.Get("Message-ID"))
	assert.Equal(t, "1.0", h.Get("MIME-Version"))

	date, err := h.Date()
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(date))

	ct, _, err := h.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", ct)

	require.Len(t, parts, 2)
	assert.Equal(t, "text/plain", parts[0].contentType)
	assert.Equal(t, "message/delivery-status", parts[1].contentType)

	text := parts[0].body
	assert.True(t, strings.HasPrefix(text, "This message was created automatically by the mail system.\r\n"))
	assert.Contains(t, text, "The following address(es) failed:\r\n\r\na@b.com\r\n\r\n550 mailbox unavailable\r\n\r\n")
	assert.Contains(t, text, "\"msys\": {", "payload is pretty printed")
	// key order of the original payload is preserved
	assert.Less(t, strings.Index(text, `"raw_rcpt_to"`), strings.Index(text, `"type"`))

	wantStatus := "Arrival-Date: Fri, 01 Mar 2024 12:30:00 +0000\r\n" +
		"Reporting-MTA: dns; fwd.example.com\r\n" +
		"\r\n" +
		"Action: failed\r\n" +
		"Diagnostic-Code: smtp; 550 mailbox unavailable\r\n" +
		"Last-Attempt-Date: Tue, 14 Nov 2023 22:13:20 +0000\r\n" +
		"Final-Recipient: rfc822; a@b.com\r\n"
	assert.Equal(t, wantStatus, parts[1].body)
	assert.Equal(t, "7bit", parts[1].encoding)
}

func TestBounceBuilder_Build_NonASCIIUsesQuotedPrintable(t *testing.T) {
	event := testEvent()
	event.RawReason = "550 Postfach voll: Größe überschritten"

	raw, err := newTestBuilder().Build(BounceInput{Event: event, Payload: []byte(`{}`), ReportingMTA: "fwd.example.com"})
	require.NoError(t, err)

	_, parts := parseBounce(t, raw)
	require.Len(t, parts, 2)
	assert.Equal(t, "quoted-printable", parts[0].encoding)
	// the reader decodes the transfer encoding
	assert.Contains(t, parts[0].body, "Größe überschritten")
}

func TestBounceBuilder_Build_InvalidPayloadIncludedVerbatim(t *testing.T) {
	raw, err := newTestBuilder().Build(BounceInput{Event: testEvent(), Payload: []byte("not json"), ReportingMTA: "h"})
	require.NoError(t, err)

	_, parts := parseBounce(t, raw)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasSuffix(parts[0].body, "not json\r\n"))
}

func TestBounceBuilder_Build_LineBreaksStayInsideStatusFields(t *testing.T) {
	event := testEvent()
	event.RawRcptTo = "a@b.com\r\nAction: delivered"
	event.ErrorCode = "550\nStatus: 2.0.0"
	event.Reason = "full\rRemote-MTA: dns; evil.example.com"

	raw, err := newTestBuilder().Build(BounceInput{Event: event, Payload: []byte(`{}`), ReportingMTA: "fwd.example.com\nX-Injected: 1"})
	require.NoError(t, err)

	_, parts := parseBounce(t, raw)
	require.Len(t, parts, 2)
	status := parts[1].body

	lines := strings.Split(strings.TrimSuffix(status, "\r\n"), "\r\n")
	var actions []string
	for _, line := range lines {
		assert.NotContains(t, line, "\r")
		assert.NotContains(t, line, "\n")
		if strings.HasPrefix(line, "Action:") {
			actions = append(actions, line)
		}
		assert.False(t, strings.HasPrefix(line, "Status:"), line)
		assert.False(t, strings.HasPrefix(line, "Remote-MTA:"), line)
		assert.False(t, strings.HasPrefix(line, "X-Injected:"), line)
	}
	assert.Equal(t, []string{"Action: failed"}, actions)
	assert.Contains(t, lines, "Final-Recipient: rfc822; a@b.com Action: delivered")
	assert.Contains(t, lines, "Diagnostic-Code: smtp; 550 Status: 2.0.0 full Remote-MTA: dns; evil.example.com")
	assert.Contains(t, lines, "Reporting-MTA: dns; fwd.example.com X-Injected: 1")
}

func TestBounceBuilder_Build_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.DeliveryFailureEvent)
		missing string
	}{
		{name: "recipient", mutate: func(e *domain.DeliveryFailureEvent) { e.RawRcptTo = "" }, missing: "RawRcptTo"},
		{name: "message id", mutate: func(e *domain.DeliveryFailureEvent) { e.MessageID = "" }, missing: "MessageID"},
		{name: "timestamp", mutate: func(e *domain.DeliveryFailureEvent) { e.Timestamp = 0 }, missing: "Timestamp"},
		{name: "error code", mutate: func(e *domain.DeliveryFailureEvent) { e.ErrorCode = "" }, missing: "ErrorCode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent()
			tt.mutate(&event)
			_, err := newTestBuilder().Build(BounceInput{Event: event, Payload: []byte(`{}`), ReportingMTA: "h"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedEvent)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestBounceBuilder_Build_RequiresReportingHost(t *testing.T) {
	_, err := newTestBuilder().Build(BounceInput{Event: testEvent(), Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMalformedEvent)
}
