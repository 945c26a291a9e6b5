package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/go-playground/validator/v10"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

const (
	bounceSubject     = "Mail Delivery Failure"
	bounceSenderName  = "Mail Delivery System"
	maxLineLength     = 998
	bounceExplanation = "This message was created automatically by the mail system.\n" +
		"A message that you sent could not be delivered to one or more of its\n" +
		"recipients. This is a permanent error. The following address(es) failed:\n\n"
)

// BounceInput is everything needed to build one bounce message.
type BounceInput struct {
	Event domain.DeliveryFailureEvent
	// Payload is the original webhook body, included for traceability.
	Payload []byte
	// ReportingMTA is the public hostname of this deployment.
	ReportingMTA string
}

// BounceBuilder renders delivery failure events as multipart/mixed RFC822
// messages with a text/plain explanation followed by a message/delivery-status
// report.
type BounceBuilder struct {
	forwardFrom string
	forwardTo   string
	validate    *validator.Validate
	now         func() time.Time
}

// NewBounceBuilder creates a builder with fixed From and To addresses.
func NewBounceBuilder(forwardFrom, forwardTo string) *BounceBuilder {
	return &BounceBuilder{
		forwardFrom: forwardFrom,
		forwardTo:   forwardTo,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// WithClock overrides the clock used for Arrival-Date and Date.
func (b *BounceBuilder) WithClock(now func() time.Time) *BounceBuilder {
	b.now = now
	return b
}

// Build returns the serialized message. A missing event field returns an error
// wrapping domain.ErrMalformedEvent.
func (b *BounceBuilder) Build(in BounceInput) ([]byte, error) {
	if err := b.validate.Struct(in.Event); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedEvent, describeValidation(err))
	}
	if in.ReportingMTA == "" {
		return nil, errors.New("build bounce: reporting host is required")
	}

	now := b.now().UTC()
	event := in.Event

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetAddressList("From", []*mail.Address{{Name: bounceSenderName, Address: b.forwardFrom}})
	h.SetAddressList("To", []*mail.Address{{Address: b.forwardTo}})
	h.SetSubject(bounceSubject)
	h.SetDate(now)
	h.Set("Message-ID", event.MessageID)
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	mw, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("build bounce: create writer: %w", err)
	}

	plain := b.plainText(event, in.Payload)
	var plainHeader message.Header
	plainHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	plainHeader.Set("Content-Transfer-Encoding", textEncoding(plain))
	if err := writePart(mw, plainHeader, plain); err != nil {
		return nil, fmt.Errorf("build bounce: text part: %w", err)
	}

	status := deliveryStatus(event, in.ReportingMTA, now)
	var statusHeader message.Header
	statusHeader.SetContentType("message/delivery-status", nil)
	statusHeader.Set("Content-Transfer-Encoding", statusEncoding(status))
	if err := writePart(mw, statusHeader, status); err != nil {
		return nil, fmt.Errorf("build bounce: delivery-status part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build bounce: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *BounceBuilder) plainText(event domain.DeliveryFailureEvent, payload []byte) string {
	var sb strings.Builder
	sb.WriteString(bounceExplanation)
	sb.WriteString(event.RawRcptTo)
	sb.WriteString("\n\n")
	sb.WriteString(event.RawReason)
	sb.WriteString("\n\n")

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err == nil {
		sb.Write(pretty.Bytes())
	} else {
		sb.Write(payload)
	}
	sb.WriteString("\n")
	return toCRLF(sb.String())
}

// fieldValueReplacer folds line breaks so an event value stays on its own
// delivery-status line.
var fieldValueReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func deliveryStatus(event domain.DeliveryFailureEvent, reportingMTA string, arrival time.Time) string {
	lines := []string{
		"Arrival-Date: " + formatRFC822(arrival),
		"Reporting-MTA: dns; " + fieldValue(reportingMTA),
		"",
		"Action: failed",
		"Diagnostic-Code: smtp; " + fieldValue(event.ErrorCode) + " " + fieldValue(event.Reason),
		"Last-Attempt-Date: " + formatRFC822(event.LastAttempt()),
		"Final-Recipient: rfc822; " + fieldValue(event.RawRcptTo),
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func fieldValue(s string) string {
	return fieldValueReplacer.Replace(s)
}

func writePart(mw *message.Writer, h message.Header, body string) error {
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		return err
	}
	return pw.Close()
}

// formatRFC822 renders an RFC 822 date with a four-digit year and numeric zone.
func formatRFC822(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// textEncoding keeps plain ASCII readable and switches to quoted-printable for
// 8-bit content or lines too long for SMTP.
func textEncoding(body string) string {
	if isASCII(body) && !hasLongLine(body) {
		return "7bit"
	}
	return "quoted-printable"
}

// statusEncoding stays within the identity encodings allowed for message/* parts.
func statusEncoding(body string) string {
	if isASCII(body) {
		return "7bit"
	}
	return "8bit"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func hasLongLine(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if len(strings.TrimSuffix(line, "\r")) > maxLineLength {
			return true
		}
	}
	return false
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return "missing " + strings.Join(missing, ", ")
}
