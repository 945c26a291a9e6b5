package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

// Plain-text bodies returned to the webhook caller.
const (
	ResponseOK       = "OK"
	ResponseNotReady = "Not ready"
	invalidDataText  = "Invalid data: "
)

// ReadinessChecker reports whether a connection can be used.
type ReadinessChecker interface {
	IsReady() bool
}

// BouncePublisher is the publish side of the queue.
type BouncePublisher interface {
	ReadinessChecker
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Receiver turns webhook calls into queued bounce messages. It never waits on
// the relay worker or the mail provider.
type Receiver struct {
	publisher  BouncePublisher
	subscriber ReadinessChecker
	channel    string
	builder    *BounceBuilder
	logger     *slog.Logger
}

// NewReceiver creates a Receiver. subscriber is only consulted for readiness.
func NewReceiver(publisher BouncePublisher, subscriber ReadinessChecker, channel string, builder *BounceBuilder, logger *slog.Logger) *Receiver {
	return &Receiver{
		publisher:  publisher,
		subscriber: subscriber,
		channel:    channel,
		builder:    builder,
		logger:     logger.With("component", "webhook_receiver"),
	}
}

// Ready reports whether both queue connections are up.
func (r *Receiver) Ready() bool {
	return r.publisher.IsReady() && r.subscriber.IsReady()
}

// Handle processes one webhook body received at host and returns the HTTP
// status and plain-text body for the caller. It publishes at most once.
func (r *Receiver) Handle(ctx context.Context, body []byte, host string) (int, string) {
	logger := r.loggerFrom(ctx)

	if !r.Ready() {
		webhookEventsCounter.WithLabelValues("not_ready").Inc()
		logger.WarnContext(ctx, "Rejecting webhook call, queue not ready",
			"publisher_ready", r.publisher.IsReady(), "subscriber_ready", r.subscriber.IsReady())
		return http.StatusInternalServerError, ResponseNotReady
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		webhookEventsCounter.WithLabelValues("invalid").Inc()
		logger.InfoContext(ctx, "Rejecting webhook call with invalid JSON", "error", err)
		return http.StatusBadRequest, invalidDataText + err.Error()
	}

	rawEvent, ok := domain.ExtractMessageEvent(payload)
	if !ok {
		webhookEventsCounter.WithLabelValues("ignored").Inc()
		logger.DebugContext(ctx, "Acknowledging payload without a message event")
		return http.StatusOK, ResponseOK
	}

	message, err := r.buildBounce(rawEvent, body, host)
	if err != nil {
		// Build failures are acknowledged so the provider does not resend them.
		webhookEventsCounter.WithLabelValues("dropped").Inc()
		logger.ErrorContext(ctx, "Failed to build bounce message", "error", err)
		return http.StatusOK, ResponseOK
	}

	if err := r.publisher.Publish(ctx, r.channel, message); err != nil {
		webhookEventsCounter.WithLabelValues("publish_error").Inc()
		logger.ErrorContext(ctx, "Failed to publish bounce message", "channel", r.channel, "error", err)
		return http.StatusInternalServerError, ResponseNotReady
	}

	webhookEventsCounter.WithLabelValues("queued").Inc()
	bouncesPublishedCounter.WithLabelValues(r.channel).Inc()
	logger.InfoContext(ctx, "Bounce message queued", "channel", r.channel, "size", len(message))
	return http.StatusOK, ResponseOK
}

func (r *Receiver) buildBounce(rawEvent any, body []byte, host string) ([]byte, error) {
	encoded, err := json.Marshal(rawEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	var event domain.DeliveryFailureEvent
	if err := json.Unmarshal(encoded, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	message, err := r.builder.Build(BounceInput{Event: event, Payload: body, ReportingMTA: host})
	if err != nil {
		return nil, err
	}
	return message, nil
}

type loggerKey struct{}

// WithLogger returns a context carrying a request-scoped logger for Handle.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func (r *Receiver) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return r.logger
}
