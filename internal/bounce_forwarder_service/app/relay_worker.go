package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
	"github.com/aradsms/bounce_forwarder/internal/platform/messagebroker"
)

// TransmissionSender sends a complete RFC822 message through the mail provider.
type TransmissionSender interface {
	SendTransmission(ctx context.Context, t domain.Transmission) (*domain.TransmissionResult, error)
}

// MessageSubscriber is the subscribe side of the queue.
type MessageSubscriber interface {
	Subscribe(ctx context.Context, channel string, handler messagebroker.Handler) error
}

// RelayWorker consumes queued bounce messages and forwards each one to the
// operator address. Delivery is at most once: a failed send is logged and the
// message is dropped.
type RelayWorker struct {
	subscriber MessageSubscriber
	sender     TransmissionSender
	channel    string
	forwardTo  string
	logger     *slog.Logger
}

// NewRelayWorker creates a RelayWorker.
func NewRelayWorker(subscriber MessageSubscriber, sender TransmissionSender, channel, forwardTo string, logger *slog.Logger) *RelayWorker {
	return &RelayWorker{
		subscriber: subscriber,
		sender:     sender,
		channel:    channel,
		forwardTo:  forwardTo,
		logger:     logger.With("component", "relay_worker"),
	}
}

// Run subscribes once and handles messages one at a time until ctx is
// cancelled. It returns nil on cancellation.
func (w *RelayWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Relay worker subscribing", "channel", w.channel)
	err := w.subscriber.Subscribe(ctx, w.channel, w.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay worker: subscribe %q: %w", w.channel, err)
	}
	w.logger.InfoContext(ctx, "Relay worker stopped", "channel", w.channel)
	return nil
}

func (w *RelayWorker) handle(ctx context.Context, payload []byte) {
	start := time.Now()
	result, err := w.sender.SendTransmission(ctx, domain.Transmission{
		EmailRFC822: string(payload),
		Recipients:  []string{w.forwardTo},
	})
	elapsed := time.Since(start)

	if err != nil {
		transmissionsCounter.WithLabelValues("error").Inc()
		transmissionDurationHist.WithLabelValues("error").Observe(elapsed.Seconds())
		w.logger.ErrorContext(ctx, "Transmission failed", "error", err, "size", len(payload), "duration", elapsed)
		return
	}

	transmissionsCounter.WithLabelValues("success").Inc()
	transmissionDurationHist.WithLabelValues("success").Observe(elapsed.Seconds())
	w.logger.InfoContext(ctx, "Transmission succeeded",
		"transmission_id", result.ID,
		"accepted", result.TotalAcceptedRecipients,
		"rejected", result.TotalRejectedRecipients,
		"duration", elapsed,
	)
}
