package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bounce_forwarder",
			Name:      "webhook_events_total",
			Help:      "Webhook calls on the message endpoint by outcome.",
		},
		[]string{"outcome"}, // not_ready, invalid, ignored, dropped, queued, publish_error
	)

	bouncesPublishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bounce_forwarder",
			Name:      "bounces_published_total",
			Help:      "Bounce messages published to the queue.",
		},
		[]string{"channel"},
	)

	transmissionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bounce_forwarder",
			Name:      "transmissions_total",
			Help:      "Transmissions attempted by the relay worker.",
		},
		[]string{"status"}, // success, error
	)

	transmissionDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bounce_forwarder",
			Name:      "transmission_duration_seconds",
			Help:      "Duration of transmission calls to the provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	webhookRegistrationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bounce_forwarder",
			Name:      "webhook_registrations_total",
			Help:      "Webhook registration checks and creations.",
		},
		[]string{"operation", "result"}, // operation: check, ensure
	)
)
