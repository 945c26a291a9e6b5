// Package messagebroker provides the publish/subscribe queue between the webhook
// receiver and the relay worker. Publish-side and subscribe-side connections are
// separate objects, and each tracks its own readiness from its own lifecycle.
package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("messagebroker: connection closed")

// Handler receives one message payload. Payloads are delivered byte-identical
// to what was published.
type Handler func(ctx context.Context, payload []byte)

// Publisher is the publish-side connection.
type Publisher interface {
	IsReady() bool
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Subscriber is the subscribe-side connection. Subscribe blocks, calling handler
// for each message in delivery order, until ctx is cancelled.
type Subscriber interface {
	IsReady() bool
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Options configures Open.
type Options struct {
	// Name identifies this process to the broker where supported.
	Name string
	// HealthInterval is how often idle connections are checked.
	HealthInterval time.Duration
	Logger         *slog.Logger
}

// Transport bundles the two connections to the same broker.
type Transport struct {
	Publisher  Publisher
	Subscriber Subscriber
}

// Ready reports whether both sides are connected.
func (t *Transport) Ready() bool {
	return t.Publisher.IsReady() && t.Subscriber.IsReady()
}

// Close closes both connections.
func (t *Transport) Close() error {
	return errors.Join(t.Publisher.Close(), t.Subscriber.Close())
}

// Open connects a transport chosen by the URL scheme:
// redis:// and rediss:// use Redis pub/sub, nats:// and tls:// use NATS,
// memory:// uses an in-process broker.
func Open(ctx context.Context, rawURL string, opts Options) (*Transport, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "bounce-forwarder"
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return openRedis(ctx, rawURL, opts)
	case "nats", "tls":
		return openNATS(rawURL, opts)
	case "memory":
		broker := NewMemoryBroker(0)
		return &Transport{Publisher: broker.Publisher(), Subscriber: broker.Subscriber()}, nil
	default:
		return nil, fmt.Errorf("unsupported queue url scheme %q", u.Scheme)
	}
}
