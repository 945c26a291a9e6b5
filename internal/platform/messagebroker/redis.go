package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRetryDelay = time.Second

func openRedis(ctx context.Context, rawURL string, opts Options) (*Transport, error) {
	pubOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	subOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	pubOpts.ClientName = opts.Name + "-publisher"
	subOpts.ClientName = opts.Name + "-subscriber"

	return &Transport{
		Publisher:  NewRedisPublisher(ctx, redis.NewClient(pubOpts), opts.HealthInterval, opts.Logger),
		Subscriber: NewRedisSubscriber(redis.NewClient(subOpts), opts.HealthInterval, opts.Logger),
	}, nil
}

// RedisPublisher publishes on a dedicated Redis connection. Readiness is driven by
// a PING monitor started at construction.
type RedisPublisher struct {
	client   *redis.Client
	logger   *slog.Logger
	interval time.Duration
	ready    atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRedisPublisher starts the readiness monitor; the first check runs immediately.
func NewRedisPublisher(ctx context.Context, client *redis.Client, interval time.Duration, logger *slog.Logger) *RedisPublisher {
	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &RedisPublisher{
		client:   client,
		logger:   logger.With("component", "redis_publisher"),
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.monitor(monitorCtx)
	return p
}

func (p *RedisPublisher) monitor(ctx context.Context) {
	defer close(p.done)

	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.check(ctx)
		case <-ctx.Done():
			p.ready.Store(false)
			return
		}
	}
}

func (p *RedisPublisher) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, p.interval)
	err := p.client.Ping(pingCtx).Err()
	cancel()
	if ctx.Err() != nil {
		return
	}

	wasReady := p.ready.Swap(err == nil)
	switch {
	case err != nil && wasReady:
		p.logger.ErrorContext(ctx, "Redis publisher connection lost", "error", err)
	case err != nil:
		p.logger.DebugContext(ctx, "Redis publisher not connected", "error", err)
	case !wasReady:
		p.logger.InfoContext(ctx, "Redis publisher ready")
	}
}

// IsReady reports the result of the latest health check.
func (p *RedisPublisher) IsReady() bool {
	return p.ready.Load()
}

// Publish sends payload to channel. Delivery is fire-and-forget: Redis drops the
// message when nobody is subscribed.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %q: %w", channel, err)
	}
	return nil
}

// Close stops the monitor and closes the connection.
func (p *RedisPublisher) Close() error {
	p.cancel()
	<-p.done
	return p.client.Close()
}

// RedisSubscriber consumes a channel on a dedicated Redis connection. It is ready
// while the server has confirmed the subscription.
type RedisSubscriber struct {
	client   *redis.Client
	logger   *slog.Logger
	interval time.Duration
	ready    atomic.Bool
}

// NewRedisSubscriber wraps client; nothing is subscribed until Subscribe is called.
func NewRedisSubscriber(client *redis.Client, interval time.Duration, logger *slog.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		client:   client,
		logger:   logger.With("component", "redis_subscriber"),
		interval: interval,
	}
}

// IsReady reports whether the subscription is currently confirmed.
func (s *RedisSubscriber) IsReady() bool {
	return s.ready.Load()
}

// Subscribe blocks until ctx is cancelled. The connection is re-established and
// re-subscribed automatically after errors; messages published meanwhile are lost.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string, handler Handler) error {
	pubsub := s.client.Subscribe(ctx, channel)
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer func() {
		stop()
		_ = pubsub.Close()
		s.ready.Store(false)
	}()

	s.logger.InfoContext(ctx, "Starting Redis subscription", "channel", channel)
	for {
		msg, err := pubsub.ReceiveTimeout(ctx, s.interval)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.InfoContext(ctx, "Redis subscription ended", "channel", channel)
				return nil
			}
			if isTimeout(err) {
				if pingErr := pubsub.Ping(ctx); pingErr != nil {
					s.markDown(ctx, pingErr)
				}
				continue
			}
			s.markDown(ctx, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(redisRetryDelay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" && m.Channel == channel {
				s.markUp(ctx, channel)
			}
		case *redis.Pong:
			s.markUp(ctx, channel)
		case *redis.Message:
			handler(ctx, []byte(m.Payload))
		default:
			s.logger.DebugContext(ctx, "Ignoring unexpected Redis pub/sub message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func (s *RedisSubscriber) markUp(ctx context.Context, channel string) {
	if !s.ready.Swap(true) {
		s.logger.InfoContext(ctx, "Redis subscriber ready", "channel", channel)
	}
}

func (s *RedisSubscriber) markDown(ctx context.Context, err error) {
	if s.ready.Swap(false) {
		s.logger.ErrorContext(ctx, "Redis subscriber connection lost", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "Redis subscriber not connected", "error", err)
}

// Close closes the underlying client; an active Subscribe returns once its
// context is cancelled.
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
