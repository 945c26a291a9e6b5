package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const defaultMemoryBuffer = 1024

// ErrQueueFull is returned when an in-process subscriber's buffer is full.
var ErrQueueFull = errors.New("messagebroker: subscriber buffer full")

// MemoryBroker is an in-process pub/sub broker for single-binary deployments and
// tests. Like Redis pub/sub it only delivers to subscribers that are connected
// when the message is published.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte
	buffer int
	closed bool
}

// NewMemoryBroker creates a broker whose subscribers buffer up to buffer messages.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBroker{subs: make(map[string][]chan []byte), buffer: buffer}
}

// Publisher returns the publish side.
func (b *MemoryBroker) Publisher() *MemoryPublisher {
	return &MemoryPublisher{broker: b}
}

// Subscriber returns a new subscribe side.
func (b *MemoryBroker) Subscriber() *MemorySubscriber {
	return &MemorySubscriber{broker: b}
}

func (b *MemoryBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *MemoryBroker) publish(channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
			return fmt.Errorf("publish to %q: %w", channel, ErrQueueFull)
		}
	}
	return nil
}

func (b *MemoryBroker) register(channel string) (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan []byte, b.buffer)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *MemoryBroker) unregister(channel string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	for i, c := range subs {
		if c == ch {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *MemoryBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// MemoryPublisher is the publish side of a MemoryBroker.
type MemoryPublisher struct {
	broker *MemoryBroker
}

func (p *MemoryPublisher) IsReady() bool { return !p.broker.isClosed() }

// Publish never blocks; a full subscriber buffer is reported as ErrQueueFull.
func (p *MemoryPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	return p.broker.publish(channel, payload)
}

func (p *MemoryPublisher) Close() error {
	p.broker.close()
	return nil
}

// MemorySubscriber is the subscribe side of a MemoryBroker. It is ready while
// Subscribe is running.
type MemorySubscriber struct {
	broker *MemoryBroker
	ready  atomic.Bool
}

func (s *MemorySubscriber) IsReady() bool { return s.ready.Load() && !s.broker.isClosed() }

func (s *MemorySubscriber) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch, err := s.broker.register(channel)
	if err != nil {
		return err
	}
	s.ready.Store(true)
	defer func() {
		s.ready.Store(false)
		s.broker.unregister(channel, ch)
	}()

	for {
		select {
		case msg := <-ch:
			handler(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *MemorySubscriber) Close() error {
	s.broker.close()
	return nil
}
