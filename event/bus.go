// Package event provides a topic-based event bus shared by the adapters and
// plugins of one application context. Delivery is synchronous and in
// subscription order, so handlers observe events exactly as published.
package event

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Handler receives one published event.
type Handler func(ctx context.Context, topic string, payload any) error

// Subscription identifies one handler registration for later cancellation.
type Subscription struct {
	topic string
	id    uint64
}

// Bus is a per-context publish/subscribe bus. Publishing can optionally be
// throttled by a token bucket or leaky bucket limiter.
type Bus struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	nextID  uint64
	subs    map[string][]busSub
	limiter publishLimiter
}

type busSub struct {
	id uint64
	fn Handler
}

// NewBus creates an empty bus. A nil logger is replaced with a no-op logger.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string][]busSub),
	}
}

// Subscribe attaches a handler to a topic. Handlers run in subscription
// order on the publisher's goroutine.
func (b *Bus) Subscribe(topic string, fn Handler) (Subscription, error) {
	if topic == "" {
		return Subscription{}, fmt.Errorf("event: topic cannot be empty")
	}
	if fn == nil {
		return Subscription{}, fmt.Errorf("event: handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[topic] = append(b.subs[topic], busSub{id: b.nextID, fn: fn})
	return Subscription{topic: topic, id: b.nextID}, nil
}

// Unsubscribe removes a previous subscription. Unknown subscriptions are
// ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i := range list {
		if list[i].id == sub.id {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers the payload to every subscriber of the topic, in
// subscription order, on the calling goroutine. Delivery continues past
// failing handlers; the aggregate error is returned. When a publish limiter
// is set, Publish blocks until the limiter admits the event.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	limiter := b.limiter
	list := make([]busSub, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	if limiter != nil {
		if err := limiter.take(ctx); err != nil {
			return fmt.Errorf("event: publish throttled: %w", err)
		}
	}

	var errs error
	for _, s := range list {
		if err := s.fn(ctx, topic, payload); err != nil {
			errs = multierr.Append(errs, err)
			b.logger.Error("event handler failed",
				zap.String("topic", topic), zap.Error(err))
		}
	}
	return errs
}

// SetTokenLimit throttles publishes with a token bucket of limit events per
// second and the given burst. An existing token limiter is reloaded in place,
// so in-flight publishers pick up the new rate; any other limiter is replaced.
func (b *Bus) SetTokenLimit(limit int, burst int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.limiter.(*tokenLimiter); ok {
		l.reload(limit, burst)
		return
	}
	b.limiter = newTokenLimiter(limit, burst)
}

// SetFunnelLimit throttles publishes with a leaky bucket of limit events per
// second, spacing publishes evenly. An existing funnel limiter is reloaded in
// place; any other limiter is replaced.
func (b *Bus) SetFunnelLimit(limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.limiter.(*funnelLimiter); ok {
		l.reload(limit)
		return
	}
	b.limiter = newFunnelLimiter(limit)
}

// ClearLimit removes publish throttling.
func (b *Bus) ClearLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = nil
}

// SubscriberCount reports the number of handlers attached to a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
