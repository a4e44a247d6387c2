// Package bus provides the event bus implementations that carry document
// and screening events between the API, the async worker, and downstream
// consumers.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-ident/kestrel/internal/domain"
)

// requestTimeout bounds how long Request waits for a reply.
const requestTimeout = 30 * time.Second

// ChannelBus is the in-process event bus used by the Community tier.
// Topics are scoped per tenant; a subscriber only sees messages published
// under its own tenant ID.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	subs    map[string]map[string][]*channelSubscription // tenantID -> topic -> subscribers
	dropped int64
	closed  bool
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	cancel   context.CancelFunc
}

// NewChannelBus creates an in-process bus. bufferSize is the per-subscriber
// inbox depth; when an inbox is full, new messages for that subscriber are
// dropped rather than blocking the publisher.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string]map[string][]*channelSubscription),
	}
}

// Publish delivers payload to every subscriber of (tenantID, topic).
// Delivery is best-effort: slow subscribers lose messages instead of
// backpressuring document screening.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	var targets []*channelSubscription
	if topics, ok := b.subs[tenantID]; ok {
		targets = topics[topic]
	}
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			slog.Debug("dropped message for slow subscriber",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers handler for (tenantID, topic). Each subscription gets
// its own goroutine draining a buffered inbox.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.buffer),
		cancel:   cancel,
	}

	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[string][]*channelSubscription)
	}
	b.subs[tenantID][topic] = append(b.subs[tenantID][topic], sub)

	go sub.drain(subCtx)

	return sub, nil
}

func (s *channelSubscription) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if msg == nil {
				return
			}
			if err := s.handler(ctx, msg); err != nil {
				slog.Debug("subscriber handler failed",
					"topic", s.topic,
					"tenant_id", s.tenantID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes payload and waits for a single reply on an ephemeral
// reply topic. Used for synchronous coordination between components.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyTopic := topic + ".reply." + uuid.New().String()
	replyCh := make(chan []byte, 1)

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus can accept messages.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Dropped returns how many messages were discarded due to full inboxes.
func (b *ChannelBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close cancels all subscriptions and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, topics := range b.subs {
		for _, subs := range topics {
			for _, sub := range subs {
				sub.cancel()
				close(sub.inbox)
			}
		}
	}
	b.subs = make(map[string]map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops delivery for this subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
