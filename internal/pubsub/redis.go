// Package pubsub implements the push-messaging side of the sync core: a
// Redis-backed topic bus and a multiplexer that binds public topics at
// startup and toggles the gated VIP topic with viewer entitlement.
package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// ClientConfig holds connection parameters for the Redis bus.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Bus implements domain.SignalBus using Redis Pub/Sub. Delivery matches the
// push-messaging contract: at-least-once, no ordering guarantee relative to
// other sources, and the driver's own retry policy handles reconnection.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus, pings Redis to verify connectivity, and returns the
// wrapper. It returns an error if the connection cannot be established.
func NewBus(ctx context.Context, cfg ClientConfig) (*Bus, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pubsub: ping: %w", err)
	}

	return &Bus{rdb: rdb}, nil
}

// Publish sends a raw byte payload to a topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel
// of raw payloads. The subscription is closed when the context is
// cancelled; the returned channel is closed at that point as well.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Compile-time interface check.
var _ domain.SignalBus = (*Bus)(nil)
