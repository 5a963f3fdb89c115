package pubsub

import (
	"context"
	"sync"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// MemoryBus is an in-process domain.SignalBus used in mock mode and tests.
// Semantics mirror the real bus: fan-out per topic, no ordering guarantee
// across topics, subscriber channels closed on context cancellation.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers the payload to every current subscriber of the topic.
// Slow subscribers with a full buffer are skipped, matching the lossy
// at-least-once contract rather than blocking the publisher.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber channel for the topic.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		list := b.subs[topic]
		for i, c := range list {
			if c == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ domain.SignalBus = (*MemoryBus)(nil)
