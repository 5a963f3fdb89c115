package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingBus wraps MemoryBus and counts active subscriptions per topic.
type countingBus struct {
	*MemoryBus
	mu     sync.Mutex
	active map[string]int
}

func newCountingBus() *countingBus {
	return &countingBus{MemoryBus: NewMemoryBus(), active: make(map[string]int)}
}

func (b *countingBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch, err := b.MemoryBus.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.active[topic]++
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.active[topic]--
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *countingBus) subscriptions(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[topic]
}

func TestMuxRoutesBoundTopics(t *testing.T) {
	bus := NewMemoryBus()
	mux := NewMux(bus, testLogger())
	defer mux.Close()

	var got atomic.Int64
	mux.Bind(domain.TopicPriceFeed, func(topic string, payload []byte) {
		assert.Equal(t, domain.TopicPriceFeed, topic)
		assert.JSONEq(t, `{"symbol":"BTC","price":64000}`, string(payload))
		got.Add(1)
	})
	mux.Start(context.Background())
	assert.Equal(t, domain.ConnConnected, mux.Status())

	err := bus.Publish(context.Background(), domain.TopicPriceFeed, []byte(`{"symbol":"BTC","price":64000}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMuxBindIsIdempotentPerTopic(t *testing.T) {
	bus := newCountingBus()
	mux := NewMux(bus, testLogger())
	defer mux.Close()

	mux.Bind(domain.TopicPositions, func(string, []byte) {})
	mux.Bind(domain.TopicPositions, func(string, []byte) {})
	mux.Start(context.Background())

	assert.Equal(t, 1, bus.subscriptions(domain.TopicPositions),
		"multiple handlers share one bus subscription")
}

func TestMuxGatedTopicFollowsEntitlement(t *testing.T) {
	bus := newCountingBus()
	mux := NewMux(bus, testLogger())
	defer mux.Close()

	var delivered atomic.Int64
	mux.BindGated(domain.TopicVIPSignals, func(string, []byte) {
		delivered.Add(1)
	})
	mux.Start(context.Background())

	// Not entitled: no subscription, publishes go nowhere.
	assert.Equal(t, 0, bus.subscriptions(domain.TopicVIPSignals))
	_ = bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"BTC"}`))

	mux.SetEntitled(true)
	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicVIPSignals) == 1
	}, time.Second, 5*time.Millisecond)

	_ = bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"BTC"}`))
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Flipping back unbinds; nothing further is delivered.
	mux.SetEntitled(false)
	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicVIPSignals) == 0
	}, time.Second, 5*time.Millisecond)

	_ = bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"BTC"}`))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), delivered.Load())

	// Entitlement returning re-binds.
	mux.SetEntitled(true)
	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicVIPSignals) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMuxRepeatedEntitlementIsStable(t *testing.T) {
	bus := newCountingBus()
	mux := NewMux(bus, testLogger())
	defer mux.Close()

	mux.BindGated(domain.TopicVIPSignals, func(string, []byte) {})
	mux.Start(context.Background())

	mux.SetEntitled(true)
	mux.SetEntitled(true)
	mux.SetEntitled(true)

	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicVIPSignals) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, bus.subscriptions(domain.TopicVIPSignals),
		"repeated grants must not stack subscriptions")
}

func TestMuxCloseUnbindsEverything(t *testing.T) {
	bus := newCountingBus()
	mux := NewMux(bus, testLogger())

	mux.Bind(domain.TopicPositions, func(string, []byte) {})
	mux.BindGated(domain.TopicVIPSignals, func(string, []byte) {})
	mux.Start(context.Background())
	mux.SetEntitled(true)

	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicPositions) == 1 &&
			bus.subscriptions(domain.TopicVIPSignals) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close(), "close is idempotent")

	require.Eventually(t, func() bool {
		return bus.subscriptions(domain.TopicPositions) == 0 &&
			bus.subscriptions(domain.TopicVIPSignals) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.ConnDisconnected, mux.Status())
}

// brokenBus fails every subscribe.
type brokenBus struct{}

func (brokenBus) Publish(context.Context, string, []byte) error { return nil }
func (brokenBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("bus down")
}

func TestMuxReportsUnavailableOnSubscribeFailure(t *testing.T) {
	mux := NewMux(brokenBus{}, testLogger())
	defer mux.Close()

	mux.Bind(domain.TopicPositions, func(string, []byte) {})
	mux.Start(context.Background())

	assert.Equal(t, domain.ConnUnavailable, mux.Status())
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "t", []byte("x")))

	assert.Equal(t, []byte("x"), <-a)
	assert.Equal(t, []byte("x"), <-b)

	cancel()
	_, openA := <-a
	assert.False(t, openA, "subscriber channels close on context cancellation")
}
