package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Handler receives every payload delivered on a bound topic. Deduplication
// of at-least-once delivery is the reconciler's job, not the handler's.
type Handler func(topic string, payload []byte)

// binding tracks one bound topic and the cancel func that unbinds it.
type binding struct {
	handlers []Handler
	cancel   context.CancelFunc
}

// Mux multiplexes the push-messaging bus: it binds public topics at
// startup, routes topic-scoped payloads to registered handlers, and keeps
// the gated VIP topic bound only while the viewer is entitled.
type Mux struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	closed   bool
	entitled bool
	status   domain.ConnState
	bound    map[string]*binding
	gated    map[string][]Handler // registered but bound only while entitled
}

// NewMux creates a Mux over the given bus.
func NewMux(bus domain.SignalBus, logger *slog.Logger) *Mux {
	return &Mux{
		bus:    bus,
		logger: logger.With(slog.String("component", "pubsub")),
		status: domain.ConnConnecting,
		bound:  make(map[string]*binding),
		gated:  make(map[string][]Handler),
	}
}

// Bind registers a handler for a public topic. Binding is idempotent: the
// same topic is subscribed on the bus at most once regardless of how many
// handlers are registered. Before Start, bindings are deferred.
func (m *Mux) Bind(topic string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if b, ok := m.bound[topic]; ok {
		b.handlers = append(b.handlers, h)
		return
	}

	m.bound[topic] = &binding{handlers: []Handler{h}}
	if m.started {
		m.subscribeLocked(topic, m.bound[topic])
	}
}

// BindGated registers a handler for an entitlement-gated topic. The topic
// is subscribed only while SetEntitled(true) holds and is unbound the
// moment entitlement flips to false.
func (m *Mux) BindGated(topic string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.gated[topic] = append(m.gated[topic], h)
	if m.started && m.entitled {
		m.bindGatedLocked(topic)
	}
}

// Start binds every registered public topic. Gated topics stay unbound
// until entitlement is reported.
func (m *Mux) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.closed {
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	ok := true
	for topic, b := range m.bound {
		if !m.subscribeLocked(topic, b) {
			ok = false
		}
	}
	if ok {
		m.status = domain.ConnConnected
	} else {
		m.status = domain.ConnUnavailable
	}
}

// SetEntitled re-evaluates gated topic bindings. Called on every
// entitlement change, not just once at mount: flipping to true binds the
// gated topics, flipping to false unbinds them.
func (m *Mux) SetEntitled(entitled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.entitled == entitled {
		m.entitled = entitled
		return
	}
	m.entitled = entitled

	if !m.started {
		return
	}

	for topic := range m.gated {
		if entitled {
			m.bindGatedLocked(topic)
		} else if b, ok := m.bound[topic]; ok {
			b.cancel()
			delete(m.bound, topic)
			m.logger.Info("unbound gated topic", slog.String("topic", topic))
		}
	}
}

// Status reports the multiplexer's high-level connection state:
// connecting before Start, connected while bindings are healthy,
// unavailable after a subscribe failure (until the next Start of the
// underlying transport's own retry).
func (m *Mux) Status() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close unbinds every topic and stops routing. Safe to call repeatedly.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for topic, b := range m.bound {
		b.cancel()
		delete(m.bound, topic)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.status = domain.ConnDisconnected
	return nil
}

// bindGatedLocked subscribes a gated topic using its registered handlers.
// Caller must hold m.mu.
func (m *Mux) bindGatedLocked(topic string) {
	if _, already := m.bound[topic]; already {
		return
	}
	b := &binding{handlers: append([]Handler(nil), m.gated[topic]...)}
	m.bound[topic] = b
	if m.subscribeLocked(topic, b) {
		m.logger.Info("bound gated topic", slog.String("topic", topic))
	}
}

// subscribeLocked opens the bus subscription for one binding and starts its
// pump goroutine. Caller must hold m.mu. Returns false on subscribe failure.
func (m *Mux) subscribeLocked(topic string, b *binding) bool {
	ctx, cancel := context.WithCancel(m.ctx)
	b.cancel = cancel

	ch, err := m.bus.Subscribe(ctx, topic)
	if err != nil {
		m.logger.Error("subscribe failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		m.status = domain.ConnUnavailable
		cancel()
		delete(m.bound, topic)
		return false
	}

	handlers := b.handlers
	go func() {
		for payload := range ch {
			// Re-read handlers so Bind calls after Start are honored.
			m.mu.Lock()
			if cur, ok := m.bound[topic]; ok {
				handlers = cur.handlers
			}
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			for _, h := range handlers {
				h(topic, payload)
			}
		}
	}()
	return true
}
