// Package stream implements the reconnecting WebSocket client for the
// live-update endpoint. The manager owns exactly one logical connection,
// delivers envelope messages to registered listeners, and recovers from
// drops with a fixed delay, retrying indefinitely until torn down.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signaldeck/signaldeck/internal/domain"
)

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// defaultReconnectDelay is the fixed wait between reconnect attempts.
	// Not exponential: availability is preferred over politeness here, and
	// the consumer shows a passive "syncing" indicator while disconnected.
	defaultReconnectDelay = 3 * time.Second
)

// Envelope is the JSON frame format of the live-update endpoint.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Listener receives every envelope whose channel passes the filter.
// Listeners are invoked synchronously from the read loop.
type Listener func(Envelope)

// StateListener is notified of every connection state transition.
type StateListener func(domain.ConnState)

// Config holds the manager's connection parameters.
type Config struct {
	// Endpoint is the live-update WebSocket URL.
	Endpoint string
	// Channels is the set of envelope channels delivered to listeners.
	// With an empty set the manager still connects but delivers nothing.
	Channels []string
	// ReconnectDelay overrides the fixed reconnect wait. Zero means the
	// 3-second default. Tests shrink this.
	ReconnectDelay time.Duration
}

// Manager maintains one live-update connection. All transport-level
// failures (DNS, refused connection, TLS, mid-stream error, clean close)
// route into the same reconnect loop; none are surfaced to callers.
type Manager struct {
	endpoint string
	filter   map[string]struct{}
	delay    time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	state  domain.ConnState
	last   *Envelope
	closed bool

	handlerMu      sync.RWMutex
	listeners      []Listener
	stateListeners []StateListener

	malformed atomic.Int64
	done      chan struct{}
}

// Connect creates a Manager and starts its connection loop in a goroutine.
// It returns immediately; use OnState or IsConnected to observe progress.
func Connect(cfg Config, logger *slog.Logger) *Manager {
	filter := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		filter[ch] = struct{}{}
	}

	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	m := &Manager{
		endpoint: cfg.Endpoint,
		filter:   filter,
		delay:    delay,
		logger:   logger.With(slog.String("component", "stream")),
		state:    domain.ConnConnecting,
		done:     make(chan struct{}),
	}

	go m.run()
	return m
}

// OnMessage registers a listener for filtered envelopes.
func (m *Manager) OnMessage(l Listener) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnState registers a listener for connection state transitions.
func (m *Manager) OnState(l StateListener) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.stateListeners = append(m.stateListeners, l)
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the transport is currently established.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.ConnConnected
}

// LastMessage returns the most recent delivered envelope, for consumers
// that subscribe after traffic has already flowed.
func (m *Manager) LastMessage() (Envelope, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Envelope{}, false
	}
	return *m.last, true
}

// MalformedCount returns how many unparseable frames have been dropped.
func (m *Manager) MalformedCount() int64 {
	return m.malformed.Load()
}

// Close tears the connection down and suppresses any scheduled reconnect.
// Idempotent; after Close no listener is invoked again even if the socket
// had stray frames queued.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}

// run is the connection loop: dial, pump, mark disconnected, wait the fixed
// delay, repeat. It exits only on Close.
func (m *Manager) run() {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	for {
		if m.isClosed() {
			return
		}

		m.setState(domain.ConnConnecting)

		conn, _, err := dialer.Dial(m.endpoint, nil)
		if err != nil {
			m.logger.Warn("connect failed",
				slog.String("endpoint", m.endpoint),
				slog.String("error", err.Error()),
			)
			m.setState(domain.ConnDisconnected)
			if !m.wait() {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.mu.Unlock()

		m.setState(domain.ConnConnected)
		m.readLoop(conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if m.isClosed() {
			return
		}

		m.setState(domain.ConnDisconnected)
		if !m.wait() {
			return
		}
	}
}

// readLoop pumps frames from one established connection until it fails.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		m.dispatch(raw)
	}
}

// dispatch parses one frame and delivers it. Malformed frames are counted
// and dropped; frames for channels outside the filter are dropped silently.
func (m *Manager) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Channel == "" {
		m.malformed.Add(1)
		m.logger.Debug("dropping malformed frame", slog.Int("bytes", len(raw)))
		return
	}

	if _, ok := m.filter[env.Channel]; !ok {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.last = &env
	m.mu.Unlock()

	m.handlerMu.RLock()
	listeners := m.listeners
	m.handlerMu.RUnlock()

	for _, l := range listeners {
		l(env)
	}
}

// setState records a transition and notifies state listeners. Transitions
// after teardown are suppressed.
func (m *Manager) setState(s domain.ConnState) {
	m.mu.Lock()
	if m.closed || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.handlerMu.RLock()
	listeners := m.stateListeners
	m.handlerMu.RUnlock()

	for _, l := range listeners {
		l(s)
	}
}

// wait sleeps for the reconnect delay. It returns false when the manager
// was closed while waiting.
func (m *Manager) wait() bool {
	t := time.NewTimer(m.delay)
	defer t.Stop()
	select {
	case <-m.done:
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
