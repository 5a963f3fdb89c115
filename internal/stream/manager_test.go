package stream

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// liveServer is a minimal live-update endpoint for tests. Each accepted
// connection is handed to serve.
type liveServer struct {
	t     *testing.T
	srv   *httptest.Server
	dials atomic.Int64
	mu    sync.Mutex
	conns []*websocket.Conn
	serve func(conn *websocket.Conn)
}

func newLiveServer(t *testing.T, serve func(conn *websocket.Conn)) *liveServer {
	ls := &liveServer{t: t, serve: serve}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ls.dials.Add(1)
		ls.mu.Lock()
		ls.conns = append(ls.conns, conn)
		ls.mu.Unlock()
		if ls.serve != nil {
			ls.serve(conn)
		}
	}))
	t.Cleanup(func() {
		ls.mu.Lock()
		for _, c := range ls.conns {
			_ = c.Close()
		}
		ls.mu.Unlock()
		ls.srv.Close()
	})
	return ls
}

func (ls *liveServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ls.srv.URL, "http")
}

func TestManagerDeliversFilteredEnvelopes(t *testing.T) {
	start := make(chan struct{})
	ls := newLiveServer(t, func(conn *websocket.Conn) {
		<-start
		frames := []string{
			`{"channel":"public-price-feed","data":{"symbol":"BTC","price":64000}}`,
			`{"channel":"public-rankings","data":[]}`, // outside the filter
			`not json at all`,                         // malformed
			`{"channel":"public-price-feed","data":{"symbol":"ETH","price":3300}}`,
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection open; the test closes it via cleanup.
		_, _, _ = conn.ReadMessage()
	})

	m := Connect(Config{
		Endpoint:       ls.wsURL(),
		Channels:       []string{domain.TopicPriceFeed},
		ReconnectDelay: 10 * time.Millisecond,
	}, testLogger())
	defer m.Close()

	var mu sync.Mutex
	var got []Envelope
	m.OnMessage(func(env Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})
	close(start)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, domain.TopicPriceFeed, got[0].Channel)
	assert.JSONEq(t, `{"symbol":"BTC","price":64000}`, string(got[0].Data))
	mu.Unlock()

	assert.Equal(t, int64(1), m.MalformedCount())

	last, ok := m.LastMessage()
	require.True(t, ok)
	assert.JSONEq(t, `{"symbol":"ETH","price":3300}`, string(last.Data))
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	ls := newLiveServer(t, func(conn *websocket.Conn) {
		// Drop every connection immediately to force reconnects.
		_ = conn.Close()
	})

	m := Connect(Config{
		Endpoint:       ls.wsURL(),
		Channels:       []string{domain.TopicPriceFeed},
		ReconnectDelay: 10 * time.Millisecond,
	}, testLogger())
	defer m.Close()

	var mu sync.Mutex
	var states []domain.ConnState
	m.OnState(func(s domain.ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		return ls.dials.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond, "manager must keep retrying on the fixed delay")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, domain.ConnConnected)
	assert.Contains(t, states, domain.ConnDisconnected)
}

func TestManagerCloseStopsReconnects(t *testing.T) {
	ls := newLiveServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})

	m := Connect(Config{
		Endpoint:       ls.wsURL(),
		Channels:       []string{domain.TopicPriceFeed},
		ReconnectDelay: 10 * time.Millisecond,
	}, testLogger())

	require.Eventually(t, func() bool {
		return ls.dials.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	settled := ls.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, ls.dials.Load(), settled+1,
		"no reconnect loop may survive close")
}

func TestManagerSurvivesUnreachableEndpoint(t *testing.T) {
	m := Connect(Config{
		Endpoint:       "ws://127.0.0.1:1/ws/live",
		Channels:       []string{domain.TopicPriceFeed},
		ReconnectDelay: 10 * time.Millisecond,
	}, testLogger())
	defer m.Close()

	// The manager keeps cycling connect attempts without surfacing errors.
	require.Eventually(t, func() bool {
		return m.State() == domain.ConnDisconnected || m.State() == domain.ConnConnecting
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsConnected())
}
