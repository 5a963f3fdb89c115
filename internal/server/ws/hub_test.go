package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
	"github.com/signaldeck/signaldeck/internal/pubsub"
)

const hubSecret = "hub-test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannelGrantIsDeterministic(t *testing.T) {
	a := ChannelGrant([]byte(hubSecret), "s1", domain.TopicVIPSignals)
	b := ChannelGrant([]byte(hubSecret), "s1", domain.TopicVIPSignals)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex sha256

	assert.NotEqual(t, a, ChannelGrant([]byte(hubSecret), "s2", domain.TopicVIPSignals))
	assert.NotEqual(t, a, ChannelGrant([]byte("other"), "s1", domain.TopicVIPSignals))
}

// hubFixture runs a hub over an in-process bus and connects one client.
type hubFixture struct {
	bus      *pubsub.MemoryBus
	conn     *websocket.Conn
	socketID string
	frames   chan envelope
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	bus := pubsub.NewMemoryBus()
	hub := NewHub(bus, hubSecret, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleLive))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	f := &hubFixture{bus: bus, conn: conn, frames: make(chan envelope, 64)}
	go func() {
		defer close(f.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if json.Unmarshal(data, &env) == nil {
				f.frames <- env
			}
		}
	}()

	// The first frame carries the socket id used for channel authorization.
	env := f.next(t)
	require.Equal(t, "system:connected", env.Channel)
	var connected struct {
		SocketID string `json:"socket_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &connected))
	require.NotEmpty(t, connected.SocketID)
	f.socketID = connected.SocketID

	return f
}

func (f *hubFixture) next(t *testing.T) envelope {
	t.Helper()
	select {
	case env, ok := <-f.frames:
		require.True(t, ok, "connection closed before frame arrived")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return envelope{}
	}
}

// publishUntilDelivered retries a publish until a frame for the topic comes
// back, absorbing the window before the hub's topic pumps are subscribed.
func (f *hubFixture) publishUntilDelivered(t *testing.T, topic string, payload []byte) envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, f.bus.Publish(context.Background(), topic, payload))
		select {
		case env, ok := <-f.frames:
			require.True(t, ok, "connection closed before frame arrived")
			return env
		case <-time.After(20 * time.Millisecond):
		}
		select {
		case <-deadline:
			t.Fatalf("no frame delivered for topic %s", topic)
		default:
		}
	}
}

func TestHubBroadcastsPublicTopics(t *testing.T) {
	f := newHubFixture(t)

	env := f.publishUntilDelivered(t, domain.TopicPriceFeed, []byte(`{"symbol":"BTC","price":64000}`))
	assert.Equal(t, domain.TopicPriceFeed, env.Channel)
	assert.JSONEq(t, `{"symbol":"BTC","price":64000}`, string(env.Data))
}

func TestHubGatesVIPTopic(t *testing.T) {
	f := newHubFixture(t)

	// Wait for pumps to be live before testing suppression.
	f.publishUntilDelivered(t, domain.TopicPriceFeed, []byte(`{"warmup":true}`))

	require.NoError(t, f.bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"BTC"}`)))
	select {
	case env := <-f.frames:
		t.Fatalf("unauthorized client received gated frame on %s", env.Channel)
	case <-time.After(150 * time.Millisecond):
	}

	// Authorize with the grant the auth endpoint would have returned.
	grant := ChannelGrant([]byte(hubSecret), f.socketID, domain.TopicVIPSignals)
	frame, err := json.Marshal(authMsg{Action: "authorize", Channel: domain.TopicVIPSignals, Auth: grant})
	require.NoError(t, err)
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		if err := f.bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"ETH"}`)); err != nil {
			return false
		}
		select {
		case env := <-f.frames:
			return env.Channel == domain.TopicVIPSignals
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsBadGrant(t *testing.T) {
	f := newHubFixture(t)

	f.publishUntilDelivered(t, domain.TopicPriceFeed, []byte(`{"warmup":true}`))

	frame, err := json.Marshal(authMsg{Action: "authorize", Channel: domain.TopicVIPSignals, Auth: "forged"})
	require.NoError(t, err)
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, frame))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, f.bus.Publish(context.Background(), domain.TopicVIPSignals, []byte(`{"symbol":"BTC"}`)))
	select {
	case env := <-f.frames:
		t.Fatalf("forged grant unlocked gated frame on %s", env.Channel)
	case <-time.After(150 * time.Millisecond):
	}
}
