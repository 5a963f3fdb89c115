// Package ws implements the live-update WebSocket endpoint. The hub bridges
// push-messaging topics to connected clients as JSON envelope frames of the
// form {"channel": ..., "data": ...}.
package ws

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signaldeck/signaldeck/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control messages.
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing message buffer.
	sendBufferSize = 256
)

// broadcastTopics are the bus topics the hub relays to clients. The VIP
// topic is relayed only to clients holding a valid channel-auth grant.
var broadcastTopics = []string{
	domain.TopicSignals,
	domain.TopicMarketStatus,
	domain.TopicPriceFeed,
	domain.TopicPositions,
	domain.TopicRankings,
	domain.TopicVIPSignals,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front.
		return true
	},
}

// envelope is the frame format sent to clients.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// authMsg is the frame a client sends to unlock the gated topic, carrying
// the grant obtained from the channel-authorization endpoint.
type authMsg struct {
	Action  string `json:"action"` // "authorize"
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

// client represents a single WebSocket connection.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	socketID string

	mu         sync.RWMutex
	authorized map[string]bool // gated channels unlocked for this client
}

// Hub manages connected clients and relays bus topics to them.
type Hub struct {
	bus           domain.SignalBus
	channelSecret []byte
	logger        *slog.Logger

	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// NewHub creates a Hub over the given bus. channelSecret signs and verifies
// gated-channel grants.
func NewHub(bus domain.SignalBus, channelSecret string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:           bus,
		channelSecret: []byte(channelSecret),
		logger:        logger.With(slog.String("component", "ws")),
		clients:       make(map[*client]bool),
		broadcast:     make(chan broadcastMsg, 256),
		register:      make(chan *client),
		unregister:    make(chan *client),
	}
}

// ChannelGrant computes the signature authorizing socketID to receive the
// given gated channel. The channel-authorization endpoint returns this to
// entitled viewers; the hub recomputes it to verify authorize frames.
func ChannelGrant(secret []byte, socketID, channel string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(socketID + ":" + channel))
	return hex.EncodeToString(mac.Sum(nil))
}

// Run starts the hub loop and the bus subscriptions. It exits when the
// context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, topic := range broadcastTopics {
		go h.pump(ctx, topic)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.String("socket_id", c.socketID),
				slog.Int("total_clients", total),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.String("socket_id", c.socketID),
				slog.Int("total_clients", total),
			)

		case msg := <-h.broadcast:
			frame, err := json.Marshal(envelope{
				Channel: msg.topic,
				Data:    msg.data,
			})
			if err != nil {
				continue
			}
			gated := msg.topic == domain.TopicVIPSignals

			h.mu.RLock()
			for c := range h.clients {
				if gated && !c.isAuthorized(msg.topic) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("dropping message for slow client",
						slog.String("socket_id", c.socketID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump subscribes to one bus topic and forwards payloads to the broadcast
// loop.
func (h *Hub) pump(ctx context.Context, topic string) {
	msgCh, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("topic subscription closed",
					slog.String("topic", topic),
				)
				return
			}
			h.broadcast <- broadcastMsg{topic: topic, data: data}
		}
	}
}

// HandleLive upgrades an HTTP request to a WebSocket connection.
// GET /ws/live
func (h *Hub) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		socketID:   uuid.NewString(),
		authorized: make(map[string]bool),
	}

	h.register <- c
	c.sendConnected()

	go c.writePump()
	go c.readPump()
}

// sendConnected pushes the connection envelope carrying the socket id the
// client needs for channel authorization.
func (c *client) sendConnected() {
	data, err := json.Marshal(map[string]string{"socket_id": c.socketID})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "system:connected", Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) isAuthorized(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized[channel]
}

// readPump reads control frames from the client: currently only gated
// channel authorization.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg authMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.Action != "authorize" {
			continue
		}

		expected := ChannelGrant(c.hub.channelSecret, c.socketID, msg.Channel)
		if hmac.Equal([]byte(expected), []byte(msg.Auth)) {
			c.mu.Lock()
			c.authorized[msg.Channel] = true
			c.mu.Unlock()
		}
	}
}

// writePump pumps frames from the hub to the connection plus keepalive
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
