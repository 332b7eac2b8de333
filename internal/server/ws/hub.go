package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// bridgedTopics are the bus topics the hub forwards to WebSocket clients.
// Per-strategy topics are not bridged directly; runners mirror everything
// onto strategies:updates.
var bridgedTopics = []string{
	domain.TopicCopyTrading,
	domain.TopicStrategyUpdates,
	domain.TopicLiveOrders,
}

// defaultSubscriptions are applied to every new client. The raw order feed
// is opt-in since it can run to hundreds of messages per second.
var defaultSubscriptions = []string{
	domain.TopicCopyTrading,
	domain.TopicStrategyUpdates,
}

// upgrader configures the WebSocket upgrade parameters. Cross-origin policy
// is enforced by the CORS middleware in front of the mux, so the upgrade
// itself accepts any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the JSON frame sent to clients for every forwarded event.
type envelope struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed topics
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage its topic set.
// Both the action/topics form and the shorthand lists are accepted.
type subscribeMsg struct {
	Action      string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics      []string `json:"topics"`
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub fans events from the in-process bus out to connected WebSocket
// clients as JSON text frames.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        *bus.Bus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries an encoded frame along with its source topic so the
// hub can route it only to clients subscribed to that topic.
type broadcastMsg struct {
	topic string
	data  []byte
}

// NewHub creates a hub bridging the given bus to WebSocket clients.
func NewHub(b *bus.Bus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        b,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when the context is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range bridgedTopics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			h.forwardTopic(ctx, topic)
		}(topic)
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
			wg.Wait()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.topic) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the frame.
						h.logger.Warn("dropping frame for slow client",
							slog.String("topic", msg.topic),
						)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forwardTopic drains one bus subscription into the broadcast channel,
// encoding each event into its wire envelope once per event rather than
// once per client.
func (h *Hub) forwardTopic(ctx context.Context, topic string) {
	sub := h.bus.Subscribe(topic)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(envelope{
				Topic:   topic,
				Type:    ev.Type,
				Payload: ev.Payload,
			})
			if err != nil {
				h.logger.Error("encode event failed",
					slog.String("topic", topic),
					slog.String("event_type", ev.Type),
					slog.String("error", err.Error()),
				)
				continue
			}

			select {
			case h.broadcast <- broadcastMsg{topic: topic, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, topic := range defaultSubscriptions {
		c.subs[topic] = true
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	return h.clientCount()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. The only inbound
// frames the server understands are topic subscription changes.
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
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil &&
			(sub.Action != "" || len(sub.Topics) > 0 || len(sub.Subscribe) > 0 || len(sub.Unsubscribe) > 0) {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range msg.Subscribe {
		c.subs[topic] = true
	}
	for _, topic := range msg.Unsubscribe {
		delete(c.subs, topic)
	}

	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.Topics {
			c.subs[topic] = true
		}
	case "unsubscribe":
		for _, topic := range msg.Topics {
			delete(c.subs, topic)
		}
	}
}

// sendHello pushes a small status envelope so clients can mark the
// connection healthy before any domain events flow.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}

	msg, err := json.Marshal(envelope{
		Topic: "system",
		Type:  "connected",
		Payload: map[string]any{
			"uptime_seconds": uptime,
			"topics":         topics,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given topic.
// A trailing '*' in a subscription acts as a prefix wildcard, so
// "strategies:*" matches "strategies:updates".
func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[topic] {
		return true
	}
	for sub := range c.subs {
		if len(sub) > 0 && sub[len(sub)-1] == '*' {
			prefix := sub[:len(sub)-1]
			if len(topic) >= len(prefix) && topic[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

// writePump pumps frames from the hub to the WebSocket connection, plus
// periodic pings for keepalive.
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
				// The hub closed the channel.
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
