package statusfeed

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type MessageType string

const (
	MessageTypeConnectionState MessageType = "connection-state"
	MessageTypePing            MessageType = "ping"
)

const (
	sendQueueSize = 16
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	maxInbound    = 4096
)

type Message struct {
	Type      MessageType `json:"type"`
	State     string      `json:"state,omitempty"`
	Room      string      `json:"room,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan Message

	closeOnce sync.Once
	closed    atomic.Bool
	logger    *zap.Logger
}

// Hub fans connection state out to every connected UI client. A client whose
// queue is full is dropped rather than slowing the publisher down.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}

	mu     sync.RWMutex
	last   *Message
	logger *zap.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client queue.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			last := h.last
			h.mu.Unlock()
			metrics.StatusClients.Inc()

			if last != nil {
				h.deliver(client, *last)
			}
			h.logger.Info("Status client registered", zap.String("clientID", client.ID))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = &message
			clients := h.snapshot()
			h.mu.Unlock()

			for _, c := range clients {
				h.deliver(c, message)
			}

		case <-ticker.C:
			h.mu.RLock()
			clients := h.snapshot()
			h.mu.RUnlock()

			ping := Message{Type: MessageTypePing, Timestamp: time.Now()}
			for _, c := range clients {
				h.deliver(c, ping)
			}
		}
	}
}

// snapshot must be called with h.mu held.
func (h *Hub) snapshot() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) deliver(c *Client, message Message) {
	select {
	case c.Send <- message:
	default:
		h.logger.Warn("Status client too slow, dropping", zap.String("clientID", c.ID))
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()

	if ok {
		c.closeSend()
		metrics.StatusClients.Dec()
		h.logger.Info("Status client unregistered", zap.String("clientID", c.ID))
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	h.mu.Lock()
	clients := h.snapshot()
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// Publish queues a state change for broadcast. It never blocks; when the hub
// is backlogged or stopped the change is dropped.
func (h *Hub) Publish(room string, s state.ConnectionState) {
	message := Message{
		Type:      MessageTypeConnectionState,
		State:     s.String(),
		Room:      room,
		Timestamp: time.Now(),
	}
	select {
	case <-h.done:
	case h.broadcast <- message:
	default:
		h.logger.Warn("Status broadcast backlog full, dropping", zap.String("state", message.State))
	}
}

// Clients reports the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:     "status_" + uuid.New().String(),
		Conn:   conn,
		Send:   make(chan Message, sendQueueSize),
		logger: logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.Send)
	})
}

// ReadPump only services control frames; UI clients have nothing to say.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxInbound)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("Status websocket error",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write status message",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades the request and subscribes it to the hub. A new
// client immediately receives the most recent state.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade status connection", zap.Error(err))
		return
	}

	client := NewClient(conn, h.logger)
	if !h.join(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(h)
}
