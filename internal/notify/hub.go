package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"harbor-presence/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// FeedMessage is one message on the live websocket feed.
type FeedMessage struct {
	Type      string      `json:"type"` // snapshot, direction, presence
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts notifications to dashboard websocket clients. A client
// whose buffer is full is disconnected rather than slowing the others.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	snapshot func() []models.PresenceState
	logger   *zap.Logger
}

// NewHub creates a hub. snapshot, if set, is sent to every new client.
func NewHub(snapshot func() []models.PresenceState, logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[*feedClient]struct{}),
		snapshot: snapshot,
		logger:   logger,
	}
}

func (h *Hub) Name() string { return "websocket_hub" }

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) OnDirectionEvent(_ context.Context, ev models.DirectionEvent) error {
	return h.broadcast(FeedMessage{Type: "direction", Timestamp: time.Now(), Data: ev})
}

func (h *Hub) OnPresenceChanged(_ context.Context, change models.PresenceChange) error {
	return h.broadcast(FeedMessage{Type: "presence", Timestamp: time.Now(), Data: change})
}

func (h *Hub) broadcast(msg FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Websocket client too slow, disconnecting", zap.String("client_id", c.id))
			h.removeLocked(c)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &feedClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBufferSize)}

	if h.snapshot != nil {
		data, err := json.Marshal(FeedMessage{Type: "snapshot", Timestamp: time.Now(), Data: h.snapshot()})
		if err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Websocket client connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", count),
	)

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *feedClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// readPump only services control frames; the feed is one-way.
func (h *Hub) readPump(c *feedClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
