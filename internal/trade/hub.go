package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/trading-arena/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

// Client is one live WebSocket connection bound to a player identity.
// Outbound messages go through a bounded queue drained by the write pump;
// a full queue drops the message rather than block the sender.
type Client struct {
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(playerID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// PlayerID returns the identity the connection is bound to.
func (c *Client) PlayerID() string { return c.playerID }

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// sendJSON marshals and queues msg.
func (c *Client) sendJSON(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", "player", c.playerID, "err", err)
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		metrics.DroppedMessages.Inc()
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		metrics.DroppedMessages.Inc()
		slog.Warn("ws send queue full, dropping message", "player", c.playerID)
		return false
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive through proxies with periodic pings. It exits on the first write
// error or when the client is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("ws write failed", "player", c.playerID, "err", err)
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

// Hub is the connection registry: at most one live connection per player.
// It implements lobby.Sender.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	sendBuffer int
}

// NewHub creates a hub whose connections queue up to sendBuffer messages.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sendBuffer: sendBuffer,
	}
}

// Register binds c to its player, closing any older connection of the same
// player.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.playerID]
	h.clients[c.playerID] = c
	total := len(h.clients)
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close()
		slog.Info("ws connection replaced", "player", c.playerID)
	}
	metrics.WebSocketClients.Set(float64(total))
	slog.Info("ws client connected", "player", c.playerID, "total", total)
}

// Unregister removes c if it is still the player's current connection.
// A connection that was already replaced leaves the newer one in place.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	cur, ok := h.clients[c.playerID]
	removed := ok && cur == c
	if removed {
		delete(h.clients, c.playerID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		metrics.WebSocketClients.Set(float64(total))
		slog.Info("ws client disconnected", "player", c.playerID, "total", total)
	}
	return removed
}

// Resolve returns the player's live connection.
func (h *Hub) Resolve(playerID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[playerID]
	return c, ok
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToPlayer queues msg for the player's connection. It never blocks and
// drops the message when the player is offline or too slow.
func (h *Hub) SendToPlayer(playerID string, msg any) {
	c, ok := h.Resolve(playerID)
	if !ok {
		return
	}
	c.sendJSON(msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // invite links are opened from any origin
	},
}
