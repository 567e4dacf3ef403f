package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"skycrash/internal/metrics"
)

const (
	hubQueueSize = 256
	writeTimeout = 10 * time.Second
)

// envelope is the wire form of every outbound event: a type tag the client
// switches on, plus the event payload.
type envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans typed game events out to every connected websocket. It satisfies
// Broadcaster; when its queue is full the event is dropped rather than
// stalling the round loop, and clients recover from the snapshot endpoint.
type Hub struct {
	log        *zap.SugaredLogger
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, hubQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Debugw("client connected", "user", client.userID, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Debugw("client disconnected", "user", client.userID, "total", total)

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				h.log.Errorw("event marshal failed", "type", env.Type, "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go client.write(h.log, data)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast implements Broadcaster; never blocks.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- envelope{Type: ev.Type(), Data: ev}:
	default:
		h.log.Warnw("broadcast queue full, dropping event", "type", ev.Type())
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) write(log *zap.SugaredLogger, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debugw("client write failed", "user", c.userID, "error", err)
	}
}

// Send delivers one event to a single client, used for direct replies and
// the initial snapshot on connect.
func (c *Client) Send(log *zap.SugaredLogger, typ EventType, payload any) {
	data, err := json.Marshal(envelope{Type: typ, Data: payload})
	if err != nil {
		log.Errorw("reply marshal failed", "type", typ, "error", err)
		return
	}
	c.write(log, data)
}

func (c *Client) UserID() string { return c.userID }

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{conn: conn, userID: userID}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
