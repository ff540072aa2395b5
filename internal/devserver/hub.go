package devserver

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/anthonyharley32/chatsync/internal/client/backend/ws"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local development server; origin checks would only get in the way.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	mu      sync.Mutex
	topics  map[string]struct{}
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *wsClient) set(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = struct{}{}
	} else {
		delete(c.topics, topic)
	}
}

// Hub fans push frames out to the connected sockets by topic.
type Hub struct {
	log     logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(log logging.Logger, metrics *Metrics) *Hub {
	return &Hub{log: log, metrics: metrics, clients: make(map[*wsClient]struct{})}
}

// Serve upgrades one connection and pumps its subscribe/unsubscribe frames
// until it drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, topics: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metrics.Connections.Inc()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		h.metrics.Connections.Dec()
		_ = conn.Close()
	}()

	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Action {
		case "subscribe":
			client.set(f.Topic, true)
		case "unsubscribe":
			client.set(f.Topic, false)
		default:
			h.log.Warn(r.Context(), "ignoring unknown ws action", "action", f.Action)
		}
	}
}

// Publish delivers one frame to every client subscribed to its topic.
func (h *Hub) Publish(f ws.Frame) {
	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(f.Topic) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.writeMu.Lock()
		err := c.conn.WriteJSON(f)
		c.writeMu.Unlock()
		if err != nil {
			h.log.Warn(context.Background(), "push write failed", "topic", f.Topic, "error", err)
			continue
		}
		h.metrics.PushEvents.WithLabelValues(f.Table).Inc()
	}
}
