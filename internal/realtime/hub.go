// Package realtime pushes payment events to connected WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/notification"
)

const sendBuffer = 32

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paygate_realtime_clients",
		Help: "Connected realtime clients",
	})
	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_realtime_dropped_frames_total",
		Help: "Frames dropped because a client was slow",
	})
)

// Conn is the part of a WebSocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Frame is one server-to-client message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is a registered connection. All writes go through its send queue so
// the connection only ever has one writer.
type Client struct {
	uid     string
	conn    Conn
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newClient(uid string, conn Conn) *Client {
	return &Client{
		uid:     uid,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Send queues a frame without blocking. It reports false when the frame was
// dropped.
func (c *Client) Send(f Frame) bool {
	raw, err := json.Marshal(f)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		droppedFrames.Inc()
		return false
	}
}

func (c *Client) writeLoop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub maps user ids to their live connection. One connection per user; a new
// registration supersedes the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register adds conn for uid, closing any previous connection of that user.
func (h *Hub) Register(uid string, conn Conn) *Client {
	c := newClient(uid, conn)

	h.mu.Lock()
	prev := h.clients[uid]
	h.clients[uid] = c
	h.mu.Unlock()

	if prev != nil {
		h.logger.Debug("superseding realtime connection", slog.String("uid", uid))
		prev.close()
	} else {
		connectedClients.Inc()
	}
	go c.writeLoop()
	return c
}

// Unregister removes c if it is still the current client for its user and
// waits for its writer to exit. Once it returns nothing touches the
// connection again.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.uid] == c
	if current {
		delete(h.clients, c.uid)
	}
	h.mu.Unlock()

	if current {
		connectedClients.Dec()
	}
	c.close()
	<-c.stopped
}

// Notify implements notification.Notifier. Events for users without a live
// connection are dropped.
func (h *Hub) Notify(_ context.Context, uid string, event notification.Event) error {
	h.mu.RLock()
	c := h.clients[uid]
	h.mu.RUnlock()
	if c == nil {
		return nil
	}
	if !c.Send(Frame{Event: event.Name, Data: event.Data}) {
		h.logger.Warn("dropping realtime frame", slog.String("uid", uid), slog.String("event", event.Name))
	}
	return nil
}

// Connected reports whether uid has a live connection.
func (h *Hub) Connected(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[uid]
	return ok
}

// Count returns the number of connected users.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		connectedClients.Dec()
		c.close()
	}
}
