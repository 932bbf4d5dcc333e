// Package realtime streams commerce events to WebSocket subscribers.
//
// Clients connect to /ws and receive JSON events as purchases move
// through their lifecycle and as payment links are created. A client
// may send a subscription message to narrow the stream to specific
// event types, PDFs, or users; with no subscription it receives
// everything.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
)

// Event types published by the hub.
const (
	EventPurchaseCompleted = "purchase.completed"
	EventPurchaseFailed    = "purchase.failed"
	EventPurchaseDisputed  = "purchase.disputed"
	EventPaymentLink       = "payment_link.created"
)

// Event is a single message delivered to subscribers.
type Event struct {
	Type       string    `json:"type"`
	PurchaseID string    `json:"purchaseId,omitempty"`
	PDFID      string    `json:"pdfId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	URL        string    `json:"url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subscription filters which events a client receives. Empty slices
// match everything.
type Subscription struct {
	EventTypes []string `json:"eventTypes,omitempty"`
	PDFIDs     []string `json:"pdfIds,omitempty"`
	UserIDs    []string `json:"userIds,omitempty"`
}

func (s *Subscription) matches(e *Event) bool {
	if len(s.EventTypes) > 0 && !contains(s.EventTypes, e.Type) {
		return false
	}
	if len(s.PDFIDs) > 0 && !contains(s.PDFIDs, e.PDFID) {
		return false
	}
	if len(s.UserIDs) > 0 && !contains(s.UserIDs, e.UserID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// MaxClients caps concurrent WebSocket connections.
const MaxClients = 10000

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub *Subscription
}

func (c *client) subscription() *Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *client) setSubscription(s *Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
}

// Hub fans events out to connected clients.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan *Event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}

	closeOnce sync.Once
}

// NewHub returns a hub ready for Run.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run processes registration and broadcast traffic until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
		case ev := <-h.broadcast:
			h.deliver(ev)
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event for delivery. Events are dropped when the
// hub is stopped or the queue is full; delivery is best-effort.
func (h *Hub) Broadcast(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	case <-h.done:
	default:
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if sub := c.subscription(); sub != nil && !sub.matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client; skip rather than block the fanout.
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	if h.ClientCount() >= MaxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "too_many_connections",
			"details": "connection limit reached",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L(c.Request.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		c.setSubscription(&sub)
	}
}

func (c *client) writePump() {
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
