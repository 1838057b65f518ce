// Package markers streams interaction markers to lab recording software over
// a websocket, standing in for a lab streaming layer outlet.
package markers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

// Marker is one broadcast event. TS is seconds on the hub's monotonic clock.
type Marker struct {
	Marker string  `json:"marker"`
	TS     float64 `json:"ts"`
}

type client struct {
	conn *websocket.Conn
	send chan Marker
}

// Hub fans markers out to connected recorders. Push only stamps a marker
// when at least one recorder is listening.
type Hub struct {
	upgrader websocket.Upgrader
	start    time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub accepts connections from allowedOrigin, or any origin when empty.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{start: time.Now(), clients: map[*client]struct{}{}}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Clock returns the hub's stream time.
func (h *Hub) Clock() float64 {
	return time.Since(h.start).Seconds()
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Push broadcasts marker. Slow recorders drop markers rather than block.
func (h *Hub) Push(marker string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return 0, false
	}
	m := Marker{Marker: marker, TS: h.Clock()}
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			logger.Warn("markers: recorder too slow, marker dropped", "marker", marker)
		}
	}
	return m.TS, true
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("markers: upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Marker, sendBuffer)}
	h.add(c)
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetMarkerClients(n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetMarkerClients(n)
}

// readLoop discards inbound frames and unregisters the client on close.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for m := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(m); err != nil {
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
