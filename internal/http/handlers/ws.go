package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
	// Session is the principal the client connected as.
	Session string
}

// Hub fans encoded messages out to websocket clients. A client whose buffer is
// full is dropped rather than stalling the broadcast, and so is one that belongs
// to a session which has since ended.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]bool
	stopped bool
}

func NewHub(allowOrigins []string) *Hub {
	h := &Hub{clients: make(map[*Client]bool)}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowOrigins, "*") || slices.Contains(allowOrigins, origin)
	}
	return h
}

// Join registers c and queues the message built by initial. initial runs under the
// hub lock so no broadcast can slip in ahead of it.
func (h *Hub) Join(c *Client, initial func() []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[c] = true
	if initial != nil {
		c.Send <- initial()
	}
	return true
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.Send)
	}
}

// Broadcast sends data to the clients of session and disconnects the rest.
func (h *Hub) Broadcast(session string, data []byte) {
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.Session != session {
			delete(h.clients, c)
			close(c.Send)
			continue
		}
		select {
		case c.Send <- data:
		default:
			delete(h.clients, c)
			close(c.Send)
		}
	}
}

// Stop disconnects every client and refuses new ones.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type holidaysMsg struct {
	Type     string        `json:"type"`
	Holidays []holidayView `json:"holidays"`
}

type alertMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *Handlers) holidaysMessage(p *domain.Principal, hs []domain.Holiday) []byte {
	data, err := json.Marshal(holidaysMsg{Type: "holidays", Holidays: h.views(p, hs)})
	if err != nil {
		logger.Error("encode holidays message", "error", err)
		return nil
	}
	return data
}

func alertMessage(msg string) []byte {
	data, _ := json.Marshal(alertMsg{Type: "alert", Message: msg})
	return data
}

func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	p := h.principal(r)
	c := &Client{Conn: conn, Send: make(chan []byte, sendBuffer), Session: h.sessionKey(p)}
	if !h.hub.Join(c, func() []byte { return h.holidaysMessage(p, h.Store.Holidays()) }) {
		conn.Close()
		return
	}
	logger.DebugContext(r.Context(), "websocket client joined")

	go writePump(c)
	readPump(c, h.hub)
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump only watches for the client going away; clients never send commands.
func readPump(c *Client, hub *Hub) {
	defer func() {
		hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
