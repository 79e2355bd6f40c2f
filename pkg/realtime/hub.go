package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event is one live update pushed to subscribed clients
type Event struct {
	Type      string      `json:"type"` // "segment" or "quality"
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SegmentPayload carries a transcript segment update
type SegmentPayload struct {
	Text        string    `json:"text"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsFinal     bool      `json:"is_final"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// QualityPayload carries a quality status update
type QualityPayload struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// Client is one connected WebSocket subscriber
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string // empty means subscribe to everything
}

// Hub fans live events out to WebSocket clients. Clients may subscribe to a
// single session or to all of them. Slow clients are disconnected rather
// than allowed to stall the broadcast.
type Hub struct {
	logger             *logrus.Logger
	clients            map[*Client]bool
	sessionSubscribers map[string]map[*Client]bool
	broadcast          chan *Event
	register           chan *Client
	unregister         chan *Client
	mutex              sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local-only service, all origins accepted.
		return true
	},
}

// NewHub creates an event hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:             logger,
		clients:            make(map[*Client]bool),
		sessionSubscribers: make(map[string]map[*Client]bool),
		broadcast:          make(chan *Event, 64),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
	}
}

// Run processes registrations and broadcasts until the context is canceled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting live event hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down live event hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			if client.sessionID != "" {
				if _, exists := h.sessionSubscribers[client.sessionID]; !exists {
					h.sessionSubscribers[client.sessionID] = make(map[*Client]bool)
				}
				h.sessionSubscribers[client.sessionID][client] = true
			}
			h.mutex.Unlock()
			h.logger.WithField("session_id", client.sessionID).Debug("Live client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.dropClientLocked(client)
			h.mutex.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal live event")
				continue
			}

			h.mutex.Lock()
			if subscribers, exists := h.sessionSubscribers[event.SessionID]; exists {
				for client := range subscribers {
					h.sendLocked(client, data)
				}
			}
			for client := range h.clients {
				if client.sessionID != "" {
					continue
				}
				h.sendLocked(client, data)
			}
			h.mutex.Unlock()
		}
	}
}

// sendLocked delivers to one client, dropping it if its buffer is full
func (h *Hub) sendLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.dropClientLocked(client)
	}
}

func (h *Hub) dropClientLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if client.sessionID != "" {
		if subscribers, exists := h.sessionSubscribers[client.sessionID]; exists {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.sessionSubscribers, client.sessionID)
			}
		}
	}
	h.logger.Debug("Live client disconnected")
}

// BroadcastSegment pushes a transcript segment update
func (h *Hub) BroadcastSegment(sessionID string, payload SegmentPayload) {
	h.publish(&Event{
		Type:      "segment",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// BroadcastQuality pushes a quality status update
func (h *Hub) BroadcastQuality(sessionID string, payload QualityPayload) {
	h.publish(&Event{
		Type:      "quality",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// publish enqueues without blocking; if the hub is saturated the event is
// dropped, live updates are best-effort.
func (h *Hub) publish(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("type", event.Type).Warn("Live event dropped, hub saturated")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades an HTTP request to a WebSocket subscription. The optional
// session_id query parameter narrows the feed to one session.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade live connection")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: r.URL.Query().Get("session_id"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pushes queued events to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
