// Package realtime streams scoring results to dashboards over WebSocket.
//
// Clients connect to /ws and receive every event by default. Sending a
// Subscription JSON message narrows the stream by event type, user or
// minimum risk score.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/fraudwatch/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType names a stream event.
type EventType string

const (
	EventTransactionUpdate EventType = "transaction_update"
	EventFraudAlert        EventType = "fraud_alert"
	EventReviewUpdate      EventType = "review_update"
	EventBroadcast         EventType = "broadcast"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	// Filter keys; not serialized.
	actorID string
	score   int
}

// TransactionUpdate is the payload of transaction_update and review_update
// events.
type TransactionUpdate struct {
	TransactionID string   `json:"transactionId"`
	ActorID       string   `json:"userId"`
	Amount        string   `json:"amount"`
	Merchant      string   `json:"merchant"`
	RiskScore     int      `json:"riskScore"`
	Status        string   `json:"status"`
	Reasons       []string `json:"fraudReasons,omitempty"`
	ReviewedBy    string   `json:"reviewedBy,omitempty"`
}

// FraudAlert is the payload of fraud_alert events.
type FraudAlert struct {
	Message     string            `json:"message"`
	Transaction TransactionUpdate `json:"transaction"`
}

// Announcement is the payload of broadcast events.
type Announcement struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Subscription filters for a client. Empty fields match everything.
type Subscription struct {
	AllEvents    bool        `json:"allEvents"`
	EventTypes   []EventType `json:"eventTypes"`
	ActorIDs     []string    `json:"userIds"`
	MinRiskScore int         `json:"minRiskScore"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub fans events out to connected clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	now        func() time.Time

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
}

// Run delivers events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("dropped slow websocket clients", "count", len(slow))
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}
	// Broadcasts carry no user or score and always pass the remaining filters.
	if event.Type == EventBroadcast {
		return true
	}
	if len(sub.ActorIDs) > 0 && !slices.ContainsFunc(sub.ActorIDs, func(id string) bool {
		return strings.EqualFold(id, event.actorID)
	}) {
		return false
	}
	return event.score >= sub.MinRiskScore
}

// Broadcast queues an event for delivery. It never blocks; events are
// dropped when the queue is full.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// PublishTransaction announces a newly scored transaction.
func (h *Hub) PublishTransaction(u TransactionUpdate) {
	h.Broadcast(&Event{Type: EventTransactionUpdate, Data: u, actorID: u.ActorID, score: u.RiskScore})
}

// PublishReview announces a reviewer decision.
func (h *Hub) PublishReview(u TransactionUpdate) {
	h.Broadcast(&Event{Type: EventReviewUpdate, Data: u, actorID: u.ActorID, score: u.RiskScore})
}

// PublishFraudAlert raises an alert for a transaction scored as fraud.
func (h *Hub) PublishFraudAlert(u TransactionUpdate) {
	h.Broadcast(&Event{
		Type:    EventFraudAlert,
		Data:    FraudAlert{Message: "High-risk transaction detected: " + u.TransactionID, Transaction: u},
		actorID: u.ActorID,
		score:   u.RiskScore,
	})
}

// Announce sends an operator message to every client.
func (h *Hub) Announce(message, level string) {
	if level == "" {
		level = "info"
	}
	h.Broadcast(&Event{Type: EventBroadcast, Data: Announcement{Message: message, Level: level}})
}

// Stats reports connection and delivery counters.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedEvents:    h.dropped.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
