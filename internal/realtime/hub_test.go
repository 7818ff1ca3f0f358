package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func update(actor string, score int) TransactionUpdate {
	return TransactionUpdate{TransactionID: "tx-" + actor, ActorID: actor, RiskScore: score, Status: "SAFE"}
}

func eventFor(t EventType, u TransactionUpdate) *Event {
	return &Event{Type: t, Data: u, actorID: u.ActorID, score: u.RiskScore}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true, MinRiskScore: 99}}

	if !h.shouldSend(client, eventFor(EventTransactionUpdate, update("alice", 0))) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventFraudAlert, EventBroadcast},
	}}

	if !h.shouldSend(client, eventFor(EventFraudAlert, update("a", 90))) {
		t.Error("Should receive fraud alerts")
	}
	if !h.shouldSend(client, &Event{Type: EventBroadcast}) {
		t.Error("Should receive broadcasts")
	}
	if h.shouldSend(client, eventFor(EventTransactionUpdate, update("a", 10))) {
		t.Error("Should NOT receive transaction updates")
	}
}

func TestShouldSend_ActorFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{ActorIDs: []string{"Alice@Example.com"}}}

	if !h.shouldSend(client, eventFor(EventTransactionUpdate, update("alice@example.com", 0))) {
		t.Error("Should match user IDs case-insensitively")
	}
	if h.shouldSend(client, eventFor(EventTransactionUpdate, update("bob", 0))) {
		t.Error("Should NOT match other users")
	}
	if !h.shouldSend(client, &Event{Type: EventBroadcast}) {
		t.Error("Broadcasts ignore the user filter")
	}
}

func TestShouldSend_MinRiskScore(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinRiskScore: 50}}

	if !h.shouldSend(client, eventFor(EventTransactionUpdate, update("a", 50))) {
		t.Error("Score equal to the minimum should pass")
	}
	if h.shouldSend(client, eventFor(EventTransactionUpdate, update("a", 49))) {
		t.Error("Score below the minimum should be filtered")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, eventFor(EventReviewUpdate, update("a", 0))) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients, got %d", stats.ConnectedClients)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("Expected 0 total events, got %d", stats.TotalEvents)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats.ConnectedClients != 1 {
		t.Errorf("Expected 1 connected client, got %d", stats.ConnectedClients)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", stats.ConnectedClients)
	}
	if stats.PeakClients != 1 {
		t.Errorf("Expected peak still 1, got %d", stats.PeakClients)
	}
}

func TestHub_FraudAlertPayload(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.PublishFraudAlert(update("mallory", 95))

	select {
	case msg := <-client.send:
		var got struct {
			Type EventType  `json:"type"`
			Data FraudAlert `json:"data"`
		}
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != EventFraudAlert {
			t.Errorf("type = %q, want %q", got.Type, EventFraudAlert)
		}
		if got.Data.Message != "High-risk transaction detected: tx-mallory" {
			t.Errorf("message = %q", got.Data.Message)
		}
		if got.Data.Transaction.RiskScore != 95 {
			t.Errorf("score = %d, want 95", got.Data.Transaction.RiskScore)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for fraud alert")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{MinRiskScore: 75}}
	h.register <- client

	h.PublishTransaction(update("alice", 10))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive low-score updates")
	default:
	}

	h.Announce("maintenance at 02:00", "")
	select {
	case msg := <-client.send:
		var got struct {
			Data Announcement `json:"data"`
		}
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Data.Level != "info" {
			t.Errorf("level = %q, want info", got.Data.Level)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive broadcasts")
	}
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := testHub()
	// Run is not started, so the buffer fills up.
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Announce("x", "info")
	}
	if got := h.Stats().DroppedEvents; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
