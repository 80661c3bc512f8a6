package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventOrderCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventOrderCreated, EventDisputeOpened},
	}}

	created := &Event{Type: EventOrderCreated}
	disputed := &Event{Type: EventDisputeOpened}
	ledger := &Event{Type: EventLedgerEntry}

	if !h.shouldSend(client, created) {
		t.Error("Should receive order_created events")
	}
	if !h.shouldSend(client, disputed) {
		t.Error("Should receive dispute_opened events")
	}
	if h.shouldSend(client, ledger) {
		t.Error("Should NOT receive ledger_entry events")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"alice"},
	}}

	matchingBuyer := &Event{
		Type: EventOrderCreated,
		Data: map[string]interface{}{"buyerId": "alice", "sellerId": "bob"},
	}
	notMatching := &Event{
		Type: EventOrderCreated,
		Data: map[string]interface{}{"buyerId": "carol", "sellerId": "bob"},
	}
	matchingSeller := &Event{
		Type: EventOrderCompleted,
		Data: map[string]interface{}{"buyerId": "carol", "sellerId": "alice"},
	}
	matchingUser := &Event{
		Type: EventLedgerEntry,
		Data: map[string]interface{}{"userId": "alice"},
	}

	if !h.shouldSend(client, matchingBuyer) {
		t.Error("Should match on buyerId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated users")
	}
	if !h.shouldSend(client, matchingSeller) {
		t.Error("Should match on sellerId")
	}
	if !h.shouldSend(client, matchingUser) {
		t.Error("Should match on userId")
	}
}

func TestShouldSend_OrderFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		OrderIDs: []string{"ord_watched1"},
	}}

	matching := &Event{
		Type: EventOrderDelivered,
		Data: map[string]interface{}{"orderId": "ord_watched1"},
	}
	notMatching := &Event{
		Type: EventOrderDelivered,
		Data: map[string]interface{}{"orderId": "ord_other222"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on orderId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other orders")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventOrderCreated}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"alice"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventListingCreated,
		Data: "string data not a map",
	}

	// User filter skips non-map data (can't extract IDs), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when user filter can't extract IDs")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventOrderCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventOrderCompleted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"orderId": "ord_abc12345", "sellerNet": "4.75"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastOrderEvent(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastOrderEvent(EventOrderCreated, map[string]interface{}{
		"orderId": "ord_abc12345", "buyerId": "alice", "sellerId": "bob",
	})
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
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants disputes
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDisputeOpened}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventOrderCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should not receive filtered-out event")
	default:
		// Nothing delivered, as expected
	}

	h.Broadcast(&Event{Type: EventDisputeOpened, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for dispute event")
	}
}
