package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

func waitConnected(t *testing.T, hub *Hub, id uuid.UUID, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Connected(id) != n {
		if time.Now().After(deadline) {
			t.Fatalf("connected = %d, want %d", hub.Connected(id), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFeedDeliversToOwnerOnly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	owner, other := uuid.New(), uuid.New()
	a, b := NewClient(owner), NewClient(other)
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	waitConnected(t, hub, owner, 1)
	waitConnected(t, hub, other, 1)

	feed := NewPaymentFeed(hub, nil)
	feed.PaymentUpdated(models.PaymentRecord{
		ConsultantID: owner,
		Status:       models.PaymentSettled,
		Amount:       100000,
		NetAmount:    85000,
		Currency:     "usd",
		Hold:         models.EscrowHold{ID: uuid.New(), MilestoneID: "ms-1"},
	})

	select {
	case raw := <-a.Send:
		var msg PaymentMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "payment_updated" || msg.Status != "settled" || msg.NetAmount != 85000 {
			t.Fatalf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("owner got nothing")
	}
	select {
	case raw := <-b.Send:
		t.Fatalf("other consultant received %s", raw)
	default:
	}

	hub.UnregisterClient(a)
	waitConnected(t, hub, owner, 0)
}

func TestHubStopsCleanly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	id := uuid.New()
	c := NewClient(id)
	hub.RegisterClient(c)
	waitConnected(t, hub, id, 1)

	cancel()
	<-stopped
	if _, open := <-c.Send; open {
		t.Fatal("send channel still open after stop")
	}

	// late sockets must not block once the hub is gone
	late := NewClient(id)
	hub.RegisterClient(late)
	hub.UnregisterClient(late)
	hub.UnregisterClient(c)
	if _, open := <-late.Send; open {
		t.Fatal("late client send channel left open")
	}
	if hub.Connected(id) != 0 {
		t.Fatalf("connected = %d after stop", hub.Connected(id))
	}
}
