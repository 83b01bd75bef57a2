package live

import (
	"context"
	"testing"
	"time"

	"brightcart/internal/testsupport/redisstub"
)

func placedEvent(orderID string) Event {
	return Event{
		Type: EventTypeOrderPlaced,
		Order: &OrderEvent{
			OrderID: orderID,
			UserID:  "usr-1",
			Status:  "pending",
		},
		OccurredAt: time.Now().UTC(),
	}
}

func TestRedisQueueDeliversEvents(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	queue, err := NewRedisQueue(RedisQueueConfig{
		Addr:         srv.Addr(),
		Stream:       "test-orders",
		Group:        "test-feed",
		BlockTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	sub := queue.Subscribe()
	t.Cleanup(sub.Close)

	if err := queue.Publish(context.Background(), placedEvent("ord-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Order == nil || got.Order.OrderID != "ord-1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisQueueRequeuesOnCancellation(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	queue, err := NewRedisQueue(RedisQueueConfig{
		Addr:         srv.Addr(),
		Password:     "secret",
		Stream:       "test-orders",
		Group:        "test-feed",
		BlockTimeout: 50 * time.Millisecond,
		Buffer:       1,
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	sub := queue.Subscribe()

	if err := queue.Publish(context.Background(), placedEvent("ord-1")); err != nil {
		t.Fatalf("publish first event: %v", err)
	}
	if err := queue.Publish(context.Background(), placedEvent("ord-2")); err != nil {
		t.Fatalf("publish second event: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	sub.Close()

	var drained []Event
	for evt := range sub.Events() {
		drained = append(drained, evt)
	}
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained event, got %d", len(drained))
	}
	if drained[0].Order == nil || drained[0].Order.OrderID != "ord-1" {
		t.Fatalf("unexpected drained event: %+v", drained[0])
	}

	replacement := queue.Subscribe()
	t.Cleanup(replacement.Close)

	select {
	case got := <-replacement.Events():
		if got.Order == nil || got.Order.OrderID != "ord-2" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for requeued event")
	}
}
