package api

import (
    "testing"
    "time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("ord1")
    b.Publish("ord1", SSEEvent{Type: "order.shipped", Data: map[string]any{"orderId": "ord1"}})
    select {
    case evt := <-ch:
        if evt.Type != "order.shipped" {
            t.Fatalf("unexpected event: %+v", evt)
        }
    case <-time.After(time.Second):
        t.Fatalf("no event received")
    }
    b.Unsubscribe("ord1", ch)
}

func TestBrokerIsolatesOrders(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("ord1")
    defer b.Unsubscribe("ord1", ch)
    b.Publish("ord2", SSEEvent{Type: "order.shipped"})
    select {
    case evt := <-ch:
        t.Fatalf("received event for another order: %+v", evt)
    case <-time.After(50 * time.Millisecond):
    }
}

func TestRedisBrokerUnsubscribeLeavesChannelOpen(t *testing.T) {
    // No Redis needed: the client connects lazily. Unsubscribe must never
    // close the event channel itself; the forwarding goroutine owns that,
    // so a pubsub message racing a disconnect cannot hit a closed channel.
    b, err := NewRedisBroker("redis://localhost:6379/0")
    if err != nil {
        t.Fatalf("broker init: %v", err)
    }
    ch := make(chan SSEEvent, 1)
    b.Unsubscribe("ord1", ch)
    ch <- SSEEvent{Type: "order.shipped"} // panics if Unsubscribe closed ch
    if evt := <-ch; evt.Type != "order.shipped" {
        t.Fatalf("channel corrupted after unsubscribe: %+v", evt)
    }
}

func TestBrokerDropsWhenSubscriberSlow(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("ord1")
    defer b.Unsubscribe("ord1", ch)
    // Channel buffer is 8; extra publishes must not block.
    done := make(chan struct{})
    go func() {
        for i := 0; i < 100; i++ {
            b.Publish("ord1", SSEEvent{Type: "x"})
        }
        close(done)
    }()
    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatalf("publish blocked on slow subscriber")
    }
}
