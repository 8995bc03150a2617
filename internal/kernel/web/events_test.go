package web

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	received []Event
}

func newFakeSubscriber(id string) *fakeSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSubscriber{id: id, ctx: ctx, cancel: cancel}
}

func (f *fakeSubscriber) ID() string             { return f.id }
func (f *fakeSubscriber) Context() context.Context { return f.ctx }
func (f *fakeSubscriber) Close() error            { f.cancel(); return nil }
func (f *fakeSubscriber) Send(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, e)
	return nil
}

func TestEventBusPublishDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = bus.Start(ctx)
	defer bus.Stop(context.Background())

	sub := newFakeSubscriber("s1")
	_ = bus.Subscribe(sub)

	if err := bus.Publish(*NewEvent(EventTypePluginLoaded, map[string]any{"id": "sample"}, EventSourcePluginMgr)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		n := len(sub.received)
		sub.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.received) != 1 {
		t.Fatalf("expected 1 event delivered, got %d", len(sub.received))
	}
	if sub.received[0].Type != EventTypePluginLoaded {
		t.Fatalf("event type = %q", sub.received[0].Type)
	}
}

func TestEventBusActiveSubscribersCount(t *testing.T) {
	bus := NewEventBus(nil, nil)
	sub1 := newFakeSubscriber("a")
	sub2 := newFakeSubscriber("b")
	_ = bus.Subscribe(sub1)
	_ = bus.Subscribe(sub2)
	if bus.ActiveSubscribers() != 2 {
		t.Fatalf("ActiveSubscribers = %d", bus.ActiveSubscribers())
	}
	_ = bus.Unsubscribe(sub1)
	if bus.ActiveSubscribers() != 1 {
		t.Fatalf("ActiveSubscribers after unsubscribe = %d", bus.ActiveSubscribers())
	}
}
