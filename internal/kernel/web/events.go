package web

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/concordkernel/appserver/internal/metrics"
)

// Event is one kernel state-change notification broadcast to admin
// clients watching the "/admin/events" websocket stream.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Sequence  int64          `json:"sequence"`
}

// Event type constants for kernel lifecycle notifications.
const (
	EventTypeObjectStored     = "object_stored"
	EventTypeObjectRemoved    = "object_removed"
	EventTypePluginLoaded     = "plugin_loaded"
	EventTypePluginUnloaded   = "plugin_unloaded"
	EventTypeSessionCreated   = "session_created"
	EventTypeSessionDestroyed = "session_destroyed"
	EventTypeEnvironmentReset = "environment_reset"
)

// Event source constants.
const (
	EventSourceStorage     = "storage"
	EventSourcePluginMgr   = "plugin_manager"
	EventSourceSessionMgr  = "session_manager"
	EventSourceAppContext  = "app_context"
)

// NewEvent returns an Event of eventType carrying data, tagged with
// source. Sequence is assigned by EventBus.Publish.
func NewEvent(eventType string, data map[string]any, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        uuid.NewString(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// EventSubscriber is one connected admin client (a websocket connection
// in production, an in-memory channel in tests).
type EventSubscriber interface {
	ID() string
	Send(event Event) error
	Close() error
	Context() context.Context
}

// EventBus fans out kernel lifecycle events to every connected admin
// subscriber, decoupling the producers (storage, plugin manager,
// session manager, app context) from the websocket transport.
type EventBus interface {
	Subscribe(subscriber EventSubscriber) error
	Unsubscribe(subscriber EventSubscriber) error
	Publish(event Event) error
	ActiveSubscribers() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DefaultEventBus is the standard in-process EventBus: a buffered
// channel drained by one broadcast worker, fanning each event out to
// subscribers concurrently.
type DefaultEventBus struct {
	mu          sync.RWMutex
	subscribers map[EventSubscriber]bool

	eventChan chan Event
	sequence  int64

	logger  *slog.Logger
	metrics *metrics.EventMetrics

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEventBus returns a DefaultEventBus with a 1000-event backlog
// buffer; events published past that backlog are dropped and counted
// rather than blocking the publisher.
func NewEventBus(logger *slog.Logger, m *metrics.EventMetrics) *DefaultEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultEventBus{
		subscribers: make(map[EventSubscriber]bool),
		eventChan:   make(chan Event, 1000),
		logger:      logger.With("component", "event_bus"),
		metrics:     m,
		stopChan:    make(chan struct{}),
	}
}

func (b *DefaultEventBus) Subscribe(subscriber EventSubscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[subscriber] = true
	b.logger.Info("admin subscriber added", "subscriber_id", subscriber.ID(), "total", len(b.subscribers))
	if b.metrics != nil {
		b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
	}
	return nil
}

func (b *DefaultEventBus) Unsubscribe(subscriber EventSubscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[subscriber]; ok {
		delete(b.subscribers, subscriber)
		_ = subscriber.Close()
		b.logger.Info("admin subscriber removed", "subscriber_id", subscriber.ID(), "total", len(b.subscribers))
		if b.metrics != nil {
			b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
		}
	}
	return nil
}

func (b *DefaultEventBus) Publish(event Event) error {
	event.Sequence = atomic.AddInt64(&b.sequence, 1)
	select {
	case b.eventChan <- event:
		return nil
	default:
		b.logger.Warn("admin event channel full, dropping event", "type", event.Type, "id", event.ID)
		if b.metrics != nil {
			b.metrics.ErrorsTotal.WithLabelValues("channel_full").Inc()
		}
		return ErrEventChannelFull
	}
}

func (b *DefaultEventBus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *DefaultEventBus) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.broadcastWorker(ctx)
	b.logger.Info("admin event bus started")
	return nil
}

func (b *DefaultEventBus) Stop(ctx context.Context) error {
	close(b.stopChan)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *DefaultEventBus) broadcastWorker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case event := <-b.eventChan:
			b.broadcastEvent(event)
		}
	}
}

func (b *DefaultEventBus) broadcastEvent(event Event) {
	start := time.Now()

	b.mu.RLock()
	subs := make([]EventSubscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s EventSubscriber) {
			defer wg.Done()
			select {
			case <-s.Context().Done():
				_ = b.Unsubscribe(s)
				return
			default:
			}
			if err := s.Send(event); err != nil {
				b.logger.Warn("failed to deliver admin event", "subscriber_id", s.ID(), "error", err)
				_ = b.Unsubscribe(s)
			}
		}(sub)
	}
	wg.Wait()

	if b.metrics != nil {
		b.metrics.EventsTotal.WithLabelValues(event.Type, event.Source).Inc()
		b.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
}
