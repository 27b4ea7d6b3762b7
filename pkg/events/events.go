package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/log"
)

// EventType identifies what happened.
type EventType string

const (
	EventPlanCreated       EventType = "plan.created"
	EventPlanApproved      EventType = "plan.approved"
	EventPlanRejected      EventType = "plan.rejected"
	EventPlanApplied       EventType = "plan.applied"
	EventPlanFailed        EventType = "plan.failed"
	EventPlanCancelled     EventType = "plan.cancelled"
	EventRunCompleted      EventType = "run.completed"
	EventRunFailed         EventType = "run.failed"
	EventModelRegistered   EventType = "model.registered"
	EventScheduleTriggered EventType = "schedule.triggered"
)

// Event is one occurrence on the bus. DeliveryID doubles as the
// correlation id on webhook deliveries so receivers can de-duplicate.
type Event struct {
	DeliveryID string            `json:"delivery_id"`
	Type       EventType         `json:"type"`
	TenantID   string            `json:"tenant_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Handler reacts to a published event. Returned errors are logged and
// never propagate to the publisher.
type Handler func(ctx context.Context, event Event) error

// Bus fans events out to typed handlers. Publication is synchronous at
// the registry level; handlers doing slow work spawn their own goroutines.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	now      func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		now:      time.Now,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish fills in the delivery id and timestamp if unset, then invokes
// every matching handler. Handler failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.DeliveryID == "" {
		event.DeliveryID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	busLog := log.WithComponent("events")
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			busLog.Warn().
				Err(err).
				Str("event_type", string(event.Type)).
				Str("delivery_id", event.DeliveryID).
				Str("tenant_id", event.TenantID).
				Msg("event handler failed")
		}
	}
}

// HandlerCount returns the number of handlers that would see eventType.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) + len(b.all)
}
