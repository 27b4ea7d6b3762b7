package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusInvokesTypedHandlers(t *testing.T) {
	bus := NewBus()
	var planEvents, runEvents []Event

	bus.Subscribe(EventPlanApproved, func(_ context.Context, e Event) error {
		planEvents = append(planEvents, e)
		return nil
	})
	bus.Subscribe(EventRunCompleted, func(_ context.Context, e Event) error {
		runEvents = append(runEvents, e)
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventPlanApproved, TenantID: "acme"})

	require.Len(t, planEvents, 1)
	assert.Empty(t, runEvents)
	assert.Equal(t, "acme", planEvents[0].TenantID)
}

func TestBusSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()
	var seen []EventType
	bus.SubscribeAll(func(_ context.Context, e Event) error {
		seen = append(seen, e.Type)
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventPlanCreated, TenantID: "acme"})
	bus.Publish(context.Background(), Event{Type: EventRunFailed, TenantID: "acme"})

	assert.Equal(t, []EventType{EventPlanCreated, EventRunFailed}, seen)
}

func TestBusFillsDeliveryIDAndTimestamp(t *testing.T) {
	bus := NewBus()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }

	var got Event
	bus.Subscribe(EventModelRegistered, func(_ context.Context, e Event) error {
		got = e
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventModelRegistered, TenantID: "acme"})

	assert.NotEmpty(t, got.DeliveryID)
	assert.Equal(t, now, got.OccurredAt)
}

func TestBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus()
	var called bool
	bus.Subscribe(EventPlanRejected, func(_ context.Context, _ Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(EventPlanRejected, func(_ context.Context, _ Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventPlanRejected, TenantID: "acme"})

	assert.True(t, called)
}

func TestBusHandlerCount(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.HandlerCount(EventPlanApplied))

	bus.Subscribe(EventPlanApplied, func(_ context.Context, _ Event) error { return nil })
	bus.SubscribeAll(func(_ context.Context, _ Event) error { return nil })

	assert.Equal(t, 2, bus.HandlerCount(EventPlanApplied))
	assert.Equal(t, 1, bus.HandlerCount(EventRunCompleted))
}
