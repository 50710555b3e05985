package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"stolik/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	payload := map[string]string{"foo": "bar"}
	require.NoError(t, bus.PublishJSON("test_event", payload))

	assert.Equal(t, 1, callCount)
	assert.Equal(t, "test_event", received.Type)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2, countAll int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.SubscribeAll(func(_ *Event) error { countAll++; return nil })

	assert.NoError(t, bus.Publish(&Event{Type: "event"}))
	assert.NoError(t, bus.Publish(&Event{Type: "other"}))

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
	assert.Equal(t, 2, countAll)
}

func TestEventBusHandlerError(t *testing.T) {
	bus := NewEventBus()
	var called bool

	bus.Subscribe("event", func(_ *Event) error { return errors.New("first") })
	bus.Subscribe("event", func(_ *Event) error { called = true; return errors.New("second") })

	err := bus.Publish(&Event{Type: "event"})
	assert.EqualError(t, err, "first")
	assert.True(t, called, "later handlers still run")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	assert.NoError(t, bus.Publish(&Event{Type: "unknown"}))
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	at := time.Date(2030, 1, 2, 20, 0, 0, 0, time.UTC)
	payload := NewBookingPayload(&models.Booking{ID: 123, RestaurantID: 3, TableID: 6, PartySize: 2, BookingAt: at})
	event, err := NewJSONEvent(models.EventBookingCreated, payload)
	require.NoError(t, err)

	assert.Equal(t, models.EventBookingCreated, event.Type)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, int64(123), decoded.BookingID)
	assert.Equal(t, models.StateConfirmed, decoded.State)
	assert.True(t, decoded.BookingAt.Equal(at))
	assert.Nil(t, decoded.ArrivalAt)
}
