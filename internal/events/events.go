package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"venuebook/internal/models"
)

const (
	EventBookingCreated       = "booking_created"
	EventSeriesCreated        = "series_created"
	EventSeriesCancelled      = "series_cancelled"
	EventBookingStatusChanged = "booking_status_changed"
	EventBookingDeleted       = "booking_deleted"
)

// AllTypes lists every event type published by the services.
var AllTypes = []string{
	EventBookingCreated,
	EventSeriesCreated,
	EventSeriesCancelled,
	EventBookingStatusChanged,
	EventBookingDeleted,
}

// BookingEventPayload is the booking snapshot delivered to event consumers.
type BookingEventPayload struct {
	BookingID        int64                `json:"booking_id"`
	UserID           *int64               `json:"user_id,omitempty"`
	Resource         models.ResourceRef   `json:"resource"`
	Title            string               `json:"title"`
	Status           models.BookingStatus `json:"status"`
	StartTime        time.Time            `json:"start_time"`
	EndTime          time.Time            `json:"end_time"`
	ParentBookingID  *int64               `json:"parent_booking_id,omitempty"`
	OccurrenceNumber *int                 `json:"occurrence_number,omitempty"`
	ChangedByID      int64                `json:"changed_by_id,omitempty"`
}

// NewBookingPayload snapshots b for publishing.
func NewBookingPayload(b *models.Booking, changedBy int64) BookingEventPayload {
	ref, _ := b.Resource()
	return BookingEventPayload{
		BookingID:        b.ID,
		UserID:           b.UserID,
		Resource:         ref,
		Title:            b.Title,
		Status:           b.Status,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		ParentBookingID:  b.ParentBookingID,
		OccurrenceNumber: b.OccurrenceNumber,
		ChangedByID:      changedBy,
	}
}

// SeriesEventPayload describes a committed or cancelled series.
type SeriesEventPayload struct {
	ParentBookingID int64              `json:"parent_booking_id"`
	Resource        models.ResourceRef `json:"resource"`
	Frequency       models.Frequency   `json:"frequency,omitempty"`
	Occurrences     int                `json:"occurrences"`
	RRule           string             `json:"rrule,omitempty"`
	ChangedByID     int64              `json:"changed_by_id,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs every handler of the event type synchronously. All handlers
// run even when some fail; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
