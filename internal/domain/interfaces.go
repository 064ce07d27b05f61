package domain

import (
	"context"
	"time"

	"venuebook/internal/models"
)

// BookingFilter selects bookings of one resource. Zero Start/End disables the
// overlap predicate; a zero ExcludeID excludes nothing.
type BookingFilter struct {
	Resource  models.ResourceRef
	Statuses  []models.BookingStatus
	Start     time.Time
	End       time.Time
	ExcludeID int64
}

// Store is the persistence collaborator of the booking core.
type Store interface {
	// FindBookings returns matching bookings ordered by start time.
	FindBookings(ctx context.Context, filter BookingFilter) ([]*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	CreateRecurrencePattern(ctx context.Context, pattern *models.RecurrencePattern) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// GetRecurrencePattern returns nil, nil when the booking has no pattern.
	GetRecurrencePattern(ctx context.Context, parentBookingID int64) (*models.RecurrencePattern, error)
	// GetSeriesBookings returns the root and its children ordered by occurrence number.
	GetSeriesBookings(ctx context.Context, rootID int64) ([]*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus, reason string) error
	DeleteBooking(ctx context.Context, id int64) error
	// ListRooms is ordered by name; ListVenues by campus, building, room name.
	ListRooms(ctx context.Context, includeInactive bool) ([]*models.Room, error)
	ListVenues(ctx context.Context) ([]*models.ExternalVenue, error)
	GetResource(ctx context.Context, ref models.ResourceRef) (*models.Resource, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Repository is a Store that can run work inside one atomic transaction.
// Returning an error from fn rolls back everything fn wrote.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// ResourceLocker provides advisory per-resource locks around write paths.
// The returned release func must be called exactly once.
type ResourceLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier accepts consolidated notifications for best-effort delivery.
type Notifier interface {
	Enqueue(ctx context.Context, user *models.User, subject, body string)
}
