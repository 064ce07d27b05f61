package models

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending          BookingStatus = "PENDING"
	StatusConfirmed        BookingStatus = "CONFIRMED"
	StatusAwaitingExternal BookingStatus = "AWAITING_EXTERNAL"
	StatusRejected         BookingStatus = "REJECTED"
	StatusCancelled        BookingStatus = "CANCELLED"
)

// ActiveStatuses occupy a resource. REJECTED and CANCELLED never conflict.
var ActiveStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusAwaitingExternal}

// IsActive reports whether the status occupies the booked resource.
func (s BookingStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusAwaitingExternal:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	return s.IsActive() || s == StatusRejected || s == StatusCancelled
}

type Booking struct {
	ID               int64         `json:"id"`
	UserID           *int64        `json:"user_id,omitempty"`
	UserName         string        `json:"user_name,omitempty"`
	UserEmail        string        `json:"user_email,omitempty"`
	RoomID           *int64        `json:"room_id,omitempty"`
	ExternalVenueID  *int64        `json:"external_venue_id,omitempty"`
	Title            string        `json:"title"`
	AttendeeCount    *int          `json:"attendee_count,omitempty"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Status           BookingStatus `json:"status"`
	RejectionReason  string        `json:"rejection_reason,omitempty"`
	ParentBookingID  *int64        `json:"parent_booking_id,omitempty"`
	OccurrenceNumber *int          `json:"occurrence_number,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Resource returns the room or venue the booking targets. ok is false when
// the booking has no resource set.
func (b *Booking) Resource() (ResourceRef, bool) {
	switch {
	case b.RoomID != nil:
		return ResourceRef{Kind: ResourceRoom, ID: *b.RoomID}, true
	case b.ExternalVenueID != nil:
		return ResourceRef{Kind: ResourceVenue, ID: *b.ExternalVenueID}, true
	default:
		return ResourceRef{}, false
	}
}

// SetResource points the booking at ref, clearing the other foreign key.
func (b *Booking) SetResource(ref ResourceRef) {
	id := ref.ID
	switch ref.Kind {
	case ResourceRoom:
		b.RoomID, b.ExternalVenueID = &id, nil
	case ResourceVenue:
		b.RoomID, b.ExternalVenueID = nil, &id
	}
}

// SeriesRootID returns the id of the booking that roots this booking's series.
func (b *Booking) SeriesRootID() int64 {
	if b.ParentBookingID != nil {
		return *b.ParentBookingID
	}
	return b.ID
}

// Validate checks the row-level invariants of a booking.
func (b *Booking) Validate() error {
	if !b.StartTime.Before(b.EndTime) {
		return fmt.Errorf("start_time must be before end_time")
	}
	if b.RoomID != nil && b.ExternalVenueID != nil {
		return fmt.Errorf("booking cannot target both a room and an external venue")
	}
	if b.Status != "" && !b.Status.Valid() {
		return fmt.Errorf("unknown status %q", b.Status)
	}
	return nil
}

// Clone returns a deep copy, so callers can hand out bookings without sharing pointers.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.UserID = cloneInt64(b.UserID)
	c.RoomID = cloneInt64(b.RoomID)
	c.ExternalVenueID = cloneInt64(b.ExternalVenueID)
	c.ParentBookingID = cloneInt64(b.ParentBookingID)
	c.AttendeeCount = cloneInt(b.AttendeeCount)
	c.OccurrenceNumber = cloneInt(b.OccurrenceNumber)
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Int64Ptr and IntPtr are small helpers for optional columns.
func Int64Ptr(v int64) *int64 { return &v }

func IntPtr(v int) *int { return &v }
