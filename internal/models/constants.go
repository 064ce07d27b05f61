package models

import "time"

// ConflictView is the read-only projection of an occupying booking returned by
// availability checks. Owner is only populated for admin viewers.
type ConflictView struct {
	BookingID int64          `json:"booking_id"`
	Title     string         `json:"title"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Status    BookingStatus  `json:"status"`
	Owner     *ConflictOwner `json:"owner,omitempty"`
}

type ConflictOwner struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// RedactedTitle is what non-admin viewers see in place of a conflicting booking's title.
const RedactedTitle = "Booked"

// NewConflictView projects b for the given viewer.
func NewConflictView(b *Booking, viewer Identity) ConflictView {
	v := ConflictView{
		BookingID: b.ID,
		Title:     RedactedTitle,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Status:    b.Status,
	}
	if viewer.IsAdmin() {
		v.Title = b.Title
		if b.UserID != nil {
			v.Owner = &ConflictOwner{UserID: *b.UserID, Name: b.UserName, Email: b.UserEmail}
		}
	}
	return v
}

const (
	// DefaultLockTTL bounds how long an advisory resource lock may be held.
	DefaultLockTTL = 10 * time.Second

	// DefaultLockWait is how long a writer waits for a contended resource lock.
	DefaultLockWait = 3 * time.Second

	// NotificationQueueSize is the default capacity of the dispatch queue.
	NotificationQueueSize = 256

	// GenerationSafetyFactor bounds generator iterations to factor × maxOccurrences.
	GenerationSafetyFactor = 10
)
