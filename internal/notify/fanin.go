// Package notify turns booking changes into consolidated per-user messages
// and routes them to delivery channels.
package notify

import (
	"fmt"
	"strings"
	"time"

	"venuebook/internal/models"
)

// Kind selects the notification preference a digest is gated on.
type Kind int

const (
	KindUpdate Kind = iota
	KindCancellation
	KindReminder
)

func (k Kind) String() string {
	switch k {
	case KindCancellation:
		return "cancellation"
	case KindReminder:
		return "reminder"
	default:
		return "update"
	}
}

func (k Kind) preference() models.Preference {
	switch k {
	case KindCancellation:
		return models.PreferenceBookingCancellations
	case KindReminder:
		return models.PreferenceReminders
	default:
		return models.PreferenceBookingUpdates
	}
}

// Entry is one affected booking of a bulk operation.
type Entry struct {
	User    *models.User
	Booking *models.Booking
	Message string
}

// Digest is the single consolidated message for one user.
type Digest struct {
	User     *models.User
	Subject  string
	Body     string
	Bookings []*models.Booking
}

const timeLayout = "2006-01-02 15:04"

// GroupByUser groups entries by user id in first-appearance order and renders
// one digest per user. Entries without a user are skipped, as are users who
// disabled the preference for kind.
func GroupByUser(kind Kind, entries []Entry) []Digest {
	type group struct {
		user    *models.User
		entries []Entry
	}

	var order []int64
	groups := make(map[int64]*group)
	for _, e := range entries {
		if e.User == nil || e.Booking == nil {
			continue
		}
		g, ok := groups[e.User.ID]
		if !ok {
			g = &group{user: e.User}
			groups[e.User.ID] = g
			order = append(order, e.User.ID)
		}
		g.entries = append(g.entries, e)
	}

	digests := make([]Digest, 0, len(order))
	for _, id := range order {
		g := groups[id]
		if !g.user.Preferences.Has(kind.preference()) {
			continue
		}
		digests = append(digests, render(kind, g.user, g.entries))
	}
	return digests
}

func render(kind Kind, user *models.User, entries []Entry) Digest {
	var b strings.Builder
	if user.Name != "" {
		fmt.Fprintf(&b, "Hello %s,\n\n", user.Name)
	}

	var subject string
	switch kind {
	case KindReminder:
		subject = fmt.Sprintf("%d upcoming booking(s)", len(entries))
		b.WriteString("Reminder of your upcoming bookings:\n\n")
	case KindCancellation:
		subject = fmt.Sprintf("%d booking(s) cancelled", len(entries))
		b.WriteString("The following bookings were cancelled:\n\n")
	default:
		subject = fmt.Sprintf("%d booking(s) updated", len(entries))
		b.WriteString("The following bookings were updated:\n\n")
	}

	bookings := make([]*models.Booking, 0, len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, e.Booking.Title, formatInterval(e.Booking.StartTime, e.Booking.EndTime))
		if e.Message != "" {
			fmt.Fprintf(&b, ": %s", e.Message)
		}
		b.WriteByte('\n')
		bookings = append(bookings, e.Booking)
	}

	return Digest{
		User:     user,
		Subject:  subject,
		Body:     b.String(),
		Bookings: bookings,
	}
}

func formatInterval(start, end time.Time) string {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return start.Format(timeLayout) + " - " + end.Format("15:04")
	}
	return start.Format(timeLayout) + " - " + end.Format(timeLayout)
}
