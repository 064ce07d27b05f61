package notify

import (
	"testing"
	"time"

	"venuebook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func booking(id int64, title string, day int) *models.Booking {
	start := time.Date(2024, time.January, day, 10, 0, 0, 0, time.UTC)
	return &models.Booking{ID: id, Title: title, StartTime: start, EndTime: start.Add(time.Hour)}
}

func TestGroupByUser(t *testing.T) {
	alice := &models.User{ID: 1, Name: "Alice", Preferences: models.DefaultPreferences}
	bob := &models.User{ID: 2, Name: "Bob", Preferences: models.DefaultPreferences}

	entries := []Entry{
		{User: bob, Booking: booking(10, "Standup", 1), Message: "confirmed"},
		{User: alice, Booking: booking(11, "Lecture", 2)},
		{User: bob, Booking: booking(12, "Retro", 3), Message: "confirmed"},
		{User: nil, Booking: booking(13, "Orphan", 4)},
	}

	digests := GroupByUser(KindUpdate, entries)
	require.Len(t, digests, 2)

	assert.Equal(t, bob, digests[0].User, "first appearance order")
	assert.Equal(t, "2 booking(s) updated", digests[0].Subject)
	assert.Equal(t,
		"Hello Bob,\n\nThe following bookings were updated:\n\n"+
			"1. Standup (2024-01-01 10:00 - 11:00): confirmed\n"+
			"2. Retro (2024-01-03 10:00 - 11:00): confirmed\n",
		digests[0].Body)
	assert.Len(t, digests[0].Bookings, 2)

	assert.Equal(t, alice, digests[1].User)
	assert.Contains(t, digests[1].Body, "1. Lecture (2024-01-02 10:00 - 11:00)\n")
}

func TestGroupByUserPreferences(t *testing.T) {
	noCancels := &models.User{ID: 1, Preferences: models.NewPreferenceSet(models.PreferenceBookingUpdates)}
	noUpdates := &models.User{ID: 2, Preferences: models.NewPreferenceSet(models.PreferenceBookingCancellations)}

	entries := []Entry{
		{User: noCancels, Booking: booking(1, "A", 1)},
		{User: noUpdates, Booking: booking(2, "B", 1)},
	}

	cancels := GroupByUser(KindCancellation, entries)
	require.Len(t, cancels, 1)
	assert.Equal(t, int64(2), cancels[0].User.ID)
	assert.Equal(t, "1 booking(s) cancelled", cancels[0].Subject)
	assert.NotContains(t, cancels[0].Body, "Hello", "no greeting without a name")

	updates := GroupByUser(KindUpdate, entries)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].User.ID)
}

func TestGroupByUserEmpty(t *testing.T) {
	assert.Empty(t, GroupByUser(KindUpdate, nil))
}

func TestFormatIntervalAcrossDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-01 22:00 - 2024-01-02 02:00", formatInterval(start, start.Add(4*time.Hour)))
}

func TestGroupByUserReminders(t *testing.T) {
	alice := &models.User{ID: 1, Name: "Alice", Preferences: models.DefaultPreferences}
	muted := &models.User{ID: 2, Preferences: models.NewPreferenceSet(models.PreferenceBookingUpdates)}

	digests := GroupByUser(KindReminder, []Entry{
		{User: alice, Booking: booking(1, "Lecture", 2)},
		{User: muted, Booking: booking(2, "Retro", 2)},
	})
	require.Len(t, digests, 1)
	assert.Equal(t, "1 upcoming booking(s)", digests[0].Subject)
	assert.Equal(t,
		"Hello Alice,\n\nReminder of your upcoming bookings:\n\n1. Lecture (2024-01-02 10:00 - 11:00)\n",
		digests[0].Body)
	assert.Equal(t, "reminder", KindReminder.String())
}
