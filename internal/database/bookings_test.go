package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hour(h int) time.Time {
	return time.Date(2024, time.January, 1, h, 0, 0, 0, time.UTC)
}

func roomBooking(roomID int64, title string, start, end time.Time, status models.BookingStatus) *models.Booking {
	return &models.Booking{
		UserID:    models.Int64Ptr(7),
		UserName:  "Ada",
		UserEmail: "ada@example.com",
		RoomID:    models.Int64Ptr(roomID),
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Status:    status,
	}
}

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	b := roomBooking(room, "Standup", hour(9), hour(10), "")
	b.AttendeeCount = models.IntPtr(5)
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, hour(9), got.StartTime)
	assert.Equal(t, hour(10), got.EndTime)
	assert.Equal(t, 5, *got.AttendeeCount)
	assert.Nil(t, got.ExternalVenueID)
	assert.Nil(t, got.ParentBookingID)

	ref, ok := got.Resource()
	require.True(t, ok)
	assert.Equal(t, models.ResourceRef{Kind: models.ResourceRoom, ID: room}, ref)

	_, err = db.GetBooking(ctx, 999)
	assert.True(t, domain.IsNotFound(err))
}

func TestCreateBooking_RejectsInvalidRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := roomBooking(1, "Backwards", hour(10), hour(9), "")
	assert.True(t, domain.IsValidation(db.CreateBooking(ctx, b)))

	both := roomBooking(1, "Both", hour(9), hour(10), "")
	both.ExternalVenueID = models.Int64Ptr(1)
	assert.True(t, domain.IsValidation(db.CreateBooking(ctx, both)))
}

func TestFindBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ids := seedRooms(t, db, "A", "B")
	roomA, roomB := ids[0], ids[1]

	late := roomBooking(roomA, "late", hour(14), hour(15), models.StatusConfirmed)
	early := roomBooking(roomA, "early", hour(9), hour(10), models.StatusPending)
	cancelled := roomBooking(roomA, "cancelled", hour(9), hour(12), models.StatusCancelled)
	other := roomBooking(roomB, "other", hour(9), hour(12), models.StatusConfirmed)
	for _, b := range []*models.Booking{late, early, cancelled, other} {
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	roomARef := models.ResourceRef{Kind: models.ResourceRoom, ID: roomA}

	all, err := db.FindBookings(ctx, domain.BookingFilter{Resource: roomARef})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "early", all[0].Title)
	assert.Equal(t, "late", all[2].Title)

	active, err := db.FindBookings(ctx, domain.BookingFilter{Resource: roomARef, Statuses: models.ActiveStatuses})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	window, err := db.FindBookings(ctx, domain.BookingFilter{
		Resource: roomARef,
		Statuses: models.ActiveStatuses,
		Start:    hour(10),
		End:      hour(14),
	})
	require.NoError(t, err)
	assert.Empty(t, window, "touching intervals must not match")

	window, err = db.FindBookings(ctx, domain.BookingFilter{
		Resource:  roomARef,
		Start:     hour(9),
		End:       hour(15),
		ExcludeID: early.ID,
	})
	require.NoError(t, err)
	require.Len(t, window, 2)
	for _, b := range window {
		assert.NotEqual(t, early.ID, b.ID)
	}

	venueRef := models.ResourceRef{Kind: models.ResourceVenue, ID: roomA}
	none, err := db.FindBookings(ctx, domain.BookingFilter{Resource: venueRef})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = db.FindBookings(ctx, domain.BookingFilter{Resource: models.ResourceRef{Kind: "desk"}})
	assert.Error(t, err)
}

func createSeriesRows(t *testing.T, store domain.Store, roomID int64, n int) (*models.Booking, []*models.Booking) {
	t.Helper()
	ctx := context.Background()

	parent := roomBooking(roomID, "Weekly sync", hour(9), hour(10), models.StatusPending)
	parent.OccurrenceNumber = models.IntPtr(1)
	require.NoError(t, store.CreateBooking(ctx, parent))

	require.NoError(t, store.CreateRecurrencePattern(ctx, &models.RecurrencePattern{
		ParentBookingID: parent.ID,
		Frequency:       models.FrequencyWeekly,
		DaysOfWeek:      []string{"MON", "WED"},
		MaxOccurrences:  n,
	}))

	children := make([]*models.Booking, 0, n-1)
	for i := 2; i <= n; i++ {
		c := roomBooking(roomID, "Weekly sync", hour(9).AddDate(0, 0, 7*(i-1)), hour(10).AddDate(0, 0, 7*(i-1)), models.StatusPending)
		c.ParentBookingID = models.Int64Ptr(parent.ID)
		c.OccurrenceNumber = models.IntPtr(i)
		require.NoError(t, store.CreateBooking(ctx, c))
		children = append(children, c)
	}
	return parent, children
}

func TestSeriesRowsAndPattern(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	parent, children := createSeriesRows(t, db, room, 4)

	series, err := db.GetSeriesBookings(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, series, 4)
	for i, b := range series {
		assert.Equal(t, i+1, *b.OccurrenceNumber)
	}
	assert.Equal(t, parent.ID, series[0].ID)
	assert.Equal(t, children[2].ID, series[3].ID)

	p, err := db.GetRecurrencePattern(ctx, parent.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.FrequencyWeekly, p.Frequency)
	assert.Equal(t, []string{"MON", "WED"}, p.DaysOfWeek)
	assert.Equal(t, 1, p.Interval)
	assert.Nil(t, p.EndDate)

	none, err := db.GetRecurrencePattern(ctx, children[0].ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPatternEndDateRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	parent := roomBooking(room, "Daily", hour(9), hour(10), models.StatusPending)
	require.NoError(t, db.CreateBooking(ctx, parent))

	end := hour(9).AddDate(0, 0, 5)
	require.NoError(t, db.CreateRecurrencePattern(ctx, &models.RecurrencePattern{
		ParentBookingID: parent.ID,
		Frequency:       models.FrequencyDaily,
		Interval:        2,
		MaxOccurrences:  3,
		EndDate:         &end,
		UTCOffset:       -5 * 3600,
	}))

	p, err := db.GetRecurrencePattern(ctx, parent.ID)
	require.NoError(t, err)
	require.NotNil(t, p.EndDate)
	assert.Equal(t, end, *p.EndDate)
	assert.Empty(t, p.DaysOfWeek)
	assert.Equal(t, 2, p.Interval)
	assert.Equal(t, -5*3600, p.UTCOffset)
}

func TestDeleteParentCascades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	parent, children := createSeriesRows(t, db, room, 3)
	require.NoError(t, db.DeleteBooking(ctx, parent.ID))

	for _, c := range children {
		_, err := db.GetBooking(ctx, c.ID)
		assert.True(t, domain.IsNotFound(err))
	}
	p, err := db.GetRecurrencePattern(ctx, parent.ID)
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.True(t, domain.IsNotFound(db.DeleteBooking(ctx, parent.ID)))
}

func TestUpdateBookingStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	b := roomBooking(room, "Review", hour(9), hour(10), models.StatusPending)
	require.NoError(t, db.CreateBooking(ctx, b))

	require.NoError(t, db.UpdateBookingStatus(ctx, b.ID, models.StatusRejected, "double booked"))
	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "double booked", got.RejectionReason)

	assert.True(t, domain.IsNotFound(db.UpdateBookingStatus(ctx, 404, models.StatusConfirmed, "")))
	assert.True(t, domain.IsValidation(db.UpdateBookingStatus(ctx, b.ID, "ARCHIVED", "")))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	var parentID int64
	boom := errors.New("child insert failed")
	err := db.WithTx(ctx, func(tx domain.Store) error {
		parent, _ := createSeriesRows(t, tx, room, 3)
		parentID = parent.ID
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.GetBooking(ctx, parentID)
	assert.True(t, domain.IsNotFound(err))

	all, err := db.FindBookings(ctx, domain.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	p, err := db.GetRecurrencePattern(ctx, parentID)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestWithTx_Commits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	room := seedRooms(t, db, "Aula")[0]

	var parentID int64
	require.NoError(t, db.WithTx(ctx, func(tx domain.Store) error {
		parent, _ := createSeriesRows(t, tx, room, 2)
		parentID = parent.ID
		return nil
	}))

	series, err := db.GetSeriesBookings(ctx, parentID)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestWithTx_DriverFailureRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	logger := zerolog.Nop()
	db := NewFromSQL(sqlDB, "", &logger)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO recurrence_patterns").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO bookings").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = db.WithTx(context.Background(), func(tx domain.Store) error {
		ctx := context.Background()
		parent := roomBooking(1, "Series", hour(9), hour(10), models.StatusPending)
		if err := tx.CreateBooking(ctx, parent); err != nil {
			return err
		}
		if err := tx.CreateRecurrencePattern(ctx, &models.RecurrencePattern{
			ParentBookingID: parent.ID,
			Frequency:       models.FrequencyDaily,
			MaxOccurrences:  3,
		}); err != nil {
			return err
		}
		for i := 2; i <= 3; i++ {
			c := roomBooking(1, "Series", hour(9).AddDate(0, 0, i-1), hour(10).AddDate(0, 0, i-1), models.StatusPending)
			c.ParentBookingID = models.Int64Ptr(parent.ID)
			c.OccurrenceNumber = models.IntPtr(i)
			if err := tx.CreateBooking(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	logger := zerolog.Nop()
	db := NewFromSQL(sqlDB, "", &logger)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = db.WithTx(context.Background(), func(domain.Store) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}
