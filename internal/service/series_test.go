package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/models"
	"venuebook/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weeklyMonWed(count int) models.RecurrencePattern {
	return models.RecurrencePattern{Frequency: models.FrequencyWeekly, DaysOfWeek: []string{"mon", "WED"}, MaxOccurrences: count}
}

func dailyPattern(count int) models.RecurrencePattern {
	return models.RecurrencePattern{Frequency: models.FrequencyDaily, MaxOccurrences: count}
}

func seriesRequest(ref models.ResourceRef, p models.RecurrencePattern) SeriesRequest {
	req := SeriesRequest{
		Booking: models.Booking{Title: "Seminar", UserName: "Alice"},
		Pattern: p,
	}
	req.Booking.SetResource(ref)
	req.BaseStart, req.BaseEnd = jan(1, 10, 0), jan(1, 11, 0)
	return req
}

func ids(bookings []*models.Booking) []int64 {
	out := make([]int64, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.ID)
	}
	return out
}

func TestCheckSeriesAvailability(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)
		blockerA := f.book(t, f.aula, bob, "Blocker", jan(8, 10, 30), jan(8, 11, 30), models.StatusConfirmed)
		f.book(t, f.aula, bob, "Blocker 2", jan(10, 9, 0), jan(10, 10, 1), models.StatusPending)
		f.book(t, f.aula, bob, "Touching", jan(3, 11, 0), jan(3, 12, 0), models.StatusPending)

		res, err := e.series.CheckSeriesAvailability(context.Background(), SeriesCheck{
			Resource:  f.aula,
			Pattern:   weeklyMonWed(4),
			BaseStart: jan(1, 10, 0),
			BaseEnd:   jan(1, 11, 0),
			Viewer:    admin,
		})
		require.NoError(t, err)

		require.Len(t, res.Occurrences, 4)
		assert.False(t, res.AllAvailable())
		require.Len(t, res.Available, 2)
		assert.Equal(t, jan(1, 10, 0), res.Available[0].Start)
		assert.Equal(t, jan(3, 10, 0), res.Available[1].Start)

		require.Len(t, res.Conflicting, 2, "every occurrence is checked")
		assert.Equal(t, 3, res.Conflicting[0].Occurrence.Number)
		require.Len(t, res.Conflicting[0].Conflicts, 1)
		assert.Equal(t, blockerA.ID, res.Conflicting[0].Conflicts[0].BookingID)
		assert.Equal(t, "Blocker", res.Conflicting[0].Conflicts[0].Title)
		assert.Equal(t, 4, res.Conflicting[1].Occurrence.Number)
	})
}

func TestCheckSeriesAvailabilityValidation(t *testing.T) {
	e := newEnv(t, memoryFixture(t), nil)
	ctx := context.Background()

	_, err := e.series.CheckSeriesAvailability(ctx, SeriesCheck{
		Resource: e.aula, Pattern: dailyPattern(53), BaseStart: jan(1, 10, 0), BaseEnd: jan(1, 11, 0),
	})
	require.True(t, domain.IsValidation(err))
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "max_occurrences", derr.Field)

	_, err = e.series.CheckSeriesAvailability(ctx, SeriesCheck{
		Pattern: dailyPattern(2), BaseStart: jan(1, 10, 0), BaseEnd: jan(1, 11, 0),
	})
	assert.True(t, domain.IsValidation(err))
}

func TestCreateSeries(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, repository.NewMemoryLocker())
		ctx := context.Background()

		series, err := e.series.CreateSeries(ctx, seriesRequest(f.aula, dailyPattern(3)), alice)
		require.NoError(t, err)

		require.NotNil(t, series.Parent)
		assert.Equal(t, 1, *series.Parent.OccurrenceNumber)
		assert.Nil(t, series.Parent.ParentBookingID)
		assert.Equal(t, alice.UserID, *series.Parent.UserID)
		assert.Equal(t, models.StatusPending, series.Parent.Status)
		require.Len(t, series.Children, 2)
		for i, c := range series.Children {
			assert.Equal(t, i+2, *c.OccurrenceNumber)
			assert.Equal(t, series.Parent.ID, *c.ParentBookingID)
			assert.Equal(t, jan(i+2, 10, 0), c.StartTime.UTC())
			assert.Equal(t, jan(i+2, 11, 0), c.EndTime.UTC())
			assert.Equal(t, "Seminar", c.Title)
		}
		require.NotNil(t, series.Pattern)
		assert.Equal(t, series.Parent.ID, series.Pattern.ParentBookingID)
		assert.Equal(t, 1, series.Pattern.Interval)
		assert.Contains(t, series.RRule, "FREQ=DAILY")
		assert.Contains(t, series.RRule, "COUNT=3")
		assert.Contains(t, e.publishedEvents(), events.EventSeriesCreated)

		t.Run("GetSeriesFromAnyMember", func(t *testing.T) {
			want := ids(series.Bookings())
			for _, id := range want {
				got, err := e.series.GetSeries(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, want, ids(got.Bookings()))
				require.NotNil(t, got.Pattern)
				assert.Equal(t, models.FrequencyDaily, got.Pattern.Frequency)
				assert.Equal(t, series.RRule, got.RRule)
			}
		})

		t.Run("SeriesNowOccupiesResource", func(t *testing.T) {
			_, err := e.series.CreateSeries(ctx, seriesRequest(f.aula, dailyPattern(1)), bob)
			assert.True(t, domain.IsConflict(err))
		})
	})
}

func TestCreateSeriesWeekly(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)

		req := seriesRequest(f.venue, weeklyMonWed(4))
		series, err := e.series.CreateSeries(context.Background(), req, alice)
		require.NoError(t, err)

		var starts []time.Time
		for _, b := range series.Bookings() {
			starts = append(starts, b.StartTime.UTC())
			assert.Equal(t, f.venue.ID, *b.ExternalVenueID)
			assert.Nil(t, b.RoomID)
		}
		assert.Equal(t, []time.Time{jan(1, 10, 0), jan(3, 10, 0), jan(8, 10, 0), jan(10, 10, 0)}, starts)
		assert.Equal(t, []string{"MON", "WED"}, series.Pattern.DaysOfWeek)
		assert.Contains(t, series.RRule, "BYDAY=MO,WE")
	})
}

func TestSeriesRuleKeepsCreationOffset(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)
		ctx := context.Background()

		// Monday 00:30 at +02:00 is still Sunday in UTC.
		plus2 := time.FixedZone("", 2*3600)
		req := seriesRequest(f.lab, models.RecurrencePattern{
			Frequency:      models.FrequencyWeekly,
			DaysOfWeek:     []string{"MON"},
			MaxOccurrences: 2,
		})
		req.BaseStart = time.Date(2024, time.January, 1, 0, 30, 0, 0, plus2)
		req.BaseEnd = req.BaseStart.Add(time.Hour)

		created, err := e.series.CreateSeries(ctx, req, alice)
		require.NoError(t, err)
		assert.Equal(t, 2*3600, created.Pattern.UTCOffset)

		got, err := e.series.GetSeries(ctx, created.Children[0].ID)
		require.NoError(t, err)
		require.NotNil(t, got.Pattern)
		assert.Equal(t, 2*3600, got.Pattern.UTCOffset)
		assert.Contains(t, got.RRule, "BYDAY=MO")

		require.NotNil(t, got.RuleStart)
		assert.True(t, got.RuleStart.Equal(req.BaseStart))
		assert.Equal(t, time.Monday, got.RuleStart.Weekday())
		_, offset := got.RuleStart.Zone()
		assert.Equal(t, 2*3600, offset)
		assert.Equal(t, time.Sunday, got.Parent.StartTime.UTC().Weekday())
	})
}

func TestCreateSeriesCommitTimeConflict(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)
		blocker := f.book(t, f.aula, bob, "Blocker", jan(2, 10, 30), jan(2, 10, 45), models.StatusConfirmed)

		_, err := e.series.CreateSeries(context.Background(), seriesRequest(f.aula, dailyPattern(3)), alice)
		require.True(t, domain.IsConflict(err))

		var derr *domain.Error
		require.True(t, errors.As(err, &derr))
		require.Len(t, derr.Occurrences, 1)
		assert.Equal(t, 2, derr.Occurrences[0].Occurrence.Number)
		assert.Equal(t, blocker.ID, derr.Occurrences[0].Conflicts[0].BookingID)
		assert.Equal(t, models.RedactedTitle, derr.Occurrences[0].Conflicts[0].Title)

		assert.Equal(t, []int64{blocker.ID}, ids(f.allBookings(t, f.aula)), "nothing from the failed series is stored")
		assert.NotContains(t, e.publishedEvents(), events.EventSeriesCreated)
	})
}

func TestCreateSeriesIsAtomic(t *testing.T) {
	// Insert order is parent, child 2, child 3, child 4: fail each position in turn.
	for failAt := 1; failAt <= 4; failAt++ {
		forEachRepo(t, func(t *testing.T, f *fixture) {
			e := newEnv(t, f, nil)
			e.series.repo = &faultyRepo{Repository: f.repo, failAt: failAt}

			_, err := e.series.CreateSeries(context.Background(), seriesRequest(f.aula, dailyPattern(4)), alice)
			require.ErrorIs(t, err, errInjected)

			assert.Empty(t, f.allBookings(t, f.aula), "failAt=%d left bookings behind", failAt)
			pattern, err := f.repo.GetRecurrencePattern(context.Background(), 1)
			require.NoError(t, err)
			assert.Nil(t, pattern)
		})
	}
}

func TestCreateSeriesValidation(t *testing.T) {
	e := newEnv(t, memoryFixture(t), nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   func() SeriesRequest
		field string
	}{
		{"ZeroOccurrences", func() SeriesRequest { return seriesRequest(e.aula, dailyPattern(0)) }, "max_occurrences"},
		{"WeeklyWithoutDays", func() SeriesRequest {
			return seriesRequest(e.aula, models.RecurrencePattern{Frequency: models.FrequencyWeekly, MaxOccurrences: 2})
		}, "days_of_week"},
		{"MissingTitle", func() SeriesRequest {
			r := seriesRequest(e.aula, dailyPattern(2))
			r.Booking.Title = " "
			return r
		}, "title"},
		{"MissingResource", func() SeriesRequest {
			r := seriesRequest(e.aula, dailyPattern(2))
			r.Booking.RoomID = nil
			return r
		}, "resource"},
		{"InactiveRoom", func() SeriesRequest { return seriesRequest(e.closed, dailyPattern(2)) }, "resource"},
		{"OverCapacity", func() SeriesRequest {
			r := seriesRequest(e.aula, dailyPattern(2))
			r.Booking.AttendeeCount = models.IntPtr(31)
			return r
		}, "attendee_count"},
		{"SelfOverlap", func() SeriesRequest {
			r := seriesRequest(e.aula, dailyPattern(3))
			r.BaseEnd = jan(3, 10, 0)
			return r
		}, "pattern"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.series.CreateSeries(ctx, tc.req(), alice)
			require.True(t, domain.IsValidation(err), "got %v", err)
			var derr *domain.Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tc.field, derr.Field)
		})
	}

	_, err := e.series.CreateSeries(ctx, seriesRequest(models.ResourceRef{Kind: models.ResourceRoom, ID: 99}, dailyPattern(2)), alice)
	assert.True(t, domain.IsNotFound(err))
	assert.Empty(t, e.allBookings(t, e.aula))
}

func TestCreateSeriesUsesTemplateTimes(t *testing.T) {
	e := newEnv(t, memoryFixture(t), nil)

	req := seriesRequest(e.lab, dailyPattern(2))
	req.BaseStart, req.BaseEnd = time.Time{}, time.Time{}
	req.Booking.StartTime, req.Booking.EndTime = jan(5, 8, 0), jan(5, 9, 30)

	series, err := e.series.CreateSeries(context.Background(), req, alice)
	require.NoError(t, err)
	assert.Equal(t, jan(5, 8, 0), series.Parent.StartTime)
	assert.Equal(t, jan(6, 9, 30), series.Children[0].EndTime)
}

func TestCreateSeriesLockContention(t *testing.T) {
	f := memoryFixture(t)
	locker := repository.NewMemoryLocker()
	e := newEnv(t, f, locker)

	release, err := locker.Acquire(context.Background(), "resource:"+f.aula.String(), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = e.series.CreateSeries(context.Background(), seriesRequest(f.aula, dailyPattern(2)), alice)
	assert.True(t, domain.IsConflict(err))
	assert.Empty(t, f.allBookings(t, f.aula))
}

func TestGetSeries(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)
		standalone := f.book(t, f.lab, alice, "One-off", jan(1, 9, 0), jan(1, 10, 0), models.StatusPending)

		series, err := e.series.GetSeries(context.Background(), standalone.ID)
		require.NoError(t, err)
		assert.Equal(t, standalone.ID, series.Parent.ID)
		assert.Empty(t, series.Children)
		assert.Nil(t, series.Pattern)
		assert.Empty(t, series.RRule)

		_, err = e.series.GetSeries(context.Background(), 4242)
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestCancelSeries(t *testing.T) {
	forEachRepo(t, func(t *testing.T, f *fixture) {
		e := newEnv(t, f, nil)
		ctx := context.Background()

		series, err := e.series.CreateSeries(ctx, seriesRequest(f.aula, dailyPattern(3)), alice)
		require.NoError(t, err)
		rejected := series.Children[0]
		require.NoError(t, f.repo.UpdateBookingStatus(ctx, rejected.ID, models.StatusRejected, "room closed"))

		got, err := e.series.CancelSeries(ctx, series.Children[1].ID, admin)
		require.NoError(t, err)

		statuses := map[int64]models.BookingStatus{}
		for _, b := range got.Bookings() {
			stored, err := f.repo.GetBooking(ctx, b.ID)
			require.NoError(t, err)
			statuses[b.ID] = stored.Status
		}
		assert.Equal(t, models.StatusCancelled, statuses[series.Parent.ID])
		assert.Equal(t, models.StatusRejected, statuses[rejected.ID])
		assert.Equal(t, models.StatusCancelled, statuses[series.Children[1].ID])

		msgs := e.notifier.messages()
		require.Len(t, msgs, 1, "one consolidated message per owner")
		assert.Equal(t, alice.UserID, msgs[0].userID)
		assert.Equal(t, "2 booking(s) cancelled", msgs[0].subject)
		assert.Contains(t, msgs[0].body, "1. Seminar")
		assert.Contains(t, msgs[0].body, "occurrence 3 cancelled")
		assert.Contains(t, e.publishedEvents(), events.EventSeriesCancelled)

		res, err := e.checker.CheckAvailability(ctx, AvailabilityQuery{Resource: f.aula, Start: jan(1, 10, 0), End: jan(3, 11, 0)})
		require.NoError(t, err)
		assert.True(t, res.IsAvailable, "cancelled occurrences free the room")
	})
}
