package worker

import (
	"context"
	"fmt"
	"time"

	"venuebook/internal/config"
	"venuebook/internal/domain"
	"venuebook/internal/models"
	"venuebook/internal/notify"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// remindStatuses are the bookings worth a reminder. Pending requests are
// skipped until someone confirms them.
var remindStatuses = []models.BookingStatus{models.StatusConfirmed, models.StatusAwaitingExternal}

// ReminderWorker periodically sends each owner one digest of their bookings
// that start within the configured lead time.
type ReminderWorker struct {
	store    domain.Store
	notifier domain.Notifier
	cfg      config.ReminderConfig
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewReminderWorker(store domain.Store, notifier domain.Notifier, cfg config.ReminderConfig, logger *zerolog.Logger) *ReminderWorker {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	return &ReminderWorker{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Start registers the cron job and stops it when ctx is done.
func (w *ReminderWorker) Start(ctx context.Context) error {
	if !w.cfg.Enabled || w.notifier == nil {
		w.logger.Info().Msg("reminders disabled")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error().Err(err).Msg("reminder run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", w.cfg.Schedule, err)
	}

	w.logger.Info().Str("schedule", w.cfg.Schedule).Dur("lead", w.cfg.Lead).Msg("reminders scheduled")
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// RunOnce enqueues reminders for bookings starting in [now, now+lead) and
// returns the number of digests handed to the notifier.
func (w *ReminderWorker) RunOnce(ctx context.Context) (int, error) {
	from := w.now()
	to := from.Add(w.cfg.Lead)

	bookings, err := w.store.FindBookings(ctx, domain.BookingFilter{
		Statuses: remindStatuses,
		Start:    from,
		End:      to,
	})
	if err != nil {
		return 0, fmt.Errorf("find upcoming bookings: %w", err)
	}

	users := make(map[int64]*models.User)
	var entries []notify.Entry
	for _, b := range bookings {
		// The window query matches overlaps; only bookings that have not started count.
		if b.StartTime.Before(from) || b.UserID == nil {
			continue
		}
		user, seen := users[*b.UserID]
		if !seen {
			user, err = w.store.GetUser(ctx, *b.UserID)
			if err != nil {
				w.logger.Warn().Err(err).Int64("user_id", *b.UserID).Msg("reminder: load user error")
			}
			users[*b.UserID] = user
		}
		if user == nil {
			continue
		}
		entries = append(entries, notify.Entry{User: user, Booking: b, Message: string(b.Status)})
	}

	digests := notify.GroupByUser(notify.KindReminder, entries)
	for _, d := range digests {
		w.notifier.Enqueue(ctx, d.User, d.Subject, d.Body)
	}

	w.logger.Debug().Int("bookings", len(entries)).Int("digests", len(digests)).Msg("reminders enqueued")
	return len(digests), nil
}
