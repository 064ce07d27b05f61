package service

import (
	"context"
	"errors"

	"venuebook/internal/config"
	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/models"
	"venuebook/internal/notify"

	"github.com/rs/zerolog"
)

// mutator carries what every write path shares: the repository, the
// advisory lock, event publishing and notification fan-in.
type mutator struct {
	repo     domain.Repository
	locker   domain.ResourceLocker
	eventBus domain.EventPublisher
	notifier domain.Notifier
	lockCfg  config.BookingConfig
	logger   *zerolog.Logger
}

func newMutator(repo domain.Repository, locker domain.ResourceLocker, eventBus domain.EventPublisher, notifier domain.Notifier, lockCfg config.BookingConfig, logger *zerolog.Logger) mutator {
	if lockCfg.LockTTL <= 0 {
		lockCfg.LockTTL = models.DefaultLockTTL
	}
	if lockCfg.LockWait <= 0 {
		lockCfg.LockWait = models.DefaultLockWait
	}
	return mutator{
		repo:     repo,
		locker:   locker,
		eventBus: eventBus,
		notifier: notifier,
		lockCfg:  lockCfg,
		logger:   logger,
	}
}

// withResourceLock runs fn under the advisory lock for ref. A lock that
// cannot be taken in time is reported as a conflict. Lock backend failures
// only log: the write transaction re-validates regardless.
func (m *mutator) withResourceLock(ctx context.Context, ref models.ResourceRef, fn func() error) error {
	if m.locker == nil {
		return fn()
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockCfg.LockWait)
	release, err := m.locker.Acquire(lockCtx, "resource:"+ref.String(), m.lockCfg.LockTTL)
	cancel()
	switch {
	case errors.Is(err, domain.ErrLockNotAcquired):
		return domain.Conflict("resource is being booked by another request, try again", nil)
	case err != nil:
		m.logger.Warn().Err(err).Str("resource", ref.String()).Msg("advisory lock unavailable, relying on transaction")
		return fn()
	}
	defer release()

	return fn()
}

func (m *mutator) publishEvent(eventType string, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func (m *mutator) publishBookingEvent(eventType string, b *models.Booking, actor models.Identity) {
	m.publishEvent(eventType, events.NewBookingPayload(b, actor.UserID))
}

// notifyOwners groups the changes by owner and enqueues one digest per user.
// It never fails: lookup errors are logged and the owner skipped.
func (m *mutator) notifyOwners(ctx context.Context, kind notify.Kind, changes []ownerChange) {
	if m.notifier == nil || len(changes) == 0 {
		return
	}

	users := make(map[int64]*models.User)
	entries := make([]notify.Entry, 0, len(changes))
	for _, c := range changes {
		if c.booking.UserID == nil {
			continue
		}
		uid := *c.booking.UserID
		user, seen := users[uid]
		if !seen {
			u, err := m.repo.GetUser(ctx, uid)
			if err != nil {
				m.logger.Warn().Err(err).Int64("user_id", uid).Msg("notification recipient lookup failed")
			}
			users[uid] = u
			user = u
		}
		if user == nil {
			continue
		}
		entries = append(entries, notify.Entry{User: user, Booking: c.booking, Message: c.message})
	}

	for _, d := range notify.GroupByUser(kind, entries) {
		m.notifier.Enqueue(ctx, d.User, d.Subject, d.Body)
	}
}

type ownerChange struct {
	booking *models.Booking
	message string
}

// requireResource rejects bookings against unknown or inactive resources.
func requireResource(ctx context.Context, store domain.Store, ref models.ResourceRef) (*models.Resource, error) {
	if err := validateResourceRef(ref); err != nil {
		return nil, err
	}
	res, err := store.GetResource(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !res.IsActive {
		return nil, domain.Validation("resource", "%s is not active", ref)
	}
	return res, nil
}
