package service

import (
	"context"
	"fmt"
	"strings"

	"venuebook/internal/config"
	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/logging"
	"venuebook/internal/models"
	"venuebook/internal/notify"

	"github.com/rs/zerolog"
)

// BookingService owns single-booking writes and bulk status changes.
type BookingService struct {
	mutator
}

func NewBookingService(
	repo domain.Repository,
	locker domain.ResourceLocker,
	eventBus domain.EventPublisher,
	notifier domain.Notifier,
	lockCfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		mutator: newMutator(repo, locker, eventBus, notifier, lockCfg, logging.Component(logger, "bookings")),
	}
}

// CreateBooking inserts a standalone PENDING booking. Availability is checked
// again inside the write transaction; a collision returns a conflict error
// carrying the occupying bookings.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking, actor models.Identity) error {
	ref, err := validateNewBooking(booking)
	if err != nil {
		return err
	}
	if booking.UserID == nil && actor.UserID != 0 {
		booking.UserID = models.Int64Ptr(actor.UserID)
	}
	booking.Status = models.StatusPending
	booking.ParentBookingID = nil
	booking.OccurrenceNumber = nil

	err = s.withResourceLock(ctx, ref, func() error {
		return s.repo.WithTx(ctx, func(tx domain.Store) error {
			res, err := requireResource(ctx, tx, ref)
			if err != nil {
				return err
			}
			if err := checkCapacity(res, booking.AttendeeCount); err != nil {
				return err
			}

			found, err := findConflicts(ctx, tx, ref, booking.StartTime, booking.EndTime, 0)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				return domain.Conflict("resource is not available for the requested interval", conflictViews(found, actor))
			}
			return tx.CreateBooking(ctx, booking)
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", booking.ID).Str("resource", ref.String()).Msg("booking created")
	s.publishBookingEvent(events.EventBookingCreated, booking, actor)
	return nil
}

// UpdateStatuses moves every booking in ids to status in one transaction and
// sends one consolidated notification per owner. REJECTED requires a reason.
// Reactivating a booking re-checks its interval.
func (s *BookingService) UpdateStatuses(ctx context.Context, ids []int64, status models.BookingStatus, reason string, actor models.Identity) ([]*models.Booking, error) {
	if !status.Valid() {
		return nil, domain.Validation("status", "unknown status %q", status)
	}
	reason = strings.TrimSpace(reason)
	if status == models.StatusRejected && reason == "" {
		return nil, domain.Validation("reason", "a rejection reason is required")
	}
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}

	var updated []*models.Booking
	err = s.repo.WithTx(ctx, func(tx domain.Store) error {
		updated = updated[:0]
		for _, id := range ids {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}
			if status.IsActive() && !b.Status.IsActive() {
				if err := recheckReactivation(ctx, tx, b, actor); err != nil {
					return err
				}
			}
			if err := tx.UpdateBookingStatus(ctx, id, status, reason); err != nil {
				return fmt.Errorf("update booking %d: %w", id, err)
			}
			b.Status = status
			b.RejectionReason = reason
			updated = append(updated, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := notify.KindUpdate
	if status == models.StatusCancelled {
		kind = notify.KindCancellation
	}
	changes := make([]ownerChange, 0, len(updated))
	for _, b := range updated {
		s.publishBookingEvent(events.EventBookingStatusChanged, b, actor)
		changes = append(changes, ownerChange{booking: b, message: statusMessage(status, reason)})
	}
	s.notifyOwners(ctx, kind, changes)

	s.logger.Info().Int("count", len(updated)).Str("status", string(status)).Msg("booking statuses updated")
	return updated, nil
}

// DeleteBookings removes the bookings in ids. Deleting a series root also
// removes its children and pattern. It returns every removed booking.
func (s *BookingService) DeleteBookings(ctx context.Context, ids []int64, actor models.Identity) ([]*models.Booking, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}

	var removed []*models.Booking
	err = s.repo.WithTx(ctx, func(tx domain.Store) error {
		removed = removed[:0]
		gone := make(map[int64]bool)
		for _, id := range ids {
			if gone[id] {
				continue
			}
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}

			// Capture cascaded children before the rows disappear.
			affected := []*models.Booking{b}
			if b.ParentBookingID == nil {
				series, err := tx.GetSeriesBookings(ctx, b.ID)
				if err != nil {
					return err
				}
				affected = series
			}

			if err := tx.DeleteBooking(ctx, id); err != nil {
				return fmt.Errorf("delete booking %d: %w", id, err)
			}
			for _, a := range affected {
				if !gone[a.ID] {
					gone[a.ID] = true
					removed = append(removed, a)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	changes := make([]ownerChange, 0, len(removed))
	for _, b := range removed {
		s.publishBookingEvent(events.EventBookingDeleted, b, actor)
		changes = append(changes, ownerChange{booking: b, message: "deleted"})
	}
	s.notifyOwners(ctx, notify.KindCancellation, changes)

	s.logger.Info().Int("requested", len(ids)).Int("removed", len(removed)).Msg("bookings deleted")
	return removed, nil
}

func recheckReactivation(ctx context.Context, tx domain.Store, b *models.Booking, actor models.Identity) error {
	ref, ok := b.Resource()
	if !ok {
		return nil
	}
	found, err := findConflicts(ctx, tx, ref, b.StartTime, b.EndTime, b.ID)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return domain.Conflict(fmt.Sprintf("booking %d cannot be reactivated: its interval is taken", b.ID), conflictViews(found, actor))
	}
	return nil
}

func validateNewBooking(b *models.Booking) (models.ResourceRef, error) {
	if b == nil {
		return models.ResourceRef{}, domain.Validation("booking", "booking is required")
	}
	if strings.TrimSpace(b.Title) == "" {
		return models.ResourceRef{}, domain.Validation("title", "title is required")
	}
	if err := validateInterval(b.StartTime, b.EndTime); err != nil {
		return models.ResourceRef{}, err
	}
	if b.RoomID != nil && b.ExternalVenueID != nil {
		return models.ResourceRef{}, domain.Validation("resource", "booking cannot target both a room and an external venue")
	}
	ref, ok := b.Resource()
	if !ok {
		return models.ResourceRef{}, domain.Validation("resource", "a room or an external venue is required")
	}
	if b.AttendeeCount != nil && *b.AttendeeCount < 0 {
		return models.ResourceRef{}, domain.Validation("attendee_count", "must not be negative")
	}
	return ref, nil
}

func checkCapacity(res *models.Resource, attendees *int) error {
	if attendees == nil || res.Capacity <= 0 {
		return nil
	}
	if *attendees > res.Capacity {
		return domain.Validation("attendee_count", "%d attendees exceed the capacity of %s (%d)", *attendees, res.Name, res.Capacity)
	}
	return nil
}

func normalizeIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, domain.Validation("ids", "at least one booking id is required")
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, domain.Validation("ids", "invalid booking id %d", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func statusMessage(status models.BookingStatus, reason string) string {
	msg := "status changed to " + string(status)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return msg
}
