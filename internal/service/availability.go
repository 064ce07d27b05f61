package service

import (
	"context"
	"fmt"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/logging"
	"venuebook/internal/metrics"
	"venuebook/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityQuery asks whether one resource is free for [Start, End).
type AvailabilityQuery struct {
	Resource         models.ResourceRef
	Start            time.Time
	End              time.Time
	ExcludeBookingID int64
	Viewer           models.Identity
}

type AvailabilityResult struct {
	IsAvailable bool                  `json:"is_available"`
	Conflicts   []models.ConflictView `json:"conflicts"`
}

// ScanOptions tunes ScanResources.
type ScanOptions struct {
	IncludeInactive  bool
	ExcludeBookingID int64
	Viewer           models.Identity
}

// ResourceAvailability is one resource of a scan with its conflicts.
type ResourceAvailability struct {
	Resource  models.Resource       `json:"resource"`
	Conflicts []models.ConflictView `json:"conflicts,omitempty"`
}

type ScanResult struct {
	Available   []ResourceAvailability `json:"available"`
	Unavailable []ResourceAvailability `json:"unavailable"`
}

// AvailabilityChecker answers conflict questions against the store. It is
// read-only; write paths repeat the check inside their transaction.
type AvailabilityChecker struct {
	store  domain.Store
	logger *zerolog.Logger
}

func NewAvailabilityChecker(store domain.Store, logger *zerolog.Logger) *AvailabilityChecker {
	return &AvailabilityChecker{
		store:  store,
		logger: logging.Component(logger, "availability"),
	}
}

// CheckAvailability returns the active bookings of the resource that overlap
// the query interval, ordered by start time.
func (c *AvailabilityChecker) CheckAvailability(ctx context.Context, q AvailabilityQuery) (*AvailabilityResult, error) {
	if err := validateInterval(q.Start, q.End); err != nil {
		return nil, err
	}
	if err := validateResourceRef(q.Resource); err != nil {
		return nil, err
	}

	found, err := findConflicts(ctx, c.store, q.Resource, q.Start, q.End, q.ExcludeBookingID)
	if err != nil {
		return nil, err
	}

	kind := string(q.Resource.Kind)
	metrics.IncAvailabilityCheck(kind)
	metrics.AddConflicts(kind, len(found))

	return &AvailabilityResult{
		IsAvailable: len(found) == 0,
		Conflicts:   conflictViews(found, q.Viewer),
	}, nil
}

// ScanResources runs one availability check per resource of kind and
// partitions them. Rooms come ordered by name, venues by campus, building
// and room name; both partitions keep that order.
func (c *AvailabilityChecker) ScanResources(ctx context.Context, kind models.ResourceKind, start, end time.Time, opts ScanOptions) (*ScanResult, error) {
	if err := validateInterval(start, end); err != nil {
		return nil, err
	}

	resources, err := c.listResources(ctx, kind, opts.IncludeInactive)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		Available:   []ResourceAvailability{},
		Unavailable: []ResourceAvailability{},
	}
	for _, res := range resources {
		check, err := c.CheckAvailability(ctx, AvailabilityQuery{
			Resource:         res.Ref,
			Start:            start,
			End:              end,
			ExcludeBookingID: opts.ExcludeBookingID,
			Viewer:           opts.Viewer,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", res.Ref, err)
		}
		if check.IsAvailable {
			result.Available = append(result.Available, ResourceAvailability{Resource: res})
		} else {
			result.Unavailable = append(result.Unavailable, ResourceAvailability{Resource: res, Conflicts: check.Conflicts})
		}
	}

	c.logger.Debug().
		Str("kind", string(kind)).
		Int("available", len(result.Available)).
		Int("unavailable", len(result.Unavailable)).
		Msg("resource scan finished")
	return result, nil
}

func (c *AvailabilityChecker) listResources(ctx context.Context, kind models.ResourceKind, includeInactive bool) ([]models.Resource, error) {
	switch kind {
	case models.ResourceRoom:
		rooms, err := c.store.ListRooms(ctx, includeInactive)
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		out := make([]models.Resource, 0, len(rooms))
		for _, r := range rooms {
			out = append(out, r.AsResource())
		}
		return out, nil
	case models.ResourceVenue:
		venues, err := c.store.ListVenues(ctx)
		if err != nil {
			return nil, fmt.Errorf("list venues: %w", err)
		}
		out := make([]models.Resource, 0, len(venues))
		for _, v := range venues {
			out = append(out, v.AsResource())
		}
		return out, nil
	default:
		return nil, domain.Validation("kind", "unknown resource kind %q", kind)
	}
}

// findConflicts is shared by the advisory check and the in-transaction
// re-validation. The store filter narrows the rows; Overlaps decides.
func findConflicts(ctx context.Context, store domain.Store, ref models.ResourceRef, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	candidates, err := store.FindBookings(ctx, domain.BookingFilter{
		Resource:  ref,
		Statuses:  models.ActiveStatuses,
		Start:     start,
		End:       end,
		ExcludeID: excludeID,
	})
	if err != nil {
		return nil, fmt.Errorf("find bookings for %s: %w", ref, err)
	}

	out := candidates[:0]
	for _, b := range candidates {
		if b.ID == excludeID && excludeID != 0 {
			continue
		}
		if b.Status.IsActive() && models.Overlaps(b.StartTime, b.EndTime, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func conflictViews(bookings []*models.Booking, viewer models.Identity) []models.ConflictView {
	views := make([]models.ConflictView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, models.NewConflictView(b, viewer))
	}
	return views
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return domain.Validation("start_time", "start and end times are required")
	}
	if !start.Before(end) {
		return domain.Validation("end_time", "start time must be before end time")
	}
	return nil
}

func validateResourceRef(ref models.ResourceRef) error {
	switch ref.Kind {
	case models.ResourceRoom, models.ResourceVenue:
	default:
		return domain.Validation("resource", "a room or an external venue is required")
	}
	if ref.ID <= 0 {
		return domain.Validation("resource", "resource id must be positive")
	}
	return nil
}
