package service

import (
	"context"
	"fmt"
	"time"

	"venuebook/internal/config"
	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/logging"
	"venuebook/internal/metrics"
	"venuebook/internal/models"
	"venuebook/internal/notify"
	"venuebook/internal/recurrence"

	"github.com/rs/zerolog"
)

// SeriesCheck asks which occurrences of a pattern are free on one resource.
type SeriesCheck struct {
	Resource         models.ResourceRef
	Pattern          models.RecurrencePattern
	BaseStart        time.Time
	BaseEnd          time.Time
	ExcludeBookingID int64
	Viewer           models.Identity
}

// SeriesAvailability partitions generated occurrences. Conflicting entries
// carry their own conflict lists.
type SeriesAvailability struct {
	Occurrences []models.Occurrence         `json:"occurrences"`
	Available   []models.Occurrence         `json:"available"`
	Conflicting []domain.OccurrenceConflict `json:"conflicting"`
}

func (a *SeriesAvailability) AllAvailable() bool {
	return len(a.Conflicting) == 0
}

// SeriesRequest creates a series from a template booking. The template
// carries title, owner, attendees and resource; BaseStart and BaseEnd default
// to its start and end times.
type SeriesRequest struct {
	Booking   models.Booking
	Pattern   models.RecurrencePattern
	BaseStart time.Time
	BaseEnd   time.Time
}

func (r *SeriesRequest) base() (time.Time, time.Time) {
	start, end := r.BaseStart, r.BaseEnd
	if start.IsZero() {
		start = r.Booking.StartTime
	}
	if end.IsZero() {
		end = r.Booking.EndTime
	}
	return start, end
}

// Series is a parent booking, its children ordered by occurrence number and
// the shared pattern. Pattern is nil for a standalone booking.
type Series struct {
	Parent    *models.Booking           `json:"parent"`
	Children  []*models.Booking         `json:"children"`
	Pattern   *models.RecurrencePattern `json:"pattern,omitempty"`
	RRule     string                    `json:"rrule,omitempty"`
	// RuleStart is the DTSTART paired with RRule, in the pattern's offset.
	RuleStart *time.Time                `json:"rrule_dtstart,omitempty"`
}

// Bookings returns the parent followed by the children.
func (s *Series) Bookings() []*models.Booking {
	out := make([]*models.Booking, 0, len(s.Children)+1)
	out = append(out, s.Parent)
	return append(out, s.Children...)
}

type SeriesService struct {
	mutator
	checker *AvailabilityChecker
}

func NewSeriesService(
	repo domain.Repository,
	checker *AvailabilityChecker,
	locker domain.ResourceLocker,
	eventBus domain.EventPublisher,
	notifier domain.Notifier,
	lockCfg config.BookingConfig,
	logger *zerolog.Logger,
) *SeriesService {
	return &SeriesService{
		mutator: newMutator(repo, locker, eventBus, notifier, lockCfg, logging.Component(logger, "series")),
		checker: checker,
	}
}

// CheckSeriesAvailability generates the occurrences once and checks every one
// of them against the resource. It never stops at the first conflict.
func (s *SeriesService) CheckSeriesAvailability(ctx context.Context, q SeriesCheck) (*SeriesAvailability, error) {
	if err := validateResourceRef(q.Resource); err != nil {
		return nil, err
	}
	occs, err := recurrence.GenerateOccurrences(q.Pattern, q.BaseStart, q.BaseEnd)
	if err != nil {
		return nil, err
	}
	metrics.AddOccurrences(len(occs))

	result := &SeriesAvailability{
		Occurrences: occs,
		Available:   []models.Occurrence{},
		Conflicting: []domain.OccurrenceConflict{},
	}
	for _, occ := range occs {
		check, err := s.checker.CheckAvailability(ctx, AvailabilityQuery{
			Resource:         q.Resource,
			Start:            occ.Start,
			End:              occ.End,
			ExcludeBookingID: q.ExcludeBookingID,
			Viewer:           q.Viewer,
		})
		if err != nil {
			return nil, fmt.Errorf("check occurrence %d: %w", occ.Number, err)
		}
		if check.IsAvailable {
			result.Available = append(result.Available, occ)
		} else {
			result.Conflicting = append(result.Conflicting, domain.OccurrenceConflict{Occurrence: occ, Conflicts: check.Conflicts})
		}
	}
	return result, nil
}

// CreateSeries persists the parent (occurrence 1), the pattern and every
// child in one transaction. Each occurrence is re-validated inside it; any
// conflict aborts the whole series with the per-occurrence conflicts.
func (s *SeriesService) CreateSeries(ctx context.Context, req SeriesRequest, actor models.Identity) (*Series, error) {
	baseStart, baseEnd := req.base()
	template := req.Booking
	template.StartTime, template.EndTime = baseStart, baseEnd
	ref, err := validateNewBooking(&template)
	if err != nil {
		return nil, err
	}
	if template.UserID == nil && actor.UserID != 0 {
		template.UserID = models.Int64Ptr(actor.UserID)
	}

	occs, err := recurrence.GenerateOccurrences(req.Pattern, baseStart, baseEnd)
	if err != nil {
		return nil, err
	}
	if err := checkSelfOverlap(occs); err != nil {
		return nil, err
	}
	metrics.AddOccurrences(len(occs))

	pattern := recurrence.Normalize(req.Pattern)
	_, pattern.UTCOffset = baseStart.Zone()
	var series *Series
	err = s.withResourceLock(ctx, ref, func() error {
		return s.repo.WithTx(ctx, func(tx domain.Store) error {
			res, err := requireResource(ctx, tx, ref)
			if err != nil {
				return err
			}
			if err := checkCapacity(res, template.AttendeeCount); err != nil {
				return err
			}

			var conflicting []domain.OccurrenceConflict
			for _, occ := range occs {
				found, err := findConflicts(ctx, tx, ref, occ.Start, occ.End, 0)
				if err != nil {
					return err
				}
				if len(found) > 0 {
					conflicting = append(conflicting, domain.OccurrenceConflict{Occurrence: occ, Conflicts: conflictViews(found, actor)})
				}
			}
			if len(conflicting) > 0 {
				return domain.SeriesConflict(conflicting)
			}

			series, err = insertSeries(ctx, tx, &template, pattern, occs)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncSeriesCreated()
	s.describeRule(series)
	s.logger.Info().
		Int64("parent_id", series.Parent.ID).
		Str("resource", ref.String()).
		Int("occurrences", len(occs)).
		Msg("series created")
	s.publishEvent(events.EventSeriesCreated, events.SeriesEventPayload{
		ParentBookingID: series.Parent.ID,
		Resource:        ref,
		Frequency:       pattern.Frequency,
		Occurrences:     len(occs),
		RRule:           series.RRule,
		ChangedByID:     actor.UserID,
	})
	return series, nil
}

func insertSeries(ctx context.Context, tx domain.Store, template *models.Booking, pattern models.RecurrencePattern, occs []models.Occurrence) (*Series, error) {
	newOccurrence := func(occ models.Occurrence, parentID *int64) *models.Booking {
		b := template.Clone()
		b.ID = 0
		b.Status = models.StatusPending
		b.RejectionReason = ""
		b.StartTime, b.EndTime = occ.Start, occ.End
		b.ParentBookingID = parentID
		b.OccurrenceNumber = models.IntPtr(occ.Number)
		return b
	}

	parent := newOccurrence(occs[0], nil)
	if err := tx.CreateBooking(ctx, parent); err != nil {
		return nil, fmt.Errorf("insert series parent: %w", err)
	}

	pattern.ParentBookingID = parent.ID
	if err := tx.CreateRecurrencePattern(ctx, &pattern); err != nil {
		return nil, fmt.Errorf("insert recurrence pattern: %w", err)
	}

	children := make([]*models.Booking, 0, len(occs)-1)
	for _, occ := range occs[1:] {
		child := newOccurrence(occ, models.Int64Ptr(parent.ID))
		if err := tx.CreateBooking(ctx, child); err != nil {
			return nil, fmt.Errorf("insert occurrence %d: %w", occ.Number, err)
		}
		children = append(children, child)
	}

	return &Series{Parent: parent, Children: children, Pattern: &pattern}, nil
}

// GetSeries resolves the series of any member booking. A standalone booking
// yields a one-element series without a pattern.
func (s *SeriesService) GetSeries(ctx context.Context, bookingID int64) (*Series, error) {
	return s.loadSeries(ctx, s.repo, bookingID)
}

func (s *SeriesService) loadSeries(ctx context.Context, store domain.Store, bookingID int64) (*Series, error) {
	b, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	rootID := b.SeriesRootID()

	bookings, err := store.GetSeriesBookings(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load series %d: %w", rootID, err)
	}
	if len(bookings) == 0 || bookings[0].ID != rootID {
		return nil, domain.NotFound("booking", rootID)
	}

	pattern, err := store.GetRecurrencePattern(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load pattern of %d: %w", rootID, err)
	}

	series := &Series{Parent: bookings[0], Children: bookings[1:], Pattern: pattern}
	s.describeRule(series)
	return series, nil
}

// CancelSeries cancels every active booking of the series in one transaction
// and sends one consolidated notification per owner.
func (s *SeriesService) CancelSeries(ctx context.Context, bookingID int64, actor models.Identity) (*Series, error) {
	var (
		series    *Series
		cancelled []*models.Booking
	)
	err := s.repo.WithTx(ctx, func(tx domain.Store) error {
		var err error
		series, err = s.loadSeries(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		cancelled = cancelled[:0]
		for _, b := range series.Bookings() {
			if !b.Status.IsActive() {
				continue
			}
			if err := tx.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled, ""); err != nil {
				return fmt.Errorf("cancel booking %d: %w", b.ID, err)
			}
			b.Status = models.StatusCancelled
			b.RejectionReason = ""
			cancelled = append(cancelled, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref, _ := series.Parent.Resource()
	s.publishEvent(events.EventSeriesCancelled, events.SeriesEventPayload{
		ParentBookingID: series.Parent.ID,
		Resource:        ref,
		Occurrences:     len(cancelled),
		ChangedByID:     actor.UserID,
	})

	changes := make([]ownerChange, 0, len(cancelled))
	for _, b := range cancelled {
		changes = append(changes, ownerChange{booking: b, message: occurrenceLabel(b) + "cancelled"})
	}
	s.notifyOwners(ctx, notify.KindCancellation, changes)

	s.logger.Info().Int64("parent_id", series.Parent.ID).Int("cancelled", len(cancelled)).Msg("series cancelled")
	return series, nil
}

// describeRule renders the RRULE and its DTSTART in the offset the series
// was created with, so BYDAY codes match the weekday of the start.
func (s *SeriesService) describeRule(series *Series) {
	if series.Pattern == nil {
		return
	}
	start := series.Parent.StartTime.In(time.FixedZone("", series.Pattern.UTCOffset))
	rule, err := recurrence.RRule(*series.Pattern, start)
	if err != nil {
		s.logger.Warn().Err(err).Int64("parent_id", series.Parent.ID).Msg("render rrule")
		return
	}
	series.RRule = rule
	series.RuleStart = &start
}

// checkSelfOverlap rejects patterns whose occurrences collide with each
// other, e.g. a three-day booking repeated daily.
func checkSelfOverlap(occs []models.Occurrence) error {
	for i := 1; i < len(occs); i++ {
		prev, cur := occs[i-1], occs[i]
		if models.Overlaps(prev.Start, prev.End, cur.Start, cur.End) {
			return domain.Validation("pattern", "occurrences %d and %d overlap each other", prev.Number, cur.Number)
		}
	}
	return nil
}

func occurrenceLabel(b *models.Booking) string {
	if b.OccurrenceNumber == nil {
		return ""
	}
	return fmt.Sprintf("occurrence %d ", *b.OccurrenceNumber)
}
