package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"
)

type memoryData struct {
	bookings map[int64]*models.Booking
	patterns map[int64]*models.RecurrencePattern // keyed by parent booking id
	rooms    map[int64]*models.Room
	venues   map[int64]*models.ExternalVenue
	users    map[int64]*models.User

	nextBookingID int64
	nextPatternID int64
	nextRoomID    int64
	nextVenueID   int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		bookings: make(map[int64]*models.Booking),
		patterns: make(map[int64]*models.RecurrencePattern),
		rooms:    make(map[int64]*models.Room),
		venues:   make(map[int64]*models.ExternalVenue),
		users:    make(map[int64]*models.User),
	}
}

// clone copies the maps and their values; it is the rollback snapshot.
func (d *memoryData) clone() *memoryData {
	c := *d
	c.bookings = make(map[int64]*models.Booking, len(d.bookings))
	for id, b := range d.bookings {
		c.bookings[id] = b.Clone()
	}
	c.patterns = make(map[int64]*models.RecurrencePattern, len(d.patterns))
	for id, p := range d.patterns {
		c.patterns[id] = clonePattern(p)
	}
	c.rooms = make(map[int64]*models.Room, len(d.rooms))
	for id, r := range d.rooms {
		rc := *r
		c.rooms[id] = &rc
	}
	c.venues = make(map[int64]*models.ExternalVenue, len(d.venues))
	for id, v := range d.venues {
		vc := *v
		c.venues[id] = &vc
	}
	c.users = make(map[int64]*models.User, len(d.users))
	for id, u := range d.users {
		uc := *u
		c.users[id] = &uc
	}
	return &c
}

func clonePattern(p *models.RecurrencePattern) *models.RecurrencePattern {
	c := *p
	c.DaysOfWeek = append([]string(nil), p.DaysOfWeek...)
	if p.EndDate != nil {
		t := *p.EndDate
		c.EndDate = &t
	}
	return &c
}

// memoryStore implements domain.Store over memoryData. mu is nil inside a
// transaction, where the repository lock is already held.
type memoryStore struct {
	mu *sync.Mutex
	d  *memoryData
}

func (s *memoryStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// MemoryRepository is an in-process domain.Repository. Transactions hold the
// repository lock for their whole duration and restore a snapshot on error.
type MemoryRepository struct {
	*memoryStore
	mu sync.Mutex
}

var _ domain.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{}
	r.memoryStore = &memoryStore{mu: &r.mu, d: newMemoryData()}
	return r
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := r.d.clone()
	if err := fn(&memoryStore{d: r.d}); err != nil {
		*r.d = *snapshot
		return err
	}
	return nil
}

// AddRoom stores a room, assigning an id when room.ID is zero.
func (r *MemoryRepository) AddRoom(room models.Room) *models.Room {
	defer r.lock()()
	if room.ID == 0 {
		r.d.nextRoomID++
		room.ID = r.d.nextRoomID
	} else if room.ID > r.d.nextRoomID {
		r.d.nextRoomID = room.ID
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	r.d.rooms[room.ID] = &room
	c := room
	return &c
}

// AddVenue stores a venue, assigning an id when venue.ID is zero.
func (r *MemoryRepository) AddVenue(venue models.ExternalVenue) *models.ExternalVenue {
	defer r.lock()()
	if venue.ID == 0 {
		r.d.nextVenueID++
		venue.ID = r.d.nextVenueID
	} else if venue.ID > r.d.nextVenueID {
		r.d.nextVenueID = venue.ID
	}
	if venue.CreatedAt.IsZero() {
		venue.CreatedAt = time.Now().UTC()
	}
	r.d.venues[venue.ID] = &venue
	c := venue
	return &c
}

func (r *MemoryRepository) AddUser(user models.User) {
	defer r.lock()()
	r.d.users[user.ID] = &user
}

func (s *memoryStore) FindBookings(_ context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	defer s.lock()()

	var statuses map[models.BookingStatus]bool
	if len(filter.Statuses) > 0 {
		statuses = make(map[models.BookingStatus]bool, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses[st] = true
		}
	}
	window := !filter.Start.IsZero() && !filter.End.IsZero()

	var out []*models.Booking
	for _, b := range s.d.bookings {
		if filter.Resource.Kind != "" {
			ref, ok := b.Resource()
			if !ok || ref != filter.Resource {
				continue
			}
		}
		if statuses != nil && !statuses[b.Status] {
			continue
		}
		if window && !models.Overlaps(b.StartTime, b.EndTime, filter.Start, filter.End) {
			continue
		}
		if filter.ExcludeID != 0 && b.ID == filter.ExcludeID {
			continue
		}
		out = append(out, b.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) CreateBooking(_ context.Context, booking *models.Booking) error {
	if err := booking.Validate(); err != nil {
		return domain.Validation("booking", "%s", err.Error())
	}
	defer s.lock()()

	if booking.ParentBookingID != nil {
		if _, ok := s.d.bookings[*booking.ParentBookingID]; !ok {
			return domain.NotFound("booking", *booking.ParentBookingID)
		}
	}
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}

	s.d.nextBookingID++
	booking.ID = s.d.nextBookingID
	booking.CreatedAt = time.Now().UTC()
	s.d.bookings[booking.ID] = booking.Clone()
	return nil
}

func (s *memoryStore) CreateRecurrencePattern(_ context.Context, pattern *models.RecurrencePattern) error {
	defer s.lock()()

	if _, ok := s.d.bookings[pattern.ParentBookingID]; !ok {
		return domain.NotFound("booking", pattern.ParentBookingID)
	}
	if _, exists := s.d.patterns[pattern.ParentBookingID]; exists {
		return domain.Validation("pattern", "booking %d already has a recurrence pattern", pattern.ParentBookingID)
	}

	s.d.nextPatternID++
	pattern.ID = s.d.nextPatternID
	pattern.Interval = pattern.EffectiveInterval()
	pattern.CreatedAt = time.Now().UTC()
	s.d.patterns[pattern.ParentBookingID] = clonePattern(pattern)
	return nil
}

func (s *memoryStore) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	defer s.lock()()

	b, ok := s.d.bookings[id]
	if !ok {
		return nil, domain.NotFound("booking", id)
	}
	return b.Clone(), nil
}

func (s *memoryStore) GetRecurrencePattern(_ context.Context, parentBookingID int64) (*models.RecurrencePattern, error) {
	defer s.lock()()

	p, ok := s.d.patterns[parentBookingID]
	if !ok {
		return nil, nil
	}
	return clonePattern(p), nil
}

func (s *memoryStore) GetSeriesBookings(_ context.Context, rootID int64) ([]*models.Booking, error) {
	defer s.lock()()

	var out []*models.Booking
	for _, b := range s.d.bookings {
		if b.ID == rootID || (b.ParentBookingID != nil && *b.ParentBookingID == rootID) {
			out = append(out, b.Clone())
		}
	}

	number := func(b *models.Booking) int {
		if b.OccurrenceNumber == nil {
			return 1
		}
		return *b.OccurrenceNumber
	}
	sort.Slice(out, func(i, j int) bool {
		if ni, nj := number(out[i]), number(out[j]); ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateBookingStatus(_ context.Context, id int64, status models.BookingStatus, reason string) error {
	if !status.Valid() {
		return domain.Validation("status", "unknown status %q", status)
	}
	defer s.lock()()

	b, ok := s.d.bookings[id]
	if !ok {
		return domain.NotFound("booking", id)
	}
	b.Status = status
	b.RejectionReason = reason
	return nil
}

func (s *memoryStore) DeleteBooking(_ context.Context, id int64) error {
	defer s.lock()()

	if _, ok := s.d.bookings[id]; !ok {
		return domain.NotFound("booking", id)
	}
	delete(s.d.bookings, id)
	delete(s.d.patterns, id)
	for childID, b := range s.d.bookings {
		if b.ParentBookingID != nil && *b.ParentBookingID == id {
			delete(s.d.bookings, childID)
		}
	}
	return nil
}

func (s *memoryStore) ListRooms(_ context.Context, includeInactive bool) ([]*models.Room, error) {
	defer s.lock()()

	out := make([]*models.Room, 0, len(s.d.rooms))
	for _, r := range s.d.rooms {
		if !includeInactive && !r.IsActive {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) ListVenues(_ context.Context) ([]*models.ExternalVenue, error) {
	defer s.lock()()

	out := make([]*models.ExternalVenue, 0, len(s.d.venues))
	for _, v := range s.d.venues {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Campus != b.Campus {
			return a.Campus < b.Campus
		}
		if a.Building != b.Building {
			return a.Building < b.Building
		}
		if a.RoomName != b.RoomName {
			return a.RoomName < b.RoomName
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *memoryStore) GetResource(_ context.Context, ref models.ResourceRef) (*models.Resource, error) {
	defer s.lock()()

	switch ref.Kind {
	case models.ResourceRoom:
		r, ok := s.d.rooms[ref.ID]
		if !ok {
			return nil, domain.NotFound("room", ref.ID)
		}
		res := r.AsResource()
		return &res, nil
	case models.ResourceVenue:
		v, ok := s.d.venues[ref.ID]
		if !ok {
			return nil, domain.NotFound("venue", ref.ID)
		}
		res := v.AsResource()
		return &res, nil
	default:
		return nil, domain.Validation("resource", "unknown resource kind %q", ref.Kind)
	}
}

func (s *memoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	defer s.lock()()

	u, ok := s.d.users[id]
	if !ok {
		return nil, domain.NotFound("user", id)
	}
	c := *u
	return &c, nil
}
