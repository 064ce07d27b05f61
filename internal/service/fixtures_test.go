package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"venuebook/internal/config"
	"venuebook/internal/database"
	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/models"
	"venuebook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	admin = models.Identity{UserID: 1, Role: models.RoleAdmin}
	alice = models.Identity{UserID: 2, Role: models.RoleStandard}
	bob   = models.Identity{UserID: 3, Role: models.RoleStandard}
)

func testUsers() []models.User {
	all := models.NewChannelSet(models.ChannelEmail, models.ChannelTelegram)
	return []models.User{
		{ID: 1, Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin, Channels: all, Preferences: models.DefaultPreferences},
		{ID: 2, Name: "Alice", Email: "alice@example.com", Role: models.RoleStandard, Channels: all, Preferences: models.DefaultPreferences},
		// Bob does not want cancellation notices.
		{ID: 3, Name: "Bob", Email: "bob@example.com", Role: models.RoleStandard, Channels: all,
			Preferences: models.NewPreferenceSet(models.PreferenceBookingUpdates, models.PreferenceReminders)},
	}
}

// jan returns 2024-01-day at hh:mm UTC. 2024-01-01 is a Monday.
func jan(day, hh, mm int) time.Time {
	return time.Date(2024, time.January, day, hh, mm, 0, 0, time.UTC)
}

// fixture is one seeded repository: rooms Aula (capacity 30), Closed
// (inactive) and Lab, one venue, and the three test users.
type fixture struct {
	name   string
	repo   domain.Repository
	aula   models.ResourceRef
	lab    models.ResourceRef
	closed models.ResourceRef
	venue  models.ResourceRef
}

func memoryFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	f := &fixture{name: "memory", repo: repo}

	f.aula = repo.AddRoom(models.Room{Name: "Aula", Capacity: 30, IsActive: true}).AsResource().Ref
	f.closed = repo.AddRoom(models.Room{Name: "Closed", IsActive: false}).AsResource().Ref
	f.lab = repo.AddRoom(models.Room{Name: "Lab", IsActive: true}).AsResource().Ref
	f.venue = repo.AddVenue(models.ExternalVenue{Campus: "North", Building: "B2", RoomName: "101"}).AsResource().Ref
	for _, u := range testUsers() {
		repo.AddUser(u)
	}
	return f
}

func sqliteFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	rooms := []models.Room{
		{Name: "Aula", Capacity: 30, IsActive: true},
		{Name: "Closed", IsActive: false},
		{Name: "Lab", IsActive: true},
	}
	venues := []models.ExternalVenue{{Campus: "North", Building: "B2", RoomName: "101"}}
	require.NoError(t, db.SyncResources(ctx, rooms, venues))
	for _, u := range testUsers() {
		u := u
		require.NoError(t, db.UpsertUser(ctx, &u))
	}

	return &fixture{
		name:   "sqlite",
		repo:   db,
		aula:   rooms[0].AsResource().Ref,
		closed: rooms[1].AsResource().Ref,
		lab:    rooms[2].AsResource().Ref,
		venue:  venues[0].AsResource().Ref,
	}
}

// forEachRepo runs fn once per repository implementation.
func forEachRepo(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, build := range []func(*testing.T) *fixture{memoryFixture, sqliteFixture} {
		f := build(t)
		t.Run(f.name, func(t *testing.T) { fn(t, f) })
	}
}

// book stores a booking directly, bypassing the services.
func (f *fixture) book(t *testing.T, ref models.ResourceRef, owner models.Identity, title string, start, end time.Time, status models.BookingStatus) *models.Booking {
	t.Helper()
	b := &models.Booking{
		UserID:    models.Int64Ptr(owner.UserID),
		UserName:  title + " owner",
		UserEmail: "owner@example.com",
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Status:    status,
	}
	b.SetResource(ref)
	require.NoError(t, f.repo.CreateBooking(context.Background(), b))
	return b
}

type sentMessage struct {
	userID  int64
	subject string
	body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Enqueue(_ context.Context, user *models.User, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{userID: user.ID, subject: subject, body: body})
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type env struct {
	*fixture
	checker  *AvailabilityChecker
	bookings *BookingService
	series   *SeriesService
	notifier *recordingNotifier

	mu     sync.Mutex
	events []string
}

func newEnv(t *testing.T, f *fixture, locker domain.ResourceLocker) *env {
	t.Helper()
	logger := zerolog.Nop()
	e := &env{fixture: f, notifier: &recordingNotifier{}}

	bus := events.NewEventBus()
	bus.Subscribe(func(ev *events.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.events = append(e.events, ev.Type)
		return nil
	}, events.AllTypes...)

	lockCfg := config.BookingConfig{LockTTL: time.Second, LockWait: 50 * time.Millisecond}
	e.checker = NewAvailabilityChecker(f.repo, &logger)
	e.bookings = NewBookingService(f.repo, locker, bus, e.notifier, lockCfg, &logger)
	e.series = NewSeriesService(f.repo, e.checker, locker, bus, e.notifier, lockCfg, &logger)
	return e
}

func (e *env) publishedEvents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// allBookings lists every stored booking of ref regardless of status.
func (f *fixture) allBookings(t *testing.T, ref models.ResourceRef) []*models.Booking {
	t.Helper()
	out, err := f.repo.FindBookings(context.Background(), domain.BookingFilter{Resource: ref})
	require.NoError(t, err)
	return out
}

var errInjected = errors.New("injected insert failure")

// faultyRepo fails the failAt-th CreateBooking issued inside a transaction.
type faultyRepo struct {
	domain.Repository
	failAt int
}

func (r *faultyRepo) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return r.Repository.WithTx(ctx, func(tx domain.Store) error {
		return fn(&faultyStore{Store: tx, failAt: r.failAt})
	})
}

type faultyStore struct {
	domain.Store
	failAt  int
	creates int
}

func (s *faultyStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	s.creates++
	if s.creates == s.failAt {
		return errInjected
	}
	return s.Store.CreateBooking(ctx, b)
}
