package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedRooms stores rooms named after args and returns their ids in order.
func seedRooms(t *testing.T, db *DB, names ...string) []int64 {
	t.Helper()
	rooms := make([]models.Room, len(names))
	for i, n := range names {
		rooms[i] = models.Room{Name: n, Capacity: 10, IsActive: true}
	}
	require.NoError(t, db.SyncResources(context.Background(), rooms, nil))

	ids := make([]int64, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}
	return ids
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_MigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.migrate(context.Background()))
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDB_ClosedReturnsErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	_, err = db.FindBookings(ctx, domain.BookingFilter{Resource: models.ResourceRef{Kind: models.ResourceRoom, ID: 1}})
	assert.Error(t, err)

	err = db.CreateBooking(ctx, &models.Booking{
		Title:     "x",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	})
	assert.Error(t, err)

	_, err = db.ListRooms(ctx, true)
	assert.Error(t, err)

	err = db.WithTx(ctx, func(_ domain.Store) error { return nil })
	assert.Error(t, err)
}

func TestSyncResources(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rooms := []models.Room{
		{Name: "Zeta", Capacity: 4, IsActive: true},
		{Name: "Alpha", Capacity: 12, IsActive: true},
		{Name: "Closed", Capacity: 2, IsActive: false},
	}
	venues := []models.ExternalVenue{
		{Campus: "South", Building: "A", RoomName: "1"},
		{Campus: "North", Building: "C", RoomName: "7"},
		{Campus: "North", Building: "B", RoomName: "9"},
	}
	require.NoError(t, db.SyncResources(ctx, rooms, venues))
	for _, r := range rooms {
		assert.NotZero(t, r.ID)
	}

	active, err := db.ListRooms(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Alpha", active[0].Name)
	assert.Equal(t, "Zeta", active[1].Name)

	all, err := db.ListRooms(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	vs, err := db.ListVenues(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, "North / B / 9", vs[0].DisplayName())
	assert.Equal(t, "North / C / 7", vs[1].DisplayName())
	assert.Equal(t, "South / A / 1", vs[2].DisplayName())

	// Re-syncing updates in place and keeps ids stable.
	firstID := rooms[0].ID
	rooms[0].Capacity = 40
	require.NoError(t, db.SyncResources(ctx, rooms[:1], nil))
	assert.Equal(t, firstID, rooms[0].ID)

	res, err := db.GetResource(ctx, models.ResourceRef{Kind: models.ResourceRoom, ID: firstID})
	require.NoError(t, err)
	assert.Equal(t, 40, res.Capacity)
	assert.Equal(t, "Zeta", res.Name)

	venue, err := db.GetResource(ctx, models.ResourceRef{Kind: models.ResourceVenue, ID: venues[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "South / A / 1", venue.Name)
}

func TestGetResource_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetResource(context.Background(), models.ResourceRef{Kind: models.ResourceRoom, ID: 99})
	assert.True(t, domain.IsNotFound(err))

	_, err = db.GetResource(context.Background(), models.ResourceRef{Kind: "desk", ID: 1})
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := &models.User{
		ID:          7,
		Name:        "Ada",
		Email:       "ada@example.com",
		Role:        models.RoleAdmin,
		Channels:    models.NewChannelSet(models.ChannelEmail),
		Preferences: models.DefaultPreferences,
	}
	require.NoError(t, db.UpsertUser(ctx, user))

	got, err := db.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.Channels.Has(models.ChannelEmail))
	assert.False(t, got.Channels.Has(models.ChannelTelegram))

	user.Email = "ada@new.example.com"
	require.NoError(t, db.UpsertUser(ctx, user))
	got, err = db.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ada@new.example.com", got.Email)

	_, err = db.GetUser(ctx, 8)
	assert.True(t, domain.IsNotFound(err))
}
