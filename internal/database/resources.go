package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"
)

func (s *queries) ListRooms(ctx context.Context, includeInactive bool) ([]*models.Room, error) {
	query := `SELECT id, name, capacity, description, is_active, created_at FROM rooms`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		var (
			r       models.Room
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Capacity, &r.Description, &r.IsActive, &created); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

func (s *queries) ListVenues(ctx context.Context) ([]*models.ExternalVenue, error) {
	query := `SELECT id, campus, building, room_name, description, created_at
              FROM external_venues ORDER BY campus, building, room_name, id`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	defer rows.Close()

	var venues []*models.ExternalVenue
	for rows.Next() {
		var (
			v       models.ExternalVenue
			created int64
		)
		if err := rows.Scan(&v.ID, &v.Campus, &v.Building, &v.RoomName, &v.Description, &created); err != nil {
			return nil, fmt.Errorf("failed to scan venue: %w", err)
		}
		v.CreatedAt = fromMillis(created)
		venues = append(venues, &v)
	}
	return venues, rows.Err()
}

func (s *queries) GetResource(ctx context.Context, ref models.ResourceRef) (*models.Resource, error) {
	switch ref.Kind {
	case models.ResourceRoom:
		var r models.Room
		err := s.q.QueryRowContext(ctx,
			`SELECT id, name, capacity, is_active FROM rooms WHERE id = ?`, ref.ID,
		).Scan(&r.ID, &r.Name, &r.Capacity, &r.IsActive)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("room", ref.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get room: %w", err)
		}
		res := r.AsResource()
		return &res, nil

	case models.ResourceVenue:
		var v models.ExternalVenue
		err := s.q.QueryRowContext(ctx,
			`SELECT id, campus, building, room_name FROM external_venues WHERE id = ?`, ref.ID,
		).Scan(&v.ID, &v.Campus, &v.Building, &v.RoomName)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("venue", ref.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get venue: %w", err)
		}
		res := v.AsResource()
		return &res, nil

	default:
		return nil, domain.Validation("resource", "unknown resource kind %q", ref.Kind)
	}
}

// SyncResources upserts rooms by name and venues by (campus, building, room
// name) in one transaction and writes the stored ids back into the slices.
func (db *DB) SyncResources(ctx context.Context, rooms []models.Room, venues []models.ExternalVenue) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := toMillis(time.Now())

	for i := range rooms {
		r := &rooms[i]
		_, err := tx.ExecContext(ctx, `INSERT INTO rooms (name, capacity, description, is_active, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				capacity = excluded.capacity,
				description = excluded.description,
				is_active = excluded.is_active`,
			r.Name, r.Capacity, r.Description, r.IsActive, now)
		if err != nil {
			return fmt.Errorf("failed to upsert room %q: %w", r.Name, err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = ?`, r.Name).Scan(&r.ID); err != nil {
			return fmt.Errorf("failed to read room id %q: %w", r.Name, err)
		}
	}

	for i := range venues {
		v := &venues[i]
		_, err := tx.ExecContext(ctx, `INSERT INTO external_venues (campus, building, room_name, description, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(campus, building, room_name) DO UPDATE SET
				description = excluded.description`,
			v.Campus, v.Building, v.RoomName, v.Description, now)
		if err != nil {
			return fmt.Errorf("failed to upsert venue %q: %w", v.DisplayName(), err)
		}
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM external_venues WHERE campus = ? AND building = ? AND room_name = ?`,
			v.Campus, v.Building, v.RoomName,
		).Scan(&v.ID)
		if err != nil {
			return fmt.Errorf("failed to read venue id %q: %w", v.DisplayName(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resources: %w", err)
	}

	db.logger.Info().Int("rooms", len(rooms)).Int("venues", len(venues)).Msg("Resources synced")
	return nil
}
