package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"
)

const bookingColumns = `id, user_id, user_name, user_email, room_id, external_venue_id, title,
	attendee_count, start_time, end_time, status, rejection_reason, parent_booking_id,
	occurrence_number, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                     models.Booking
		userID, roomID, venueID, parentID     sql.NullInt64
		attendees, occurrence                 sql.NullInt64
		startMillis, endMillis, createdMillis int64
	)
	err := row.Scan(
		&b.ID, &userID, &b.UserName, &b.UserEmail, &roomID, &venueID, &b.Title,
		&attendees, &startMillis, &endMillis, &b.Status, &b.RejectionReason, &parentID,
		&occurrence, &createdMillis,
	)
	if err != nil {
		return nil, err
	}

	b.UserID = int64Ptr(userID)
	b.RoomID = int64Ptr(roomID)
	b.ExternalVenueID = int64Ptr(venueID)
	b.ParentBookingID = int64Ptr(parentID)
	b.AttendeeCount = intPtr(attendees)
	b.OccurrenceNumber = intPtr(occurrence)
	b.StartTime = fromMillis(startMillis)
	b.EndTime = fromMillis(endMillis)
	b.CreatedAt = fromMillis(createdMillis)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func (s *queries) FindBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)

	switch filter.Resource.Kind {
	case models.ResourceRoom:
		where = append(where, "room_id = ?")
		args = append(args, filter.Resource.ID)
	case models.ResourceVenue:
		where = append(where, "external_venue_id = ?")
		args = append(args, filter.Resource.ID)
	case "":
	default:
		return nil, fmt.Errorf("unknown resource kind %q", filter.Resource.Kind)
	}

	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	if !filter.Start.IsZero() && !filter.End.IsZero() {
		where = append(where, "start_time < ? AND end_time > ?")
		args = append(args, toMillis(filter.End), toMillis(filter.Start))
	}

	if filter.ExcludeID != 0 {
		where = append(where, "id != ?")
		args = append(args, filter.ExcludeID)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	return scanBookings(rows)
}

func (s *queries) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := booking.Validate(); err != nil {
		return domain.Validation("booking", "%s", err.Error())
	}
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}

	query := `INSERT INTO bookings (
				user_id, user_name, user_email, room_id, external_venue_id, title,
				attendee_count, start_time, end_time, status, rejection_reason,
				parent_booking_id, occurrence_number, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, query,
		nullInt64(booking.UserID),
		booking.UserName,
		booking.UserEmail,
		nullInt64(booking.RoomID),
		nullInt64(booking.ExternalVenueID),
		booking.Title,
		nullInt(booking.AttendeeCount),
		toMillis(booking.StartTime),
		toMillis(booking.EndTime),
		string(booking.Status),
		booking.RejectionReason,
		nullInt64(booking.ParentBookingID),
		nullInt(booking.OccurrenceNumber),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (s *queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (s *queries) GetSeriesBookings(ctx context.Context, rootID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE id = ? OR parent_booking_id = ?
              ORDER BY COALESCE(occurrence_number, 1) ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, rootID, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to get series bookings: %w", err)
	}
	return scanBookings(rows)
}

func (s *queries) UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus, reason string) error {
	if !status.Valid() {
		return domain.Validation("status", "unknown status %q", status)
	}
	query := `UPDATE bookings SET status = ?, rejection_reason = ? WHERE id = ?`
	result, err := s.q.ExecContext(ctx, query, string(status), reason, id)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("booking", id)
	}
	return nil
}

// DeleteBooking removes the row; the pattern and children of a parent cascade.
func (s *queries) DeleteBooking(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("booking", id)
	}
	return nil
}
