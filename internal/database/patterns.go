package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"venuebook/internal/models"
)

func (s *queries) CreateRecurrencePattern(ctx context.Context, pattern *models.RecurrencePattern) error {
	query := `INSERT INTO recurrence_patterns (
				parent_booking_id, frequency, interval, days_of_week, max_occurrences, end_date, utc_offset, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, query,
		pattern.ParentBookingID,
		string(pattern.Frequency),
		pattern.EffectiveInterval(),
		strings.Join(pattern.DaysOfWeek, ","),
		pattern.MaxOccurrences,
		nullMillis(pattern.EndDate),
		pattern.UTCOffset,
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create recurrence pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	pattern.ID = id
	pattern.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (s *queries) GetRecurrencePattern(ctx context.Context, parentBookingID int64) (*models.RecurrencePattern, error) {
	var (
		p             models.RecurrencePattern
		days          string
		endDate       sql.NullInt64
		createdMillis int64
	)
	query := `SELECT id, parent_booking_id, frequency, interval, days_of_week, max_occurrences, end_date, utc_offset, created_at
              FROM recurrence_patterns WHERE parent_booking_id = ?`
	err := s.q.QueryRowContext(ctx, query, parentBookingID).Scan(
		&p.ID, &p.ParentBookingID, &p.Frequency, &p.Interval, &days, &p.MaxOccurrences, &endDate, &p.UTCOffset, &createdMillis,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence pattern: %w", err)
	}

	if days != "" {
		p.DaysOfWeek = strings.Split(days, ",")
	}
	if endDate.Valid {
		t := fromMillis(endDate.Int64)
		p.EndDate = &t
	}
	p.CreatedAt = fromMillis(createdMillis)
	return &p, nil
}
