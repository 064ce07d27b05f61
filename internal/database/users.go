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

// UpsertUser creates or replaces the user with user.ID.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, name, email, telegram_chat_id, role, channels, preferences, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                email = excluded.email,
                telegram_chat_id = excluded.telegram_chat_id,
                role = excluded.role,
                channels = excluded.channels,
                preferences = excluded.preferences`
	role := user.Role
	if role == "" {
		role = models.RoleStandard
	}
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.TelegramChatID,
		string(role),
		int64(user.Channels),
		int64(user.Preferences),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

func (s *queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var (
		user                  models.User
		channels, preferences int64
		created               int64
	)
	query := `SELECT id, name, email, telegram_chat_id, role, channels, preferences, created_at
              FROM users WHERE id = ?`
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.Email, &user.TelegramChatID, &user.Role, &channels, &preferences, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Channels = models.ChannelSet(channels)
	user.Preferences = models.PreferenceSet(preferences)
	user.CreatedAt = fromMillis(created)
	return &user, nil
}
