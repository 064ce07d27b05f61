package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"venuebook/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements domain.Store over a querier.
type queries struct {
	q querier
}

var _ domain.Store = (*queries)(nil)

type DB struct {
	*sql.DB
	*queries
	path   string
	logger *zerolog.Logger
}

var _ domain.Repository = (*DB)(nil)

// NewDB opens (creating if needed) the sqlite database at path and applies
// the schema. Writers take the database lock at BEGIN (_txlock=immediate)
// so a check inside WithTx cannot be invalidated before commit.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	inMemory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := NewFromSQL(sqlDB, path, logger)
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// NewFromSQL wraps an already opened handle without touching the schema.
func NewFromSQL(sqlDB *sql.DB, path string, logger *zerolog.Logger) *DB {
	return &DB{
		DB:      sqlDB,
		queries: &queries{q: sqlDB},
		path:    path,
		logger:  logger,
	}
}

// Path is the filesystem location of the database, used by backups.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn inside one transaction. fn must only use the Store it is given.
func (db *DB) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		telegram_chat_id INTEGER NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'STANDARD',
		channels INTEGER NOT NULL DEFAULT 0,
		preferences INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		capacity INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS external_venues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campus TEXT NOT NULL,
		building TEXT NOT NULL,
		room_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (campus, building, room_name)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		user_name TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL DEFAULT '',
		room_id INTEGER REFERENCES rooms(id),
		external_venue_id INTEGER REFERENCES external_venues(id),
		title TEXT NOT NULL,
		attendee_count INTEGER,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		rejection_reason TEXT NOT NULL DEFAULT '',
		parent_booking_id INTEGER REFERENCES bookings(id) ON DELETE CASCADE,
		occurrence_number INTEGER,
		created_at INTEGER NOT NULL,
		CHECK (start_time < end_time),
		CHECK (room_id IS NULL OR external_venue_id IS NULL)
	)`,
	`CREATE TABLE IF NOT EXISTS recurrence_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id) ON DELETE CASCADE,
		frequency TEXT NOT NULL,
		interval INTEGER NOT NULL DEFAULT 1,
		days_of_week TEXT NOT NULL DEFAULT '',
		max_occurrences INTEGER NOT NULL,
		end_date INTEGER,
		utc_offset INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_room_time ON bookings(room_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_venue_time ON bookings(external_venue_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_parent ON bookings(parent_booking_id, occurrence_number)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_series_number ON bookings(parent_booking_id, occurrence_number)
		WHERE parent_booking_id IS NOT NULL`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Times are stored as unix milliseconds and read back in UTC.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
