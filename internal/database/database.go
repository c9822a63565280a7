package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

// DB is the SQLite store behind the entry API: bookings that can be checked
// in and the activity log of decisions.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == memoryPath {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entry_bookings (
            id TEXT PRIMARY KEY,
            token TEXT NOT NULL UNIQUE COLLATE NOCASE,
            member_name TEXT NOT NULL,
            plan_name TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            photo_url TEXT,
            venue_id TEXT NOT NULL DEFAULT '',
            valid_until DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS checkin_activity (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL,
            venue_id TEXT NOT NULL DEFAULT '',
            member_name TEXT NOT NULL,
            outcome TEXT NOT NULL,
            reason TEXT,
            description TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            FOREIGN KEY (booking_id) REFERENCES entry_bookings(id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_entry_bookings_status ON entry_bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_checkin_activity_created ON checkin_activity(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_checkin_activity_venue ON checkin_activity(venue_id)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
