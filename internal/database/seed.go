package database

import (
	"context"
	"fmt"
	"os"

	"gymkaana/internal/models"

	"gopkg.in/yaml.v2"
)

type seedFile struct {
	Bookings []models.Booking `yaml:"bookings"`
}

// LoadSeed reads entry bookings from a YAML file.
func LoadSeed(path string) ([]models.Booking, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return seed.Bookings, nil
}

// SeedFromFile loads path and upserts its bookings. It returns how many were
// written.
func (db *DB) SeedFromFile(ctx context.Context, path string) (int, error) {
	bookings, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := db.UpsertBookings(ctx, bookings); err != nil {
		return 0, err
	}
	db.logger.Info().Str("path", path).Int("bookings", len(bookings)).Msg("Seed bookings loaded")
	return len(bookings), nil
}
