package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gymkaana/internal/domain"
	"gymkaana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `bookings:
  - id: bk-1
    token: ABC123
    member_name: Rahul Sharma
    plan_name: Monthly Pro
    venue_id: venue-1
    photo_url: https://cdn.example.com/members/rahul.jpg
  - id: bk-2
    token: OLD999
    member_name: Old Member
    plan_name: Day Pass
    valid_until: 2020-01-01T00:00:00Z
`

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	bookings, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), bookings[1].ValidUntil.UTC())

	db := setupTestDB(t)
	n, err := db.SeedFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := db.GetBookingByToken(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/members/rahul.jpg", b.PhotoURL)
	assert.Equal(t, models.StatusActive, b.Status)

	_, err = db.GetBookingByToken(context.Background(), "OLD999")
	assert.ErrorIs(t, err, domain.ErrExpired)

	_, err = db.RecordDecision(context.Background(), "bk-1", models.DecisionAccept, "")
	require.NoError(t, err)

	// Seeding again keeps one row per booking and the recorded decision.
	_, err = db.SeedFromFile(context.Background(), path)
	require.NoError(t, err)
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entry_bookings`).Scan(&count))
	assert.Equal(t, 2, count)

	b, err = db.GetBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, b.Status)
}

func TestLoadSeedErrors(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bookings: [unclosed"), 0o644))
	_, err = LoadSeed(path)
	assert.Error(t, err)
}
