package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gymkaana/internal/domain"
	"gymkaana/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, token, member_name, plan_name, status, photo_url, venue_id, valid_until`

// GetBookingByToken resolves a normalized entry token. Expired or cancelled
// bookings yield domain.ErrExpired; decided bookings are returned as is so the
// operator can see their status.
func (db *DB) GetBookingByToken(ctx context.Context, token string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM entry_bookings WHERE token = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, err
	}
	if booking.IsExpired(time.Now()) {
		return nil, domain.ErrExpired
	}
	return booking, nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM entry_bookings WHERE id = ?`
	return scanBooking(db.QueryRowContext(ctx, query, id))
}

// UpsertBookings inserts or refreshes bookings by ID in one transaction.
// Missing IDs are generated. A recorded decision survives a refresh back to
// active, so reseeding never reopens a used booking.
func (db *DB) UpsertBookings(ctx context.Context, bookings []models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entry_bookings (
				id, token, member_name, plan_name, status, photo_url, venue_id,
				valid_until, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				token = excluded.token,
				member_name = excluded.member_name,
				plan_name = excluded.plan_name,
				status = CASE
					WHEN entry_bookings.status IN ('checked_in', 'rejected') AND excluded.status = 'active'
					THEN entry_bookings.status
					ELSE excluded.status
				END,
				photo_url = excluded.photo_url,
				venue_id = excluded.venue_id,
				valid_until = excluded.valid_until,
				updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range bookings {
		b := &bookings[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.Status == "" {
			b.Status = models.StatusActive
		}
		if b.Token == "" {
			return fmt.Errorf("booking %s has no token", b.ID)
		}

		var validUntil sql.NullTime
		if !b.ValidUntil.IsZero() {
			validUntil = sql.NullTime{Time: b.ValidUntil.UTC(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.Token, b.MemberName, b.PlanName, b.Status, b.PhotoURL, b.VenueID,
			validUntil, now, now,
		); err != nil {
			return fmt.Errorf("failed to upsert booking %s: %w", b.ID, err)
		}
	}

	return tx.Commit()
}

// RecordDecision moves an active booking to checked_in or rejected and appends
// the matching activity entry in the same transaction. A booking that was
// already decided yields domain.ErrConflict.
func (db *DB) RecordDecision(ctx context.Context, bookingID string, decision models.Decision, reason string) (*models.AuditEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	booking, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM entry_bookings WHERE id = ?`, bookingID))
	if err != nil {
		return nil, err
	}
	if booking.IsDecided() {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrConflict, booking.Status)
	}
	now := time.Now().UTC()
	if booking.IsExpired(now) {
		return nil, domain.ErrExpired
	}

	status := models.StatusCheckedIn
	if decision == models.DecisionReject {
		status = models.StatusRejected
	}

	// The status guard makes a concurrent decision lose here.
	res, err := tx.ExecContext(ctx,
		`UPDATE entry_bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, now, bookingID, booking.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 0 {
		return nil, domain.ErrConflict
	}

	entry := &models.AuditEntry{
		ID:          uuid.NewString(),
		BookingID:   booking.ID,
		VenueID:     booking.VenueID,
		MemberName:  booking.MemberName,
		Outcome:     decision.Outcome(),
		Reason:      reason,
		Description: models.DescribeDecision(booking.MemberName, decision, reason),
		CreatedAt:   now,
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO checkin_activity (
				id, booking_id, venue_id, member_name, outcome, reason, description, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BookingID, entry.VenueID, entry.MemberName,
		entry.Outcome, entry.Reason, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}

	db.logger.Info().
		Str("booking_id", booking.ID).
		Str("outcome", entry.Outcome).
		Str("reason", reason).
		Msg("Entry decision recorded")
	return entry, nil
}

func scanBooking(row *sql.Row) (*models.Booking, error) {
	var (
		b          models.Booking
		photoURL   sql.NullString
		validUntil sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Token, &b.MemberName, &b.PlanName, &b.Status, &photoURL, &b.VenueID, &validUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.PhotoURL = photoURL.String
	if validUntil.Valid {
		b.ValidUntil = validUntil.Time
	}
	return &b, nil
}
