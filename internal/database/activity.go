package database

import (
	"context"
	"database/sql"
	"fmt"

	"gymkaana/internal/models"
)

// ListRecentActivity returns up to limit decisions, newest first.
func (db *DB) ListRecentActivity(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = models.DefaultActivityLimit
	}

	query := `SELECT id, booking_id, venue_id, member_name, outcome, reason, description, created_at
              FROM checkin_activity
              ORDER BY created_at DESC, rowid DESC
              LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e      models.AuditEntry
			reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.VenueID, &e.MemberName, &e.Outcome, &reason, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
