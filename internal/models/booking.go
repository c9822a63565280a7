package models

import "time"

// Booking is the read-only snapshot of a member's entry booking returned by lookup.
type Booking struct {
	ID         string    `json:"id" yaml:"id"`
	Token      string    `json:"-" yaml:"token"`
	MemberName string    `json:"member_name" yaml:"member_name"`
	PlanName   string    `json:"plan_name" yaml:"plan_name"`
	Status     string    `json:"status" yaml:"status"` // active, checked_in, rejected, expired, cancelled
	PhotoURL   string    `json:"photo_url,omitempty" yaml:"photo_url"`
	VenueID    string    `json:"venue_id" yaml:"venue_id"`
	ValidUntil time.Time `json:"valid_until" yaml:"valid_until"`
}

// IsDecided reports whether an accept/reject decision was already recorded.
func (b *Booking) IsDecided() bool {
	return b.Status == StatusCheckedIn || b.Status == StatusRejected
}

// IsExpired reports whether the booking can no longer be used for entry at now.
func (b *Booking) IsExpired(now time.Time) bool {
	if b.Status == StatusExpired || b.Status == StatusCancelled {
		return true
	}
	return !b.ValidUntil.IsZero() && now.After(b.ValidUntil)
}
