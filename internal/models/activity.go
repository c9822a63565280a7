package models

import (
	"fmt"
	"time"
)

// AuditEntry is one accept/reject decision in the venue activity log.
type AuditEntry struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	VenueID     string    `json:"venue_id"`
	MemberName  string    `json:"member_name"`
	Outcome     string    `json:"outcome"` // accepted, rejected
	Reason      string    `json:"reason,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// DescribeDecision builds the human description stored with an audit entry.
func DescribeDecision(memberName string, decision Decision, reason string) string {
	if decision == DecisionReject {
		if reason == "" {
			return fmt.Sprintf("%s was denied entry", memberName)
		}
		return fmt.Sprintf("%s was denied entry (%s)", memberName, reason)
	}
	return fmt.Sprintf("%s checked in", memberName)
}
