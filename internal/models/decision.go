package models

import (
	"fmt"
	"strings"
)

// Decision is the operator's verdict on a located booking.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionAccept:
		return DecisionAccept, nil
	case DecisionReject:
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("unknown decision %q", raw)
	}
}

// Outcome maps a decision onto the audit outcome tag.
func (d Decision) Outcome() string {
	if d == DecisionReject {
		return OutcomeRejected
	}
	return OutcomeAccepted
}

// RejectionReason is one of the fixed reasons an operator can pick when turning a member away.
type RejectionReason string

const (
	ReasonInvalidDressCode RejectionReason = "Invalid Dress Code"
	ReasonBehavioralIssue  RejectionReason = "Behavioral Issue"
	ReasonCapacityFull     RejectionReason = "Capacity Full"
	ReasonOther            RejectionReason = "Other"
)

// RejectionReasons lists the selectable reasons in display order.
var RejectionReasons = []RejectionReason{
	ReasonInvalidDressCode,
	ReasonBehavioralIssue,
	ReasonCapacityFull,
	ReasonOther,
}

func (r RejectionReason) Valid() bool {
	for _, known := range RejectionReasons {
		if r == known {
			return true
		}
	}
	return false
}

// ReasonDraft is the rejection reason being composed by the operator.
type ReasonDraft struct {
	Reason    RejectionReason
	OtherText string
}

// Complete reports whether the draft may be submitted: a reason is chosen and,
// for Other, the free text is not blank.
func (d ReasonDraft) Complete() bool {
	if !d.Reason.Valid() {
		return false
	}
	if d.Reason == ReasonOther {
		return strings.TrimSpace(d.OtherText) != ""
	}
	return true
}

// Text is the reason string sent with a reject decision.
func (d ReasonDraft) Text() string {
	if d.Reason == ReasonOther {
		return strings.TrimSpace(d.OtherText)
	}
	return string(d.Reason)
}
