package checkin

import "gymkaana/internal/models"

type Kind int

const (
	KindIdle Kind = iota
	KindChecking
	KindReview
	KindRejecting
	KindSuccess
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindChecking:
		return "checking"
	case KindReview:
		return "review"
	case KindRejecting:
		return "rejecting"
	case KindSuccess:
		return "success"
	case KindFailed:
		return "error"
	default:
		return "unknown"
	}
}

// ScanState is the single source of truth for what the check-in screen does
// next. Only the variants below implement it.
type ScanState interface {
	Kind() Kind
	isScanState()
}

type Idle struct{}

// Checking covers both the lookup and the confirm round trip.
type Checking struct{}

type Review struct {
	Booking models.Booking
}

type Rejecting struct {
	Booking models.Booking
	Draft   models.ReasonDraft
}

type Success struct {
	Booking models.Booking
}

type Failed struct {
	Message string
}

func (Idle) Kind() Kind      { return KindIdle }
func (Checking) Kind() Kind  { return KindChecking }
func (Review) Kind() Kind    { return KindReview }
func (Rejecting) Kind() Kind { return KindRejecting }
func (Success) Kind() Kind   { return KindSuccess }
func (Failed) Kind() Kind    { return KindFailed }

func (Idle) isScanState()      {}
func (Checking) isScanState()  {}
func (Review) isScanState()    {}
func (Rejecting) isScanState() {}
func (Success) isScanState()   {}
func (Failed) isScanState()    {}

// acceptsInput reports whether a fresh scan or manual entry may start from s.
// Success and Failed only wait for their auto-reset, which input preempts.
func acceptsInput(s ScanState) bool {
	switch s.(type) {
	case Idle, Success, Failed:
		return true
	default:
		return false
	}
}
