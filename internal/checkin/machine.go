package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gymkaana/internal/domain"
	"gymkaana/internal/events"
	"gymkaana/internal/metrics"
	"gymkaana/internal/models"
	"gymkaana/internal/scanner"

	"github.com/rs/zerolog"
)

var (
	ErrBusy           = errors.New("check-in in progress")
	ErrEmptyToken     = errors.New("entry token is empty")
	ErrReasonRequired = errors.New("rejection reason required")
	ErrInvalidReason  = errors.New("unknown rejection reason")
	ErrInvalidState   = errors.New("action not allowed in current state")
	ErrClosed         = errors.New("check-in closed")
)

// MessageInvalidEntry is shown when a token does not resolve to a usable booking.
const MessageInvalidEntry = "Invalid or Expired ID"

// Scanner is the camera side of the check-in screen.
type Scanner interface {
	Activate(ctx context.Context, h scanner.Handlers) error
	Deactivate()
	Active() bool
}

type Options struct {
	TokenMarker       string
	ErrorResetDelay   time.Duration
	SuccessResetDelay time.Duration
}

// Machine drives one operator's check-in screen: it owns the scan state,
// starts and stops the scanner, and runs lookups and confirmations.
type Machine struct {
	lookup    domain.EntryLookup
	confirmer domain.EntryConfirmer
	scanner   Scanner
	events    domain.EventPublisher
	opts      Options
	logger    *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  ScanState
	epoch  uint64
	timer  *time.Timer
	closed bool
}

func NewMachine(
	lookup domain.EntryLookup,
	confirmer domain.EntryConfirmer,
	sc Scanner,
	publisher domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *Machine {
	if opts.TokenMarker == "" {
		opts.TokenMarker = models.DefaultTokenMarker
	}
	if opts.ErrorResetDelay <= 0 {
		opts.ErrorResetDelay = models.DefaultErrorResetSeconds * time.Second
	}
	if opts.SuccessResetDelay <= 0 {
		opts.SuccessResetDelay = models.DefaultSuccessResetSeconds * time.Second
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		lookup:    lookup,
		confirmer: confirmer,
		scanner:   sc,
		events:    publisher,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     Idle{},
	}
}

func (m *Machine) State() ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Controls reports which operator actions are currently enabled.
func (m *Machine) Controls() Controls {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return ControlsFor(state, m.scanner != nil)
}

// StartScan opens the camera. On camera failure the state stays Idle and
// manual entry remains available. It blocks while the camera opens; a manual
// entry or StopScan made meanwhile aborts the open and StartScan returns nil.
func (m *Machine) StartScan(ctx context.Context) error {
	if m.scanner == nil {
		return fmt.Errorf("%w: no camera configured", scanner.ErrCameraUnavailable)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !acceptsInput(m.state) {
		m.mu.Unlock()
		return ErrBusy
	}
	from, changed := m.state, false
	if _, idle := m.state.(Idle); !idle {
		m.transitionLocked(Idle{})
		changed = true
	}
	epoch := m.epoch
	m.mu.Unlock()
	if changed {
		m.notify(from, Idle{})
	}

	err := m.scanner.Activate(ctx, scanner.Handlers{
		OnDecoded: m.handleDecoded,
		OnError:   m.handleScannerError,
		// Any transition since the checks above, such as a manual entry
		// moving to Checking, means the camera must not be kept.
		Admit: func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return !m.closed && m.epoch == epoch
		},
	})
	if err != nil {
		if errors.Is(err, scanner.ErrAborted) {
			return nil
		}
		m.logger.Warn().Err(err).Msg("scanner unavailable, manual entry only")
		_ = m.events.PublishJSON(events.EventScannerFailed, map[string]string{"error": err.Error()})
		return err
	}
	return nil
}

// StopScan aborts an open scanner session. Safe to call at any time.
func (m *Machine) StopScan() {
	if m.scanner != nil {
		m.scanner.Deactivate()
	}
}

// SubmitManual looks up a typed token. Lookup failures end in the Failed state
// and are not returned; only rejected input is.
func (m *Machine) SubmitManual(ctx context.Context, raw string) error {
	return m.submit(ctx, raw, "manual")
}

func (m *Machine) handleDecoded(text string) {
	if err := m.submit(m.ctx, text, "camera"); err != nil {
		m.logger.Debug().Err(err).Msg("decoded token discarded")
	}
}

func (m *Machine) handleScannerError(err error) {
	_ = m.events.PublishJSON(events.EventScannerFailed, map[string]string{"error": err.Error()})
}

func (m *Machine) submit(ctx context.Context, raw, source string) error {
	token := NormalizeToken(raw, m.opts.TokenMarker)
	if token == "" {
		return ErrEmptyToken
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !acceptsInput(m.state) {
		m.mu.Unlock()
		return ErrBusy
	}
	m.mu.Unlock()

	// The camera must be fully released before the lookup starts.
	m.StopScan()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !acceptsInput(m.state) {
		m.mu.Unlock()
		return ErrBusy
	}
	from := m.transitionLocked(Checking{})
	epoch := m.epoch
	m.mu.Unlock()
	// A scan started just before the transition may have opened after the
	// first stop; the new epoch keeps any later open from being kept.
	m.StopScan()
	m.notify(from, Checking{})

	m.logger.Info().Str("source", source).Str("token", token).Msg("looking up entry")

	opCtx, done := m.opContext(ctx)
	booking, err := m.lookup.LookupEntry(opCtx, token)
	done()

	if err != nil {
		metrics.IncLookup(lookupResult(err))
		m.logger.Warn().Err(err).Str("token", token).Msg("entry lookup failed")
		m.fail(epoch, lookupMessage(err))
		return nil
	}
	metrics.IncLookup("ok")

	next := Review{Booking: *booking}
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	from = m.transitionLocked(next)
	m.mu.Unlock()
	m.notify(from, next)
	return nil
}

// Accept confirms entry for the booking under review.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	review, ok := m.state.(Review)
	if !ok {
		err := m.stateErrLocked()
		m.mu.Unlock()
		return err
	}
	from := m.transitionLocked(Checking{})
	epoch := m.epoch
	m.mu.Unlock()
	m.notify(from, Checking{})

	booking := review.Booking
	opCtx, done := m.opContext(ctx)
	err := m.confirmer.ConfirmEntry(opCtx, booking.ID, models.DecisionAccept, "")
	done()

	if err != nil {
		metrics.IncDecision(string(models.DecisionAccept), "error")
		m.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("accept failed")
		m.fail(epoch, confirmMessage(err))
		return nil
	}
	metrics.IncDecision(string(models.DecisionAccept), "ok")

	next := Success{Booking: booking}
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	from = m.transitionLocked(next)
	m.scheduleResetLocked(m.opts.SuccessResetDelay)
	m.mu.Unlock()

	m.logger.Info().Str("booking_id", booking.ID).Str("member", booking.MemberName).Msg("entry accepted")
	m.notify(from, next)
	m.publishDecision(events.EventEntryAccepted, booking, models.DecisionAccept, "")
	m.requestAuditRefresh()
	return nil
}

// StartReject opens the rejection reason picker for the booking under review.
func (m *Machine) StartReject() error {
	return m.update(func(s ScanState) (ScanState, error) {
		review, ok := s.(Review)
		if !ok {
			return nil, ErrInvalidState
		}
		return Rejecting{Booking: review.Booking}, nil
	})
}

func (m *Machine) SelectReason(reason models.RejectionReason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	return m.update(func(s ScanState) (ScanState, error) {
		rej, ok := s.(Rejecting)
		if !ok {
			return nil, ErrInvalidState
		}
		rej.Draft.Reason = reason
		return rej, nil
	})
}

// SetOtherText sets the free text used when the reason is Other.
func (m *Machine) SetOtherText(text string) error {
	return m.update(func(s ScanState) (ScanState, error) {
		rej, ok := s.(Rejecting)
		if !ok {
			return nil, ErrInvalidState
		}
		rej.Draft.OtherText = text
		return rej, nil
	})
}

// CancelReject goes back to reviewing the same booking snapshot.
func (m *Machine) CancelReject() error {
	return m.update(func(s ScanState) (ScanState, error) {
		rej, ok := s.(Rejecting)
		if !ok {
			return nil, ErrInvalidState
		}
		return Review{Booking: rej.Booking}, nil
	})
}

// ConfirmReject submits the rejection. Without a complete reason it is a
// no-op returning ErrReasonRequired.
func (m *Machine) ConfirmReject(ctx context.Context) error {
	m.mu.Lock()
	rej, ok := m.state.(Rejecting)
	if !ok {
		err := m.stateErrLocked()
		m.mu.Unlock()
		return err
	}
	if !rej.Draft.Complete() {
		m.mu.Unlock()
		return ErrReasonRequired
	}
	from := m.transitionLocked(Checking{})
	epoch := m.epoch
	m.mu.Unlock()
	m.notify(from, Checking{})

	booking, reason := rej.Booking, rej.Draft.Text()
	opCtx, done := m.opContext(ctx)
	err := m.confirmer.ConfirmEntry(opCtx, booking.ID, models.DecisionReject, reason)
	done()

	if err != nil {
		metrics.IncDecision(string(models.DecisionReject), "error")
		m.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("reject failed")
		m.fail(epoch, confirmMessage(err))
		return nil
	}
	metrics.IncDecision(string(models.DecisionReject), "ok")

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	from = m.transitionLocked(Idle{})
	m.mu.Unlock()

	m.logger.Info().Str("booking_id", booking.ID).Str("reason", reason).Msg("entry rejected")
	m.notify(from, Idle{})
	m.publishDecision(events.EventEntryRejected, booking, models.DecisionReject, reason)
	m.requestAuditRefresh()
	return nil
}

// Dismiss returns to Idle from Success or Failed without waiting for the
// auto-reset.
func (m *Machine) Dismiss() error {
	return m.update(func(s ScanState) (ScanState, error) {
		switch s.(type) {
		case Success, Failed:
			return Idle{}, nil
		case Idle:
			return nil, nil
		default:
			return nil, ErrInvalidState
		}
	})
}

// Close releases the scanner, cancels pending timers and aborts in-flight
// calls. The machine cannot be used afterwards.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.cancel()
	m.StopScan()
}

// update applies a synchronous transition. fn returning a nil state means no change.
func (m *Machine) update(fn func(ScanState) (ScanState, error)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	next, err := fn(m.state)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			err = m.stateErrLocked()
		}
		m.mu.Unlock()
		return err
	}
	if next == nil {
		m.mu.Unlock()
		return nil
	}
	from := m.transitionLocked(next)
	m.mu.Unlock()
	m.notify(from, next)
	return nil
}

func (m *Machine) fail(epoch uint64, message string) {
	next := Failed{Message: message}
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	from := m.transitionLocked(next)
	m.scheduleResetLocked(m.opts.ErrorResetDelay)
	m.mu.Unlock()

	m.notify(from, next)
	m.requestAuditRefresh()
}

func (m *Machine) transitionLocked(next ScanState) ScanState {
	from := m.state
	m.state = next
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return from
}

// scheduleResetLocked arms the auto-reset to Idle. Any later transition bumps
// the epoch and turns the pending reset into a no-op.
func (m *Machine) scheduleResetLocked(delay time.Duration) {
	epoch := m.epoch
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closed || m.epoch != epoch {
			m.mu.Unlock()
			return
		}
		from := m.transitionLocked(Idle{})
		m.mu.Unlock()
		m.notify(from, Idle{})
	})
}

func (m *Machine) stateErrLocked() error {
	if _, checking := m.state.(Checking); checking {
		return ErrBusy
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, m.state.Kind())
}

// opContext ties a call to both the caller's ctx and the machine lifetime.
func (m *Machine) opContext(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = m.ctx
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (m *Machine) notify(from, to ScanState) {
	payload := events.StateChangedPayload{From: from.Kind().String(), To: to.Kind().String()}
	if f, ok := to.(Failed); ok {
		payload.Message = f.Message
	}
	m.logger.Debug().Str("from", payload.From).Str("to", payload.To).Msg("check-in state changed")
	if err := m.events.PublishJSON(events.EventStateChanged, payload); err != nil {
		m.logger.Warn().Err(err).Msg("publish state change")
	}
}

func (m *Machine) publishDecision(eventType string, b models.Booking, d models.Decision, reason string) {
	payload := events.DecisionEventPayload{
		BookingID:  b.ID,
		MemberName: b.MemberName,
		PlanName:   b.PlanName,
		VenueID:    b.VenueID,
		Decision:   string(d),
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	}
	if err := m.events.PublishJSON(eventType, payload); err != nil {
		m.logger.Warn().Err(err).Msg("publish decision")
	}
}

// requestAuditRefresh is fire-and-forget.
func (m *Machine) requestAuditRefresh() {
	_ = m.events.PublishJSON(events.EventAuditRefresh, struct{}{})
}

func lookupMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExpired):
		return MessageInvalidEntry
	case errors.Is(err, domain.ErrThrottled):
		return "Too many attempts, please wait a moment"
	default:
		return fmt.Sprintf("Lookup failed: %v", err)
	}
}

func lookupResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrThrottled):
		return "throttled"
	default:
		return "error"
	}
}

func confirmMessage(err error) string {
	if errors.Is(err, domain.ErrConflict) {
		return "Booking was already checked in or rejected"
	}
	return fmt.Sprintf("Failed to update entry: %v", err)
}

type nopPublisher struct{}

func (nopPublisher) PublishJSON(string, interface{}) error { return nil }
