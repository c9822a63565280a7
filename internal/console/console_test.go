package console

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"gymkaana/internal/checkin"
	"gymkaana/internal/domain"
	"gymkaana/internal/events"
	"gymkaana/internal/models"
	"gymkaana/internal/scanner"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) StartScan(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockController) StopScan()                           { m.Called() }
func (m *mockController) SubmitManual(ctx context.Context, raw string) error {
	return m.Called(raw).Error(0)
}
func (m *mockController) Accept(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockController) StartReject() error               { return m.Called().Error(0) }
func (m *mockController) SelectReason(reason models.RejectionReason) error {
	return m.Called(reason).Error(0)
}
func (m *mockController) SetOtherText(text string) error        { return m.Called(text).Error(0) }
func (m *mockController) CancelReject() error                   { return m.Called().Error(0) }
func (m *mockController) ConfirmReject(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockController) Dismiss() error                        { return m.Called().Error(0) }
func (m *mockController) State() checkin.ScanState              { return m.Called().Get(0).(checkin.ScanState) }
func (m *mockController) Controls() checkin.Controls            { return m.Called().Get(0).(checkin.Controls) }

type staticActivity struct {
	entries   []models.AuditEntry
	refreshes int
}

func (a *staticActivity) Snapshot() []models.AuditEntry { return a.entries }
func (a *staticActivity) RequestRefresh()               { a.refreshes++ }

func newTestConsole(t *testing.T) (*Console, *mockController, *staticActivity, *bytes.Buffer) {
	t.Helper()
	ctl := &mockController{}
	ctl.On("State").Return(checkin.ScanState(checkin.Idle{})).Maybe()
	ctl.On("Controls").Return(checkin.Controls{Scan: true, ManualEntry: true}).Maybe()
	activity := &staticActivity{entries: []models.AuditEntry{{
		ID:          "a-1",
		MemberName:  "Rahul Sharma",
		Outcome:     models.OutcomeAccepted,
		Description: "Rahul Sharma checked in",
		CreatedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}}
	out := &bytes.Buffer{}
	c := New(ctl, activity, t.TempDir(), out, nil)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return c, ctl, activity, out
}

func TestExecuteDispatch(t *testing.T) {
	c, ctl, _, out := newTestConsole(t)
	ctx := context.Background()

	ctl.On("StartScan").Return(nil).Once()
	ctl.On("StopScan").Return().Once()
	ctl.On("SubmitManual", "GYMKAANA-ABC123").Return(nil).Once()
	ctl.On("Accept").Return(nil).Once()
	ctl.On("StartReject").Return(nil).Once()
	ctl.On("SetOtherText", "no towel").Return(nil).Once()
	ctl.On("CancelReject").Return(nil).Once()
	ctl.On("ConfirmReject").Return(nil).Once()
	ctl.On("Dismiss").Return(nil).Once()

	for _, line := range []string{
		"scan", "stop", "enter GYMKAANA-ABC123", "ACCEPT", "reject",
		"other   no towel", "cancel", "submit", "dismiss", "   ",
	} {
		assert.False(t, c.Execute(ctx, line), line)
	}
	c.scans.Wait()

	ctl.AssertExpectations(t)
	assert.NotContains(t, out.String(), "!")
}

func TestExecuteQuit(t *testing.T) {
	c, _, _, _ := newTestConsole(t)
	assert.True(t, c.Execute(context.Background(), "quit"))
	assert.True(t, c.Execute(context.Background(), "exit"))
}

func TestSelectReason(t *testing.T) {
	c, ctl, _, out := newTestConsole(t)
	ctx := context.Background()

	ctl.On("SelectReason", models.ReasonBehavioralIssue).Return(nil).Once()
	ctl.On("SelectReason", models.ReasonCapacityFull).Return(nil).Once()

	c.Execute(ctx, "reason 2")
	c.Execute(ctx, "reason capacity full")
	ctl.AssertExpectations(t)

	c.Execute(ctx, "reason 9")
	assert.Contains(t, out.String(), "reason must be between 1 and 4")

	c.Execute(ctx, "reason rude")
	assert.Contains(t, out.String(), `unknown reason "rude"`)
}

func TestExecuteReportsRefusals(t *testing.T) {
	c, ctl, _, out := newTestConsole(t)
	ctx := context.Background()

	ctl.On("SubmitManual", "").Return(checkin.ErrEmptyToken).Once()
	ctl.On("StartScan").Return(checkin.ErrBusy).Once()
	ctl.On("ConfirmReject").Return(checkin.ErrReasonRequired).Once()

	c.Execute(ctx, "enter")
	c.Execute(ctx, "scan")
	c.scans.Wait()
	c.Execute(ctx, "submit")
	c.Execute(ctx, "dance")

	text := out.String()
	assert.Contains(t, text, "! enter a member ID")
	assert.Contains(t, text, "! busy, finish the current check first")
	assert.Contains(t, text, "! pick a reason first")
	assert.Contains(t, text, `unknown command "dance"`)
}

func TestFeedAndExport(t *testing.T) {
	c, _, activity, out := newTestConsole(t)
	ctx := context.Background()

	c.Execute(ctx, "feed")
	assert.Equal(t, 1, activity.refreshes)
	assert.Contains(t, out.String(), "Rahul Sharma checked in")

	c.Execute(ctx, "export")
	require.Contains(t, out.String(), "activity exported to ")

	idx := strings.Index(out.String(), "activity exported to ")
	path := strings.TrimSpace(out.String()[idx+len("activity exported to "):])
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestRunStopsOnQuitAndEOF(t *testing.T) {
	c, ctl, _, out := newTestConsole(t)
	ctl.On("Dismiss").Return(nil).Once()

	err := c.Run(context.Background(), strings.NewReader("dismiss\nquit\nscan\n"))
	require.NoError(t, err)
	ctl.AssertExpectations(t)
	ctl.AssertNotCalled(t, "StartScan")
	assert.Contains(t, out.String(), "commands:")

	err = c.Run(context.Background(), strings.NewReader(""))
	assert.NoError(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _, _, _ := newTestConsole(t)
	ctx, cancel := context.WithCancel(context.Background())
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, r) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscribePrintsState(t *testing.T) {
	c, _, _, out := newTestConsole(t)
	bus := events.NewEventBus()
	c.Subscribe(bus)

	require.NoError(t, bus.PublishJSON(events.EventStateChanged, events.StateChangedPayload{From: "checking", To: "idle"}))
	assert.Contains(t, out.String(), "[ready]")
	assert.Contains(t, out.String(), "scan | enter <id>")
}

func TestFormatState(t *testing.T) {
	booking := models.Booking{
		ID:         "bk-1",
		MemberName: "Priya Nair",
		PlanName:   "Day Pass",
		Status:     models.StatusActive,
		PhotoURL:   "https://cdn.example.com/p.jpg",
	}

	review := FormatState(checkin.Review{Booking: booking}, checkin.ControlsFor(checkin.Review{Booking: booking}, true))
	assert.Contains(t, review, "member: Priya Nair")
	assert.Contains(t, review, "photo:  https://cdn.example.com/p.jpg")
	assert.Contains(t, review, "accept | reject")

	rejecting := checkin.Rejecting{Booking: booking, Draft: models.ReasonDraft{Reason: models.ReasonOther, OtherText: "shoes"}}
	text := FormatState(rejecting, checkin.ControlsFor(rejecting, true))
	assert.Contains(t, text, "* 4. Other")
	assert.Contains(t, text, `details: "shoes"`)
	assert.Contains(t, text, "submit | cancel")

	assert.Contains(t, FormatState(checkin.Checking{}, checkin.Controls{}), "verifying")
	assert.NotContains(t, FormatState(checkin.Checking{}, checkin.Controls{}), ">")
	assert.Contains(t, FormatState(checkin.Success{Booking: booking}, checkin.Controls{}), "Priya Nair checked in")
	assert.Contains(t, FormatState(checkin.Failed{Message: checkin.MessageInvalidEntry}, checkin.Controls{}), checkin.MessageInvalidEntry)
}

func TestFormatActivityEmpty(t *testing.T) {
	assert.Equal(t, "-- no recent activity --\n", FormatActivity(nil))
}

func TestOnActivityPrintsChangesOnly(t *testing.T) {
	c, _, activity, out := newTestConsole(t)

	c.OnActivity(activity.entries)
	first := out.Len()
	assert.Contains(t, out.String(), "Rahul Sharma checked in")

	c.OnActivity(activity.entries)
	assert.Equal(t, first, out.Len())

	c.OnActivity(append([]models.AuditEntry{{ID: "a-2", Outcome: models.OutcomeRejected, Description: "Priya Nair was denied entry (Capacity Full)"}}, activity.entries...))
	assert.Contains(t, out.String(), "Priya Nair was denied entry")
}

type deskLookup struct{}

func (deskLookup) LookupEntry(_ context.Context, token string) (*models.Booking, error) {
	if token != "ABC123" {
		return nil, domain.ErrNotFound
	}
	return &models.Booking{ID: "bk-1", MemberName: "Rahul Sharma", PlanName: "Monthly Pro", Status: models.StatusActive}, nil
}

func (deskLookup) ConfirmEntry(context.Context, string, models.Decision, string) error { return nil }

// stalledCamera never finishes opening until cancelled, like a FIFO with no writer.
type stalledCamera struct{}

func (stalledCamera) Open(ctx context.Context, _ scanner.Constraints) (scanner.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestManualEntryWhileCameraStalls(t *testing.T) {
	logger := zerolog.Nop()
	lc := scanner.NewLifecycle(stalledCamera{}, scanner.Options{}, &logger)
	m := checkin.NewMachine(deskLookup{}, deskLookup{}, lc, nil, checkin.Options{}, &logger)
	defer m.Close()

	out := &bytes.Buffer{}
	c := New(m, &staticActivity{}, t.TempDir(), out, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), strings.NewReader("scan\nenter GYMKAANA-ABC123\n")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console blocked behind the camera")
	}
	c.scans.Wait()

	review, ok := m.State().(checkin.Review)
	require.True(t, ok, "expected review, got %s", m.State().Kind())
	assert.Equal(t, "Rahul Sharma", review.Booking.MemberName)
	assert.False(t, lc.Active())
}

func TestScanReportsCameraFailure(t *testing.T) {
	logger := zerolog.Nop()
	m := checkin.NewMachine(deskLookup{}, deskLookup{}, nil, nil, checkin.Options{}, &logger)
	defer m.Close()

	out := &bytes.Buffer{}
	c := New(m, &staticActivity{}, t.TempDir(), out, nil)
	c.Execute(context.Background(), "scan")
	c.scans.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Contains(t, out.String(), "! camera unavailable, enter the member ID instead")
}
