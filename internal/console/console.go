package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"gymkaana/internal/checkin"
	"gymkaana/internal/events"
	"gymkaana/internal/export"
	"gymkaana/internal/models"
	"gymkaana/internal/scanner"

	"github.com/rs/zerolog"
)

// Controller is the part of checkin.Machine the console drives.
type Controller interface {
	StartScan(ctx context.Context) error
	StopScan()
	SubmitManual(ctx context.Context, raw string) error
	Accept(ctx context.Context) error
	StartReject() error
	SelectReason(reason models.RejectionReason) error
	SetOtherText(text string) error
	CancelReject() error
	ConfirmReject(ctx context.Context) error
	Dismiss() error
	State() checkin.ScanState
	Controls() checkin.Controls
}

// Activity is the recent-activity window shown under the scanner.
type Activity interface {
	Snapshot() []models.AuditEntry
	RequestRefresh()
}

// Console is a line-oriented operator screen for one check-in desk.
type Console struct {
	ctl       Controller
	activity  Activity
	exportDir string
	now       func() time.Time
	logger    *zerolog.Logger

	// scans tracks camera opens running off the command loop.
	scans sync.WaitGroup

	mu       sync.Mutex
	out      io.Writer
	lastFeed string
}

func New(ctl Controller, activity Activity, exportDir string, out io.Writer, logger *zerolog.Logger) *Console {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if exportDir == "" {
		exportDir = "exports"
	}
	return &Console{
		ctl:       ctl,
		activity:  activity,
		exportDir: exportDir,
		now:       time.Now,
		logger:    logger,
		out:       out,
		lastFeed:  "-",
	}
}

// Subscribe prints state changes and decisions as they happen, including
// the ones triggered by the scanner or the reset timers.
func (c *Console) Subscribe(bus *events.EventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.EventStateChanged, func(event *events.Event) error {
		var p events.StateChangedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		c.showState(c.ctl.State())
		return nil
	})
}

// OnActivity prints a refreshed activity window when it differs from the
// last one printed.
func (c *Console) OnActivity(entries []models.AuditEntry) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	key := strings.Join(ids, ",")

	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.lastFeed {
		return
	}
	c.lastFeed = key
	fmt.Fprint(c.out, FormatActivity(entries))
}

// Run reads commands from in until EOF, "quit" or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.printf("%s", helpText)
	c.showState(c.ctl.State())

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the operator asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	cmd, arg := splitCommand(line)
	if cmd == "" {
		return false
	}

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		c.printf("%s", helpText)
		return false
	case "status":
		c.showState(c.ctl.State())
		return false
	case "scan":
		c.startScan(ctx)
	case "stop":
		c.ctl.StopScan()
	case "enter", "id":
		err = c.ctl.SubmitManual(ctx, arg)
	case "accept":
		err = c.ctl.Accept(ctx)
	case "reject":
		err = c.ctl.StartReject()
	case "reason":
		err = c.selectReason(arg)
	case "other":
		err = c.ctl.SetOtherText(arg)
	case "cancel":
		err = c.ctl.CancelReject()
	case "submit":
		err = c.ctl.ConfirmReject(ctx)
	case "dismiss":
		err = c.ctl.Dismiss()
	case "feed":
		c.activity.RequestRefresh()
		c.printf("%s", FormatActivity(c.activity.Snapshot()))
		return false
	case "export":
		err = c.exportActivity()
	default:
		err = fmt.Errorf("unknown command %q, type help", cmd)
	}

	if err != nil {
		c.logger.Debug().Err(err).Str("command", cmd).Msg("command refused")
		c.printf("! %s\n", describeError(err))
	}
	return false
}

// startScan opens the camera in the background. Opening can block for as long
// as the device takes, and manual entry or stop must stay usable meanwhile.
func (c *Console) startScan(ctx context.Context) {
	c.scans.Add(1)
	go func() {
		defer c.scans.Done()
		if err := c.ctl.StartScan(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("scan refused")
			c.printf("! %s\n", describeError(err))
		}
	}()
}

func (c *Console) selectReason(arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(models.RejectionReasons) {
			return fmt.Errorf("reason must be between 1 and %d", len(models.RejectionReasons))
		}
		return c.ctl.SelectReason(models.RejectionReasons[n-1])
	}
	for _, r := range models.RejectionReasons {
		if strings.EqualFold(string(r), arg) {
			return c.ctl.SelectReason(r)
		}
	}
	return fmt.Errorf("unknown reason %q", arg)
}

func (c *Console) exportActivity() error {
	path, err := export.ActivityWorkbook(c.exportDir, c.activity.Snapshot(), c.now())
	if err != nil {
		return err
	}
	c.printf("activity exported to %s\n", path)
	return nil
}

func (c *Console) showState(s checkin.ScanState) {
	c.printf("%s", FormatState(s, c.ctl.Controls()))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, checkin.ErrBusy):
		return "busy, finish the current check first"
	case errors.Is(err, checkin.ErrEmptyToken):
		return "enter a member ID"
	case errors.Is(err, checkin.ErrReasonRequired):
		return "pick a reason first"
	case errors.Is(err, scanner.ErrCameraUnavailable):
		return "camera unavailable, enter the member ID instead"
	default:
		return err.Error()
	}
}

// FormatState renders the screen for s with the actions currently enabled.
func FormatState(s checkin.ScanState, ctl checkin.Controls) string {
	var b strings.Builder
	switch st := s.(type) {
	case checkin.Idle:
		b.WriteString("[ready] scan a member QR code or enter an ID\n")
	case checkin.Checking:
		b.WriteString("[checking] verifying...\n")
	case checkin.Review:
		b.WriteString("[review]\n")
		writeBooking(&b, st.Booking)
	case checkin.Rejecting:
		b.WriteString("[reject] ")
		b.WriteString(st.Booking.MemberName)
		b.WriteString("\n")
		for i, r := range models.RejectionReasons {
			mark := " "
			if st.Draft.Reason == r {
				mark = "*"
			}
			fmt.Fprintf(&b, "  %s %d. %s\n", mark, i+1, r)
		}
		if st.Draft.Reason == models.ReasonOther {
			fmt.Fprintf(&b, "  details: %q\n", st.Draft.OtherText)
		}
	case checkin.Success:
		fmt.Fprintf(&b, "[success] %s checked in\n", st.Booking.MemberName)
	case checkin.Failed:
		fmt.Fprintf(&b, "[error] %s\n", st.Message)
	}

	if actions := enabledActions(ctl); len(actions) > 0 {
		b.WriteString("  > ")
		b.WriteString(strings.Join(actions, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

func writeBooking(b *strings.Builder, bk models.Booking) {
	fmt.Fprintf(b, "  member: %s\n", bk.MemberName)
	fmt.Fprintf(b, "  plan:   %s\n", bk.PlanName)
	fmt.Fprintf(b, "  status: %s\n", bk.Status)
	if bk.PhotoURL != "" {
		fmt.Fprintf(b, "  photo:  %s\n", bk.PhotoURL)
	}
}

func enabledActions(ctl checkin.Controls) []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(ctl.Scan, "scan")
	add(ctl.ManualEntry, "enter <id>")
	add(ctl.Accept, "accept")
	add(ctl.StartReject, "reject")
	add(ctl.SubmitReject, "submit")
	add(ctl.CancelReject, "cancel")
	add(ctl.Dismiss, "dismiss")
	return out
}

// FormatActivity renders the recent-activity window, newest first.
func FormatActivity(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "-- no recent activity --\n"
	}
	var b strings.Builder
	b.WriteString("-- recent activity --\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s  %-8s  %s\n", e.CreatedAt.Local().Format("15:04:05"), e.Outcome, e.Description)
	}
	return b.String()
}

const helpText = `commands:
  scan | stop                 start or stop the camera
  enter <id>                  look up a member ID typed by hand
  accept | reject             decide on the member under review
  reason <1-4|name>           pick a rejection reason
  other <text>                details for the Other reason
  submit | cancel             send or abandon the rejection
  dismiss                     clear a success or error message
  feed | export               show or export recent activity
  status | help | quit
`
