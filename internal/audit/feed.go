package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"gymkaana/internal/domain"
	"gymkaana/internal/events"
	"gymkaana/internal/models"

	"github.com/rs/zerolog"
)

type Options struct {
	Limit    int
	Interval time.Duration
}

// Feed keeps the latest accept/reject decisions, newest first. It is advisory:
// a failed refresh keeps the previous snapshot.
type Feed struct {
	lister   domain.ActivityLister
	limit    int
	interval time.Duration
	logger   *zerolog.Logger

	mu          sync.RWMutex
	entries     []models.AuditEntry
	refreshedAt time.Time
	onUpdate    func([]models.AuditEntry)

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewFeed(lister domain.ActivityLister, opts Options, logger *zerolog.Logger) *Feed {
	if opts.Limit < models.MinActivityLimit {
		opts.Limit = models.DefaultActivityLimit
	}
	if opts.Interval <= 0 {
		opts.Interval = models.DefaultActivityRefreshSeconds * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Feed{
		lister:   lister,
		limit:    opts.Limit,
		interval: opts.Interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Subscribe makes decision boundaries published on bus trigger a refresh.
func (f *Feed) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventAuditRefresh, func(*events.Event) error {
		f.RequestRefresh()
		return nil
	})
}

// OnUpdate registers a callback run after every successful refresh.
func (f *Feed) OnUpdate(fn func([]models.AuditEntry)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = fn
}

// Start refreshes immediately, then on every tick and on every request until
// ctx is done or Stop is called.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx)
}

// Stop ends the refresh loop and waits for it.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

// RequestRefresh asks the loop for a refresh without blocking. Requests made
// while one is pending are coalesced.
func (f *Feed) RequestRefresh() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

func (f *Feed) loop(ctx context.Context) {
	defer close(f.done)

	f.refreshLogged(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshLogged(ctx)
		case <-f.trigger:
			f.refreshLogged(ctx)
		}
	}
}

func (f *Feed) refreshLogged(ctx context.Context) {
	if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
		f.logger.Warn().Err(err).Msg("activity refresh failed")
	}
}

// Refresh replaces the snapshot with the latest window from the lister.
func (f *Feed) Refresh(ctx context.Context) error {
	entries, err := f.lister.ListRecentActivity(ctx, f.limit)
	if err != nil {
		return err
	}

	sorted := append([]models.AuditEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > f.limit {
		sorted = sorted[:f.limit]
	}

	f.mu.Lock()
	f.entries = sorted
	f.refreshedAt = time.Now()
	onUpdate := f.onUpdate
	f.mu.Unlock()

	if onUpdate != nil {
		onUpdate(f.Snapshot())
	}
	return nil
}

// Snapshot returns a copy of the current window, newest first.
func (f *Feed) Snapshot() []models.AuditEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]models.AuditEntry(nil), f.entries...)
}

// RefreshedAt is the time of the last successful refresh.
func (f *Feed) RefreshedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.refreshedAt
}
