package sitewatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/action"
	"github.com/jpalmerr/sitewatch/internal/aggregator"
	"github.com/jpalmerr/sitewatch/internal/poller"
	"github.com/jpalmerr/sitewatch/internal/store"
)

// ViewKind selects the resources and refresh policy of a [View].
type ViewKind string

const (
	// ViewDashboard polls sites and stats every polling interval.
	ViewDashboard ViewKind = "dashboard"

	// ViewSites loads the site list once; it refreshes after actions and
	// on demand.
	ViewSites ViewKind = "sites"

	// ViewLogs loads recent log entries and the site list once; it
	// refreshes on demand only.
	ViewLogs ViewKind = "logs"

	// ViewAppStatus polls the probing engine's liveness every polling
	// interval.
	ViewAppStatus ViewKind = "app-status"
)

// Snapshot is the consistent state of a view after one successful poll
// cycle.
type Snapshot = store.Snapshot

// ActionResult reports the outcome of a user action on a view.
type ActionResult = action.Result

// ActionKind names a mutating action.
type ActionKind = action.Kind

// Action kinds accepted by [View.Submitting].
const (
	ActionCreate = action.KindCreate
	ActionDelete = action.KindDelete
	ActionToggle = action.KindToggle
	ActionCheck  = action.KindCheck
)

// ErrInProgress is returned when the same action on the same site is
// already being submitted.
var ErrInProgress = action.ErrInProgress

// View is the controller of one screen: it owns the screen's state, its
// polling timer and its actions.
//
// A View is created by [Board.Open] and must be closed with [View.Close] on
// every exit path. Closing cancels the timer, in-flight fetches and pending
// re-syncs; nothing that completes afterwards can change the view's state.
//
// View is safe for concurrent use.
type View struct {
	kind   ViewKind
	board  *Board
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	store   *store.MemoryStore
	agg     *aggregator.Aggregator
	sched   *poller.Scheduler
	actions *action.Coordinator

	closeOnce sync.Once
}

func newView(parent context.Context, b *Board, kind ViewKind) (*View, error) {
	var (
		plan     aggregator.Plan
		interval time.Duration
	)
	switch kind {
	case ViewDashboard:
		plan, interval = aggregator.DashboardPlan(), b.pollingInterval
	case ViewAppStatus:
		plan, interval = aggregator.AppStatusPlan(), b.pollingInterval
	case ViewSites:
		plan = aggregator.SitesPlan()
	case ViewLogs:
		plan = aggregator.LogsPlan(b.logLimit)
	default:
		return nil, fmt.Errorf("unknown view kind %q", kind)
	}

	ctx, cancel := context.WithCancel(parent)
	logger := b.logger.With("view", string(kind))

	v := &View{
		kind:   kind,
		board:  b,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		store:  store.NewMemoryStore(),
	}
	v.agg = aggregator.New(b.client, plan, v.store, b.logger)
	v.sched = poller.NewScheduler(string(kind), interval, v.cycle, b.logger)
	v.actions = action.New(ctx, b.client, v.cycle, b.resyncDelay, logger)
	return v, nil
}

func (v *View) start() {
	v.sched.Start(v.ctx)

	// release everything if the parent context ends before Close
	go func() {
		<-v.ctx.Done()
		v.Close()
	}()
}

func (v *View) cycle(ctx context.Context) error {
	_, err := v.agg.Refresh(ctx)
	return err
}

// Kind returns the view's kind.
func (v *View) Kind() ViewKind {
	return v.kind
}

// State returns a copy of the latest applied snapshot and whether any cycle
// has been applied yet.
func (v *View) State() (Snapshot, bool) {
	return v.store.Snapshot()
}

// Err returns the failure of the latest poll cycle, or nil once a newer
// cycle has succeeded. A failure never clears the state returned by
// [View.State].
func (v *View) Err() error {
	return v.store.Err()
}

// Updates returns a channel that receives every applied snapshot and a
// function that stops delivery. Slow receivers miss snapshots rather than
// block polling; [View.State] always has the latest one. The channel is
// closed when the view closes.
func (v *View) Updates() (<-chan Snapshot, func()) {
	ch := v.store.Subscribe()
	var once sync.Once
	return ch, func() {
		once.Do(func() { v.store.Unsubscribe(ch) })
	}
}

// Refresh runs one poll cycle now, independent of the timer. It returns the
// cycle's error; a refresh that completes after a newer cycle is discarded
// without error.
func (v *View) Refresh(ctx context.Context) error {
	if err := v.ctx.Err(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = v.ctx
	}
	ctx, cancel := mergeCancel(ctx, v.ctx)
	defer cancel()
	return v.cycle(ctx)
}

// SetLogQuery changes the filter used by later cycles of a logs view.
// Call [View.Refresh] to load it. It has no effect on other kinds.
func (v *View) SetLogQuery(q api.LogQuery) {
	if q.Limit <= 0 {
		q.Limit = v.board.logLimit
	}
	v.agg.SetLogQuery(q)
}

// OnActionResult registers fn to be called after every action on this view
// succeeds or fails. fn runs on the goroutine that invoked the action.
func (v *View) OnActionResult(fn func(ActionResult)) {
	v.actions.OnResult(fn)
}

// AddSite validates and creates a site, then refreshes the view. A URL
// without a scheme is submitted with https:// prepended. Empty fields fail
// with an *api.ValidationError before any request is sent.
func (v *View) AddSite(ctx context.Context, name, url string) (*api.Site, error) {
	return v.actions.Create(ctx, name, url)
}

// DeleteSite deletes a site. The site leaves the view's state when a later
// cycle no longer reports it.
func (v *View) DeleteSite(ctx context.Context, id uint) error {
	return v.actions.Delete(ctx, id)
}

// ToggleSite enables or disables monitoring of a site and returns the
// updated site.
func (v *View) ToggleSite(ctx context.Context, id uint) (*api.Site, error) {
	return v.actions.Toggle(ctx, id)
}

// CheckNow asks the engine to probe a site immediately. It returns as soon
// as the request is accepted.
func (v *View) CheckNow(ctx context.Context, id uint) error {
	return v.actions.CheckNow(ctx, id)
}

// Submitting reports whether the action of kind on site id is in flight.
// Use id 0 for create.
func (v *View) Submitting(kind ActionKind, id uint) bool {
	return v.actions.State(action.Key(kind, id)) == action.StateSubmitting
}

// Close tears the view down: it stops the timer, cancels in-flight fetches
// and pending re-syncs, and closes the state so nothing else is applied.
// Close is idempotent and blocks until background work has returned.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		v.sched.Stop()
		v.actions.Close()
		v.store.Close()
		v.board.forget(v)
		v.logger.Debug("view closed")
	})
}

// Done returns a channel closed when the view starts closing.
func (v *View) Done() <-chan struct{} {
	return v.ctx.Done()
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when other ends.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
