// Package action runs user-initiated mutations against the monitoring
// service and schedules the follow-up re-sync that picks up their effect.
//
// Each mutation goes through a small state machine keyed by its target:
//
//	Idle → Submitting → Succeeded | Failed → Idle
//
// A second invocation for a key that is still Submitting is rejected with
// [ErrInProgress]. After a successful action the coordinator schedules one
// re-sync: immediately for create, after the configured delay for delete,
// toggle and check. The delay absorbs the backend settling asynchronously
// (a forced check is only queued when the request returns). Re-syncs are
// best-effort and never change the outcome reported for the action.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/metrics"
)

// DefaultResyncDelay is the wait between a successful delete, toggle or
// check and the follow-up re-sync.
const DefaultResyncDelay = 2 * time.Second

// ErrInProgress is returned when the same action is already submitting for
// the same target.
var ErrInProgress = errors.New("action already in progress")

// Kind names a mutating action.
type Kind string

const (
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindToggle Kind = "toggle"
	KindCheck  Kind = "check"
)

// State is a position in the action state machine.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Key returns the guard key for an action: "create" for creates and
// "<kind>:<id>" for actions on an existing site.
func Key(kind Kind, id uint) string {
	if kind == KindCreate {
		return string(kind)
	}
	return string(kind) + ":" + strconv.FormatUint(uint64(id), 10)
}

// Mutator is the write half of the API client.
type Mutator interface {
	CreateSite(ctx context.Context, name, url string) (*api.Site, error)
	DeleteSite(ctx context.Context, id uint) error
	ToggleSite(ctx context.Context, id uint) (*api.Site, error)
	CheckNow(ctx context.Context, id uint) (*api.CheckResult, error)
}

// ResyncFunc refreshes the owning view.
type ResyncFunc func(ctx context.Context) error

// Result reports the terminal transition of one action.
type Result struct {
	Action Kind
	Target string
	SiteID uint
	State  State
	Err    error

	// Site is the site returned by create and toggle.
	Site *api.Site

	// Message is the text to show the user: the server's message on
	// failure when it supplied one.
	Message string
}

// Coordinator executes actions for one view.
//
// Coordinator is safe for concurrent use. Re-syncs run on the coordinator's
// own context, which ends when [Coordinator.Close] is called or the parent
// context passed to [New] is cancelled.
type Coordinator struct {
	client Mutator
	resync ResyncFunc
	delay  time.Duration
	logger *slog.Logger
	guard  *Guard

	ctx    context.Context
	cancel context.CancelFunc

	hookMu sync.RWMutex
	hooks  []func(Result)

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]*time.Timer
	wg      sync.WaitGroup
}

// New creates a [Coordinator].
//
// Parameters:
//   - ctx: lifetime of the owning view; pending re-syncs stop when it ends
//   - client: performs the mutating requests
//   - resync: refreshes the view after a successful action; may be nil
//   - delay: re-sync delay for delete, toggle and check; negative means default
//   - logger: logger for action outcomes
func New(ctx context.Context, client Mutator, resync ResyncFunc, delay time.Duration, logger *slog.Logger) *Coordinator {
	if ctx == nil {
		ctx = context.Background()
	}
	if delay < 0 {
		delay = DefaultResyncDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		client:  client,
		resync:  resync,
		delay:   delay,
		logger:  logger,
		guard:   NewGuard(),
		ctx:     cctx,
		cancel:  cancel,
		pending: make(map[uint64]*time.Timer),
	}
}

// OnResult registers fn to be called after every action reaches a terminal
// state. Hooks run synchronously on the caller's goroutine in registration
// order and must not block. Nil hooks are ignored.
func (c *Coordinator) OnResult(fn func(Result)) {
	if fn == nil {
		return
	}
	c.hookMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hookMu.Unlock()
}

// State returns [StateSubmitting] while an action for key is in flight and
// [StateIdle] otherwise.
func (c *Coordinator) State(key string) State {
	if c.guard.Held(key) {
		return StateSubmitting
	}
	return StateIdle
}

// Submitting returns the number of actions currently in flight.
func (c *Coordinator) Submitting() int {
	return c.guard.Len()
}

// PendingResyncs returns the number of scheduled re-syncs that have not
// started yet.
func (c *Coordinator) PendingResyncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Create validates and submits a new site. Name and URL are trimmed; both
// must be non-empty or a *api.ValidationError is returned without any
// request being sent. A URL without an http:// or https:// scheme is sent
// with https:// prepended.
func (c *Coordinator) Create(ctx context.Context, name, rawURL string) (*api.Site, error) {
	name = strings.TrimSpace(name)
	rawURL = strings.TrimSpace(rawURL)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if rawURL == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		metrics.IncActions(string(KindCreate), "invalid")
		return nil, &api.ValidationError{Fields: missing}
	}

	siteURL := NormalizeURL(rawURL)
	res := c.run(ctx, KindCreate, 0, func(ctx context.Context) (*api.Site, string, error) {
		site, err := c.client.CreateSite(ctx, name, siteURL)
		return site, "Site added successfully", err
	})
	return res.Site, res.Err
}

// Delete removes a site.
func (c *Coordinator) Delete(ctx context.Context, id uint) error {
	res := c.run(ctx, KindDelete, id, func(ctx context.Context) (*api.Site, string, error) {
		return nil, "Site deleted successfully", c.client.DeleteSite(ctx, id)
	})
	return res.Err
}

// Toggle flips a site's active flag and returns the updated site.
func (c *Coordinator) Toggle(ctx context.Context, id uint) (*api.Site, error) {
	res := c.run(ctx, KindToggle, id, func(ctx context.Context) (*api.Site, string, error) {
		site, err := c.client.ToggleSite(ctx, id)
		if err != nil {
			return nil, "", err
		}
		msg := "Monitoring disabled"
		if site != nil && site.Active {
			msg = "Monitoring enabled"
		}
		return site, msg, nil
	})
	return res.Site, res.Err
}

// CheckNow asks the engine to probe a site. It succeeds as soon as the
// request is accepted; the result shows up on the delayed re-sync or the
// next scheduled poll.
func (c *Coordinator) CheckNow(ctx context.Context, id uint) error {
	res := c.run(ctx, KindCheck, id, func(ctx context.Context) (*api.Site, string, error) {
		resp, err := c.client.CheckNow(ctx, id)
		if err != nil {
			return nil, "", err
		}
		msg := "Check triggered"
		if resp != nil && resp.Message != "" {
			msg = resp.Message
		}
		return nil, msg, nil
	})
	return res.Err
}

// Close cancels pending re-syncs and waits for a running one to return.
// Actions submitted after Close still run but schedule no re-sync.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	c.cancel()
	for id, t := range c.pending {
		if t.Stop() {
			c.wg.Done()
			metrics.IncResyncs("cancelled")
		}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// run moves one action through the state machine.
func (c *Coordinator) run(ctx context.Context, kind Kind, id uint, fn func(context.Context) (*api.Site, string, error)) Result {
	key := Key(kind, id)
	res := Result{Action: kind, Target: key, SiteID: id}

	if !c.guard.Acquire(key) {
		metrics.IncActions(string(kind), "in_progress")
		c.logger.Debug("action rejected, already submitting", "action", key)
		res.State = StateSubmitting
		res.Err = fmt.Errorf("%s: %w", key, ErrInProgress)
		return res
	}

	site, msg, err := fn(ctx)
	c.guard.Release(key)

	res.Site = site
	if err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("%s: %w", key, err)
		res.Message = api.UserMessage(err, failureMessage(kind))
		metrics.IncActions(string(kind), "failed")
		c.logger.Warn("action failed", "action", key, "error", err)
	} else {
		res.State = StateSucceeded
		res.Message = msg
		metrics.IncActions(string(kind), "succeeded")
		c.logger.Info("action succeeded", "action", key)
		c.scheduleResync(kind)
	}

	c.notify(res)
	return res
}

// scheduleResync arranges one best-effort refresh of the owning view.
func (c *Coordinator) scheduleResync(kind Kind) {
	if c.resync == nil {
		return
	}
	delay := c.delay
	if kind == KindCreate {
		delay = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ctx.Err() != nil {
		return
	}

	id := c.nextID
	c.nextID++
	c.wg.Add(1)
	c.pending[id] = time.AfterFunc(delay, func() {
		defer c.wg.Done()

		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			metrics.IncResyncs("cancelled")
			return
		}
		if err := c.resync(c.ctx); err != nil {
			metrics.IncResyncs("failed")
			c.logger.Debug("re-sync failed, next poll will reconcile", "after", string(kind), "error", err)
			return
		}
		metrics.IncResyncs("ok")
	})
}

func (c *Coordinator) notify(res Result) {
	c.hookMu.RLock()
	hooks := c.hooks
	c.hookMu.RUnlock()

	for _, fn := range hooks {
		c.safeHook(fn, res)
	}
}

// safeHook calls a result hook with panic recovery.
func (c *Coordinator) safeHook(fn func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action hook panic", "action", res.Target, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(res)
}

// NormalizeURL prepends https:// to u unless it already starts with an
// http:// or https:// scheme (case-insensitive).
func NormalizeURL(u string) string {
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	return "https://" + u
}

func failureMessage(kind Kind) string {
	switch kind {
	case KindCreate:
		return "Failed to add site"
	case KindDelete:
		return "Failed to delete site"
	case KindToggle:
		return "Failed to update site"
	case KindCheck:
		return "Failed to trigger check"
	default:
		return "Action failed"
	}
}
