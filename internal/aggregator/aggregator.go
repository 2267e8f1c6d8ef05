// Package aggregator joins the resources a view needs into one snapshot.
//
// Every call to [Aggregator.Refresh] is a poll cycle: it takes the next
// sequence number, fetches the plan's resources concurrently, and applies
// the joined result to the view's store in one step. A cycle in which any
// fetch fails applies nothing.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/metrics"
	"github.com/jpalmerr/sitewatch/internal/store"
)

// Fetcher is the read side of the monitoring API. [*api.Client] implements it.
type Fetcher interface {
	FetchSites(ctx context.Context) ([]api.Site, error)
	FetchStats(ctx context.Context) (*api.Stats, error)
	FetchLogs(ctx context.Context, q api.LogQuery) (*api.LogPage, error)
	FetchMonitorStatus(ctx context.Context) (*api.MonitorStatus, error)
}

// Plan lists the resources one view needs per cycle.
type Plan struct {
	// View labels logs and metrics.
	View string

	Sites   bool
	Stats   bool
	Monitor bool

	// Logs is the log query; nil means logs are not fetched.
	Logs *api.LogQuery
}

// DashboardPlan fetches sites and stats.
func DashboardPlan() Plan {
	return Plan{View: "dashboard", Sites: true, Stats: true}
}

// SitesPlan fetches the site list only.
func SitesPlan() Plan {
	return Plan{View: "sites", Sites: true}
}

// LogsPlan fetches the most recent limit log entries plus the site list,
// which the logs view needs for site identity.
func LogsPlan(limit int) Plan {
	return Plan{View: "logs", Sites: true, Logs: &api.LogQuery{Limit: limit}}
}

// AppStatusPlan fetches the probing engine's liveness.
func AppStatusPlan() Plan {
	return Plan{View: "app-status", Monitor: true}
}

// Result describes a finished cycle.
type Result struct {
	Seq     uint64
	Applied bool
}

// Aggregator runs poll cycles for one view.
//
// Refresh is safe for concurrent use: scheduled polls and action-triggered
// re-syncs may overlap, and whichever completes last with the highest
// sequence number wins.
type Aggregator struct {
	fetcher Fetcher
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	plan Plan

	seq atomic.Uint64
}

// New creates an [Aggregator] that writes plan's resources into st.
func New(fetcher Fetcher, plan Plan, st store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		fetcher: fetcher,
		store:   st,
		plan:    plan,
		logger:  logger.With("view", plan.View),
		now:     time.Now,
	}
}

// View returns the plan's view label.
func (a *Aggregator) View() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan.View
}

// SetLogQuery replaces the log query used by later cycles. It has no effect
// on a plan that does not fetch logs.
func (a *Aggregator) SetLogQuery(q api.LogQuery) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.plan.Logs != nil {
		a.plan.Logs = &q
	}
}

// Refresh runs one poll cycle.
//
// The cycle's sequence number is taken before any request is issued. If
// every fetch succeeds, the snapshot is applied to the store unless a newer
// cycle has already been applied. If any fetch fails, the remaining fetches
// are cancelled, nothing is applied, the failure is recorded on the store
// and logged once, and the error is returned.
func (a *Aggregator) Refresh(ctx context.Context) (Result, error) {
	seq := a.seq.Add(1)
	plan := a.currentPlan()
	start := a.now()

	snap, err := a.fetch(ctx, plan)
	metrics.ObserveCycle(plan.View, time.Since(start), err)

	if err != nil {
		if ctx.Err() != nil {
			// view torn down or caller gave up; nothing to report
			a.logger.Debug("poll cycle cancelled", "seq", seq)
			return Result{Seq: seq}, err
		}
		a.store.Fail(seq, err)
		a.logger.Warn("poll cycle failed", "seq", seq, "error", err.Error())
		return Result{Seq: seq}, err
	}

	snap.FetchedAt = a.now()
	applied := a.store.Apply(seq, snap)
	if !applied {
		metrics.IncStaleSnapshots(plan.View)
		a.logger.Debug("stale snapshot discarded", "seq", seq)
	} else {
		a.logger.Debug("poll cycle applied", "seq", seq, "latency_ms", time.Since(start).Milliseconds())
	}
	return Result{Seq: seq, Applied: applied}, nil
}

func (a *Aggregator) currentPlan() Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.plan
	if p.Logs != nil {
		q := *p.Logs
		p.Logs = &q
	}
	return p
}

// fetch issues the plan's requests concurrently and joins their results.
func (a *Aggregator) fetch(ctx context.Context, plan Plan) (store.Snapshot, error) {
	var (
		snap store.Snapshot
		mu   sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)

	if plan.Sites {
		g.Go(func() error {
			sites, err := a.fetcher.FetchSites(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Sites = sites
			mu.Unlock()
			return nil
		})
	}
	if plan.Stats {
		g.Go(func() error {
			stats, err := a.fetcher.FetchStats(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Stats = stats
			mu.Unlock()
			return nil
		})
	}
	if plan.Logs != nil {
		q := *plan.Logs
		g.Go(func() error {
			page, err := a.fetcher.FetchLogs(gctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Logs = page.Logs
			snap.LogTotal = page.Total
			mu.Unlock()
			return nil
		})
	}
	if plan.Monitor {
		g.Go(func() error {
			status, err := a.fetcher.FetchMonitorStatus(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Monitor = status
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return store.Snapshot{}, err
	}
	return snap, nil
}
