package mockapi

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/sitewatch/api"
)

// DefaultSettleDelay is how long a forced check takes to commit its result.
const DefaultSettleDelay = 500 * time.Millisecond

// uptimeWindow is the look-back for per-site and overall uptime.
const uptimeWindow = 24 * time.Hour

// ErrNotFound is returned for an unknown site ID.
var ErrNotFound = errors.New("site not found")

// ProbeResult is the outcome of one simulated probe.
type ProbeResult struct {
	StatusCode int
	Latency    time.Duration
	Error      string
}

// Prober simulates probing a site.
type Prober func(site api.Site) ProbeResult

// Option configures a [Backend].
type Option func(*Backend)

// WithSettleDelay sets how long a forced check waits before committing.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Backend) {
		if d >= 0 {
			b.settle = d
		}
	}
}

// WithProber replaces the simulated prober.
func WithProber(p Prober) Option {
	return func(b *Backend) {
		if p != nil {
			b.probe = p
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Backend is the in-memory state of the mock monitoring service.
//
// Backend is safe for concurrent use.
type Backend struct {
	settle time.Duration
	probe  Prober
	now    func() time.Time

	mu         sync.Mutex
	sites      map[uint]*api.Site
	logs       []api.LogEntry
	nextSiteID uint
	nextLogID  uint
	running    bool
	closed     bool
	checks     map[uint64]*time.Timer
	nextCheck  uint64
	wg         sync.WaitGroup
}

// NewBackend creates an empty [Backend] with the engine reported running.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		settle:     DefaultSettleDelay,
		now:        time.Now,
		sites:      make(map[uint]*api.Site),
		nextSiteID: 1,
		nextLogID:  1,
		running:    true,
		checks:     make(map[uint64]*time.Timer),
	}
	b.probe = newSimulatedProber().probe
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSite registers an active site and returns it.
func (b *Backend) AddSite(name, url string) api.Site {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	site := &api.Site{
		ID:        b.nextSiteID,
		Name:      name,
		URL:       url,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.nextSiteID++
	b.sites[site.ID] = site
	return *site
}

// DeleteSite removes a site and its logs.
func (b *Backend) DeleteSite(id uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sites[id]; !ok {
		return ErrNotFound
	}
	delete(b.sites, id)

	kept := b.logs[:0]
	for _, l := range b.logs {
		if l.SiteID != id {
			kept = append(kept, l)
		}
	}
	b.logs = kept
	return nil
}

// ToggleSite flips a site's active flag and returns the updated site.
func (b *Backend) ToggleSite(id uint) (api.Site, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	site, ok := b.sites[id]
	if !ok {
		return api.Site{}, ErrNotFound
	}
	site.Active = !site.Active
	site.UpdatedAt = b.now()
	return *site, nil
}

// Site returns one site with its latest probe fields filled in.
func (b *Backend) Site(id uint) (api.Site, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	site, ok := b.sites[id]
	if !ok {
		return api.Site{}, ErrNotFound
	}
	return b.withProbeInfo(*site), nil
}

// Sites returns every site ordered by ID, with last status, last check and
// 24h uptime computed from the logs.
func (b *Backend) Sites() []api.Site {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]api.Site, 0, len(b.sites))
	for _, s := range b.sites {
		out = append(out, b.withProbeInfo(*s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats aggregates over active sites: online and offline counts come from
// each site's latest log, overall uptime from every log in the last 24h.
func (b *Backend) Stats() api.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	stats := api.Stats{LastUpdate: now}
	for _, s := range b.sites {
		if !s.Active {
			continue
		}
		stats.TotalSites++
		if last, ok := b.latestLog(s.ID); ok {
			if last.IsOnline {
				stats.OnlineSites++
			} else {
				stats.OfflineSites++
			}
		}
	}

	since := now.Add(-uptimeWindow)
	var total, online int
	for _, l := range b.logs {
		if l.CheckedAt.Before(since) {
			continue
		}
		total++
		if l.IsOnline {
			online++
		}
	}
	if total > 0 {
		stats.OverallUptime = float64(online) / float64(total) * 100
	}
	return stats
}

// Logs returns one page of logs matching q, most recent first. Zero limit
// and page default to 50 and 1.
func (b *Backend) Logs(q api.LogQuery) api.LogPage {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	matched := make([]api.LogEntry, 0, len(b.logs))
	for i := len(b.logs) - 1; i >= 0; i-- {
		l := b.logs[i]
		if q.SiteID != 0 && l.SiteID != q.SiteID {
			continue
		}
		switch q.Status {
		case api.LogStatusOnline:
			if !l.IsOnline {
				continue
			}
		case api.LogStatusOffline:
			if l.IsOnline {
				continue
			}
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CheckedAt.After(matched[j].CheckedAt) })

	total := int64(len(matched))
	page := api.LogPage{
		Logs:  []api.LogEntry{},
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Pages: (total + int64(q.Limit) - 1) / int64(q.Limit),
	}
	start := (q.Page - 1) * q.Limit
	if start < len(matched) {
		end := min(start+q.Limit, len(matched))
		page.Logs = matched[start:end]
	}
	return page
}

// MonitorStatus reports the simulated engine's liveness.
func (b *Backend) MonitorStatus() api.MonitorStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return api.MonitorStatus{Running: b.running, Timestamp: b.now()}
}

// SetRunning sets the liveness reported by MonitorStatus.
func (b *Backend) SetRunning(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
}

// Probe probes a site now and records the result.
func (b *Backend) Probe(id uint) (api.LogEntry, error) {
	b.mu.Lock()
	site, ok := b.sites[id]
	if !ok {
		b.mu.Unlock()
		return api.LogEntry{}, ErrNotFound
	}
	snapshot := *site
	b.mu.Unlock()

	res := b.probe(snapshot)
	return b.record(snapshot, res)
}

// ProbeAll probes every active site once, as one engine cycle does.
func (b *Backend) ProbeAll() int {
	var n int
	for _, s := range b.Sites() {
		if !s.Active {
			continue
		}
		if _, err := b.Probe(s.ID); err == nil {
			n++
		}
	}
	return n
}

// ScheduleCheck queues a forced probe of a site, committed after the settle
// delay.
func (b *Backend) ScheduleCheck(id uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sites[id]; !ok {
		return ErrNotFound
	}
	if b.closed {
		return errors.New("backend closed")
	}

	key := b.nextCheck
	b.nextCheck++
	b.wg.Add(1)
	b.checks[key] = time.AfterFunc(b.settle, func() {
		defer b.wg.Done()
		b.mu.Lock()
		delete(b.checks, key)
		b.mu.Unlock()
		// the site may have been deleted meanwhile
		_, _ = b.Probe(id)
	})
	return nil
}

// Run probes every active site at interval until ctx is cancelled,
// simulating the external engine.
func (b *Backend) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			running := b.running
			b.mu.Unlock()
			if running {
				b.ProbeAll()
			}
		}
	}
}

// Close cancels queued checks that have not fired and waits for running
// ones.
func (b *Backend) Close() {
	b.mu.Lock()
	b.closed = true
	for key, t := range b.checks {
		if t.Stop() {
			b.wg.Done()
		}
		delete(b.checks, key)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Backend) record(site api.Site, res ProbeResult) (api.LogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sites[site.ID]; !ok {
		return api.LogEntry{}, ErrNotFound
	}
	entry := api.LogEntry{
		ID:             b.nextLogID,
		SiteID:         site.ID,
		Site:           api.LogSite{Name: site.Name, URL: site.URL},
		StatusCode:     res.StatusCode,
		IsOnline:       res.StatusCode >= 200 && res.StatusCode < 400,
		ResponseTimeMs: res.Latency.Milliseconds(),
		ErrorMessage:   res.Error,
		CheckedAt:      b.now(),
	}
	b.nextLogID++
	b.logs = append(b.logs, entry)
	return entry, nil
}

// withProbeInfo fills the derived fields. Caller holds b.mu.
func (b *Backend) withProbeInfo(s api.Site) api.Site {
	if last, ok := b.latestLog(s.ID); ok {
		s.LastStatus = last.StatusCode
		s.LastCheck = last.CheckedAt
	}
	since := b.now().Add(-uptimeWindow)
	var total, online int
	for _, l := range b.logs {
		if l.SiteID != s.ID || l.CheckedAt.Before(since) {
			continue
		}
		total++
		if l.IsOnline {
			online++
		}
	}
	if total > 0 {
		s.Uptime = float64(online) / float64(total) * 100
	}
	return s
}

// latestLog returns the most recent log of a site. Caller holds b.mu.
func (b *Backend) latestLog(siteID uint) (api.LogEntry, bool) {
	var (
		latest api.LogEntry
		found  bool
	)
	for _, l := range b.logs {
		if l.SiteID != siteID {
			continue
		}
		if !found || !l.CheckedAt.Before(latest.CheckedAt) {
			latest, found = l, true
		}
	}
	return latest, found
}

// simState tracks the current outcome and next change time for one site.
type simState struct {
	idx          int
	nextChangeAt time.Time
}

// simulatedProber cycles each site through healthy, redirecting, failing
// and unreachable outcomes, changing every 20-60 seconds.
type simulatedProber struct {
	mu     sync.Mutex
	states map[uint]*simState
	rng    *rand.Rand
}

var simOutcomes = []ProbeResult{
	{StatusCode: 200},
	{StatusCode: 301},
	{StatusCode: 503, Error: "service unavailable"},
	{StatusCode: 0, Error: "dial tcp: connection refused"},
}

func newSimulatedProber() *simulatedProber {
	return &simulatedProber{
		states: make(map[uint]*simState),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *simulatedProber) probe(site api.Site) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	state, exists := p.states[site.ID]
	if !exists {
		state = &simState{nextChangeAt: now.Add(p.changeAfter())}
		p.states[site.ID] = state
	}
	if now.After(state.nextChangeAt) {
		state.idx = (state.idx + 1) % len(simOutcomes)
		state.nextChangeAt = now.Add(p.changeAfter())
	}

	res := simOutcomes[state.idx]
	res.Latency = time.Duration(50+p.rng.Intn(150)) * time.Millisecond
	return res
}

func (p *simulatedProber) changeAfter() time.Duration {
	return time.Duration(20+p.rng.Intn(41)) * time.Second
}
