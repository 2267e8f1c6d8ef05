package sitewatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/mockapi"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alwaysUp(api.Site) mockapi.ProbeResult {
	return mockapi.ProbeResult{StatusCode: 200, Latency: 30 * time.Millisecond}
}

type testEnv struct {
	board   *Board
	backend *mockapi.Backend
	server  *mockapi.Server
}

// newTestEnv starts a mock backend and a board pointed at it. wrap, when
// set, decorates the mock's handler.
func newTestEnv(t *testing.T, wrap func(http.Handler) http.Handler, opts ...Option) *testEnv {
	t.Helper()
	backend := mockapi.NewBackend(mockapi.WithProber(alwaysUp), mockapi.WithSettleDelay(10*time.Millisecond))
	srv := mockapi.NewServer(backend, "", testLogger())

	var h http.Handler = srv.Handler()
	if wrap != nil {
		h = wrap(h)
	}
	ts := httptest.NewServer(h)

	base := []Option{
		WithBaseURL(ts.URL + "/api"),
		WithLogger(testLogger()),
		WithResyncDelay(30 * time.Millisecond),
	}
	b, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		b.Close()
		ts.Close()
		backend.Close()
	})
	return &testEnv{board: b, backend: backend, server: srv}
}

func (e *testEnv) open(t *testing.T, kind ViewKind) *View {
	t.Helper()
	v, err := e.board.Open(context.Background(), kind)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", kind, err)
	}
	t.Cleanup(v.Close)
	return v
}

// waitState polls the view until cond holds on an applied snapshot.
func waitState(t *testing.T, v *View, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := v.State(); ok && cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := v.State()
	t.Fatalf("condition not met, last state: %+v", snap)
	return snap
}

func loaded(Snapshot) bool { return true }

func TestOpen_DashboardLoadsSitesAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	site := env.backend.AddSite("A", "https://a.test")
	_, _ = env.backend.Probe(site.ID)

	v := env.open(t, ViewDashboard)
	snap := waitState(t, v, loaded)

	if len(snap.Sites) != 1 || snap.Sites[0].LastStatus != 200 {
		t.Errorf("Sites = %+v", snap.Sites)
	}
	if snap.Stats == nil || snap.Stats.OnlineSites != 1 {
		t.Errorf("Stats = %+v", snap.Stats)
	}
	if snap.Logs != nil || snap.Monitor != nil {
		t.Error("dashboard snapshot carries resources it did not fetch")
	}
	if SiteState(snap.Sites[0]) != StateOnline {
		t.Errorf("SiteState() = %v", SiteState(snap.Sites[0]))
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.board.Open(context.Background(), ViewKind("settings")); err == nil {
		t.Error("Open(unknown) error = nil")
	}
	if env.board.OpenViews() != 0 {
		t.Errorf("OpenViews() = %d after failed Open", env.board.OpenViews())
	}
}

func TestBoard_OpenAfterClose(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)
	env.board.Close()

	if _, err := env.board.Open(context.Background(), ViewSites); !errors.Is(err, ErrBoardClosed) {
		t.Errorf("Open() after Close error = %v, want ErrBoardClosed", err)
	}
	select {
	case <-v.Done():
	default:
		t.Error("Board.Close left a view open")
	}
}

// TestView_AddSitePrefixesScheme submits a bare host and checks the backend
// received an https URL and the view picked the site up.
func TestView_AddSitePrefixesScheme(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)
	waitState(t, v, loaded)

	site, err := v.AddSite(context.Background(), "Example", "example.com")
	if err != nil {
		t.Fatalf("AddSite() error = %v", err)
	}
	if site.URL != "https://example.com" {
		t.Errorf("returned URL = %q", site.URL)
	}
	if got := env.backend.Sites(); len(got) != 1 || got[0].URL != "https://example.com" {
		t.Errorf("backend sites = %+v", got)
	}

	waitState(t, v, func(s Snapshot) bool { return len(s.Sites) == 1 })
}

func TestView_AddSiteValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)

	_, err := v.AddSite(context.Background(), " ", "")
	var valErr *api.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("AddSite() error = %v, want *api.ValidationError", err)
	}
	if len(env.backend.Sites()) != 0 {
		t.Error("invalid site reached the backend")
	}
}

// TestView_NeverCheckedRendersPending loads an unprobed site through the
// full stack.
func TestView_NeverCheckedRendersPending(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.AddSite("New", "https://new.test")

	v := env.open(t, ViewDashboard)
	snap := waitState(t, v, func(s Snapshot) bool { return len(s.Sites) == 1 })

	site := snap.Sites[0]
	if site.LastStatus != 0 || !site.LastCheck.IsZero() {
		t.Fatalf("site = %+v, want never checked", site)
	}
	if got := SiteState(site); got != StatePending {
		t.Errorf("SiteState() = %v, want pending", got)
	}
	if got := LastCheckLabel(site.LastCheck, ""); got != "Never checked" {
		t.Errorf("LastCheckLabel() = %q", got)
	}
}

// TestView_FailedStatsKeepsPreviousState fails the stats fetch of one cycle
// and checks the previous sites and stats stay visible.
func TestView_FailedStatsKeepsPreviousState(t *testing.T) {
	env := newTestEnv(t, nil)
	site := env.backend.AddSite("A", "https://a.test")
	_, _ = env.backend.Probe(site.ID)

	v := env.open(t, ViewDashboard)
	before := waitState(t, v, loaded)

	env.backend.AddSite("B", "https://b.test")
	env.server.InjectFault("GET /api/stats", mockapi.Fault{Status: http.StatusInternalServerError, Message: "stats unavailable"})

	err := v.Refresh(context.Background())
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "stats unavailable" {
		t.Fatalf("Refresh() error = %v, want APIError", err)
	}

	after, _ := v.State()
	if after.Seq != before.Seq || len(after.Sites) != 1 {
		t.Errorf("state changed by failed cycle: seq %d -> %d, %d sites", before.Seq, after.Seq, len(after.Sites))
	}
	if after.Stats == nil || *after.Stats != *before.Stats {
		t.Errorf("stats changed: %+v -> %+v", before.Stats, after.Stats)
	}
	if v.Err() == nil {
		t.Error("Err() = nil after failed cycle")
	}

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if v.Err() != nil {
		t.Errorf("Err() = %v after successful cycle", v.Err())
	}
	if snap, _ := v.State(); len(snap.Sites) != 2 {
		t.Errorf("sites after recovery = %d, want 2", len(snap.Sites))
	}
}

// TestView_CheckNowSucceedsWhenResyncFails times out the re-sync that
// follows a forced check; the check itself still succeeds.
func TestView_CheckNowSucceedsWhenResyncFails(t *testing.T) {
	env := newTestEnv(t, nil, WithTimeout(50*time.Millisecond))
	site := env.backend.AddSite("A", "https://a.test")

	v := env.open(t, ViewSites)
	waitState(t, v, loaded)

	var result ActionResult
	var mu sync.Mutex
	v.OnActionResult(func(r ActionResult) {
		mu.Lock()
		result = r
		mu.Unlock()
	})

	env.server.InjectFault("GET /api/sites", mockapi.Fault{Delay: time.Second})
	if err := v.CheckNow(context.Background(), site.ID); err != nil {
		t.Fatalf("CheckNow() error = %v, want nil", err)
	}

	mu.Lock()
	if result.State != "succeeded" {
		t.Errorf("result state = %v, want succeeded", result.State)
	}
	mu.Unlock()

	// the re-sync runs and fails with a timeout
	deadline := time.Now().Add(2 * time.Second)
	for v.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	var netErr *api.NetworkError
	if !errors.As(v.Err(), &netErr) || !netErr.Timeout() {
		t.Errorf("Err() = %v, want timed-out NetworkError from the re-sync", v.Err())
	}
}

// TestView_CheckNowResyncObservesProbe checks the delayed re-sync picks up
// the settled probe result.
func TestView_CheckNowResyncObservesProbe(t *testing.T) {
	env := newTestEnv(t, nil)
	site := env.backend.AddSite("A", "https://a.test")

	v := env.open(t, ViewSites)
	waitState(t, v, loaded)

	if err := v.CheckNow(context.Background(), site.ID); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	waitState(t, v, func(s Snapshot) bool {
		return len(s.Sites) == 1 && s.Sites[0].LastStatus == 200
	})
}

func TestView_ToggleTwiceRestoresActive(t *testing.T) {
	env := newTestEnv(t, nil)
	site := env.backend.AddSite("A", "https://a.test")
	v := env.open(t, ViewSites)

	first, err := v.ToggleSite(context.Background(), site.ID)
	if err != nil {
		t.Fatalf("ToggleSite() error = %v", err)
	}
	second, err := v.ToggleSite(context.Background(), site.ID)
	if err != nil {
		t.Fatalf("ToggleSite() error = %v", err)
	}
	if first.Active || !second.Active {
		t.Errorf("active = %v then %v, want false then true", first.Active, second.Active)
	}

	got, _ := env.backend.Site(site.ID)
	if !got.Active {
		t.Error("backend site inactive after two toggles")
	}
}

func TestView_DeleteObservedOnResync(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.backend.AddSite("A", "https://a.test")
	env.backend.AddSite("B", "https://b.test")

	v := env.open(t, ViewSites)
	waitState(t, v, func(s Snapshot) bool { return len(s.Sites) == 2 })

	if err := v.DeleteSite(context.Background(), a.ID); err != nil {
		t.Fatalf("DeleteSite() error = %v", err)
	}
	snap := waitState(t, v, func(s Snapshot) bool { return len(s.Sites) == 1 })
	if snap.Sites[0].Name != "B" {
		t.Errorf("remaining site = %+v", snap.Sites[0])
	}
}

func TestView_ActionFailureUsesServerMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)

	var result ActionResult
	v.OnActionResult(func(r ActionResult) { result = r })

	err := v.DeleteSite(context.Background(), 404)
	if err == nil {
		t.Fatal("DeleteSite(unknown) error = nil")
	}
	if result.Message != "Site not found" {
		t.Errorf("Message = %q, want server message", result.Message)
	}
}

func TestView_DuplicateActionRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	site := env.backend.AddSite("A", "https://a.test")
	v := env.open(t, ViewSites)

	path := "DELETE /api/sites/1"
	env.server.InjectFault(path, mockapi.Fault{Delay: 200 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- v.DeleteSite(context.Background(), site.ID) }()

	deadline := time.Now().Add(time.Second)
	for !v.Submitting(ActionDelete, site.ID) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := v.DeleteSite(context.Background(), site.ID); !errors.Is(err, ErrInProgress) {
		t.Errorf("second DeleteSite() error = %v, want ErrInProgress", err)
	}
	if err := <-done; err != nil {
		t.Errorf("first DeleteSite() error = %v", err)
	}
}

// TestView_OutOfOrderRefreshDiscarded issues a slow refresh before a fast
// one and checks the slow one cannot overwrite the newer state.
func TestView_OutOfOrderRefreshDiscarded(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)
	initial := waitState(t, v, loaded)

	env.server.InjectFault("GET /api/sites", mockapi.Fault{Delay: 150 * time.Millisecond})

	slowDone := make(chan error, 1)
	go func() { slowDone <- v.Refresh(context.Background()) }()

	// let the slow request reach the fault before issuing the fast one
	time.Sleep(30 * time.Millisecond)
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("fast Refresh() error = %v", err)
	}
	fast, _ := v.State()

	if err := <-slowDone; err != nil {
		t.Fatalf("slow Refresh() error = %v", err)
	}
	final, _ := v.State()

	if fast.Seq != initial.Seq+2 {
		t.Errorf("fast cycle seq = %d, want %d", fast.Seq, initial.Seq+2)
	}
	if final.Seq != fast.Seq {
		t.Errorf("final seq = %d, want the fast cycle's %d", final.Seq, fast.Seq)
	}
}

// TestView_NoReentrantPolling slows every sites request past several
// polling intervals and checks only one is ever in flight.
func TestView_NoReentrantPolling(t *testing.T) {
	var current, maxSeen, total atomic.Int64
	slow := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/sites" {
				n := current.Add(1)
				total.Add(1)
				for {
					old := maxSeen.Load()
					if n <= old || maxSeen.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(60 * time.Millisecond)
				defer current.Add(-1)
			}
			next.ServeHTTP(w, r)
		})
	}

	env := newTestEnv(t, slow, WithPollingInterval(10*time.Millisecond))
	v := env.open(t, ViewDashboard)
	time.Sleep(300 * time.Millisecond)
	v.Close()

	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent sites requests = %d, want 1", maxSeen.Load())
	}
	if total.Load() < 2 {
		t.Errorf("sites requests = %d, want polling to continue", total.Load())
	}
}

func TestView_PeriodicPollPicksUpChanges(t *testing.T) {
	env := newTestEnv(t, nil, WithPollingInterval(20*time.Millisecond))
	v := env.open(t, ViewDashboard)
	waitState(t, v, loaded)

	env.backend.AddSite("Later", "https://later.test")
	waitState(t, v, func(s Snapshot) bool { return len(s.Sites) == 1 })
}

func TestView_SitesViewDoesNotPoll(t *testing.T) {
	var requests atomic.Int64
	count := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/sites" {
				requests.Add(1)
			}
			next.ServeHTTP(w, r)
		})
	}
	env := newTestEnv(t, count, WithPollingInterval(10*time.Millisecond))
	v := env.open(t, ViewSites)
	waitState(t, v, loaded)
	time.Sleep(80 * time.Millisecond)

	if n := requests.Load(); n != 1 {
		t.Errorf("sites requests = %d, want only the initial load", n)
	}
}

func TestView_LogsViewAndFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.backend.AddSite("A", "https://a.test")
	c := env.backend.AddSite("C", "https://c.test")
	for i := 0; i < 3; i++ {
		_, _ = env.backend.Probe(a.ID)
	}
	_, _ = env.backend.Probe(c.ID)

	v := env.open(t, ViewLogs)
	snap := waitState(t, v, loaded)
	if len(snap.Logs) != 4 || snap.LogTotal != 4 || len(snap.Sites) != 2 {
		t.Fatalf("logs %d total %d sites %d", len(snap.Logs), snap.LogTotal, len(snap.Sites))
	}

	v.SetLogQuery(api.LogQuery{SiteID: c.ID})
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	snap, _ = v.State()
	if len(snap.Logs) != 1 || snap.Logs[0].SiteID != c.ID {
		t.Errorf("filtered logs = %+v", snap.Logs)
	}
}

func TestView_AppStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewAppStatus)
	snap := waitState(t, v, loaded)
	if snap.Monitor == nil || !snap.Monitor.Running {
		t.Fatalf("Monitor = %+v", snap.Monitor)
	}

	env.backend.SetRunning(false)
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap, _ := v.State(); snap.Monitor.Running {
		t.Error("Running = true after engine stopped")
	}
}

func TestView_UpdatesAndClose(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.open(t, ViewSites)
	waitState(t, v, loaded)

	updates, stop := v.Updates()
	defer stop()

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case snap := <-updates:
		if snap.Sites == nil {
			t.Error("update without sites")
		}
	case <-time.After(time.Second):
		t.Fatal("no update after Refresh")
	}

	v.Close()
	if _, ok := <-updates; ok {
		t.Error("updates channel open after Close")
	}
	if env.board.OpenViews() != 0 {
		t.Errorf("OpenViews() = %d after Close", env.board.OpenViews())
	}

	before, _ := v.State()
	_ = v.Refresh(context.Background())
	after, _ := v.State()
	if after.Seq != before.Seq {
		t.Error("state changed after Close")
	}
	v.Close()
}

func TestView_ParentCancelClosesView(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	v, err := env.board.Open(ctx, ViewDashboard)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view not done after parent cancel")
	}
	deadline := time.Now().Add(time.Second)
	for env.board.OpenViews() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.board.OpenViews() != 0 {
		t.Error("view not released after parent cancel")
	}
}

func TestBoard_ServeMetrics(t *testing.T) {
	env := newTestEnv(t, nil, WithMetrics(true))
	v := env.open(t, ViewDashboard)
	waitState(t, v, loaded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := env.board.ServeMetrics(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ServeMetrics() error = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"sitewatch_poll_cycles_total", "sitewatch_api_requests_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestBoard_ServeMetricsDisabled(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ServeMetrics(context.Background(), "127.0.0.1:0"); err == nil {
		t.Error("ServeMetrics() without WithMetrics error = nil")
	}
}
