package sitewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/action"
	"github.com/jpalmerr/sitewatch/internal/metrics"
)

const (
	// DefaultBaseURL is the API root used when [WithBaseURL] is not given.
	DefaultBaseURL = "http://localhost:8080/api"

	defaultPollingInterval = 30 * time.Second
	defaultLogLimit        = 25
)

// ErrBoardClosed is returned by [Board.Open] after [Board.Close].
var ErrBoardClosed = errors.New("board closed")

// Board connects to one monitoring service and hands out views over it.
//
// A Board is created with [New] and functional options. Each screen of a
// front end opens its own [View] with [Board.Open] and closes it when the
// screen goes away:
//
//	board, err := sitewatch.New(sitewatch.WithBaseURL("http://localhost:8080/api"))
//	if err != nil {
//	    slog.Error("failed to create board", "error", err)
//	    os.Exit(1)
//	}
//	defer board.Close()
//
//	dash, err := board.Open(ctx, sitewatch.ViewDashboard)
//	if err != nil {
//	    return err
//	}
//	defer dash.Close()
//
// Board is safe for concurrent use.
type Board struct {
	client          *api.Client
	pollingInterval time.Duration
	resyncDelay     time.Duration
	logLimit        int
	logger          *slog.Logger
	metrics         *metrics.Metrics

	mu     sync.Mutex
	views  map[*View]struct{}
	closed bool
}

// New creates a new [Board] with the given options.
//
// Defaults:
//   - Base URL: [DefaultBaseURL]
//   - Request timeout: 10 seconds
//   - Polling interval: 30 seconds
//   - Re-sync delay: 2 seconds
//   - Log limit: 25
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Board, error) {
	cfg := &boardConfig{
		baseURL:         DefaultBaseURL,
		timeout:         api.DefaultTimeout,
		pollingInterval: defaultPollingInterval,
		resyncDelay:     action.DefaultResyncDelay,
		logLimit:        defaultLogLimit,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []api.ClientOption{api.WithTimeout(cfg.timeout)}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(cfg.httpClient))
	}

	b := &Board{
		client:          api.NewClient(cfg.baseURL, clientOpts...),
		pollingInterval: cfg.pollingInterval,
		resyncDelay:     cfg.resyncDelay,
		logLimit:        cfg.logLimit,
		logger:          logger,
		views:           make(map[*View]struct{}),
	}

	if cfg.metrics {
		b.metrics = metrics.Global()
		if b.metrics == nil {
			b.metrics = metrics.New()
			metrics.SetGlobal(b.metrics)
		}
	}

	return b, nil
}

// Client returns the API client shared by the board's views.
func (b *Board) Client() *api.Client {
	return b.client
}

// PollingInterval returns the interval of periodically refreshed views.
func (b *Board) PollingInterval() time.Duration {
	return b.pollingInterval
}

// ResyncDelay returns the delay before an action's follow-up refresh.
func (b *Board) ResyncDelay() time.Duration {
	return b.resyncDelay
}

// LogLimit returns the number of log entries the logs view fetches.
func (b *Board) LogLimit() int {
	return b.logLimit
}

// Open activates a view of the given kind. The view loads immediately and,
// for periodic kinds, keeps polling until [View.Close] is called or ctx is
// cancelled.
//
// Returns an error for an unknown kind or a closed board.
func (b *Board) Open(ctx context.Context, kind ViewKind) (*View, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBoardClosed
	}

	v, err := newView(ctx, b, kind)
	if err != nil {
		return nil, err
	}
	b.views[v] = struct{}{}
	v.start()

	b.logger.Debug("view opened", "view", string(kind), "interval", v.sched.Interval().String())
	return v, nil
}

// OpenViews returns the number of views that have not been closed.
func (b *Board) OpenViews() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.views)
}

// Close closes every open view and releases idle connections. Close is
// idempotent.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	views := make([]*View, 0, len(b.views))
	for v := range b.views {
		views = append(views, v)
	}
	b.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	b.client.Close()
}

// MetricsRegistry returns the Prometheus registry holding the board's
// metrics, or nil when [WithMetrics] was not enabled.
func (b *Board) MetricsRegistry() *prometheus.Registry {
	if b.metrics == nil {
		return nil
	}
	return b.metrics.Registry()
}

// ServeMetrics exposes the board's metrics at /metrics on addr until ctx is
// cancelled. It returns the bound address once the listener is ready.
func (b *Board) ServeMetrics(ctx context.Context, addr string) (string, error) {
	if b.metrics == nil {
		return "", errors.New("metrics not enabled")
	}
	srv := metrics.NewServer(b.metrics, addr, b.logger)
	if err := srv.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start metrics server: %w", err)
	}
	return srv.Addr(), nil
}

func (b *Board) forget(v *View) {
	b.mu.Lock()
	delete(b.views, v)
	b.mu.Unlock()
}
