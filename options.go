package sitewatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// boardConfig holds mutable state during Board construction.
type boardConfig struct {
	baseURL         string
	timeout         time.Duration
	pollingInterval time.Duration
	resyncDelay     time.Duration
	logLimit        int
	logger          *slog.Logger
	metrics         bool
	httpClient      *http.Client
}

// Option is a function that configures a [Board] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*boardConfig) error

// WithBaseURL sets the root of the monitoring service's REST API, for
// example "http://localhost:8080/api".
//
// Defaults to [DefaultBaseURL].
//
// Returns an error if the URL is not an absolute http or https URL.
func WithBaseURL(raw string) Option {
	return func(cfg *boardConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL must use http or https, got %q", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("base URL must include a host, got %q", raw)
		}
		cfg.baseURL = raw
		return nil
	}
}

// WithTimeout sets the bound on every API request. A request that exceeds
// it fails with an *api.NetworkError.
//
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *boardConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithPollingInterval sets how often the dashboard and app-status views
// re-poll. The sites and logs views load once on open and refresh only on
// demand.
//
// Defaults to 30 seconds.
//
// Example:
//
//	board, err := sitewatch.New(
//	    sitewatch.WithBaseURL("http://monitor.internal/api"),
//	    sitewatch.WithPollingInterval(10 * time.Second),
//	)
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *boardConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithResyncDelay sets the wait between a successful delete, toggle or
// force-check and the follow-up refresh. Zero refreshes immediately.
//
// The delay is a best-effort hint for the backend to settle. It is not a
// guarantee that a forced probe has completed; the next scheduled poll
// reconciles anything the re-sync missed.
//
// Defaults to 2 seconds.
//
// Returns an error if the duration is negative.
func WithResyncDelay(d time.Duration) Option {
	return func(cfg *boardConfig) error {
		if d < 0 {
			return errors.New("resync delay cannot be negative")
		}
		cfg.resyncDelay = d
		return nil
	}
}

// WithLogLimit sets how many recent log entries the logs view fetches.
//
// Defaults to 25.
//
// Returns an error if n is zero or negative.
func WithLogLimit(n int) Option {
	return func(cfg *boardConfig) error {
		if n <= 0 {
			return errors.New("log limit must be positive")
		}
		cfg.logLimit = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Board and its views.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	board, err := sitewatch.New(sitewatch.WithLogger(logger))
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *boardConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation of poll cycles, actions
// and API requests. Use [Board.MetricsRegistry] or [Board.ServeMetrics] to
// expose them.
//
// Metrics are process-wide: enabling them on one Board installs the
// collectors every Board in the process records into.
func WithMetrics(enabled bool) Option {
	return func(cfg *boardConfig) error {
		cfg.metrics = enabled
		return nil
	}
}

// WithHTTPClient replaces the HTTP client used for API requests. The
// per-request timeout still applies.
//
// Returns an error if the client is nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *boardConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = hc
		return nil
	}
}
