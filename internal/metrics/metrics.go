// Package metrics holds the Prometheus instrumentation for sitewatch.
//
// Metrics are recorded through package-level helpers that are no-ops until
// [SetGlobal] installs a [Metrics] instance, so library users who never
// enable metrics pay nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for sitewatch.
type Metrics struct {
	// Poll cycles
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	StaleSnapshots    *prometheus.CounterVec
	TicksSkippedTotal *prometheus.CounterVec
	CyclesInFlight    *prometheus.GaugeVec
	SchedulerPanics   prometheus.Counter

	// Actions
	ActionsTotal *prometheus.CounterVec
	ResyncsTotal *prometheus.CounterVec

	// API requests
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered on its own
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_poll_cycles_total",
				Help: "Total number of poll cycles by view and result",
			},
			[]string{"view", "result"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_poll_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"view"},
		),
		StaleSnapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_stale_snapshots_total",
				Help: "Completed cycles discarded because a newer snapshot was already applied",
			},
			[]string{"view"},
		),
		TicksSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_poll_ticks_skipped_total",
				Help: "Timer ticks skipped because the previous cycle was still in flight",
			},
			[]string{"view"},
		),
		CyclesInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewatch_poll_cycles_in_flight",
				Help: "Scheduled poll cycles currently in flight",
			},
			[]string{"view"},
		),
		SchedulerPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_scheduler_panics_total",
				Help: "Poll cycles that panicked and were recovered",
			},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_actions_total",
				Help: "User actions by kind and outcome",
			},
			[]string{"action", "result"},
		),
		ResyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_resyncs_total",
				Help: "Action-triggered re-syncs by result",
			},
			[]string{"result"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_api_requests_total",
				Help: "Requests sent to the monitoring API by operation and result",
			},
			[]string{"op", "result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_api_request_duration_seconds",
				Help:    "Monitoring API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.StaleSnapshots,
		m.TicksSkippedTotal,
		m.CyclesInFlight,
		m.SchedulerPanics,
		m.ActionsTotal,
		m.ResyncsTotal,
		m.RequestsTotal,
		m.RequestDuration,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveCycle records a finished poll cycle
func ObserveCycle(view string, d time.Duration, err error) {
	m := Global()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(view, result).Inc()
	m.CycleDuration.WithLabelValues(view).Observe(d.Seconds())
}

// IncStaleSnapshots counts a snapshot discarded by the sequence check
func IncStaleSnapshots(view string) {
	m := Global()
	if m != nil {
		m.StaleSnapshots.WithLabelValues(view).Inc()
	}
}

// IncTicksSkipped counts a tick dropped while a cycle was in flight
func IncTicksSkipped(view string) {
	m := Global()
	if m != nil {
		m.TicksSkippedTotal.WithLabelValues(view).Inc()
	}
}

// SetCyclesInFlight sets the in-flight gauge for a view
func SetCyclesInFlight(view string, n int) {
	m := Global()
	if m != nil {
		m.CyclesInFlight.WithLabelValues(view).Set(float64(n))
	}
}

// IncSchedulerPanics counts a recovered cycle panic
func IncSchedulerPanics() {
	m := Global()
	if m != nil {
		m.SchedulerPanics.Inc()
	}
}

// IncActions counts a finished user action
func IncActions(action, result string) {
	m := Global()
	if m != nil {
		m.ActionsTotal.WithLabelValues(action, result).Inc()
	}
}

// IncResyncs counts an action-triggered re-sync
func IncResyncs(result string) {
	m := Global()
	if m != nil {
		m.ResyncsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRequest records one API request
func ObserveRequest(op string, d time.Duration, result string) {
	m := Global()
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, result).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
