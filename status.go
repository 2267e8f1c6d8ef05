package sitewatch

import (
	"math"
	"time"

	"github.com/jpalmerr/sitewatch/api"
)

// State represents the display health of a site or log entry.
//
// State is a string type so it serializes and logs as a readable word.
type State string

const (
	// StatePending indicates the site has never been probed (status code 0).
	StatePending State = "pending"

	// StateOnline indicates the last probe returned a 2xx or 3xx code.
	StateOnline State = "online"

	// StateOffline indicates the last probe failed or returned an error code.
	StateOffline State = "offline"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Band is the display band for an uptime percentage.
type Band string

const (
	// BandGood covers uptime of 95% and above.
	BandGood Band = "good"

	// BandWarning covers uptime from 80% up to, but excluding, 95%.
	BandWarning Band = "warning"

	// BandCritical covers uptime below 80%.
	BandCritical Band = "critical"
)

// String returns the string representation of the band.
func (b Band) String() string {
	return string(b)
}

// Band thresholds. Each band is inclusive at its lower bound.
const (
	GoodUptime    = 95.0
	WarningUptime = 80.0
)

// NeverCheckedLabel is shown in place of a timestamp for sites the monitor
// has not probed yet.
const NeverCheckedLabel = "Never checked"

// DisabledLabel is shown in place of a state for sites whose monitoring is
// turned off.
const DisabledLabel = "Monitoring disabled"

// Classify maps a probe's status code and online flag to a [State].
//
// A zero status code means the site has never been checked and yields
// [StatePending] whatever isOnline says. Any other code defers to isOnline,
// which the backend derives with [IsOnlineCode].
func Classify(statusCode int, isOnline bool) State {
	if statusCode == 0 {
		return StatePending
	}
	if isOnline {
		return StateOnline
	}
	return StateOffline
}

// UptimeBand maps an uptime percentage to a display [Band].
//
// The function is total: values above 100 are treated as [BandGood], values
// below 0 and NaN as [BandCritical].
//
// Examples:
//
//	UptimeBand(95)   // BandGood
//	UptimeBand(94.9) // BandWarning
//	UptimeBand(80)   // BandWarning
//	UptimeBand(79.9) // BandCritical
func UptimeBand(uptime float64) Band {
	switch {
	case math.IsNaN(uptime):
		return BandCritical
	case uptime >= GoodUptime:
		return BandGood
	case uptime >= WarningUptime:
		return BandWarning
	default:
		return BandCritical
	}
}

// IsOnlineCode reports whether an HTTP status code counts as online:
// anything in [200, 400).
func IsOnlineCode(code int) bool {
	return code >= 200 && code < 400
}

// SiteState classifies a site from its last observed status code.
func SiteState(site api.Site) State {
	return Classify(site.LastStatus, IsOnlineCode(site.LastStatus))
}

// EntryState classifies a single log entry.
func EntryState(entry api.LogEntry) State {
	return Classify(entry.StatusCode, entry.IsOnline)
}

// LastCheckLabel formats a last-check timestamp for display. The zero time
// (the backend's "0001-01-01T00:00:00Z" sentinel) renders as
// [NeverCheckedLabel]. An empty layout defaults to [time.DateTime].
func LastCheckLabel(t time.Time, layout string) string {
	if t.IsZero() {
		return NeverCheckedLabel
	}
	if layout == "" {
		layout = time.DateTime
	}
	return t.Local().Format(layout)
}
