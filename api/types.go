package api

import "time"

// Site is a monitored endpoint as reported by the backend.
//
// LastStatus is zero and LastCheck is the zero time when the engine has
// never probed the site. Uptime is a percentage in [0,100] computed by the
// backend; clients read it as a snapshot and never derive it from logs.
type Site struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Active     bool      `json:"active"`
	LastStatus int       `json:"last_status"`
	LastCheck  time.Time `json:"last_check"`
	Uptime     float64   `json:"uptime"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NeverChecked reports whether the engine has not probed the site yet.
func (s Site) NeverChecked() bool {
	return s.LastStatus == 0 || s.LastCheck.IsZero()
}

// Stats is the backend's aggregate over all sites.
type Stats struct {
	TotalSites    int       `json:"total_sites"`
	OnlineSites   int       `json:"online_sites"`
	OfflineSites  int       `json:"offline_sites"`
	OverallUptime float64   `json:"overall_uptime"`
	LastUpdate    time.Time `json:"last_update"`
}

// LogSite is the denormalized owner of a [LogEntry].
type LogSite struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// LogEntry is one historical probe result. StatusCode is zero while the
// probe is pending or when it failed before receiving a response.
type LogEntry struct {
	ID             uint      `json:"id"`
	SiteID         uint      `json:"site_id"`
	Site           LogSite   `json:"site"`
	StatusCode     int       `json:"status_code"`
	IsOnline       bool      `json:"is_online"`
	ResponseTimeMs int64     `json:"response_time"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// MonitorStatus reports whether the external probing engine is running.
type MonitorStatus struct {
	Running   bool      `json:"running"`
	Timestamp time.Time `json:"timestamp"`
}

// Log status filters accepted by [LogQuery].
const (
	LogStatusAll     = "all"
	LogStatusOnline  = "online"
	LogStatusOffline = "offline"
)

// LogQuery selects log entries. Zero fields are omitted from the request
// and the backend applies its own defaults.
type LogQuery struct {
	Limit  int
	Page   int
	SiteID uint
	Status string
}

// LogPage is one page of log entries.
type LogPage struct {
	Logs  []LogEntry `json:"logs"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Pages int64      `json:"pages"`
}

// CreateSiteRequest is the body of POST /sites.
type CreateSiteRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CheckResult is the body returned by POST /monitor/check/{id}. The backend
// accepts the request before the probe is committed, so Result may be nil.
type CheckResult struct {
	Message string    `json:"message"`
	Result  *LogEntry `json:"result,omitempty"`
}

type sitesResponse struct {
	Sites []Site `json:"sites"`
	Total int    `json:"total"`
}

// siteEnvelope matches the {"message": ..., "site": {...}} wrapper used by
// create and toggle. A bare Site body is accepted too.
type siteEnvelope struct {
	Message string `json:"message"`
	Site    *Site  `json:"site"`
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
