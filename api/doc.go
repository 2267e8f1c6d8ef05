// Package api is a typed client for the uptime monitoring service's REST
// surface (base path /api).
//
// The main components are:
//
//   - [Client]: fetchers for sites, stats, logs and monitor status, plus the
//     mutating calls (create, delete, toggle, check-now)
//   - [Site], [Stats], [LogEntry], [MonitorStatus]: the backend's data model
//   - [NetworkError], [APIError], [ValidationError]: the failure taxonomy
//
// Every request is bounded by the client's timeout (10 seconds unless
// configured otherwise). A request that exceeds it fails with a
// [NetworkError] whose Timeout method reports true.
package api
