// Package sitewatch is the client-side sync engine of a website uptime
// dashboard.
//
// A [Board] talks to a monitoring service's REST API and hands out views.
// Each [View] fetches the resources of one screen in atomic poll cycles,
// keeps the most recent consistent [Snapshot], and submits user actions
// (add, delete, toggle, force-check) followed by a re-sync of its state.
//
// # Quick Start
//
//	board, _ := sitewatch.New(sitewatch.WithBaseURL("http://localhost:8080/api"))
//	defer board.Close()
//
//	v, _ := board.Open(ctx, sitewatch.ViewDashboard)
//	defer v.Close()
//
//	updates, stop := v.Updates()
//	defer stop()
//	for snap := range updates {
//	    fmt.Println(snap.Stats.OnlineSites, "of", snap.Stats.TotalSites, "online")
//	}
//
// # Configuration
//
// sitewatch uses the functional options pattern for configuration:
//
//	board, err := sitewatch.New(
//	    sitewatch.WithBaseURL("https://monitor.example.com/api"),
//	    sitewatch.WithPollingInterval(15 * time.Second),
//	    sitewatch.WithResyncDelay(time.Second),
//	    sitewatch.WithLogLimit(50),
//	    sitewatch.WithMetrics(true),
//	)
//
// # Views
//
// Dashboard and app-status views poll on the board's interval; sites and
// logs views load once and refresh after actions or on [View.Refresh]. A
// poll cycle that fails keeps the previous snapshot and reports the error
// through [View.Err]. A cycle that completes after a newer one is
// discarded, so a slow response never overwrites fresher data.
//
// # Status Classification
//
// [Classify], [SiteState] and [EntryState] turn probe results into a
// [State]; [UptimeBand] maps uptime percentages to display bands.
//
// # Architecture
//
// sitewatch consists of several internal packages (under internal/):
//
//   - internal/aggregator: Atomic multi-resource poll cycles with sequencing
//   - internal/poller: Non-reentrant interval scheduler
//   - internal/store: Sequence-checked view state with pub/sub for updates
//   - internal/action: Action state machine with delayed re-sync
//   - internal/metrics: Prometheus instrumentation
//   - internal/mockapi: In-memory implementation of the REST API
//   - internal/tui: Terminal UI
//
// The internal packages are not part of the public API and may change
// without notice. The wire types live in the api package.
package sitewatch
