// Package poller runs a view's poll cycles on a fixed-interval timer.
//
// A [Scheduler] owns exactly one timer. It runs one cycle immediately on
// start and then one per tick, never more than one at a time: a tick that
// fires while the previous cycle is still in flight is skipped rather than
// queued. Ticks come from a [time.Ticker], so the cadence is measured
// between schedule points and is not stretched by slow cycles.
//
// Users of the sitewatch library should not need to interact with this
// package directly; views acquire and release their schedulers.
package poller
