package store

import (
	"time"

	"github.com/jpalmerr/sitewatch/api"
)

// Snapshot is the atomic result of one successful poll cycle.
//
// Only the resources a view's plan fetched are set; the rest keep their zero
// value. A Snapshot replaces the previous one wholesale, so a site missing
// from Sites has been removed from the view.
type Snapshot struct {
	// Seq is the sequence number the cycle was issued with.
	Seq uint64 `json:"seq"`

	// Sites is the full site collection, nil if the plan does not fetch it.
	Sites []api.Site `json:"sites,omitempty"`

	// Stats is the aggregate statistics snapshot.
	Stats *api.Stats `json:"stats,omitempty"`

	// Logs holds the most recent log entries.
	Logs []api.LogEntry `json:"logs,omitempty"`

	// LogTotal is the backend's count of entries matching the log query.
	LogTotal int64 `json:"log_total,omitempty"`

	// Monitor is the probing engine's liveness.
	Monitor *api.MonitorStatus `json:"monitor,omitempty"`

	// FetchedAt is when the cycle completed.
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.Sites != nil {
		cp.Sites = append([]api.Site(nil), s.Sites...)
	}
	if s.Logs != nil {
		cp.Logs = append([]api.LogEntry(nil), s.Logs...)
	}
	if s.Stats != nil {
		stats := *s.Stats
		cp.Stats = &stats
	}
	if s.Monitor != nil {
		mon := *s.Monitor
		cp.Monitor = &mon
	}
	return cp
}

// Store defines the view-state operations used by the aggregator and the
// rendering layer.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Apply replaces the view state with snap if seq is newer than every
	// snapshot applied so far and the store is open. It reports whether the
	// snapshot was applied.
	Apply(seq uint64, snap Snapshot) bool

	// Fail records that the cycle issued with seq failed. The snapshot is
	// left untouched.
	Fail(seq uint64, err error)

	// Snapshot returns a copy of the current view state and whether any
	// cycle has been applied yet.
	Snapshot() (Snapshot, bool)

	// Err returns the failure of the most recent relevant cycle, or nil if
	// the latest applied snapshot is newer than any failure.
	Err() error

	// Subscribe returns a channel that receives applied snapshots.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes the channel.
	Unsubscribe(ch <-chan Snapshot)

	// Close rejects every later Apply and closes all subscriptions.
	Close()
}
