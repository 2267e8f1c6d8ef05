// Package store holds the view state of one sitewatch screen.
//
// Each view owns exactly one [MemoryStore]. Poll cycles write to it through
// [MemoryStore.Apply], which enforces staleness rejection: a snapshot is
// applied only if its sequence number is higher than every snapshot applied
// before it. Out-of-order completions are discarded, so a slow cycle can
// never overwrite the result of a faster, newer one.
//
// The main components are:
//
//   - [Store]: Interface defining apply, read and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Snapshot]: The atomic result of one successful poll cycle
//
// Subscribers receive applied snapshots via channels with non-blocking sends
// (slow subscribers miss updates rather than block the poll path).
package store
