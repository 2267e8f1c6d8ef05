package store

import (
	"sync"
)

const subscriberBuffer = 16

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore serializes every write behind one mutex, which is what keeps
// overlapping poll cycles from racing on view state: the sequence check and
// the replacement happen in the same critical section.
type MemoryStore struct {
	mu          sync.RWMutex
	current     Snapshot
	hasData     bool
	lastApplied uint64
	lastErr     error
	lastErrSeq  uint64
	closed      bool
	onStale     func(seq uint64)

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// OnStale registers a hook called with the sequence number of every snapshot
// discarded by the staleness check. It must be set before the store is used.
func (m *MemoryStore) OnStale(fn func(seq uint64)) {
	m.onStale = fn
}

// Apply implements [Store].
func (m *MemoryStore) Apply(seq uint64, snap Snapshot) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if seq <= m.lastApplied {
		m.mu.Unlock()
		if m.onStale != nil {
			m.onStale(seq)
		}
		return false
	}
	snap.Seq = seq
	m.current = snap.Clone()
	m.hasData = true
	m.lastApplied = seq
	if m.lastErrSeq < seq {
		m.lastErr = nil
	}
	out := m.current.Clone()
	m.mu.Unlock()

	m.notifySubscribers(out)
	return true
}

// Fail implements [Store].
func (m *MemoryStore) Fail(seq uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || seq <= m.lastApplied || seq < m.lastErrSeq {
		return
	}
	m.lastErr = err
	m.lastErrSeq = seq
}

// Snapshot implements [Store].
func (m *MemoryStore) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone(), m.hasData
}

// Err implements [Store].
func (m *MemoryStore) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// LastApplied returns the sequence number of the current snapshot.
func (m *MemoryStore) LastApplied() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastApplied
}

// Subscribe creates a new subscription and returns a channel for receiving
// applied snapshots. Subscribing to a closed store returns a closed channel.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		close(ch)
		return ch
	}

	m.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Close implements [Store]. It is idempotent.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
}

// notifySubscribers sends the snapshot to all active subscribers without
// blocking; a full subscriber buffer drops the update for that subscriber.
func (m *MemoryStore) notifySubscribers(snap Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- snap.Clone():
		default:
			// subscriber is slow, drop the message
		}
	}
}
