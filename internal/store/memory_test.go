package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/sitewatch/api"
)

func sitesSnapshot(names ...string) Snapshot {
	sites := make([]api.Site, len(names))
	for i, n := range names {
		sites[i] = api.Site{ID: uint(i + 1), Name: n}
	}
	return Snapshot{Sites: sites}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	// should start empty
	if _, ok := store.Snapshot(); ok {
		t.Error("Snapshot() reported data on a new store")
	}
	if store.Err() != nil {
		t.Errorf("Err() = %v, want nil", store.Err())
	}
}

func TestMemoryStore_Apply(t *testing.T) {
	store := NewMemoryStore()

	if !store.Apply(1, sitesSnapshot("Example")) {
		t.Fatal("Apply(1) = false, want true")
	}

	snap, ok := store.Snapshot()
	if !ok {
		t.Fatal("Snapshot() reported no data after Apply")
	}
	if snap.Seq != 1 {
		t.Errorf("Seq = %d, want 1", snap.Seq)
	}
	if len(snap.Sites) != 1 || snap.Sites[0].Name != "Example" {
		t.Errorf("Sites = %+v, want [Example]", snap.Sites)
	}
}

func TestMemoryStore_ApplyReplacesWholesale(t *testing.T) {
	store := NewMemoryStore()

	store.Apply(1, sitesSnapshot("A", "B", "C"))
	store.Apply(2, sitesSnapshot("A"))

	snap, _ := store.Snapshot()
	if len(snap.Sites) != 1 {
		t.Fatalf("len(Sites) = %d, want 1 (removed sites must disappear)", len(snap.Sites))
	}
}

func TestMemoryStore_RejectsOutOfOrder(t *testing.T) {
	store := NewMemoryStore()

	var stale []uint64
	store.OnStale(func(seq uint64) { stale = append(stale, seq) })

	// cycle B (seq 2) completes before cycle A (seq 1)
	if !store.Apply(2, sitesSnapshot("from B")) {
		t.Fatal("Apply(2) = false, want true")
	}
	if store.Apply(1, sitesSnapshot("from A")) {
		t.Fatal("Apply(1) after Apply(2) = true, want false")
	}

	snap, _ := store.Snapshot()
	if snap.Sites[0].Name != "from B" {
		t.Errorf("Sites[0].Name = %q, want %q", snap.Sites[0].Name, "from B")
	}
	if len(stale) != 1 || stale[0] != 1 {
		t.Errorf("stale hook calls = %v, want [1]", stale)
	}
}

func TestMemoryStore_RejectsDuplicateSeq(t *testing.T) {
	store := NewMemoryStore()
	store.Apply(3, sitesSnapshot("first"))
	if store.Apply(3, sitesSnapshot("second")) {
		t.Error("Apply with an already-applied seq = true, want false")
	}
}

func TestMemoryStore_FailKeepsSnapshot(t *testing.T) {
	store := NewMemoryStore()
	stats := &api.Stats{TotalSites: 3, OverallUptime: 99.5}
	store.Apply(1, Snapshot{Sites: sitesSnapshot("A").Sites, Stats: stats})

	boom := errors.New("stats unavailable")
	store.Fail(2, boom)

	snap, _ := store.Snapshot()
	if snap.Stats == nil || snap.Stats.TotalSites != 3 {
		t.Errorf("Stats = %+v, want previous stats untouched", snap.Stats)
	}
	if len(snap.Sites) != 1 {
		t.Errorf("len(Sites) = %d, want 1", len(snap.Sites))
	}
	if !errors.Is(store.Err(), boom) {
		t.Errorf("Err() = %v, want %v", store.Err(), boom)
	}

	// a newer successful cycle clears the error
	store.Apply(3, sitesSnapshot("A"))
	if store.Err() != nil {
		t.Errorf("Err() after newer Apply = %v, want nil", store.Err())
	}
}

func TestMemoryStore_StaleFailureIgnored(t *testing.T) {
	store := NewMemoryStore()
	store.Apply(5, sitesSnapshot("A"))
	store.Fail(4, errors.New("old failure"))

	if store.Err() != nil {
		t.Errorf("Err() = %v, want nil for a failure older than the applied snapshot", store.Err())
	}
}

func TestMemoryStore_OlderSuccessAfterNewerFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Fail(2, errors.New("cycle 2 failed"))

	// cycle 1 succeeded late; nothing newer was applied, so it is shown
	if !store.Apply(1, sitesSnapshot("A")) {
		t.Fatal("Apply(1) = false, want true")
	}
	if store.Err() == nil {
		t.Error("Err() = nil, want the newer failure to remain visible")
	}
}

func TestMemoryStore_SnapshotIsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Apply(1, Snapshot{Sites: sitesSnapshot("A").Sites, Stats: &api.Stats{TotalSites: 1}})

	snap, _ := store.Snapshot()
	snap.Sites[0].Name = "mutated"
	snap.Stats.TotalSites = 42

	again, _ := store.Snapshot()
	if again.Sites[0].Name != "A" {
		t.Errorf("Sites[0].Name = %q, want store unaffected by caller mutation", again.Sites[0].Name)
	}
	if again.Stats.TotalSites != 1 {
		t.Errorf("Stats.TotalSites = %d, want 1", again.Stats.TotalSites)
	}
}

func TestMemoryStore_CloseRejectsApply(t *testing.T) {
	store := NewMemoryStore()
	store.Apply(1, sitesSnapshot("A"))
	store.Close()

	if store.Apply(2, sitesSnapshot("B")) {
		t.Error("Apply after Close = true, want false")
	}
	snap, _ := store.Snapshot()
	if snap.Sites[0].Name != "A" {
		t.Errorf("Sites[0].Name = %q, want %q", snap.Sites[0].Name, "A")
	}

	// idempotent
	store.Close()
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() = nil")
	}

	go func() {
		store.Apply(1, sitesSnapshot("Test"))
	}()

	select {
	case snap := <-ch:
		if snap.Seq != 1 {
			t.Errorf("received Seq = %d, want 1", snap.Seq)
		}
	case <-time.After(1 * time.Second):
		t.Error("Subscribe() channel did not receive update")
	}
}

func TestMemoryStore_StaleNotDelivered(t *testing.T) {
	store := NewMemoryStore()
	store.Apply(2, sitesSnapshot("B"))

	ch := store.Subscribe()
	store.Apply(1, sitesSnapshot("A"))

	select {
	case snap := <-ch:
		t.Errorf("received stale snapshot seq %d", snap.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	store.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Unsubscribe() channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Unsubscribe() channel should be closed immediately")
	}

	// unknown and repeated unsubscribes are safe
	store.Unsubscribe(ch)
}

func TestMemoryStore_CloseClosesSubscribers(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()
	store.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("subscriber channel should be closed after Close()")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("subscriber channel not closed after Close()")
	}

	late := store.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe() after Close() should return a closed channel")
	}
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()

	// a subscriber that never reads
	_ = store.Subscribe()

	done := make(chan bool)
	go func() {
		for i := 1; i <= 200; i++ {
			store.Apply(uint64(i), sitesSnapshot("Test"))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Apply() blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentApply(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	const n = 50
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			store.Apply(seq, sitesSnapshot("x"))
		}(uint64(i))
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := store.Subscribe()
			_, _ = store.Snapshot()
			store.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	// whatever the completion order, the highest sequence wins
	if got := store.LastApplied(); got != n {
		t.Errorf("LastApplied() = %d, want %d", got, n)
	}
}
