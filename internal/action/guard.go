package action

import "sync"

// Guard ensures that only one action per target key is submitting at any
// given time.
type Guard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewGuard creates a new Guard.
func NewGuard() *Guard {
	return &Guard{
		keys: make(map[string]struct{}),
	}
}

// Acquire attempts to claim key.
// It returns true if the key was claimed, and false otherwise.
func (g *Guard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.keys[key]; exists {
		return false // already submitting
	}

	g.keys[key] = struct{}{}
	return true
}

// Release frees key for the next invocation.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

// Held reports whether key is currently claimed.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok
}

// Len returns the number of claimed keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
