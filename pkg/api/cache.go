package api

import (
	"sync"
)

// RequestCache memoizes selection results for the lifetime of one logical
// request. It is deliberately an explicit, injectable object rather than a
// process-wide singleton: the caller owns its lifetime and clears it between
// requests. Mutations through the engine clear it automatically, because a
// stale selection result is a correctness hazard.
type RequestCache struct {
	mu      sync.RWMutex
	entries map[string]*Flow
}

// NewRequestCache creates an empty cache.
func NewRequestCache() *RequestCache {
	return &RequestCache{entries: make(map[string]*Flow)}
}

// Get returns the memoized result for key. The stored flow may be nil: a
// memoized miss is still a hit.
func (rc *RequestCache) Get(key string) (*Flow, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	f, ok := rc.entries[key]
	return f, ok
}

// Put stores a result, including nil for a selection miss.
func (rc *RequestCache) Put(key string, f *Flow) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries[key] = f
}

// Clear drops every entry.
func (rc *RequestCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries = make(map[string]*Flow)
}

// Len returns the number of memoized entries.
func (rc *RequestCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return len(rc.entries)
}
