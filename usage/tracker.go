// Package usage counts free-tier frame consumption per session. The counts
// live in memory only: the introductory quota is deliberately not durable,
// a restart hands every session a fresh allowance in exchange for keeping
// the hot path off the ledger.
package usage

import "sync"

// Tracker is a concurrency-safe per-session counter.
type Tracker struct {
	mu   sync.Mutex
	used map[string]int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{used: make(map[string]int64)}
}

// Used returns the free frames consumed by a session, 0 if never seen.
func (t *Tracker) Used(sessionID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used[sessionID]
}

// Increment adds one to a session's count and returns the new value.
func (t *Tracker) Increment(sessionID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used[sessionID]++
	return t.used[sessionID]
}

// Sessions returns the number of sessions seen since process start.
func (t *Tracker) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.used)
}
