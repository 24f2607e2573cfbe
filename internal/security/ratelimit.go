package security

import (
	"sync"
	"time"
)

// RunLimiter caps how many runs a single client may create per window.
// Every run launches a browser, so the limit applies to run creation only.
type RunLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewRunLimiter allows limit runs per client within window
func NewRunLimiter(limit int, window time.Duration) *RunLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RunLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a run for client. When the client is over its limit it
// returns false and how long until the oldest run leaves the window.
func (l *RunLimiter) Allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(client, now)

	if len(recent) >= l.limit {
		return false, recent[0].Add(l.window).Sub(now)
	}

	l.hits[client] = append(recent, now)
	return true, 0
}

// Remaining returns how many runs client may still create in the current window
func (l *RunLimiter) Remaining(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.limit - len(l.prune(client, l.now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limit returns the configured runs per window
func (l *RunLimiter) Limit() int {
	return l.limit
}

// prune drops hits outside the window. Callers hold l.mu.
func (l *RunLimiter) prune(client string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	hits := l.hits[client]

	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) == 0 {
		delete(l.hits, client)
		return nil
	}
	l.hits[client] = hits
	return hits
}
