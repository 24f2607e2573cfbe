package security

import (
	"sync"
	"time"
)

// Replay is a stored response for an idempotency key
type Replay struct {
	Status    int
	Body      []byte
	ExpiresAt time.Time
}

type replayEntry struct {
	replay Replay
	ready  bool
	done   chan struct{} // closed when the reservation is filled or released
}

// ReplayCache remembers the response to a run creation request so a client
// retrying with the same X-Idempotency-Key gets the same run back. A key is
// reserved while its first request is in flight; concurrent requests with
// that key wait for the outcome instead of running the handler again.
type ReplayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*replayEntry
	now     func() time.Time
}

// NewReplayCache keeps responses for ttl
func NewReplayCache(ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ReplayCache{
		ttl:     ttl,
		entries: make(map[string]*replayEntry),
		now:     time.Now,
	}
}

// Lookup returns the stored response for key if it has not expired. It does
// not wait for an in-flight reservation.
func (c *ReplayCache) Lookup(key string) (Replay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.ready {
		return Replay{}, false
	}
	if c.now().After(e.replay.ExpiresAt) {
		delete(c.entries, key)
		return Replay{}, false
	}
	return e.replay, true
}

// Reserve returns the stored response for key when there is one. Otherwise
// it reserves key for the caller and returns false; the caller must then
// call Remember or Release. If another request holds the reservation,
// Reserve blocks until it is filled or released.
func (c *ReplayCache) Reserve(key string) (Replay, bool) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		switch {
		case ok && e.ready && !c.now().After(e.replay.ExpiresAt):
			c.mu.Unlock()
			return e.replay, true
		case ok && !e.ready:
			done := e.done
			c.mu.Unlock()
			<-done
			continue
		}

		c.entries[key] = &replayEntry{done: make(chan struct{})}
		c.mu.Unlock()
		return Replay{}, false
	}
}

// Remember stores a copy of body under key, wakes requests waiting on the
// reservation and drops expired entries.
func (c *ReplayCache) Remember(key string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if e.ready && now.After(e.replay.ExpiresAt) {
			delete(c.entries, k)
		}
	}

	replay := Replay{
		Status:    status,
		Body:      append([]byte(nil), body...),
		ExpiresAt: now.Add(c.ttl),
	}

	if e, ok := c.entries[key]; ok && !e.ready {
		e.replay = replay
		e.ready = true
		close(e.done)
		return
	}

	done := make(chan struct{})
	close(done)
	c.entries[key] = &replayEntry{replay: replay, ready: true, done: done}
}

// Release drops an unfilled reservation so the next request with key runs
// the handler itself.
func (c *ReplayCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.ready {
		delete(c.entries, key)
		close(e.done)
	}
}

// Len returns the number of stored responses and reservations
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
