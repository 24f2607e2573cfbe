package queue

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Store is an in-memory run store with TTL support. Callers always get
// copies; changes go through Mutate.
type Store struct {
	runs          map[string]*Run
	mu            sync.RWMutex
	onExpire      func(*Run)
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewStore creates a new run store
func NewStore(cleanupEvery time.Duration, onExpire func(*Run)) *Store {
	s := &Store{
		runs:        make(map[string]*Run),
		onExpire:    onExpire,
		stopCleanup: make(chan struct{}),
	}

	if cleanupEvery > 0 {
		s.startCleanup(cleanupEvery)
	}

	return s
}

// startCleanup starts the background TTL cleanup
func (s *Store) startCleanup(every time.Duration) {
	s.cleanupTicker = time.NewTicker(every)

	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupExpired()
			case <-s.stopCleanup:
				s.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired removes expired finished runs
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	var expired []*Run
	for runID, run := range s.runs {
		if run.IsFinished() && run.IsExpired() {
			expired = append(expired, run)
			delete(s.runs, runID)
		}
	}
	s.mu.Unlock()

	for _, run := range expired {
		if s.onExpire != nil {
			s.onExpire(run)
		}
	}

	if len(expired) > 0 {
		log.Printf("Cleaned up %d expired runs", len(expired))
	}
	return len(expired)
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Save saves a run to the store
func (s *Store) Save(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.clone()
}

// Get retrieves a copy of a run by ID
func (s *Store) Get(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	if run.IsFinished() && run.IsExpired() {
		return nil, fmt.Errorf("run expired: %s", runID)
	}

	return run.clone(), nil
}

// Mutate applies fn to the stored run and returns a copy of the result
func (s *Store) Mutate(runID string, fn func(*Run)) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	fn(run)
	return run.clone(), nil
}

// Delete removes a run from the store
func (s *Store) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// List returns all runs, newest first
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run.clone())
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].ID > runs[j].ID
	})
	return runs
}
