package queue

import (
	"sync"
)

// Event represents a run event
type Event struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Progress  int       `json:"progress,omitempty"`
	Step      string    `json:"step,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Path      string    `json:"path,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// Final reports whether no further events follow for the run
func (e Event) Final() bool {
	return e.Status == RunStatusSucceeded || e.Status == RunStatusFailed
}

// EventHub manages event subscriptions
type EventHub struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	closed      bool
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription for run events. After Close it returns
// an already closed channel.
func (h *EventHub) Subscribe(runID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 32)
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[runID] = append(h.subscribers[runID], ch)
	return ch
}

// Subscribers returns the number of live subscriptions for a run
func (h *EventHub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[runID])
}

// Unsubscribe removes a subscription
func (h *EventHub) Unsubscribe(runID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(h.subscribers[runID]) == 0 {
		delete(h.subscribers, runID)
	}
}

// Emit sends an event to all subscribers of a run
func (h *EventHub) Emit(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
			// Full: progress events are skipped, a final event replaces the oldest
			if !event.Final() {
				continue
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close closes all subscriptions
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for runID, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, runID)
	}
}
