package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ahrdadan/weavecheck/internal/scenario"
)

// ErrQueueFull is returned by Enqueue when no more runs can be accepted
var ErrQueueFull = errors.New("run queue is full")

// Publisher forwards run events outside the process
type Publisher interface {
	Publish(event Event) error
}

// Processor executes a single run
type Processor interface {
	Process(ctx context.Context, run *Run, observe scenario.Observer) (*scenario.Result, error)
}

// Config holds queue settings
type Config struct {
	QueueSize    int
	OutputRoot   string
	ResultTTL    time.Duration
	RunTimeout   time.Duration
	CleanupEvery time.Duration
}

// Manager runs scenarios one at a time in submission order
type Manager struct {
	cfg       Config
	store     *Store
	events    *EventHub
	publisher Publisher
	pending   chan string
	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a new queue manager
func NewManager(cfg Config) *Manager {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:     cfg,
		store:   NewStore(cfg.CleanupEvery, removeOutput),
		events:  NewEventHub(),
		pending: make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func removeOutput(run *Run) {
	if run.OutputDir == "" {
		return
	}
	if err := os.RemoveAll(run.OutputDir); err != nil {
		log.Printf("Warning: failed to remove artifacts for %s: %v", run.ID, err)
	}
}

// WithPublisher forwards every event to p as well as local subscribers
func (m *Manager) WithPublisher(p Publisher) *Manager {
	m.publisher = p
	return m
}

// Start starts the single worker
func (m *Manager) Start(processor Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return nil
	}
	if m.ctx.Err() != nil {
		return fmt.Errorf("queue manager already stopped")
	}
	m.isRunning = true

	log.Println("Starting run queue worker...")

	go func() {
		defer close(m.done)
		for {
			select {
			case <-m.ctx.Done():
				return
			case runID := <-m.pending:
				m.process(runID, processor)
			}
		}
	}()

	return nil
}

// Stop stops the worker, fails runs still waiting and closes subscriptions
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}

	m.cancel()
	if m.isRunning {
		<-m.done
		m.isRunning = false
	}

drain:
	for {
		select {
		case runID := <-m.pending:
			if run, err := m.store.Mutate(runID, func(r *Run) {
				r.SetError(errors.New("service stopped before the run started"))
			}); err == nil {
				m.emit(eventFor(run))
			}
		default:
			break drain
		}
	}

	m.events.Close()
	m.store.Stop()
	log.Println("Run queue worker stopped")
}

// Enqueue queues a run against targetURL
func (m *Manager) Enqueue(targetURL string) (*Run, error) {
	// Held across the send so Stop cannot drain between check and send
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("queue manager stopped")
	}

	run := NewRun(targetURL, m.cfg.ResultTTL)
	if m.cfg.OutputRoot != "" {
		run.OutputDir = filepath.Join(m.cfg.OutputRoot, run.ID)
	}
	run.Message = "Run queued"
	m.store.Save(run)

	select {
	case m.pending <- run.ID:
	default:
		m.store.Delete(run.ID)
		return nil, ErrQueueFull
	}

	m.emit(eventFor(run))
	return run.clone(), nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(runID string) (*Run, error) {
	return m.store.Get(runID)
}

// ListRuns returns every known run, newest first
func (m *Manager) ListRuns() []*Run {
	return m.store.List()
}

// Pending returns the number of runs waiting for the worker
func (m *Manager) Pending() int {
	return len(m.pending)
}

// Subscribe subscribes to run events
func (m *Manager) Subscribe(runID string) <-chan Event {
	return m.events.Subscribe(runID)
}

// SubscribeWithSnapshot subscribes to a run and then reads its current
// state. Every transition after the snapshot reaches the channel, so a
// caller streaming until a final event never misses it. If the run is
// unknown the subscription is dropped.
func (m *Manager) SubscribeWithSnapshot(runID string) (<-chan Event, *Run, error) {
	events := m.events.Subscribe(runID)

	run, err := m.store.Get(runID)
	if err != nil {
		m.events.Unsubscribe(runID, events)
		return nil, nil, err
	}
	return events, run, nil
}

// Subscribers returns the number of live event subscriptions for a run
func (m *Manager) Subscribers(runID string) int {
	return m.events.Subscribers(runID)
}

// Unsubscribe unsubscribes from run events
func (m *Manager) Unsubscribe(runID string, ch <-chan Event) {
	m.events.Unsubscribe(runID, ch)
}

func (m *Manager) process(runID string, processor Processor) {
	run, err := m.store.Mutate(runID, func(r *Run) {
		r.SetStatus(RunStatusRunning)
		r.Message = "Run started"
	})
	if err != nil {
		log.Printf("Failed to start run: %v", err)
		return
	}
	m.emit(eventFor(run))

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RunTimeout)
	defer cancel()

	result, procErr := processor.Process(ctx, run, func(e scenario.Event) {
		m.observe(runID, e)
	})

	if procErr != nil {
		log.Printf("Run %s failed (%s): %v", runID, scenario.Kind(procErr), procErr)
		run, err = m.store.Mutate(runID, func(r *Run) { r.SetError(procErr) })
	} else {
		log.Printf("Run %s succeeded with %d artifacts", runID, len(result.Artifacts))
		run, err = m.store.Mutate(runID, func(r *Run) { r.SetResult(result) })
	}
	if err != nil {
		log.Printf("Failed to record run result: %v", err)
		return
	}

	m.emit(eventFor(run))
}

func (m *Manager) observe(runID string, e scenario.Event) {
	run, err := m.store.Mutate(runID, func(r *Run) {
		switch e.Phase {
		case scenario.PhaseStarted:
			r.SetProgress(e.Index-1, e.Total, e.Step.Name, fmt.Sprintf("[Step %d/%d] %s %s", e.Index, e.Total, e.Step.Action, e.Step.Target))
		case scenario.PhaseCompleted:
			r.SetProgress(e.Index, e.Total, e.Step.Name, fmt.Sprintf("[Step %d/%d] %s done", e.Index, e.Total, e.Step.Name))
		case scenario.PhaseFailed:
			r.Message = e.Error
		}
	})
	if err != nil {
		return
	}

	event := eventFor(run)
	event.Phase = string(e.Phase)
	event.Path = e.Path
	event.ErrorKind = e.Kind
	m.emit(event)
}

func (m *Manager) emit(event Event) {
	m.events.Emit(event)

	if m.publisher != nil {
		if err := m.publisher.Publish(event); err != nil {
			log.Printf("Warning: failed to publish event for %s: %v", event.RunID, err)
		}
	}
}

func eventFor(run *Run) Event {
	return Event{
		RunID:     run.ID,
		Status:    run.Status,
		Progress:  run.Progress,
		Step:      run.Step,
		Message:   run.Message,
		ErrorKind: run.ErrorKind,
	}
}
