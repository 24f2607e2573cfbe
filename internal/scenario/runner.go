package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Phase marks where a step is in its lifecycle
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Event is emitted by the runner around every step
type Event struct {
	RunID  string `json:"run_id"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Step   Step   `json:"step"`
	Phase  Phase  `json:"phase"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
	UnixMS int64  `json:"unix_ms"`
}

// Observer receives step events. It is called synchronously from the run.
type Observer func(Event)

// Artifact is a screenshot written by a capture step
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int    `json:"size"`
}

// Result describes a completed run
type Result struct {
	RunID      string     `json:"run_id"`
	Scenario   string     `json:"scenario"`
	Artifacts  []Artifact `json:"artifacts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Paths returns the artifact paths in capture order
func (r *Result) Paths() []string {
	paths := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		paths = append(paths, a.Path)
	}
	return paths
}

// Runner executes a scenario against sessions opened from a driver
type Runner struct {
	driver   Driver
	sink     Sink
	scenario Scenario
	observer Observer
}

// NewRunner creates a runner for sc
func NewRunner(driver Driver, sink Sink, sc Scenario) *Runner {
	return &Runner{
		driver:   driver,
		sink:     sink,
		scenario: sc,
	}
}

// WithObserver sets the step observer
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// Scenario returns the scenario the runner executes
func (r *Runner) Scenario() Scenario {
	return r.scenario
}

// Run opens one session and executes every step in order. The first failing
// step aborts the run; the session is released on every path.
func (r *Runner) Run(ctx context.Context, runID string) (*Result, error) {
	if err := Validate(r.scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	result := &Result{
		RunID:     runID,
		Scenario:  r.scenario.Name,
		StartedAt: time.Now(),
	}

	session, err := r.driver.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Warning: failed to release browser session: %v", err)
		}
	}()

	total := len(r.scenario.Steps)
	for i, step := range r.scenario.Steps {
		r.emit(Event{RunID: runID, Index: i + 1, Total: total, Step: step, Phase: PhaseStarted})

		artifact, err := r.exec(ctx, session, step)
		if err != nil {
			r.emit(Event{
				RunID: runID,
				Index: i + 1,
				Total: total,
				Step:  step,
				Phase: PhaseFailed,
				Error: err.Error(),
				Kind:  Kind(err),
			})
			result.FinishedAt = time.Now()
			return result, err
		}

		done := Event{RunID: runID, Index: i + 1, Total: total, Step: step, Phase: PhaseCompleted}
		if artifact != nil {
			result.Artifacts = append(result.Artifacts, *artifact)
			done.Path = artifact.Path
		}
		r.emit(done)
	}

	result.FinishedAt = time.Now()
	return result, nil
}

func (r *Runner) exec(ctx context.Context, session Session, step Step) (*Artifact, error) {
	switch step.Action {
	case ActionNavigate:
		if err := session.Navigate(ctx, step.Target); err != nil {
			return nil, &NavigationError{URL: step.Target, Err: err}
		}
		return nil, nil

	case ActionWaitVisible:
		if err := session.WaitVisible(ctx, step.Target); err != nil {
			return nil, selectorError(step, err)
		}
		return nil, nil

	case ActionClick:
		if err := session.Click(ctx, step.Target); err != nil {
			return nil, selectorError(step, err)
		}
		return nil, nil

	case ActionCapture:
		data, err := session.Screenshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s: failed to capture screenshot: %w", step.Name, err)
		}
		path, err := r.sink.Save(step.Target, data)
		if err != nil {
			return nil, &IOError{Name: step.Target, Err: err}
		}
		return &Artifact{Name: step.Target, Path: path, Size: len(data)}, nil
	}

	return nil, fmt.Errorf("step %s: unknown action %q", step.Name, step.Action)
}

func selectorError(step Step, err error) error {
	if errors.Is(err, ErrSelectorTimeout) {
		return &SelectorTimeoutError{Text: step.Target, Step: step.Name, Err: err}
	}
	return fmt.Errorf("step %s: %w", step.Name, err)
}

func (r *Runner) emit(e Event) {
	if r.observer == nil {
		return
	}
	e.UnixMS = time.Now().UnixMilli()
	r.observer(e)
}
