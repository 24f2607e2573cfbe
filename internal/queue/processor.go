package queue

import (
	"context"
	"fmt"

	"github.com/ahrdadan/weavecheck/internal/artifact"
	"github.com/ahrdadan/weavecheck/internal/scenario"
)

// ScenarioProcessor runs the weave scenario for each queued run
type ScenarioProcessor struct {
	driver scenario.Driver
	verify bool
}

// NewScenarioProcessor creates a processor using driver for every run.
// With verify set, a run whose screenshots are empty, broken or identical fails.
func NewScenarioProcessor(driver scenario.Driver, verify bool) *ScenarioProcessor {
	return &ScenarioProcessor{
		driver: driver,
		verify: verify,
	}
}

// Process runs the scenario and writes artifacts to the run's output directory
func (p *ScenarioProcessor) Process(ctx context.Context, run *Run, observe scenario.Observer) (*scenario.Result, error) {
	if run.OutputDir == "" {
		return nil, fmt.Errorf("run %s has no output directory", run.ID)
	}

	writer := artifact.NewWriter(run.OutputDir)
	runner := scenario.NewRunner(p.driver, writer, scenario.Weave(run.TargetURL)).WithObserver(observe)

	result, err := runner.Run(ctx, run.ID)
	if err != nil {
		return result, err
	}

	if p.verify {
		if err := artifact.Verify(result.Paths()).Err(); err != nil {
			return result, err
		}
	}

	return result, nil
}
