package scenario

import (
	"errors"
	"fmt"
)

// Action identifies what a step does against the page
type Action string

const (
	ActionNavigate    Action = "navigate"
	ActionWaitVisible Action = "wait_visible"
	ActionClick       Action = "click"
	ActionCapture     Action = "capture"
)

// Fixed contract with the loom application under test
const (
	DefaultTargetURL = "http://localhost:5173"
	DefaultOutputDir = "jules-scratch/verification"

	ReadyText   = "BEGIN WEAVING"
	InspectText = "INSPECT PATTERN"
	UnravelText = "UNRAVEL"

	InspectShot = "01-inspect.png"
	UnravelShot = "02-unravel.png"
	ZoomOutShot = "03-zoom-out.png"
)

// Step is a single ordered interaction. Target holds a URL for navigate,
// the visible text for wait_visible and click, and the artifact name for capture.
type Step struct {
	Name   string `json:"name"`
	Action Action `json:"action"`
	Target string `json:"target"`
}

// Scenario is a straight-line sequence of steps run against one page
type Scenario struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Weave returns the loom verification scenario against targetURL.
func Weave(targetURL string) Scenario {
	if targetURL == "" {
		targetURL = DefaultTargetURL
	}

	return Scenario{
		Name: "weave",
		Steps: []Step{
			{Name: "open", Action: ActionNavigate, Target: targetURL},
			{Name: "ready", Action: ActionWaitVisible, Target: ReadyText},
			{Name: "inspect", Action: ActionClick, Target: InspectText},
			{Name: "capture-inspect", Action: ActionCapture, Target: InspectShot},
			{Name: "unravel", Action: ActionClick, Target: UnravelText},
			{Name: "capture-unravel", Action: ActionCapture, Target: UnravelShot},
			{Name: "zoom-out", Action: ActionClick, Target: InspectText},
			{Name: "capture-zoom-out", Action: ActionCapture, Target: ZoomOutShot},
		},
	}
}

// Captures returns the artifact names in the order they are produced
func (s Scenario) Captures() []string {
	var names []string
	for _, step := range s.Steps {
		if step.Action == ActionCapture {
			names = append(names, step.Target)
		}
	}
	return names
}

// Validate checks the scenario is runnable: it starts with a navigation,
// every step has a target, and no two captures share a file name.
func Validate(s Scenario) error {
	if len(s.Steps) == 0 {
		return errors.New("scenario has no steps")
	}

	if s.Steps[0].Action != ActionNavigate {
		return fmt.Errorf("scenario must start with %s, got %s", ActionNavigate, s.Steps[0].Action)
	}

	seen := make(map[string]bool)
	for i, step := range s.Steps {
		switch step.Action {
		case ActionNavigate, ActionWaitVisible, ActionClick, ActionCapture:
		default:
			return fmt.Errorf("step %d (%s): unknown action %q", i+1, step.Name, step.Action)
		}

		if step.Target == "" {
			return fmt.Errorf("step %d (%s): target is required", i+1, step.Name)
		}

		if step.Action == ActionCapture {
			if seen[step.Target] {
				return fmt.Errorf("step %d (%s): duplicate capture %q", i+1, step.Name, step.Target)
			}
			seen[step.Target] = true
		}
	}

	return nil
}
