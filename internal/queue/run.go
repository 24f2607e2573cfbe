package queue

import (
	"time"

	"github.com/ahrdadan/weavecheck/internal/scenario"
	"github.com/google/uuid"
)

// Default values for run configuration
const (
	DefaultResultTTL  = 24 * time.Hour
	DefaultRunTimeout = 5 * time.Minute
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRequest represents a run creation request
type RunRequest struct {
	TargetURL string `json:"target_url,omitempty"`
}

// Run represents a queued scenario run
type Run struct {
	ID          string              `json:"run_id"`
	Status      RunStatus           `json:"status"`
	TargetURL   string              `json:"target_url"`
	Progress    int                 `json:"progress"`
	Step        string              `json:"step,omitempty"`
	Message     string              `json:"message,omitempty"`
	OutputDir   string              `json:"-"`
	Artifacts   []scenario.Artifact `json:"artifacts,omitempty"`
	ErrorKind   string              `json:"error_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   int64               `json:"created_at"`
	UpdatedAt   int64               `json:"updated_at"`
	StartedAt   int64               `json:"started_at,omitempty"`
	CompletedAt int64               `json:"completed_at,omitempty"`
	ExpiresAt   int64               `json:"expires_at,omitempty"`
}

// NewRun creates a queued run against targetURL
func NewRun(targetURL string, resultTTL time.Duration) *Run {
	now := time.Now()
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}

	return &Run{
		ID:        generateRunID(),
		Status:    RunStatusQueued,
		TargetURL: targetURL,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
		ExpiresAt: now.Add(resultTTL).Unix(),
	}
}

// SetStatus updates the run status
func (r *Run) SetStatus(status RunStatus) {
	r.Status = status
	r.UpdatedAt = time.Now().Unix()

	if status == RunStatusRunning && r.StartedAt == 0 {
		r.StartedAt = time.Now().Unix()
	}

	if r.IsFinished() {
		r.CompletedAt = time.Now().Unix()
	}
}

// SetProgress records the step the run is on
func (r *Run) SetProgress(index, total int, step, message string) {
	if total > 0 {
		r.Progress = (index * 100) / total
	}
	r.Step = step
	r.Message = message
	r.UpdatedAt = time.Now().Unix()
}

// SetResult marks the run succeeded with its artifacts
func (r *Run) SetResult(result *scenario.Result) {
	if result != nil {
		r.Artifacts = result.Artifacts
	}
	r.Progress = 100
	r.Message = "Run completed"
	r.SetStatus(RunStatusSucceeded)
}

// SetError marks the run failed
func (r *Run) SetError(err error) {
	r.Error = err.Error()
	r.ErrorKind = scenario.Kind(err)
	r.Message = "Run failed"
	r.SetStatus(RunStatusFailed)
}

// IsFinished reports whether the run reached a terminal status
func (r *Run) IsFinished() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}

// IsExpired checks if the run result has expired
func (r *Run) IsExpired() bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > r.ExpiresAt
}

// Artifact returns the artifact called name
func (r *Run) Artifact(name string) (scenario.Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return scenario.Artifact{}, false
}

func (r *Run) clone() *Run {
	c := *r
	c.Artifacts = append([]scenario.Artifact(nil), r.Artifacts...)
	return &c
}

// RunCreatedResponse represents the response when a run is created
type RunCreatedResponse struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	StatusURL string    `json:"status_url"`
	Events    struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

func generateRunID() string {
	return "run_" + uuid.New().String()[:8]
}
