package browser

import (
	"context"

	"github.com/ahrdadan/weavecheck/internal/scenario"
)

// Client defines the browser operations used by the run service.
type Client interface {
	IsRunning() bool
	GetEndpoint() string
	Open(ctx context.Context) (scenario.Session, error)
	Stop() error
}

var _ Client = (*ChromeManager)(nil)
