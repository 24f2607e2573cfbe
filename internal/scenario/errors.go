package scenario

import (
	"errors"
	"fmt"
)

// ErrSelectorTimeout is wrapped by drivers when an element never becomes visible
var ErrSelectorTimeout = errors.New("selector wait timed out")

// NavigationError reports that the target could not be loaded
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// SelectorTimeoutError reports that an element with the given text did not
// appear within the wait window.
type SelectorTimeoutError struct {
	Text string
	Step string
	Err  error
}

func (e *SelectorTimeoutError) Error() string {
	return fmt.Sprintf("step %s: element %q not visible: %v", e.Step, e.Text, e.Err)
}

func (e *SelectorTimeoutError) Unwrap() error { return e.Err }

// IOError reports a screenshot that could not be written
type IOError struct {
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to write screenshot %s: %v", e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Kind returns a stable label for err suitable for logs and API responses.
func Kind(err error) string {
	var navErr *NavigationError
	var selErr *SelectorTimeoutError
	var ioErr *IOError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &navErr):
		return "navigation"
	case errors.As(err, &selErr):
		return "selector_timeout"
	case errors.As(err, &ioErr):
		return "io"
	default:
		return "internal"
	}
}
