package scenario

import "context"

// Driver acquires a browser session for a single run
type Driver interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one browser instance, one browsing context and one page.
// Every call blocks until the browser acknowledges the action.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, text string) error
	// Click returns once the click is dispatched and the resulting DOM update settled
	Click(ctx context.Context, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Sink stores a captured image under name and returns where it went
type Sink interface {
	Save(name string, data []byte) (string, error)
}
