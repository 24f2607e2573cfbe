package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahrdadan/weavecheck/internal/scenario"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// settleBudget caps how long a click may wait for the DOM to go quiet,
// as a multiple of Timeouts.Settle.
const settleBudget = 5

// Session is one incognito browsing context with a single page
type Session struct {
	manager   *ChromeManager
	incognito *rod.Browser
	page      *rod.Page
	timeouts  Timeouts

	closeOnce sync.Once
	closeErr  error
}

func newSession(m *ChromeManager, incognito *rod.Browser, page *rod.Page, timeouts Timeouts) *Session {
	return &Session{
		manager:   m,
		incognito: incognito,
		page:      page,
		timeouts:  timeouts,
	}
}

// Navigate loads url and waits for the load event
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := withTimeout(ctx, s.timeouts.Navigation)
	defer cancel()

	page := s.page.Context(navCtx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}

	return nil
}

// WaitVisible blocks until an element containing text is visible
func (s *Session) WaitVisible(ctx context.Context, text string) error {
	waitCtx, cancel := withTimeout(ctx, s.timeouts.Wait)
	defer cancel()

	_, err := s.visibleElement(waitCtx, text)
	return err
}

// Click clicks the element containing text, then waits for the DOM to settle
func (s *Session) Click(ctx context.Context, text string) error {
	waitCtx, cancel := withTimeout(ctx, s.timeouts.Wait)
	defer cancel()

	element, err := s.visibleElement(waitCtx, text)
	if err != nil {
		return err
	}

	if err := element.Click(proto.InputMouseButtonLeft, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return s.selectorError(text, err)
		}
		return fmt.Errorf("failed to click %q: %w", text, err)
	}

	s.settle(ctx)
	return nil
}

// Screenshot captures the current viewport as PNG
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	shotCtx, cancel := withTimeout(ctx, s.timeouts.Wait)
	defer cancel()

	data, err := s.page.Context(shotCtx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

// Close closes the page, disposes the browsing context and, for an
// ephemeral manager, stops the browser. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
		if err := s.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to dispose browsing context: %w", err))
		}
		if s.manager != nil && s.manager.opts.Ephemeral {
			if err := s.manager.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop chrome: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Session) visibleElement(ctx context.Context, text string) (*rod.Element, error) {
	element, err := s.page.Context(ctx).ElementX(TextXPath(text))
	if err != nil {
		return nil, s.selectorError(text, err)
	}

	if err := element.WaitVisible(); err != nil {
		return nil, s.selectorError(text, err)
	}

	return element, nil
}

func (s *Session) selectorError(text string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %q after %s", scenario.ErrSelectorTimeout, text, s.timeouts.Wait)
	}
	return fmt.Errorf("failed to find %q: %w", text, err)
}

func (s *Session) settle(ctx context.Context) {
	if s.timeouts.Settle <= 0 {
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.timeouts.Settle*settleBudget)
	defer cancel()

	if err := s.page.Context(settleCtx).WaitDOMStable(s.timeouts.Settle, 0); err != nil {
		log.Printf("Warning: page did not settle within %s: %v", s.timeouts.Settle*settleBudget, err)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
