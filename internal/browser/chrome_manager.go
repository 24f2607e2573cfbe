package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ahrdadan/weavecheck/internal/scenario"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Timeouts bounds every blocking browser call
type Timeouts struct {
	Navigation time.Duration
	Wait       time.Duration
	Settle     time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation: 30 * time.Second,
		Wait:       30 * time.Second,
		Settle:     time.Second,
	}
}

// Options configures how Chrome is obtained and how pages are created
type Options struct {
	BinPath   string
	RemoteURL string // connect to an existing DevTools endpoint instead of launching
	Headless  bool
	Trace     bool
	Ephemeral bool // stop the browser when its session closes
	Width     int
	Height    int
	Timeouts  Timeouts
}

// DefaultOptions returns options for a headless, per-run browser
func DefaultOptions() Options {
	return Options{
		Headless:  true,
		Ephemeral: true,
		Width:     1280,
		Height:    720,
		Timeouts:  DefaultTimeouts(),
	}
}

// ChromeManager manages a Chromium/Chrome instance driven by rod.
type ChromeManager struct {
	opts      Options
	mu        sync.Mutex
	restartMu sync.Mutex
	launcher  *launcher.Launcher
	browser   *rod.Browser
	wsURL     string
	running   bool
}

// NewChromeManager creates a new Chrome manager.
func NewChromeManager(opts Options) *ChromeManager {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	return &ChromeManager{
		opts: opts,
	}
}

// Start launches Chrome (or resolves the remote endpoint) and connects via CDP.
func (m *ChromeManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	wsURL, l, err := m.controlURL()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(wsURL).Trace(m.opts.Trace)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	m.launcher = l
	m.browser = browser
	m.wsURL = wsURL
	m.running = true

	log.Printf("Chrome started with endpoint %s", wsURL)
	return nil
}

func (m *ChromeManager) controlURL() (string, *launcher.Launcher, error) {
	if m.opts.RemoteURL != "" {
		wsURL, err := launcher.ResolveURL(m.opts.RemoteURL)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve remote chrome %s: %w", m.opts.RemoteURL, err)
		}
		return wsURL, nil, nil
	}

	l := launcher.New().Headless(m.opts.Headless).Leakless(true)
	if m.opts.BinPath != "" {
		l = l.Bin(m.opts.BinPath)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("failed to launch chrome: %w", err)
	}
	return wsURL, l, nil
}

// Stop closes the browser and kills the launched process. A remote browser
// is left running.
func (m *ChromeManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.browser != nil && m.launcher != nil {
		if err := m.browser.Close(); err != nil {
			log.Printf("Warning: failed to close chrome: %v", err)
		}
	}

	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
	}

	m.launcher = nil
	m.browser = nil
	m.wsURL = ""
	m.running = false

	log.Println("Chrome stopped")
	return nil
}

// IsRunning reports whether Chrome is running.
func (m *ChromeManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetEndpoint returns the Chrome DevTools endpoint.
func (m *ChromeManager) GetEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wsURL
}

// Open starts Chrome if needed and returns a session holding a fresh
// incognito browsing context with a single page.
func (m *ChromeManager) Open(ctx context.Context) (scenario.Session, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	incognito, err := m.currentBrowser().Context(ctx).Incognito()
	if err != nil {
		if !isConnectionError(err) {
			m.stopEphemeral()
			return nil, fmt.Errorf("failed to create browsing context: %w", err)
		}

		if restartErr := m.restartBrowser(); restartErr != nil {
			return nil, fmt.Errorf("failed to restart chrome after connection error: %w", restartErr)
		}

		incognito, err = m.currentBrowser().Context(ctx).Incognito()
		if err != nil {
			m.stopEphemeral()
			return nil, fmt.Errorf("failed to create browsing context: %w", err)
		}
	}
	incognito = incognito.Context(context.Background())

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		m.stopEphemeral()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.opts.Width,
		Height:            m.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = page.Close()
		_ = incognito.Close()
		m.stopEphemeral()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return newSession(m, incognito, page, m.opts.Timeouts), nil
}

func (m *ChromeManager) currentBrowser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

func (m *ChromeManager) stopEphemeral() {
	if !m.opts.Ephemeral {
		return
	}
	if err := m.Stop(); err != nil {
		log.Printf("Warning: failed to stop chrome: %v", err)
	}
}

func (m *ChromeManager) ensureStarted() error {
	if m.IsRunning() {
		return nil
	}

	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if m.IsRunning() {
		return nil
	}

	return m.Start()
}

func (m *ChromeManager) restartBrowser() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		log.Printf("Warning: failed to stop chrome before restart: %v", err)
	}

	return m.Start()
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "eof")
}
