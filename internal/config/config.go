package config

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/ahrdadan/weavecheck/internal/browser"
	"github.com/ahrdadan/weavecheck/internal/scenario"
)

const (
	// Version is the current version of weavecheck
	Version = "1"
	// AppName is the application name
	AppName = "weavecheck"
)

// Config holds all configuration options for weavecheck
type Config struct {
	// Scenario
	TargetURL string
	OutputDir string
	Verify    bool

	// Browser
	ChromeBin      string
	ChromeRevision int
	InstallChrome  bool
	BrowserURL     string // existing DevTools endpoint
	Headless       bool
	Trace          bool

	// Timeouts
	NavTimeout    time.Duration
	WaitTimeout   time.Duration
	SettleTimeout time.Duration

	// Server
	Host      string
	Port      int
	BaseURL   string
	QueueSize int
	ResultTTL time.Duration

	// Run creation limits
	RunLimit       int
	RunWindow      time.Duration
	IdempotencyTTL time.Duration

	// Events
	NatsURL     string
	NatsSubject string

	// Flags
	ShowVersion bool
	ShowHelp    bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	timeouts := browser.DefaultTimeouts()
	return &Config{
		TargetURL:      scenario.DefaultTargetURL,
		OutputDir:      scenario.DefaultOutputDir,
		Verify:         false,
		ChromeBin:      "",
		ChromeRevision: 0,
		InstallChrome:  false,
		BrowserURL:     "",
		Headless:       true,
		Trace:          false,
		NavTimeout:     timeouts.Navigation,
		WaitTimeout:    timeouts.Wait,
		SettleTimeout:  timeouts.Settle,
		Host:           "127.0.0.1",
		Port:           8000,
		BaseURL:        "", // Will be auto-generated if empty
		QueueSize:      8,
		ResultTTL:      24 * time.Hour,
		RunLimit:       30,
		RunWindow:      time.Minute,
		IdempotencyTTL: time.Hour,
		NatsURL:        "",
		NatsSubject:    "weavecheck.runs",
	}
}

// ParseFlags parses command line flags and returns the config
func ParseFlags() *Config {
	cfg, err := ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// ParseArgs parses args into a config, writing usage errors to output
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.SetOutput(output)

	// Scenario flags
	fs.StringVar(&cfg.TargetURL, "target-url", cfg.TargetURL, "Address of the loom application under test")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for screenshot artifacts")
	fs.BoolVar(&cfg.Verify, "verify", cfg.Verify, "Check artifacts are valid, non-empty and distinct after the run")

	// Browser flags
	fs.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "Path to a Chrome/Chromium binary")
	fs.IntVar(&cfg.ChromeRevision, "chrome-revision", cfg.ChromeRevision, "Chromium revision to download (0 uses default)")
	fs.BoolVar(&cfg.InstallChrome, "install-chrome", cfg.InstallChrome, "Download Chromium when no browser is found")
	fs.StringVar(&cfg.BrowserURL, "browser-url", cfg.BrowserURL, "Connect to an existing DevTools endpoint instead of launching Chrome")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run Chrome headless")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "Log browser input actions")

	// Timeout flags
	fs.DurationVar(&cfg.NavTimeout, "nav-timeout", cfg.NavTimeout, "Navigation timeout")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "Element visibility timeout")
	fs.DurationVar(&cfg.SettleTimeout, "settle-timeout", cfg.SettleTimeout, "Quiet period after each click before capturing")

	// Server flags
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for API responses (e.g., http://localhost:8000)")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Maximum number of queued runs")
	fs.DurationVar(&cfg.ResultTTL, "result-ttl", cfg.ResultTTL, "How long finished runs are kept")
	fs.IntVar(&cfg.RunLimit, "run-limit", cfg.RunLimit, "Runs a client may create per --run-window (0 disables)")
	fs.DurationVar(&cfg.RunWindow, "run-window", cfg.RunWindow, "Window for --run-limit")
	fs.DurationVar(&cfg.IdempotencyTTL, "idempotency-ttl", cfg.IdempotencyTTL, "How long X-Idempotency-Key responses are replayed")

	// Event flags
	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "Publish run events to this NATS server (disabled if empty)")
	fs.StringVar(&cfg.NatsSubject, "nats-subject", cfg.NatsSubject, "Subject prefix for run events")

	// Other flags
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", cfg.ShowHelp, "Show help message")

	fs.Usage = func() {
		PrintHelp(output)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Auto-generate BaseURL if not provided
	if cfg.BaseURL == "" {
		host := cfg.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		cfg.BaseURL = fmt.Sprintf("http://%s:%d", host, cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that flag parsing cannot
func (c *Config) Validate() error {
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid --target-url %q", c.TargetURL)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("--output-dir is required")
	}
	if c.NavTimeout <= 0 || c.WaitTimeout <= 0 {
		return fmt.Errorf("--nav-timeout and --wait-timeout must be positive")
	}
	if c.SettleTimeout < 0 {
		return fmt.Errorf("--settle-timeout must not be negative")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid --port %d", c.Port)
	}
	if c.RunLimit < 0 {
		return fmt.Errorf("--run-limit must not be negative")
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	return nil
}

// BrowserOptions maps the config onto Chrome manager options. An ephemeral
// browser is stopped when its session closes, which suits a single CLI run;
// the run service keeps one browser for its lifetime.
func (c *Config) BrowserOptions(ephemeral bool) browser.Options {
	opts := browser.DefaultOptions()
	opts.Ephemeral = ephemeral
	opts.BinPath = c.ChromeBin
	opts.RemoteURL = c.BrowserURL
	opts.Headless = c.Headless
	opts.Trace = c.Trace
	opts.Timeouts = browser.Timeouts{
		Navigation: c.NavTimeout,
		Wait:       c.WaitTimeout,
		Settle:     c.SettleTimeout,
	}
	return opts
}

// PrintVersion prints version information
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", AppName, Version)
}

// PrintHelp prints help information
func PrintHelp(w io.Writer) {
	d := DefaultConfig()
	fmt.Fprintf(w, `%s v%s (loom UI screenshot scenario)

Usage:
  ./weavecheck [flags]
  ./server [flags]

Scenario:
  --target-url      %s
  --output-dir      %s
  --verify          %v

Browser:
  --chrome-bin      (system Chrome if empty)
  --chrome-revision %d
  --install-chrome  %v
  --browser-url     (launch locally if empty)
  --headless        %v
  --trace           %v

Timeouts:
  --nav-timeout     %s
  --wait-timeout    %s
  --settle-timeout  %s

Server:
  --host            %s
  --port            %d
  --base-url        (auto-generated if empty)
  --queue-size      %d
  --result-ttl      %s
  --run-limit       %d
  --run-window      %s
  --idempotency-ttl %s

Events (NATS):
  --nats-url        (disabled if empty)
  --nats-subject    %s

Other:
  --version         show version
  --help            show this help

`, AppName, Version,
		d.TargetURL, d.OutputDir, d.Verify,
		d.ChromeRevision, d.InstallChrome, d.Headless, d.Trace,
		d.NavTimeout, d.WaitTimeout, d.SettleTimeout,
		d.Host, d.Port, d.QueueSize, d.ResultTTL,
		d.RunLimit, d.RunWindow, d.IdempotencyTTL,
		d.NatsSubject)
}

// HandleFlags handles version and help flags, exits if needed
func HandleFlags(cfg *Config) {
	if cfg.ShowVersion {
		PrintVersion(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowHelp {
		PrintHelp(os.Stdout)
		os.Exit(0)
	}
}
