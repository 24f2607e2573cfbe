package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrdadan/weavecheck/internal/artifact"
	"github.com/ahrdadan/weavecheck/internal/browser"
	"github.com/ahrdadan/weavecheck/internal/config"
	"github.com/ahrdadan/weavecheck/internal/nats"
	"github.com/ahrdadan/weavecheck/internal/scenario"
	"github.com/google/uuid"
)

func main() {
	os.Exit(run())
}

// run executes the scenario once and returns the process exit code. Every
// deferred release happens before the code is returned.
func run() int {
	cfg := config.ParseFlags()
	config.HandleFlags(cfg)

	log.Printf("%s v%s: checking %s", config.AppName, config.Version, cfg.TargetURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.BrowserOptions(true)
	if cfg.BrowserURL == "" {
		bin, err := browser.ResolveChromeBin(ctx, cfg.ChromeBin, cfg.InstallChrome, cfg.ChromeRevision)
		if err != nil {
			log.Printf("Failed to resolve Chrome: %v", err)
			return 1
		}
		opts.BinPath = bin
	}

	chrome := browser.NewChromeManager(opts)
	defer func() {
		if err := chrome.Stop(); err != nil {
			log.Printf("Failed to stop Chrome: %v", err)
		}
	}()

	sc := scenario.Weave(cfg.TargetURL)
	writer := artifact.NewWriter(cfg.OutputDir)
	if err := writer.Clean(sc.Captures()); err != nil {
		log.Printf("Warning: failed to remove old screenshots: %v", err)
	}

	runID := uuid.New().String()
	runner := scenario.NewRunner(chrome, writer, sc).WithObserver(logEvent)

	if cfg.NatsURL != "" {
		publisher, err := nats.Connect(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			log.Printf("Warning: run events will not be published: %v", err)
		} else {
			defer func() { _ = publisher.Close() }()
			runner.WithObserver(func(e scenario.Event) {
				logEvent(e)
				if err := publisher.PublishJSON(e.RunID, e); err != nil {
					log.Printf("Warning: failed to publish event: %v", err)
				}
			})
		}
	}

	result, err := runner.Run(ctx, runID)
	if err != nil {
		log.Printf("Scenario failed (%s): %v", scenario.Kind(err), err)
		return 1
	}

	if cfg.Verify {
		report := artifact.Verify(result.Paths())
		for _, f := range report.Files {
			log.Printf("  %s %dx%d %d bytes sha256=%s", f.Path, f.Width, f.Height, f.Size, f.SHA256[:12])
		}
		if err := report.Err(); err != nil {
			log.Printf("Artifact verification failed: %v", err)
			return 1
		}
	}

	for _, p := range result.Paths() {
		log.Printf("Saved %s", p)
	}
	return 0
}

func logEvent(e scenario.Event) {
	switch e.Phase {
	case scenario.PhaseStarted:
		log.Printf("[%d/%d] %s", e.Index, e.Total, e.Step.Name)
	case scenario.PhaseFailed:
		log.Printf("[%d/%d] %s failed: %s", e.Index, e.Total, e.Step.Name, e.Error)
	}
}
