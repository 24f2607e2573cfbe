package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrdadan/weavecheck/internal/api"
	"github.com/ahrdadan/weavecheck/internal/browser"
	"github.com/ahrdadan/weavecheck/internal/config"
	"github.com/ahrdadan/weavecheck/internal/nats"
	"github.com/ahrdadan/weavecheck/internal/queue"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Parse CLI flags
	cfg := config.ParseFlags()

	// Handle --version and --help
	config.HandleFlags(cfg)

	log.Printf("Starting %s v%s (run service)", config.AppName, config.Version)

	// Chrome setup
	opts := cfg.BrowserOptions(false)
	if cfg.BrowserURL == "" {
		chromeBin, err := browser.ResolveChromeBin(context.Background(), cfg.ChromeBin, cfg.InstallChrome, cfg.ChromeRevision)
		if err != nil {
			log.Fatalf("Failed to resolve Chrome: %v", err)
		}
		opts.BinPath = chromeBin
	}

	chromeManager := browser.NewChromeManager(opts)
	if err := chromeManager.Start(); err != nil {
		log.Fatalf("Failed to start Chrome: %v", err)
	}
	defer func() {
		if err := chromeManager.Stop(); err != nil {
			log.Printf("Failed to stop Chrome: %v", err)
		}
	}()

	// Run queue
	queueManager := queue.NewManager(queue.Config{
		QueueSize:  cfg.QueueSize,
		OutputRoot: cfg.OutputDir,
		ResultTTL:  cfg.ResultTTL,
	})

	if cfg.NatsURL != "" {
		publisher, err := nats.Connect(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			log.Printf("Warning: run events will not be published: %v", err)
		} else {
			defer func() { _ = publisher.Close() }()
			queueManager.WithPublisher(publisher)
		}
	}

	processor := queue.NewScenarioProcessor(chromeManager, cfg.Verify)
	if err := queueManager.Start(processor); err != nil {
		log.Fatalf("Failed to start run queue: %v", err)
	}
	defer queueManager.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      config.AppName,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	api.SetupRoutes(app, chromeManager, queueManager, api.RouteConfig{
		BaseURL:        cfg.BaseURL,
		DefaultTarget:  cfg.TargetURL,
		RunLimit:       cfg.RunLimit,
		RunWindow:      cfg.RunWindow,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting server on %s", addr)
	log.Printf("Chrome CDP endpoint: %s", chromeManager.GetEndpoint())
	if cfg.NatsURL != "" {
		log.Printf("NATS events on %s.<run_id>", cfg.NatsSubject)
	}

	if err := app.Listen(addr); err != nil {
		log.Printf("Failed to start server: %v", err)
	}
}
