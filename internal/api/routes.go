package api

import (
	"time"

	"github.com/ahrdadan/weavecheck/internal/browser"
	"github.com/ahrdadan/weavecheck/internal/queue"
	"github.com/ahrdadan/weavecheck/internal/security"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	BaseURL       string // Base URL for full URLs in responses
	DefaultTarget string // Target used when a run request names none

	RunLimit       int           // Runs per client per RunWindow, 0 disables limiting
	RunWindow      time.Duration // Rate limit window
	IdempotencyTTL time.Duration // How long run creation responses are replayed
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, browserClient browser.Client, queueManager *queue.Manager, config RouteConfig) {
	handler := NewHandler(browserClient)
	runHandler := NewRunHandler(queueManager, config.DefaultTarget, config.BaseURL)

	// Health check (simple path)
	app.Get("/health", handler.HealthCheck)

	weave := app.Group("/weave")
	weave.Get("/browser/status", handler.BrowserStatus)

	runs := weave.Group("/runs")
	create := []fiber.Handler{security.ReplayRuns(security.NewReplayCache(config.IdempotencyTTL))}
	if config.RunLimit > 0 {
		create = append(create, security.LimitRuns(security.NewRunLimiter(config.RunLimit, config.RunWindow)))
	}
	runs.Post("", append(create, runHandler.CreateRun)...)
	runs.Get("", runHandler.ListRuns)
	runs.Get("/:run_id", runHandler.GetRun)
	runs.Get("/:run_id/events", runHandler.StreamEvents)
	runs.Get("/:run_id/artifacts/:name", runHandler.GetArtifact)

	// WebSocket endpoint for run events
	app.Use("/weave/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/weave/ws", websocket.New(runHandler.HandleWebSocket))
}
