package api

import (
	"time"

	"github.com/ahrdadan/weavecheck/internal/browser"
	"github.com/gofiber/fiber/v2"
)

// Handler handles service-level API requests
type Handler struct {
	browserClient browser.Client
}

// NewHandler creates a new handler
func NewHandler(browserClient browser.Client) *Handler {
	return &Handler{
		browserClient: browserClient,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorHandler is the custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BrowserStatus returns browser status
func (h *Handler) BrowserStatus(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"running":  h.browserClient.IsRunning(),
			"endpoint": h.browserClient.GetEndpoint(),
		},
	})
}
