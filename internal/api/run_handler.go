package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ahrdadan/weavecheck/internal/queue"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RunHandler handles run-related API requests
type RunHandler struct {
	queueManager  *queue.Manager
	defaultTarget string
	baseURL       string
}

// NewRunHandler creates a new run handler
func NewRunHandler(qm *queue.Manager, defaultTarget, baseURL string) *RunHandler {
	return &RunHandler{
		queueManager:  qm,
		defaultTarget: defaultTarget,
		baseURL:       baseURL,
	}
}

// CreateRun queues a scenario run
// POST /weave/runs
func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req queue.RunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	if req.TargetURL == "" {
		req.TargetURL = h.defaultTarget
	}

	u, err := url.Parse(req.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fiber.NewError(fiber.StatusBadRequest, "target_url must be an http(s) URL")
	}

	run, err := h.queueManager.Enqueue(req.TargetURL)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to enqueue run: %v", err))
	}

	response := queue.RunCreatedResponse{
		RunID:     run.ID,
		Status:    run.Status,
		StatusURL: fmt.Sprintf("%s/weave/runs/%s", h.baseURL, run.ID),
	}
	response.Events.SSEURL = fmt.Sprintf("%s/weave/runs/%s/events", h.baseURL, run.ID)
	response.Events.WSURL = fmt.Sprintf("%s/weave/ws?run_id=%s", wsBase(h.baseURL), run.ID)

	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Data:    response,
	})
}

// ListRuns returns all known runs
// GET /weave/runs
func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"runs":    h.queueManager.ListRuns(),
			"pending": h.queueManager.Pending(),
		},
	})
}

// GetRun returns the status of a run
// GET /weave/runs/:run_id
func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.queueManager.GetRun(c.Params("run_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	response := map[string]interface{}{
		"run":        run,
		"expires_at": time.Unix(run.ExpiresAt, 0).UTC().Format(time.RFC3339),
	}

	if run.Status == queue.RunStatusSucceeded {
		links := make(map[string]string, len(run.Artifacts))
		for _, a := range run.Artifacts {
			links[a.Name] = fmt.Sprintf("%s/weave/runs/%s/artifacts/%s", h.baseURL, run.ID, a.Name)
		}
		response["artifact_urls"] = links
	}

	return c.JSON(Response{
		Success: true,
		Data:    response,
	})
}

// GetArtifact returns a screenshot of a succeeded run
// GET /weave/runs/:run_id/artifacts/:name
func (h *RunHandler) GetArtifact(c *fiber.Ctx) error {
	run, err := h.queueManager.GetRun(c.Params("run_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	if run.Status != queue.RunStatusSucceeded {
		return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("Run is %s", run.Status))
	}

	a, ok := run.Artifact(c.Params("name"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Artifact not found")
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return fiber.NewError(fiber.StatusGone, "Artifact no longer available")
	}

	c.Type("png")
	return c.Send(data)
}

// StreamEvents streams run events via SSE
// GET /weave/runs/:run_id/events
func (h *RunHandler) StreamEvents(c *fiber.Ctx) error {
	runID := c.Params("run_id")

	events, run, err := h.queueManager.SubscribeWithSnapshot(runID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.queueManager.Unsubscribe(runID, events)

		if err := writeSSE(w, snapshotEvent(run)); err != nil || run.IsFinished() {
			return
		}

		for event := range events {
			if err := writeSSE(w, event); err != nil {
				return
			}
			if event.Final() {
				return
			}
		}
	})

	return nil
}

// HandleWebSocket handles WebSocket connections for run events
func (h *RunHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	runID := c.Query("run_id")
	if runID == "" {
		_ = c.WriteJSON(map[string]interface{}{
			"error": "run_id is required",
		})
		return
	}

	events, run, err := h.queueManager.SubscribeWithSnapshot(runID)
	if err != nil {
		_ = c.WriteJSON(map[string]interface{}{
			"error": "run not found",
		})
		return
	}
	defer h.queueManager.Unsubscribe(runID, events)

	if err := c.WriteJSON(snapshotEvent(run)); err != nil || run.IsFinished() {
		return
	}

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}

		if event.Final() {
			time.Sleep(100 * time.Millisecond)
			return
		}
	}
}

func snapshotEvent(run *queue.Run) queue.Event {
	return queue.Event{
		RunID:     run.ID,
		Status:    run.Status,
		Progress:  run.Progress,
		Step:      run.Step,
		Message:   run.Message,
		ErrorKind: run.ErrorKind,
	}
}

func writeSSE(w *bufio.Writer, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func wsBase(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
