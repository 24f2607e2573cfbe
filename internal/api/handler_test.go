package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahrdadan/weavecheck/internal/api"
	"github.com/ahrdadan/weavecheck/internal/queue"
	"github.com/ahrdadan/weavecheck/internal/scenario"
	"github.com/gofiber/fiber/v2"
)

// mockBrowser satisfies browser.Client without a real Chrome
type mockBrowser struct{}

func (b *mockBrowser) IsRunning() bool     { return true }
func (b *mockBrowser) GetEndpoint() string { return "ws://127.0.0.1:9222/devtools/browser/test" }
func (b *mockBrowser) Stop() error         { return nil }
func (b *mockBrowser) Open(ctx context.Context) (scenario.Session, error) {
	return nil, errors.New("not implemented")
}

// fileProcessor writes one fake screenshot per run
type fileProcessor struct{}

func (p *fileProcessor) Process(ctx context.Context, run *queue.Run, observe scenario.Observer) (*scenario.Result, error) {
	if err := os.MkdirAll(run.OutputDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(run.OutputDir, scenario.InspectShot)
	if err := os.WriteFile(path, []byte("\x89PNG fake"), 0644); err != nil {
		return nil, err
	}
	return &scenario.Result{
		RunID:     run.ID,
		Artifacts: []scenario.Artifact{{Name: scenario.InspectShot, Path: path, Size: 9}},
	}, nil
}

func setupTestApp(t *testing.T, start bool, queueSize int) (*fiber.App, *queue.Manager) {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})

	manager := queue.NewManager(queue.Config{QueueSize: queueSize, OutputRoot: t.TempDir()})
	if start {
		if err := manager.Start(&fileProcessor{}); err != nil {
			t.Fatalf("Failed to start manager: %v", err)
		}
	}
	t.Cleanup(manager.Stop)

	api.SetupRoutes(app, &mockBrowser{}, manager, api.RouteConfig{
		BaseURL:       "http://localhost:8000",
		DefaultTarget: scenario.DefaultTargetURL,
	})

	return app, manager
}

func decode(t *testing.T, body io.Reader) api.Response {
	t.Helper()
	data, _ := io.ReadAll(body)
	var response api.Response
	if err := json.Unmarshal(data, &response); err != nil {
		t.Fatalf("Failed to parse response %q: %v", data, err)
	}
	return response
}

func createRun(t *testing.T, app *fiber.App, body string) (int, api.Response) {
	t.Helper()
	req := httptest.NewRequest("POST", "/weave/runs", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	return resp.StatusCode, decode(t, resp.Body)
}

func waitSucceeded(t *testing.T, manager *queue.Manager, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := manager.GetRun(runID)
		if err == nil && run.IsFinished() {
			if run.Status != queue.RunStatusSucceeded {
				t.Fatalf("Expected run to succeed, got %s: %s", run.Status, run.Error)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Run %s did not finish", runID)
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t, false, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !decode(t, resp.Body).Success {
		t.Errorf("Expected success to be true")
	}
}

func TestBrowserStatus(t *testing.T) {
	app, _ := setupTestApp(t, false, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/weave/browser/status", nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}

	response := decode(t, resp.Body)
	data, ok := response.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data to be a map")
	}
	if data["running"] != true {
		t.Errorf("Expected running to be true")
	}
}

func TestCreateRunDefaultTarget(t *testing.T) {
	app, manager := setupTestApp(t, false, 2)

	status, response := createRun(t, app, "")
	if status != 202 {
		t.Fatalf("Expected status 202, got %d (%s)", status, response.Error)
	}

	data := response.Data.(map[string]interface{})
	runID, _ := data["run_id"].(string)
	if !strings.HasPrefix(runID, "run_") {
		t.Fatalf("Expected run id, got %v", data["run_id"])
	}
	if data["status_url"] != "http://localhost:8000/weave/runs/"+runID {
		t.Errorf("Unexpected status_url %v", data["status_url"])
	}
	events := data["events"].(map[string]interface{})
	if events["ws_url"] != "ws://localhost:8000/weave/ws?run_id="+runID {
		t.Errorf("Unexpected ws_url %v", events["ws_url"])
	}

	run, err := manager.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.TargetURL != scenario.DefaultTargetURL {
		t.Errorf("Expected default target, got %s", run.TargetURL)
	}
}

func TestCreateRunInvalidTarget(t *testing.T) {
	app, _ := setupTestApp(t, false, 2)

	for _, body := range []string{`{"target_url":"ftp://example.com"}`, `{"target_url":"localhost"}`, `{bad json`} {
		status, response := createRun(t, app, body)
		if status != 400 {
			t.Errorf("Expected status 400 for %s, got %d", body, status)
		}
		if response.Success {
			t.Errorf("Expected success to be false for %s", body)
		}
	}
}

func TestCreateRunQueueFull(t *testing.T) {
	app, _ := setupTestApp(t, false, 1)

	if status, _ := createRun(t, app, ""); status != 202 {
		t.Fatalf("Expected first run to be accepted, got %d", status)
	}

	status, response := createRun(t, app, "")
	if status != 503 {
		t.Errorf("Expected status 503, got %d", status)
	}
	if !strings.Contains(response.Error, "full") {
		t.Errorf("Expected queue full error, got %q", response.Error)
	}
}

func TestRunLifecycle(t *testing.T) {
	app, manager := setupTestApp(t, true, 2)

	_, response := createRun(t, app, `{"target_url":"http://127.0.0.1:5173"}`)
	runID := response.Data.(map[string]interface{})["run_id"].(string)
	waitSucceeded(t, manager, runID)

	resp, err := app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID, nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	data := decode(t, resp.Body).Data.(map[string]interface{})
	links := data["artifact_urls"].(map[string]interface{})
	if links[scenario.InspectShot] != "http://localhost:8000/weave/runs/"+runID+"/artifacts/"+scenario.InspectShot {
		t.Errorf("Unexpected artifact url %v", links[scenario.InspectShot])
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID+"/artifacts/"+scenario.InspectShot, nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "\x89PNG") {
		t.Errorf("Expected png bytes, got %q", body)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID+"/artifacts/99-missing.png", nil))
	if resp.StatusCode != 404 {
		t.Errorf("Expected status 404 for unknown artifact, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/weave/runs", nil))
	list := decode(t, resp.Body).Data.(map[string]interface{})
	if runs := list["runs"].([]interface{}); len(runs) != 1 {
		t.Errorf("Expected 1 run in list, got %d", len(runs))
	}
}

func TestArtifactBeforeCompletion(t *testing.T) {
	app, _ := setupTestApp(t, false, 2)

	_, response := createRun(t, app, "")
	runID := response.Data.(map[string]interface{})["run_id"].(string)

	resp, err := app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID+"/artifacts/"+scenario.InspectShot, nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}
}

func TestUnknownRun(t *testing.T) {
	app, _ := setupTestApp(t, false, 1)

	for _, path := range []string{"/weave/runs/run_missing", "/weave/runs/run_missing/events", "/weave/runs/run_missing/artifacts/a.png"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("Failed to test request: %v", err)
		}
		if resp.StatusCode != 404 {
			t.Errorf("Expected status 404 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestStreamEventsFinishedRun(t *testing.T) {
	app, manager := setupTestApp(t, true, 2)

	_, response := createRun(t, app, "")
	runID := response.Data.(map[string]interface{})["run_id"].(string)
	waitSucceeded(t, manager, runID)

	resp, err := app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID+"/events", nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)

	if !strings.HasPrefix(string(body), "data: ") {
		t.Fatalf("Expected SSE frame, got %q", body)
	}
	var event queue.Event
	payload := strings.TrimSpace(strings.TrimPrefix(string(body), "data: "))
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		t.Fatalf("Failed to parse event: %v", err)
	}
	if event.Status != queue.RunStatusSucceeded || event.RunID != runID {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	app, _ := setupTestApp(t, false, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/weave/ws?run_id=run_x", nil))
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Expected status 426, got %d", resp.StatusCode)
	}
}

func TestCreateRunIdempotencyAndLimit(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	manager := queue.NewManager(queue.Config{QueueSize: 4, OutputRoot: t.TempDir()})
	t.Cleanup(manager.Stop)

	api.SetupRoutes(app, &mockBrowser{}, manager, api.RouteConfig{
		BaseURL:        "http://localhost:8000",
		DefaultTarget:  scenario.DefaultTargetURL,
		RunLimit:       1,
		RunWindow:      time.Minute,
		IdempotencyTTL: time.Minute,
	})

	post := func(key string) (int, api.Response) {
		req := httptest.NewRequest("POST", "/weave/runs", nil)
		if key != "" {
			req.Header.Set("X-Idempotency-Key", key)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Failed to test request: %v", err)
		}
		return resp.StatusCode, decode(t, resp.Body)
	}

	status, first := post("retry-1")
	if status != 202 {
		t.Fatalf("Expected status 202, got %d", status)
	}
	status, again := post("retry-1")
	if status != 202 {
		t.Fatalf("Expected replayed status 202, got %d", status)
	}

	firstID := first.Data.(map[string]interface{})["run_id"]
	if again.Data.(map[string]interface{})["run_id"] != firstID {
		t.Errorf("Expected the same run to be returned")
	}
	if len(manager.ListRuns()) != 1 {
		t.Errorf("Expected a single queued run, got %d", len(manager.ListRuns()))
	}

	status, response := post("")
	if status != 429 {
		t.Errorf("Expected status 429, got %d", status)
	}
	if response.Success {
		t.Errorf("Expected success to be false")
	}
}

// gatedProcessor holds each run in the running state until release is closed
type gatedProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *gatedProcessor) Process(ctx context.Context, run *queue.Run, observe scenario.Observer) (*scenario.Result, error) {
	close(p.started)
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (&fileProcessor{}).Process(ctx, run, observe)
}

func TestStreamEventsLiveRun(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	manager := queue.NewManager(queue.Config{QueueSize: 2, OutputRoot: t.TempDir()})
	processor := &gatedProcessor{started: make(chan struct{}), release: make(chan struct{})}
	if err := manager.Start(processor); err != nil {
		t.Fatalf("Failed to start manager: %v", err)
	}
	t.Cleanup(manager.Stop)

	api.SetupRoutes(app, &mockBrowser{}, manager, api.RouteConfig{
		BaseURL:       "http://localhost:8000",
		DefaultTarget: scenario.DefaultTargetURL,
	})

	_, response := createRun(t, app, "")
	runID := response.Data.(map[string]interface{})["run_id"].(string)

	select {
	case <-processor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not start")
	}

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := app.Test(httptest.NewRequest("GET", "/weave/runs/"+runID+"/events", nil), -1)
		if err != nil {
			done <- result{err: err}
			return
		}
		body, err := io.ReadAll(resp.Body)
		done <- result{body: string(body), err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for manager.Subscribers(runID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Stream never subscribed to the run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(processor.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not close after the run finished")
	}
	if res.err != nil {
		t.Fatalf("Failed to read stream: %v", res.err)
	}

	var events []queue.Event
	for _, frame := range strings.Split(strings.TrimSpace(res.body), "\n\n") {
		var event queue.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &event); err != nil {
			t.Fatalf("Failed to parse frame %q: %v", frame, err)
		}
		events = append(events, event)
	}

	if len(events) < 2 {
		t.Fatalf("Expected a snapshot and the final event, got %+v", events)
	}
	if events[0].Status != queue.RunStatusRunning {
		t.Errorf("Expected running snapshot, got %s", events[0].Status)
	}
	if last := events[len(events)-1]; last.Status != queue.RunStatusSucceeded {
		t.Errorf("Expected stream to end on succeeded, got %s", last.Status)
	}
	if manager.Subscribers(runID) != 0 {
		t.Errorf("Expected the stream to unsubscribe")
	}
}

func TestCreateRunConcurrentIdempotencyKey(t *testing.T) {
	app, manager := setupTestApp(t, false, 64)

	const clients = 40
	var wg sync.WaitGroup
	ids := make(chan string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/weave/runs", nil)
			req.Header.Set("X-Idempotency-Key", "same-key")
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Errorf("Failed to test request: %v", err)
				return
			}
			data, _ := io.ReadAll(resp.Body)
			var response api.Response
			if err := json.Unmarshal(data, &response); err != nil {
				t.Errorf("Failed to parse response %q: %v", data, err)
				return
			}
			if resp.StatusCode != 202 {
				t.Errorf("Expected status 202, got %d", resp.StatusCode)
				return
			}
			ids <- response.Data.(map[string]interface{})["run_id"].(string)
		}()
	}
	wg.Wait()
	close(ids)

	if n := len(manager.ListRuns()); n != 1 {
		t.Errorf("Expected one queued run for one idempotency key, got %d", n)
	}
	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Errorf("Expected every retry to return %s, got %s", first, id)
		}
	}
}
