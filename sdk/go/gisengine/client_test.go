package gisengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gisengine/components"
	"gisengine/internal/api"
	"gisengine/internal/engine"
	"gisengine/internal/run"
	"gisengine/pkg/component"
	"gisengine/pkg/logger"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestExecuteSendsWorkflowAndToken(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workflows/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(Result{RunID: "r1", Success: false, ErrorCode: "CYCLE_DETECTED", Error: "cycle detected: a -> b -> a"})
	}))
	client.SetAccessToken("tok")

	res, err := client.Execute(context.Background(), Workflow{Nodes: []Node{{ID: "a", ComponentID: "core.buffer"}}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if conns, ok := got["connections"].([]any); !ok || len(conns) != 0 {
		t.Fatalf("connections must be sent as an empty list, got %#v", got["connections"])
	}
	var wfErr *WorkflowError
	if !errors.As(res.Err(), &wfErr) || wfErr.Code != "CYCLE_DETECTED" {
		t.Fatalf("unexpected result error: %v", res.Err())
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/runs/missing":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"RUN_NOT_FOUND","message":"run not found"}}`))
		default:
			w.Header().Set("Retry-After", "3")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}
	}))

	_, err := client.GetRun(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "RUN_NOT_FOUND" {
		t.Fatalf("unexpected error: %#v", err)
	}

	_, err = client.ListComponents(context.Background(), ComponentQuery{})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if apiErr.RetryAfter != 3*time.Second || apiErr.Message != "slow down" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientAgainstServer(t *testing.T) {
	reg := component.NewRegistry()
	if err := components.RegisterAll(reg); err != nil {
		t.Fatalf("register core: %v", err)
	}
	eng := engine.New(reg)
	store, queue := run.NewMemoryStore(), run.NewMemoryQueue(4)
	runs := run.NewService(store, queue, 2, run.WithResolver(reg))
	processor := run.NewProcessor(eng, store, queue, queue, run.WithProcessorLogger(logger.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	srv := api.NewServer(":0", eng, reg, api.WithRuns(runs), api.WithLogger(logger.Discard()))
	client := newTestClient(t, srv.Handler())

	readers, err := client.ListComponents(ctx, ComponentQuery{Type: "reader"})
	if err != nil {
		t.Fatalf("list components: %v", err)
	}
	if len(readers) != 1 || readers[0].ID != "core.file_reader" {
		t.Fatalf("unexpected readers: %+v", readers)
	}

	sites, err := filepath.Abs(filepath.Join("..", "..", "..", "components", "testdata", "sites.geojson"))
	if err != nil {
		t.Fatal(err)
	}
	wf := Workflow{
		Name: "buffer sites",
		Nodes: []Node{
			{ID: "read", ComponentID: "core.file_reader", Parameters: map[string]any{"file_path": sites}},
			{ID: "buffer", ComponentID: "core.buffer", Parameters: map[string]any{"distance": 5}},
		},
		Connections: []Connection{{FromNode: "read", FromOutput: "layer", ToNode: "buffer", ToInput: "layer"}},
	}

	res, err := client.Execute(ctx, wf)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("workflow failed: %v", res.Err())
	}
	if res.Results["buffer"]["buffer_distance"] != 5.0 {
		t.Fatalf("unexpected buffer outputs: %v", res.Results["buffer"])
	}

	submitted, err := client.SubmitRun(ctx, RunRequest{ID: "sdk-run", Definition: wf})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	done, err := client.WaitForRun(waitCtx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || done.Result == nil || !done.Result.Success {
		t.Fatalf("unexpected run: %+v", done)
	}
}
