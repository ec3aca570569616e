// Package gisengine is a client for the gisengine HTTP API.
package gisengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds requests made by clients created without a custom
// http.Client. Synchronous executions can take a while.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the gisengine REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Node places a component in a workflow.
type Node struct {
	ID          string         `json:"id"`
	ComponentID string         `json:"component_id"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Connection routes a node output into a node input. Empty names default on
// the server: the output to "default" and the input to the output name.
type Connection struct {
	FromNode   string `json:"from_node"`
	FromOutput string `json:"from_output,omitempty"`
	ToNode     string `json:"to_node"`
	ToInput    string `json:"to_input,omitempty"`
}

// Workflow is a graph of nodes and connections.
type Workflow struct {
	Name        string       `json:"name,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Result is the outcome of one execution.
type Result struct {
	RunID          string                    `json:"run_id"`
	Success        bool                      `json:"success"`
	Error          string                    `json:"error,omitempty"`
	ErrorCode      string                    `json:"error_code,omitempty"`
	FailedNode     string                    `json:"failed_node,omitempty"`
	Results        map[string]map[string]any `json:"results"`
	ExecutionOrder []string                  `json:"execution_order,omitempty"`
	StartedAt      time.Time                 `json:"started_at"`
	FinishedAt     time.Time                 `json:"finished_at"`
}

// Err returns a *WorkflowError for failed results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &WorkflowError{RunID: r.RunID, Code: r.ErrorCode, Message: r.Error, Node: r.FailedNode}
}

// WorkflowError reports a workflow the engine rejected or failed.
type WorkflowError struct {
	RunID   string
	Code    string
	Message string
	Node    string
}

func (e *WorkflowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("workflow %s failed at node %s: %s (%s)", e.RunID, e.Node, e.Message, e.Code)
	}
	return fmt.Sprintf("workflow %s failed: %s (%s)", e.RunID, e.Message, e.Code)
}

// RunRequest submits a workflow for asynchronous execution. Resubmitting an ID
// returns the existing run.
type RunRequest struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Definition Workflow `json:"definition"`
}

// Run is an asynchronous execution.
type Run struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Terminal reports whether the run will not change any more.
func (r Run) Terminal() bool { return r.Status == "succeeded" || r.Status == "failed" }

// Component describes a registered component kind.
type Component struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Version     string   `json:"version"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags,omitempty"`
}

// ComponentQuery filters ListComponents. Empty fields match everything.
type ComponentQuery struct {
	Search   string
	Category string
	Type     string
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("gisengine api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gisengine api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient builds a client for the API at rawURL. A nil httpClient selects
// one with DefaultHTTPTimeout.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Execute runs wf synchronously. A workflow that fails inside the engine is
// not an error here: inspect Result.Success or call Result.Err.
func (c *Client) Execute(ctx context.Context, wf Workflow) (Result, error) {
	var result Result
	if err := c.post(ctx, "/api/v1/workflows/execute", normalize(wf), &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// SubmitRun queues a workflow.
func (c *Client) SubmitRun(ctx context.Context, req RunRequest) (Run, error) {
	req.Definition = normalize(req.Definition)
	var r Run
	if err := c.post(ctx, "/api/v1/runs", req, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

// WaitForRun polls GetRun until the run is terminal or ctx is done.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		if r.Terminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListComponents returns registered components sorted by id.
func (c *Client) ListComponents(ctx context.Context, q ComponentQuery) ([]Component, error) {
	params := url.Values{}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	var body struct {
		Components []Component `json:"components"`
	}
	if err := c.get(ctx, "/api/v1/components", params, &body); err != nil {
		return nil, err
	}
	return body.Components, nil
}

// normalize sends an explicit empty connection list; the server rejects a
// missing key.
func normalize(wf Workflow) Workflow {
	if wf.Connections == nil {
		wf.Connections = []Connection{}
	}
	if wf.Nodes == nil {
		wf.Nodes = []Node{}
	}
	return wf
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
