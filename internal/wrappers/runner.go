package wrappers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gisengine/pkg/component"
)

// Runner executes an algorithm on the processing backend and returns the
// decoded response document.
type Runner interface {
	Run(ctx context.Context, algorithmID string, in component.Inputs) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, algorithmID string, in component.Inputs) (any, error)

func (f RunnerFunc) Run(ctx context.Context, algorithmID string, in component.Inputs) (any, error) {
	return f(ctx, algorithmID, in)
}

// HTTPRunner posts algorithm invocations to a processing service.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
	token    string
}

// HTTPRunnerOption configures an HTTPRunner.
type HTTPRunnerOption func(*HTTPRunner)

// WithHTTPClient overrides the client used for requests.
func WithHTTPClient(c *http.Client) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithBearerToken authenticates requests.
func WithBearerToken(token string) HTTPRunnerOption {
	return func(r *HTTPRunner) { r.token = token }
}

// NewHTTPRunner returns a runner posting to endpoint.
func NewHTTPRunner(endpoint string, opts ...HTTPRunnerOption) *HTTPRunner {
	r := &HTTPRunner{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type runRequest struct {
	Algorithm string           `json:"algorithm"`
	Inputs    component.Inputs `json:"inputs"`
}

// Run sends {"algorithm", "inputs"} and decodes the JSON reply. A non-2xx
// status is an error carrying the response body.
func (r *HTTPRunner) Run(ctx context.Context, algorithmID string, in component.Inputs) (any, error) {
	body, err := json.Marshal(runRequest{Algorithm: algorithmID, Inputs: in})
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var doc any
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return doc, nil
}
