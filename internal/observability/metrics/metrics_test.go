package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gisengine/pkg/plugin"
)

func TestRecorderCounters(t *testing.T) {
	c := New("test")
	c.RunFinished(true, "", 20*time.Millisecond)
	c.RunFinished(false, "CYCLE_DETECTED", time.Millisecond)
	c.NodeFinished("core.buffer", true, time.Millisecond)
	c.ComponentRegistered("core.buffer", nil)
	c.ComponentRegistered("", errors.New("invalid"))
	c.PluginProcessed(plugin.Entry{Source: "builtin", Name: "buffer"}, nil)

	if got := testutil.ToFloat64(c.runs.WithLabelValues("failure", "CYCLE_DETECTED")); got != 1 {
		t.Fatalf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(c.nodes.WithLabelValues("core.buffer", "success")); got != 1 {
		t.Fatalf("node executions = %v", got)
	}
	if got := testutil.ToFloat64(c.registrations.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failed registrations = %v", got)
	}
	if got := testutil.ToFloat64(c.pluginLoads.WithLabelValues("builtin", "success")); got != 1 {
		t.Fatalf("plugin loads = %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := New("test")
	h := c.Middleware("teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("teapot", "GET", "418")); got != 1 {
		t.Fatalf("requests = %v", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_http_requests_total{code="418",handler="teapot",method="GET"} 1`) {
		t.Fatalf("exposition missing request counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("runtime collectors should be registered")
	}
}
