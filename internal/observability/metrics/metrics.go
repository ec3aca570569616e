// Package metrics exposes engine, plugin and HTTP measurements in the
// Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gisengine/pkg/plugin"
)

// Collector owns a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	nodes         *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	registrations *prometheus.CounterVec
	pluginLoads   *prometheus.CounterVec
}

// New builds a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "gisengine"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "runs_total",
			Help: "Workflow runs by outcome and error code.",
		}, []string{"outcome", "code"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "run_duration_seconds",
			Help:    "Wall time of workflow runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
		}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "node_executions_total",
			Help: "Node executions by component and outcome.",
		}, []string{"component", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "node_duration_seconds",
			Help:    "Wall time of node executions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"component"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "registrations_total",
			Help: "Component registration attempts by outcome.",
		}, []string{"outcome"}),
		pluginLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plugins", Name: "loads_total",
			Help: "Plugin candidates processed by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpDuration,
		c.runs, c.runDuration,
		c.nodes, c.nodeDuration,
		c.registrations, c.pluginLoads,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RunFinished records a workflow outcome.
func (c *Collector) RunFinished(success bool, code string, d time.Duration) {
	c.runs.WithLabelValues(outcome(success), code).Inc()
	c.runDuration.Observe(d.Seconds())
}

// NodeFinished records one node execution.
func (c *Collector) NodeFinished(componentID string, success bool, d time.Duration) {
	c.nodes.WithLabelValues(componentID, outcome(success)).Inc()
	c.nodeDuration.WithLabelValues(componentID).Observe(d.Seconds())
}

// ComponentRegistered has the shape of component.Observer.
func (c *Collector) ComponentRegistered(_ string, err error) {
	c.registrations.WithLabelValues(outcome(err == nil)).Inc()
}

// PluginProcessed has the shape of the plugin loader observer.
func (c *Collector) PluginProcessed(e plugin.Entry, err error) {
	c.pluginLoads.WithLabelValues(string(e.Source), outcome(err == nil)).Inc()
}

// ObserveHTTPRequest records one served request.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(handler, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer serves /metrics on a dedicated listener until ctx is done.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
