package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gisengine/internal/auth"
	"gisengine/internal/events"
	"gisengine/internal/observability/metrics"
	"gisengine/internal/run"
	"gisengine/pkg/component"
	"gisengine/pkg/logger"
	"gisengine/pkg/plugin"
)

// PluginLister reports the plugins a loader has registered.
type PluginLister interface {
	LoadedEntries() []plugin.Entry
}

// Server exposes the engine over HTTP.
type Server struct {
	addr     string
	executor run.Executor
	registry *component.Registry
	runs     *run.Service
	plugins  PluginLister
	bus      *events.Bus
	metrics  *metrics.Collector
	auth     *auth.Service
	limiter  *rateLimiter
	logger   *slog.Logger

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	recentEvents    int
}

// Option configures a Server.
type Option func(*Server)

// WithRuns enables the asynchronous run endpoints.
func WithRuns(svc *run.Service) Option {
	return func(s *Server) { s.runs = svc }
}

// WithPlugins enables GET /api/v1/plugins.
func WithPlugins(lister PluginLister) Option {
	return func(s *Server) { s.plugins = lister }
}

// WithEventBus enables the websocket event stream.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithMetrics instruments every route and serves GET /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithAuth protects the API routes. A nil or disabled service lets every
// request through.
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithRateLimit limits each client IP to perSecond requests with the given
// burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newRateLimiter(perSecond, burst)
		}
	}
}

// WithTimeouts overrides the server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// WithLogger overrides the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds a Server. executor runs synchronous requests and registry
// answers component queries; both are required.
func NewServer(addr string, executor run.Executor, registry *component.Registry, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		executor:        executor,
		registry:        registry,
		logger:          logger.Named("api"),
		readTimeout:     30 * time.Second,
		writeTimeout:    5 * time.Minute,
		shutdownTimeout: 10 * time.Second,
		recentEvents:    50,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /api/v1/workflows/execute", "workflows_execute", s.handleExecute, auth.PermWorkflowsExecute)
	s.route(mux, "POST /api/v1/runs", "runs_submit", s.handleSubmitRun, auth.PermRunsWrite)
	s.route(mux, "GET /api/v1/runs", "runs_list", s.handleListRuns, auth.PermRunsRead)
	s.route(mux, "GET /api/v1/runs/stats", "runs_stats", s.handleRunStats, auth.PermRunsRead)
	s.route(mux, "GET /api/v1/runs/{id}", "runs_get", s.handleGetRun, auth.PermRunsRead)
	s.route(mux, "GET /api/v1/components", "components_list", s.handleListComponents, auth.PermComponentsRead)
	s.route(mux, "GET /api/v1/components/{id}", "components_get", s.handleGetComponent, auth.PermComponentsRead)
	s.route(mux, "GET /api/v1/plugins", "plugins_list", s.handlePlugins, auth.PermComponentsRead)
	s.route(mux, "GET /api/v1/events/ws", "events_ws", s.handleEventStream, auth.PermEventsRead)

	mux.Handle("GET /healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// route wires one API endpoint behind the limiter and auth middleware.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc, perms ...string) {
	var handler http.Handler = h
	handler = s.auth.Require(perms...)(handler)
	if s.limiter != nil {
		handler = s.limiter.middleware(handler)
	}
	mux.Handle(pattern, s.instrument(name, handler))
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.Middleware(name, h)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if s.limiter != nil {
		go s.limiter.sweepEvery(ctx, 5*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", slog.String("address", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api shutdown incomplete", slog.String("error", err.Error()))
		}
		return nil
	case err := <-errCh:
		return err
	}
}
