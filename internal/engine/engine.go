// Package engine validates, orders and executes workflow graphs against a
// component registry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	xerrors "gisengine/internal/errors"
	"gisengine/internal/events"
	"gisengine/pkg/component"
)

// Resolver looks up component factories. *component.Registry implements it.
type Resolver interface {
	Get(id string) (component.Factory, bool)
}

// Recorder receives run and node measurements.
type Recorder interface {
	RunFinished(success bool, code string, d time.Duration)
	NodeFinished(componentID string, success bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(bool, string, time.Duration)  {}
func (nopRecorder) NodeFinished(string, bool, time.Duration) {}

// Result is the outcome of one run. On failure Results is empty and Error
// carries the message to show to the user.
type Result struct {
	RunID          string                       `json:"run_id"`
	Success        bool                         `json:"success"`
	Error          string                       `json:"error,omitempty"`
	ErrorCode      xerrors.Code                 `json:"error_code,omitempty"`
	FailedNode     string                       `json:"failed_node,omitempty"`
	Results        map[string]component.Outputs `json:"results"`
	ExecutionOrder []string                     `json:"execution_order,omitempty"`
	StartedAt      time.Time                    `json:"started_at"`
	FinishedAt     time.Time                    `json:"finished_at"`

	err error
}

// Err returns the failure as a coded error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return xerrors.New(r.ErrorCode, r.Error)
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter publishes run and node events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithRecorder records run and node metrics.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// WithLogger sets the base logger handed to components.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer opens a span per run and per node.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithTempDir sets the default scratch directory exposed to components.
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// Engine runs workflows. It keeps no per-run state, so concurrent Execute
// calls are safe as long as the resolver is.
type Engine struct {
	resolver Resolver
	emitter  events.Emitter
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	tempDir  string
	dataRoot string
	now      func() time.Time
}

// New returns an engine resolving components through resolver.
func New(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		emitter:  events.Nop{},
		recorder: nopRecorder{},
		tracer:   noop.NewTracerProvider().Tracer("gisengine/engine"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RunOption customises a single Execute call.
type RunOption func(*runConfig)

type runConfig struct {
	runID    string
	tempDir  string
	progress component.ProgressFunc
	metadata map[string]any
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// WithRunTempDir overrides the engine scratch directory for one run.
func WithRunTempDir(dir string) RunOption {
	return func(c *runConfig) { c.tempDir = dir }
}

// WithProgress receives component progress reports.
func WithProgress(fn component.ProgressFunc) RunOption {
	return func(c *runConfig) { c.progress = fn }
}

// WithMetadata seeds the execution context side channel.
func WithMetadata(key string, value any) RunOption {
	return func(c *runConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]any)
		}
		c.metadata[key] = value
	}
}

// Validate runs the structural checks Execute performs before ordering.
func Validate(def Definition, resolver Resolver) error {
	if !def.hasNodes {
		return xerrors.New(CodeWorkflowInvalid, "workflow is missing the nodes key")
	}
	if !def.hasConnections {
		return xerrors.New(CodeWorkflowInvalid, "workflow is missing the connections key")
	}

	nodes := make(map[string]struct{}, len(def.Nodes))
	for i, n := range def.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return xerrors.Newf(CodeWorkflowInvalid, "node #%d has an empty id", i+1)
		}
		if _, dup := nodes[n.ID]; dup {
			return xerrors.Newf(CodeWorkflowInvalid, "duplicate node id %s", n.ID)
		}
		nodes[n.ID] = struct{}{}
		if strings.TrimSpace(n.ComponentID) == "" {
			return xerrors.New(CodeWorkflowInvalid, fmt.Sprintf("node %s has no component_id", n.ID),
				xerrors.WithMetadata("node_id", n.ID))
		}
		if _, ok := resolver.Get(n.ComponentID); !ok {
			return xerrors.New(CodeComponentNotFound, "component not found: "+n.ComponentID,
				xerrors.WithMetadata("node_id", n.ID), xerrors.WithMetadata("component_id", n.ComponentID))
		}
	}

	targets := make(map[[2]string]Connection, len(def.Connections))
	for _, c := range def.Connections {
		if _, ok := nodes[c.FromNode]; !ok {
			return xerrors.Newf(CodeWorkflowInvalid, "connection %s references unknown node %q", c, c.FromNode)
		}
		if _, ok := nodes[c.ToNode]; !ok {
			return xerrors.Newf(CodeWorkflowInvalid, "connection %s references unknown node %q", c, c.ToNode)
		}
		key := [2]string{c.ToNode, c.Input()}
		if prior, dup := targets[key]; dup {
			return xerrors.New(CodeDuplicateInput,
				fmt.Sprintf("input %s of node %s is fed by both %s and %s", c.Input(), c.ToNode, prior, c),
				xerrors.WithMetadata("node_id", c.ToNode))
		}
		targets[key] = c
	}
	return nil
}

// Execute validates, orders and runs def. Every failure, including a panic
// inside a component, is reported through the returned Result.
func (e *Engine) Execute(ctx context.Context, def Definition, opts ...RunOption) Result {
	cfg := runConfig{tempDir: e.tempDir}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("run.id", cfg.runID),
		attribute.String("workflow.name", def.Name),
		attribute.Int("workflow.nodes", len(def.Nodes)),
	))
	defer span.End()

	started := e.now()
	logger := e.logger.With(slog.String("run_id", cfg.runID))
	e.emitter.Emit(events.Event{
		Type:    events.WorkflowStarted,
		RunID:   cfg.runID,
		Message: def.Name,
		Fields:  map[string]any{"nodes": len(def.Nodes)},
	})

	order, results, failedNode, err := e.run(ctx, def, cfg, logger)
	res := Result{
		RunID:      cfg.runID,
		StartedAt:  started,
		FinishedAt: e.now(),
	}
	if err != nil {
		res.Error = detail(err)
		res.ErrorCode = xerrors.CodeOf(err)
		res.FailedNode = failedNode
		res.Results = map[string]component.Outputs{}
		res.err = err
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, res.Error)
		logger.Warn("workflow failed",
			slog.String("code", string(res.ErrorCode)),
			slog.String("node_id", failedNode),
			slog.String("error", res.Error))
		e.emitter.Emit(events.Event{
			Type:    events.WorkflowFailed,
			RunID:   cfg.runID,
			NodeID:  failedNode,
			Message: res.Error,
			Fields:  map[string]any{"code": string(res.ErrorCode)},
		})
	} else {
		res.Success = true
		res.Results = results
		res.ExecutionOrder = order
		logger.Info("workflow completed",
			slog.Int("nodes", len(order)),
			slog.Duration("duration", res.Duration()))
		e.emitter.Emit(events.Event{
			Type:   events.WorkflowCompleted,
			RunID:  cfg.runID,
			Fields: map[string]any{"execution_order": order},
		})
	}
	e.recorder.RunFinished(res.Success, string(res.ErrorCode), res.Duration())
	return res
}

func detail(err error) string {
	if xe, ok := xerrors.From(err); ok {
		return xe.Detail()
	}
	return err.Error()
}

// run walks Validating, Ordering and Executing. It returns the node that
// failed, if the failure belongs to one.
func (e *Engine) run(ctx context.Context, def Definition, cfg runConfig, logger *slog.Logger) ([]string, map[string]component.Outputs, string, error) {
	if err := Validate(def, e.resolver); err != nil {
		node := ""
		if xe, ok := xerrors.From(err); ok {
			node = xe.Metadata()["node_id"]
		}
		return nil, nil, node, err
	}
	order, err := Order(def)
	if err != nil {
		return nil, nil, "", err
	}

	specs := make(map[string]NodeSpec, len(def.Nodes))
	for _, n := range def.Nodes {
		specs[n.ID] = n
	}
	incoming := make(map[string][]Connection)
	for _, c := range def.Connections {
		incoming[c.ToNode] = append(incoming[c.ToNode], c)
	}

	var current atomic.Value
	current.Store("")
	ec := component.NewExecutionContext(cfg.runID, cfg.tempDir, func(fraction float64, message string) {
		node, _ := current.Load().(string)
		if cfg.progress != nil {
			cfg.progress(fraction, message)
		}
		e.emitter.Emit(events.Event{
			Type:    events.ProgressUpdate,
			RunID:   cfg.runID,
			NodeID:  node,
			Message: message,
			Fields:  map[string]any{"fraction": fraction},
		})
	}, logger)
	for k, v := range cfg.metadata {
		ec.Set(k, v)
	}

	results := make(map[string]component.Outputs, len(order))
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, nil, id, xerrors.Wrap(xerrors.CodeCanceled, err, "run canceled before node "+id)
		}
		current.Store(id)
		out, err := e.runNode(ctx, specs[id], incoming[id], results, ec, logger)
		if err != nil {
			return nil, nil, id, err
		}
		results[id] = out
	}
	return order, results, "", nil
}

func (e *Engine) runNode(ctx context.Context, spec NodeSpec, incoming []Connection, results map[string]component.Outputs, ec *component.ExecutionContext, logger *slog.Logger) (component.Outputs, error) {
	nodeLog := logger.With(slog.String("node_id", spec.ID), slog.String("component_id", spec.ComponentID))

	factory, ok := e.resolver.Get(spec.ComponentID)
	if !ok {
		// Validate already resolved every component; reaching here means the
		// registry changed underneath a running workflow.
		return nil, xerrors.Newf(CodeInternal, "component %s vanished during run (node %s)", spec.ComponentID, spec.ID)
	}

	inputs, err := buildInputs(spec, incoming, results)
	if err != nil {
		return nil, err
	}

	instance := factory()
	if instance == nil {
		return nil, xerrors.Newf(CodeInternal, "factory for %s returned nil (node %s)", spec.ComponentID, spec.ID)
	}
	// node.started precedes validation so every node.failed has a matching start.
	e.emitNode(events.NodeStarted, ec.RunID, spec, "")
	params, ok := parameters(instance)
	if !ok {
		return nil, e.invalidInputs(ec.RunID, spec, "parameter description panicked")
	}
	if err := confinePaths(e.dataRoot, params, inputs); err != nil {
		nodeLog.Warn("input path rejected", slog.String("error", err.Error()))
		return nil, e.invalidInputs(ec.RunID, spec, err.Error())
	}
	if !validate(instance, inputs) {
		return nil, e.invalidInputs(ec.RunID, spec, "")
	}

	ctx, span := e.tracer.Start(ctx, "node.execute", trace.WithAttributes(
		attribute.String("node.id", spec.ID),
		attribute.String("component.id", spec.ComponentID),
	))
	defer span.End()
	start := e.now()
	out, err := execute(ctx, instance, inputs, ec)
	elapsed := e.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "node execution failed")
		nodeLog.Error("node execution failed", slog.String("error", err.Error()))
		e.recorder.NodeFinished(spec.ComponentID, false, elapsed)
		e.emitNode(events.NodeFailed, ec.RunID, spec, err.Error())
		return nil, xerrors.Wrap(CodeNodeExecutionFailed, err,
			fmt.Sprintf("node %s (%s) failed", spec.ID, spec.ComponentID),
			xerrors.WithMetadata("node_id", spec.ID), xerrors.WithMetadata("component_id", spec.ComponentID))
	}
	if out == nil {
		out = component.Outputs{}
	}
	nodeLog.Debug("node completed", slog.Duration("duration", elapsed), slog.Int("outputs", len(out)))
	e.recorder.NodeFinished(spec.ComponentID, true, elapsed)
	e.emitNode(events.NodeCompleted, ec.RunID, spec, "")
	return out, nil
}

func (e *Engine) invalidInputs(runID string, spec NodeSpec, reason string) error {
	e.recorder.NodeFinished(spec.ComponentID, false, 0)
	msg := fmt.Sprintf("Invalid inputs for component: %s (node %s)", spec.ComponentID, spec.ID)
	if reason != "" {
		msg += ": " + reason
	}
	e.emitNode(events.NodeFailed, runID, spec, "invalid inputs")
	return xerrors.New(CodeInputValidationFailed, msg,
		xerrors.WithMetadata("node_id", spec.ID), xerrors.WithMetadata("component_id", spec.ComponentID))
}

// buildInputs starts from the literal parameters and applies every incoming
// connection in definition order. A connection takes the named output when the
// source produced it and the whole source result otherwise.
func buildInputs(spec NodeSpec, incoming []Connection, results map[string]component.Outputs) (component.Inputs, error) {
	inputs := make(component.Inputs, len(spec.Parameters)+len(incoming))
	for k, v := range spec.Parameters {
		inputs[k] = component.FromAny(v)
	}
	for _, c := range incoming {
		src, ok := results[c.FromNode]
		if !ok {
			return nil, xerrors.Newf(CodeInternal, "node %s has no result yet for connection %s", c.FromNode, c)
		}
		if v, ok := src[c.Output()]; ok {
			inputs[c.Input()] = v
		} else {
			inputs[c.Input()] = src.Value()
		}
	}
	return inputs, nil
}

func parameters(c component.Component) (params []component.ParameterSpec, ok bool) {
	defer func() {
		if recover() != nil {
			params, ok = nil, false
		}
	}()
	return c.Parameters(), true
}

func validate(c component.Component, in component.Inputs) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	return c.ValidateInputs(in)
}

func execute(ctx context.Context, c component.Component, in component.Inputs, ec *component.ExecutionContext) (out component.Outputs, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ec.Log().Error("component panicked", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return c.Execute(ctx, in, ec)
}

func (e *Engine) emitNode(t events.Type, runID string, spec NodeSpec, message string) {
	e.emitter.Emit(events.Event{
		Type:        t,
		RunID:       runID,
		NodeID:      spec.ID,
		ComponentID: spec.ComponentID,
		Message:     message,
	})
}
