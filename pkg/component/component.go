// Package component defines the contract every processing unit implements and
// the registry the engine resolves components from.
package component

import (
	"context"
	"log/slog"
	"sync"
)

// Component is one processing unit. The engine creates a fresh instance through
// the registered Factory for every node it runs.
type Component interface {
	// Metadata returns the static descriptor of the component kind.
	Metadata() Metadata
	// Parameters documents the configurable inputs.
	Parameters() []ParameterSpec
	// ValidateInputs gates execution; returning false fails the run.
	ValidateInputs(in Inputs) bool
	// Execute runs the unit of work. A returned error fails the run.
	Execute(ctx context.Context, in Inputs, ec *ExecutionContext) (Outputs, error)
}

// Factory produces new Component instances. It plays the role of a component class.
type Factory func() Component

// Inputs is the merged mapping of literal parameters and wired upstream outputs.
type Inputs map[string]Value

// Outputs is the result of one node's execution, keyed by output name.
type Outputs map[string]Value

// Get returns the named input.
func (in Inputs) Get(key string) (Value, bool) {
	v, ok := in[key]
	return v, ok
}

// Has reports whether key is present and not null.
func (in Inputs) Has(key string) bool {
	v, ok := in[key]
	return ok && !v.IsNull()
}

// String returns the named input when it is a string.
func (in Inputs) String(key string) (string, bool) {
	return in[key].AsString()
}

// StringOr returns the named string input or def.
func (in Inputs) StringOr(key, def string) string {
	if s, ok := in[key].AsString(); ok {
		return s
	}
	return def
}

// Number returns the named input when it is a number.
func (in Inputs) Number(key string) (float64, bool) {
	return in[key].AsNumber()
}

// NumberOr returns the named number input or def.
func (in Inputs) NumberOr(key string, def float64) float64 {
	if n, ok := in[key].AsNumber(); ok {
		return n
	}
	return def
}

// BoolOr returns the named bool input or def.
func (in Inputs) BoolOr(key string, def bool) bool {
	if b, ok := in[key].AsBool(); ok {
		return b
	}
	return def
}

// Handle returns the opaque reference carried by the named input.
func (in Inputs) Handle(key string) (any, bool) {
	return in[key].AsHandle()
}

// Clone returns a shallow copy.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Get returns the named output.
func (out Outputs) Get(key string) (Value, bool) {
	v, ok := out[key]
	return v, ok
}

// Value wraps the whole result as a single map value.
func (out Outputs) Value() Value {
	return Map(map[string]Value(out))
}

// ProgressFunc receives progress in [0,1] with a short status message.
type ProgressFunc func(fraction float64, message string)

// ExecutionContext is created per run and shared by every node of that run.
type ExecutionContext struct {
	RunID    string
	TempDir  string
	Progress ProgressFunc
	Logger   *slog.Logger

	mu       sync.Mutex
	metadata map[string]any
}

// NewExecutionContext returns a context with an empty metadata side channel.
func NewExecutionContext(runID, tempDir string, progress ProgressFunc, logger *slog.Logger) *ExecutionContext {
	return &ExecutionContext{
		RunID:    runID,
		TempDir:  tempDir,
		Progress: progress,
		Logger:   logger,
		metadata: make(map[string]any),
	}
}

// Report forwards progress when a callback is set.
func (ec *ExecutionContext) Report(fraction float64, message string) {
	if ec == nil || ec.Progress == nil {
		return
	}
	ec.Progress(fraction, message)
}

// Log returns the run logger, or a discarding one when none is set.
func (ec *ExecutionContext) Log() *slog.Logger {
	if ec == nil || ec.Logger == nil {
		return slog.New(discardHandler{})
	}
	return ec.Logger
}

// Set stores a metadata entry visible to later nodes of the same run.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.metadata == nil {
		ec.metadata = make(map[string]any)
	}
	ec.metadata[key] = value
}

// Get reads a metadata entry.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata side channel.
func (ec *ExecutionContext) Metadata() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.metadata))
	for k, v := range ec.metadata {
		out[k] = v
	}
	return out
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
