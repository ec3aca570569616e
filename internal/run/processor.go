package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/observability/alerting"
	"gisengine/pkg/logger"
)

// Executor runs a workflow definition. *engine.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, def engine.Definition, opts ...engine.RunOption) engine.Result
}

// Processor consumes run ids and executes the runs.
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount sets the number of concurrent runs. Values below 1 are ignored.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// NewProcessor wires a processor. producer is used to retry runs.
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.L()
	}
	return p
}

// Start blocks consuming runs until ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeUnavailable, "run consumer not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeUnavailable, "processor not initialised")
	}
	r, err := p.store.Claim(ctx, runID)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrNotFound), stdErrors.Is(err, ErrCompleted), stdErrors.Is(err, ErrConflict):
			p.logger.Debug("skipping run", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		case stdErrors.Is(err, ErrExhausted):
			p.exhaust(ctx, r)
			return nil
		}
		p.logger.Error("claim run failed", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	result := p.executor.Execute(ctx, r.Definition, engine.WithRunID(r.ID))
	switch {
	case ctx.Err() != nil && !result.Success:
		// Shutdown interrupted the run; it is not the workflow's fault.
		return p.retry(ctx, r, xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "run interrupted"))
	case !result.Success:
		return p.fail(ctx, r, result)
	}

	if err := p.store.MarkSucceeded(ctx, r.ID, result); err != nil {
		p.logger.Error("record run success failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return p.retry(ctx, r, err)
	}
	logger.Audit().Info("run succeeded",
		slog.String("run_id", r.ID),
		slog.String("workflow", r.Name),
		slog.Int("attempts", r.Attempts),
		slog.Any("execution_order", result.ExecutionOrder),
		slog.Duration("duration", result.Duration()),
	)
	return nil
}

// fail records an engine failure. The engine is deterministic, so these are
// never retried.
func (p *Processor) fail(ctx context.Context, r *Run, result engine.Result) error {
	code := result.ErrorCode
	if code == "" {
		code = CodeRunProcessing
	}
	failure := Failure{Code: code, Message: result.Error, Terminal: true, Result: &result}
	if err := p.store.MarkFailed(ctx, r.ID, failure); err != nil {
		p.logger.Error("record run failure failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return err
	}
	logger.Audit().Warn("run failed",
		slog.String("run_id", r.ID),
		slog.String("workflow", r.Name),
		slog.String("error_code", string(code)),
		slog.String("failed_node", result.FailedNode),
		slog.String("error", result.Error),
	)
	if xerrors.AttributesOf(code).Alert {
		p.emitAlert(ctx, r, code, result.Err(), "engine")
	}
	return nil
}

// retry returns the run to pending and publishes it again, or fails it for
// good once its attempts are used up.
func (p *Processor) retry(ctx context.Context, r *Run, cause error) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	terminal := r.Attempts >= r.MaxRetries
	if terminal {
		code = CodeRunExhausted
	}
	// The caller's context may already be cancelled during shutdown.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.store.MarkFailed(bg, r.ID, Failure{Code: code, Message: cause.Error(), Terminal: terminal}); err != nil {
		p.logger.Error("record run retry failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return err
	}
	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	logger.Audit().Warn("run attempt failed",
		slog.String("run_id", r.ID),
		slog.String("stage", stage),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
		slog.Int("attempts", r.Attempts),
		slog.Int("max_retries", r.MaxRetries),
	)
	p.emitAlert(ctx, r, code, cause, stage)
	if terminal || p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(bg, r.ID); err != nil {
		return xerrors.Wrap(CodeRunPublish, err, "republish run "+r.ID)
	}
	return nil
}

func (p *Processor) exhaust(ctx context.Context, r *Run) {
	if r == nil || r.Status != StatusPending {
		return
	}
	msg := ErrExhausted.Error()
	if r.LastError != "" {
		msg = r.LastError
	}
	if err := p.store.MarkFailed(ctx, r.ID, Failure{Code: CodeRunExhausted, Message: msg, Terminal: true}); err != nil {
		p.logger.Error("record exhausted run failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return
	}
	p.emitAlert(ctx, r, CodeRunExhausted, ErrExhausted, "terminal")
}

func (p *Processor) emitAlert(ctx context.Context, r *Run, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || r == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:         code,
		Message:      attrs.Message,
		Severity:     attrs.Severity,
		RunID:        r.ID,
		WorkflowName: r.Name,
		Attempts:     r.Attempts,
		MaxRetries:   r.MaxRetries,
		Metadata:     map[string]string{"stage": stage},
		OccurredAt:   time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("alert delivery failed",
			slog.Any("error", err),
			slog.String("run_id", r.ID),
			slog.String("stage", stage))
	}
}
