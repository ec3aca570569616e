package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/pkg/logger"
)

const defaultMaxRetries = 3

// SubmitRequest asks for a workflow to be run asynchronously. Submitting an
// existing ID returns the stored run unchanged.
type SubmitRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Definition engine.Definition `json:"definition"`
}

// Service creates and queries runs.
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	resolver   engine.Resolver
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithResolver rejects definitions that reference unknown components or are
// structurally invalid at submission time instead of on a worker.
func WithResolver(resolver engine.Resolver) ServiceOption {
	return func(s *Service) { s.resolver = resolver }
}

// NewService builds a Service. maxRetries <= 0 selects the default of 3.
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit stores a pending run and publishes its id.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "run service not initialised")
	}
	if req.Definition.Empty() {
		return nil, xerrors.New(CodeRunValidation, "workflow has no nodes")
	}
	if s.resolver != nil {
		if err := engine.Validate(req.Definition, s.resolver); err != nil {
			return nil, xerrors.Wrap(CodeRunValidation, err, "invalid workflow")
		}
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Definition.Name
	}
	r := &Run{
		ID:         id,
		Name:       name,
		Definition: req.Definition,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if stdErrors.Is(err, ErrConflict) {
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("publish run failed", slog.Any("error", err), slog.String("run_id", id))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "publish run")
		_ = s.store.MarkFailed(context.WithoutCancel(ctx), id, Failure{Code: CodeRunPublish, Message: wrapped.Error(), Terminal: true})
		return nil, wrapped
	}
	logger.Audit().Info("run queued",
		slog.String("run_id", id),
		slog.String("workflow", name),
		slog.Int("nodes", len(r.Definition.Nodes)),
		slog.Int("max_retries", r.MaxRetries),
	)
	return r, nil
}

// Get returns the run with id.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "run store not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns runs matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "run store not initialised")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats aggregates runs matching opts. Limit and offset are ignored.
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeUnavailable, "run store not initialised")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// RequeueStale returns runs stuck in running for longer than olderThan to
// pending and publishes them again. It is meant for startup, after a crash
// left claimed runs behind.
func (s *Service) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeUnavailable, "run service not initialised")
	}
	ids, err := s.store.Requeue(ctx, time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.producer.Publish(ctx, id); err != nil {
			return i, xerrors.Wrap(CodeRunPublish, err, "republish run "+id)
		}
		logger.Audit().Warn("stale run requeued", slog.String("run_id", id))
	}
	return len(ids), nil
}

// WaitUntilCompleted polls until the run reaches a terminal status or ctx is done.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status.Terminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the store and the producer.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
