package run

import (
	"context"

	"gisengine/internal/engine"
)

// Store persists run state.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim moves a pending run to running and counts the attempt.
	Claim(ctx context.Context, id string) (*Run, error)
	MarkSucceeded(ctx context.Context, id string, result engine.Result) error
	MarkFailed(ctx context.Context, id string, failure Failure) error
	// Requeue returns running runs last updated before the cutoff to pending
	// and reports their ids.
	Requeue(ctx context.Context, updatedBefore int64) ([]string, error)
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
