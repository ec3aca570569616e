package run

import "context"

// Handler processes one run id delivered by a Consumer. A non-nil error asks
// the queue to deliver the id again.
type Handler func(ctx context.Context, runID string) error

// Producer publishes run ids.
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer delivers run ids to a pool of workers until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of a run queue.
type Queue interface {
	Producer
	Consumer
}
