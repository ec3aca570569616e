package run

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "gisengine/internal/errors"
)

// RedisQueueConfig names the list and the blocking pop timeout.
type RedisQueueConfig struct {
	Key       string        `mapstructure:"key" yaml:"key"`
	BlockWait time.Duration `mapstructure:"block_wait" yaml:"block_wait"`
}

// RedisQueue is a Redis list used as a FIFO: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client *goredis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue wraps an already connected client. Close closes the client.
func NewRedisQueue(client *goredis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis client cannot be nil")
	}
	key := cfg.Key
	if key == "" {
		key = "gisengine:runs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait}, nil
}

// Publish implements Producer.
func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	if err := q.client.LPush(ctx, q.key, runID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis publish")
	}
	return nil
}

// Consume implements Consumer. It returns the first connection error, or
// ctx.Err() once ctx is done.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				values, err := q.client.BRPop(gctx, q.wait, q.key).Result()
				switch {
				case errors.Is(err, goredis.Nil):
					continue
				case err != nil:
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis consume")
				}
				if len(values) != 2 {
					continue
				}
				if err := handler(gctx, values[1]); err != nil && gctx.Err() == nil {
					// Back on the consuming end so it is retried next.
					_ = q.client.RPush(context.WithoutCancel(gctx), q.key, values[1]).Err()
				}
			}
		})
	}
	return g.Wait()
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
