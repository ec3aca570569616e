package run

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisQueueDeliversAndRetries(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	queue, err := NewRedisQueue(client, RedisQueueConfig{Key: "test:runs", BlockWait: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range []string{"a", "b", "c"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if n, _ := srv.List("test:runs"); len(n) != 3 {
		t.Fatalf("expected 3 queued ids, got %v", n)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		done = make(chan struct{})
	)
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[id]++
		if id == "b" && seen[id] == 1 {
			return errors.New("transient")
		}
		if seen["a"] == 1 && seen["b"] == 2 && seen["c"] == 1 {
			close(done)
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- queue.Consume(ctx, 2, handler) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("runs not delivered in time: %v", seen)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("consume should stop with the context, got %v", err)
	}
}

func TestNewRedisQueueRequiresClient(t *testing.T) {
	if _, err := NewRedisQueue(nil, RedisQueueConfig{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
