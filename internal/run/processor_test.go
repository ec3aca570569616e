package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/observability/alerting"
	"gisengine/pkg/component"
)

type fakeEngine struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(def engine.Definition) bool
}

func (f *fakeEngine) Execute(ctx context.Context, def engine.Definition, opts ...engine.RunOption) engine.Result {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return engine.Result{Error: ctx.Err().Error(), ErrorCode: engine.CodeNodeExecutionFailed}
		}
	}
	f.processed.Add(1)
	if f.fail != nil && f.fail(def) {
		return engine.Result{Error: "node boom failed", ErrorCode: engine.CodeNodeExecutionFailed, FailedNode: "boom", Results: map[string]component.Outputs{}}
	}
	return engine.Result{Success: true, Results: map[string]component.Outputs{}, ExecutionOrder: []string{def.Nodes[0].ID}}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingDispatcher) codes() []xerrors.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []xerrors.Code
	for _, e := range r.events {
		out = append(out, e.Code)
	}
	return out
}

func startProcessor(t *testing.T, ctx context.Context, p *Processor) {
	t.Helper()
	go func() {
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeEngine{latency: 5 * time.Millisecond}
	service := NewService(store, queue, 3)
	startProcessor(t, ctx, NewProcessor(exec, store, queue, queue, WithWorkerCount(8)))

	const total = 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		def := engine.NewDefinition([]engine.NodeSpec{{ID: fmt.Sprintf("n%d", i), ComponentID: "c"}}, nil)
		r, err := service.Submit(ctx, SubmitRequest{Definition: def})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, r.ID)
	}
	for _, id := range ids {
		r, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", id, err)
		}
		if r.Status != StatusSucceeded || r.Attempts != 1 {
			t.Fatalf("run %s ended %s after %d attempts", id, r.Status, r.Attempts)
		}
	}
	if got := exec.processed.Load(); got != total {
		t.Fatalf("processed %d runs, want %d", got, total)
	}
}

func TestProcessorEngineFailureIsTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	alerts := &recordingDispatcher{}
	exec := &fakeEngine{fail: func(engine.Definition) bool { return true }}
	service := NewService(store, queue, 3)
	startProcessor(t, ctx, NewProcessor(exec, store, queue, queue, WithAlertDispatcher(alerts)))

	r, err := service.Submit(ctx, SubmitRequest{ID: "bad", Definition: testDefinition()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, r.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.Attempts != 1 {
		t.Fatalf("engine failures must not be retried: %+v", done)
	}
	if done.ErrorCode != string(engine.CodeNodeExecutionFailed) || done.Result == nil || done.Result.FailedNode != "boom" {
		t.Fatalf("failure details not recorded: %+v", done)
	}
	if codes := alerts.codes(); len(codes) != 1 || codes[0] != engine.CodeNodeExecutionFailed {
		t.Fatalf("expected one node failure alert, got %v", codes)
	}
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) MarkSucceeded(ctx context.Context, id string, res engine.Result) error {
	if f.failures.Add(-1) >= 0 {
		return xerrors.New(xerrors.CodeStorageFailure, "disk full")
	}
	return f.MemoryStore.MarkSucceeded(ctx, id, res)
}

func TestProcessorRetriesInfrastructureFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(1)
	queue := NewMemoryQueue(16)
	alerts := &recordingDispatcher{}
	service := NewService(store, queue, 3)
	startProcessor(t, ctx, NewProcessor(&fakeEngine{}, store, queue, queue, WithAlertDispatcher(alerts)))

	r, err := service.Submit(ctx, SubmitRequest{Definition: testDefinition()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, r.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 2 {
		t.Fatalf("expected success on the second attempt: %+v", done)
	}
	if codes := alerts.codes(); len(codes) != 1 || codes[0] != xerrors.CodeStorageFailure {
		t.Fatalf("expected a storage failure alert, got %v", codes)
	}
}

func TestProcessorGivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(100)
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 2)
	startProcessor(t, ctx, NewProcessor(&fakeEngine{}, store, queue, queue))

	r, err := service.Submit(ctx, SubmitRequest{Definition: testDefinition()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, r.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.Attempts != 2 || done.ErrorCode != string(CodeRunExhausted) {
		t.Fatalf("expected exhausted failure: %+v", done)
	}
}

func TestProcessorRequeuesInterruptedRuns(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	ctx, cancel := context.WithCancel(context.Background())

	exec := &fakeEngine{latency: time.Minute}
	p := NewProcessor(exec, store, queue, queue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Start(ctx)
	}()

	r, err := service.Submit(context.Background(), SubmitRequest{Definition: testDefinition()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Get(context.Background(), r.ID)
		if got.Status == StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got, _ := store.Get(context.Background(), r.ID)
	if got.Status != StatusPending || got.ErrorCode != string(xerrors.CodeCanceled) {
		t.Fatalf("interrupted run should be pending again: %+v", got)
	}
}
