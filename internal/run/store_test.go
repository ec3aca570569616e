package run

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gisengine/internal/engine"
	"gisengine/internal/storage/sqldb"
	"gisengine/pkg/component"
)

func testDefinition() engine.Definition {
	return engine.NewDefinition([]engine.NodeSpec{
		{ID: "read", ComponentID: "core.file_reader", Parameters: map[string]any{"file_path": "in.geojson"}},
	}, nil)
}

func newRun(id string, maxRetries int) *Run {
	return &Run{ID: id, Name: "wf-" + id, Definition: testDefinition(), Status: StatusPending, MaxRetries: maxRetries}
}

func openSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "runs.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewSQLStore(ctx, db)
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore(t *testing.T) { exerciseStore(t, NewMemoryStore()) }

func TestSQLStoreSQLite(t *testing.T) { exerciseStore(t, openSQLStore(t)) }

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	if err := store.Create(ctx, newRun("r1", 2)); err != nil {
		t.Fatalf("create r1: %v", err)
	}
	if err := store.Create(ctx, newRun("r1", 2)); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get r1: %v", err)
	}
	if got.Name != "wf-r1" || len(got.Definition.Nodes) != 1 || got.Definition.Nodes[0].ComponentID != "core.file_reader" {
		t.Fatalf("definition not preserved: %+v", got)
	}
	if got.Definition.Nodes[0].Parameters["file_path"] != "in.geojson" {
		t.Fatalf("node parameters not preserved: %+v", got.Definition.Nodes[0].Parameters)
	}

	t.Run("retries until exhausted", func(t *testing.T) {
		claimed, err := store.Claim(ctx, "r1")
		if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
			t.Fatalf("first claim: %+v, %v", claimed, err)
		}
		if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrConflict) {
			t.Fatalf("claiming a running run should conflict, got %v", err)
		}
		if err := store.MarkFailed(ctx, "r1", Failure{Code: CodeRunProcessing, Message: "broker down"}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		pending, _ := store.Get(ctx, "r1")
		if pending.Status != StatusPending || pending.LastError != "broker down" || pending.ErrorCode != string(CodeRunProcessing) {
			t.Fatalf("retryable failure should return to pending: %+v", pending)
		}
		if _, err := store.Claim(ctx, "r1"); err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if err := store.MarkFailed(ctx, "r1", Failure{Code: CodeRunProcessing, Message: "again"}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrExhausted) {
			t.Fatalf("expected exhausted, got %v", err)
		}
	})

	t.Run("success is terminal", func(t *testing.T) {
		if err := store.Create(ctx, newRun("r2", 3)); err != nil {
			t.Fatalf("create r2: %v", err)
		}
		if _, err := store.Claim(ctx, "r2"); err != nil {
			t.Fatalf("claim r2: %v", err)
		}
		result := engine.Result{
			RunID:          "r2",
			Success:        true,
			Results:        map[string]component.Outputs{"read": {"feature_count": component.Number(3)}},
			ExecutionOrder: []string{"read"},
		}
		if err := store.MarkSucceeded(ctx, "r2", result); err != nil {
			t.Fatalf("mark succeeded: %v", err)
		}
		done, _ := store.Get(ctx, "r2")
		if done.Status != StatusSucceeded || done.Result == nil || !done.Result.Success {
			t.Fatalf("unexpected run %+v", done)
		}
		if !done.Result.Results["read"]["feature_count"].Equal(component.Number(3)) {
			t.Fatalf("outputs not preserved: %v", done.Result.Results)
		}
		if _, err := store.Claim(ctx, "r2"); !errors.Is(err, ErrCompleted) {
			t.Fatalf("expected completed, got %v", err)
		}
		if err := store.MarkSucceeded(ctx, "missing", result); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("terminal failure keeps the engine result", func(t *testing.T) {
		if err := store.Create(ctx, newRun("r3", 3)); err != nil {
			t.Fatalf("create r3: %v", err)
		}
		res := engine.Result{RunID: "r3", Error: "cycle", ErrorCode: engine.CodeCycleDetected, Results: map[string]component.Outputs{}}
		if err := store.MarkFailed(ctx, "r3", Failure{Code: engine.CodeCycleDetected, Message: "cycle", Terminal: true, Result: &res}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		failed, _ := store.Get(ctx, "r3")
		if failed.Status != StatusFailed || failed.Result == nil || failed.Result.ErrorCode != engine.CodeCycleDetected {
			t.Fatalf("unexpected failed run %+v", failed)
		}
		if _, err := store.Claim(ctx, "r3"); !errors.Is(err, ErrCompleted) {
			t.Fatalf("failed runs are terminal, got %v", err)
		}
	})

	t.Run("list and stats", func(t *testing.T) {
		runs, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusSucceeded, "bogus")}))
		if err != nil || len(runs) != 1 || runs[0].ID != "r2" {
			t.Fatalf("status filter: %v, %v", runs, err)
		}
		runs, _ = store.List(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
		if len(runs) != 1 || runs[0].ID != "r1" {
			t.Fatalf("result filter: %v", runs)
		}
		runs, _ = store.List(ctx, buildListOptions([]ListOption{WithQuery("AGAIN")}))
		if len(runs) != 1 || runs[0].ID != "r1" {
			t.Fatalf("query should match last error case-insensitively: %v", runs)
		}
		runs, _ = store.List(ctx, buildListOptions([]ListOption{WithComponent("core.file_reader")}))
		if len(runs) != 3 {
			t.Fatalf("component filter: %v", runs)
		}
		for _, id := range []string{"core.buffer", "core.file"} {
			if runs, _ = store.List(ctx, buildListOptions([]ListOption{WithComponent(id)})); len(runs) != 0 {
				t.Fatalf("component %s must not match: %v", id, runs)
			}
		}
		runs, _ = store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)}))
		if len(runs) != 2 {
			t.Fatalf("pagination: %v", runs)
		}

		runs, err = store.List(ctx, ListOptions{Offset: -4, Limit: 1000, Statuses: []Status{"bogus"}})
		if err != nil || len(runs) != 3 {
			t.Fatalf("raw options must be normalised by the store: %v, %v", runs, err)
		}

		stats, err := store.Stats(ctx, buildListOptions(nil))
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total != 3 || stats.Pending != 1 || stats.Succeeded != 1 || stats.Failed != 1 || stats.NewestUpdatedAt == 0 {
			t.Fatalf("unexpected stats %+v", stats)
		}
		empty, _ := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusRunning)}))
		if empty.Total != 0 || empty.OldestUpdatedAt != 0 {
			t.Fatalf("empty stats %+v", empty)
		}
	})

	t.Run("requeue stale", func(t *testing.T) {
		if err := store.Create(ctx, newRun("r4", 3)); err != nil {
			t.Fatalf("create r4: %v", err)
		}
		if _, err := store.Claim(ctx, "r4"); err != nil {
			t.Fatalf("claim r4: %v", err)
		}
		ids, err := store.Requeue(ctx, time.Now().Add(-time.Hour).Unix())
		if err != nil || len(ids) != 0 {
			t.Fatalf("fresh runs must stay claimed: %v, %v", ids, err)
		}
		ids, err = store.Requeue(ctx, time.Now().Add(time.Hour).Unix())
		if err != nil || len(ids) != 1 || ids[0] != "r4" {
			t.Fatalf("requeue: %v, %v", ids, err)
		}
		r4, _ := store.Get(ctx, "r4")
		if r4.Status != StatusPending || r4.Attempts != 1 {
			t.Fatalf("requeued run %+v", r4)
		}
	})
}
